package reliability

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackupTimestamp(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		expected time.Time
		ok       bool
	}{
		{
			name:     "valid key",
			key:      "stargazer-backup-2026-08-01-043000.tar.gz",
			expected: time.Date(2026, 8, 1, 4, 30, 0, 0, time.UTC),
			ok:       true,
		},
		{name: "wrong prefix", key: "other-backup-2026-08-01-043000.tar.gz"},
		{name: "wrong suffix", key: "stargazer-backup-2026-08-01-043000.zip"},
		{name: "garbage timestamp", key: "stargazer-backup-not-a-date.tar.gz"},
		{name: "empty", key: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, ok := parseBackupTimestamp(tt.key)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.expected.Equal(ts))
			}
		})
	}
}

func TestCopyFilePreservesContent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.db")
	dst := filepath.Join(dir, "dst.db")
	content := []byte("not really a database")
	require.NoError(t, os.WriteFile(src, content, 0644))

	require.NoError(t, copyFile(src, dst))

	copied, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, content, copied)
}

func TestCopyFileMissingSource(t *testing.T) {
	dir := t.TempDir()

	err := copyFile(filepath.Join(dir, "absent.db"), filepath.Join(dir, "dst.db"))

	assert.True(t, os.IsNotExist(err))
}

func TestFileChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file")
	content := []byte("checksum me")
	require.NoError(t, os.WriteFile(path, content, 0644))

	sum, err := fileChecksum(path)
	require.NoError(t, err)

	expected := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(expected[:]), sum)
}

func TestCreateArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	contents := map[string][]byte{
		"panel.db":  []byte("panel bytes"),
		"models.db": []byte("model bytes"),
	}
	var files []string
	for name, data := range contents {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, data, 0644))
		files = append(files, path)
	}

	archivePath := filepath.Join(dir, "backup.tar.gz")
	require.NoError(t, createArchive(archivePath, files))

	f, err := os.Open(archivePath)
	require.NoError(t, err)
	defer f.Close()
	gr, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gr)

	extracted := map[string][]byte{}
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		extracted[header.Name] = data
	}

	// Entries carry base names only, so a restore lands flat in the target dir.
	assert.Equal(t, contents, extracted)
}

func TestWriteMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup-metadata.json")
	metadata := BackupMetadata{
		Timestamp: time.Date(2026, 8, 1, 4, 30, 0, 0, time.UTC),
		Databases: []DatabaseMetadata{
			{Filename: "panel.db", SizeBytes: 42, Checksum: "abc"},
		},
	}

	require.NoError(t, writeMetadata(path, metadata))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded BackupMetadata
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.True(t, metadata.Timestamp.Equal(decoded.Timestamp))
	assert.Equal(t, metadata.Databases, decoded.Databases)
}
