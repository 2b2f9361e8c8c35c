package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	backupPrefix      = "stargazer-backup-"
	backupTimeLayout  = "2006-01-02-150405"
	minBackupsToKeep  = 3
	defaultRetention  = 30 // days
	metadataEntryName = "backup-metadata.json"
)

// BackupMetadata describes the contents of one backup archive.
type BackupMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes a single database file in the archive.
type DatabaseMetadata struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupService archives the sqlite databases and uploads the archive to
// object storage.
type BackupService struct {
	s3            *S3Client
	dataDir       string
	dbPaths       []string
	retentionDays int
	log           zerolog.Logger
}

// NewBackupService creates a backup service for the given database files.
func NewBackupService(s3 *S3Client, dataDir string, dbPaths []string, log zerolog.Logger) *BackupService {
	return &BackupService{
		s3:            s3,
		dataDir:       dataDir,
		dbPaths:       dbPaths,
		retentionDays: defaultRetention,
		log:           log.With().Str("service", "backup").Logger(),
	}
}

// CreateAndUploadBackup snapshots the databases into a tar.gz archive with a
// metadata entry, uploads it, and rotates old backups.
func (s *BackupService) CreateAndUploadBackup(ctx context.Context) error {
	s.log.Info().Msg("Starting backup")
	startTime := time.Now()

	stagingDir, err := os.MkdirTemp(s.dataDir, "backup-staging-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := BackupMetadata{
		Timestamp: time.Now().UTC(),
		Databases: make([]DatabaseMetadata, 0, len(s.dbPaths)),
	}

	var files []string
	for _, dbPath := range s.dbPaths {
		name := filepath.Base(dbPath)
		staged := filepath.Join(stagingDir, name)

		if err := copyFile(dbPath, staged); err != nil {
			// A database that has never been written is not an error.
			if os.IsNotExist(err) {
				s.log.Warn().Str("database", name).Msg("Database file absent, skipping")
				continue
			}
			return fmt.Errorf("failed to stage %s: %w", name, err)
		}

		info, err := os.Stat(staged)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", name, err)
		}
		checksum, err := fileChecksum(staged)
		if err != nil {
			return fmt.Errorf("failed to checksum %s: %w", name, err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Filename:  name,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		files = append(files, staged)
	}

	if len(files) == 0 {
		s.log.Warn().Msg("No database files to back up")
		return nil
	}

	metadataPath := filepath.Join(stagingDir, metadataEntryName)
	if err := writeMetadata(metadataPath, metadata); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	files = append(files, metadataPath)

	archiveName := backupPrefix + time.Now().Format(backupTimeLayout) + ".tar.gz"
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, files); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	if err := s.s3.UploadFile(ctx, archiveName, archivePath); err != nil {
		return err
	}

	if err := s.rotateOldBackups(ctx); err != nil {
		// Rotation failure leaves extra backups around but the new one is safe.
		s.log.Error().Err(err).Msg("Backup rotation failed")
	}

	archiveInfo, _ := os.Stat(archivePath)
	var sizeBytes int64
	if archiveInfo != nil {
		sizeBytes = archiveInfo.Size()
	}
	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("archive", archiveName).
		Int64("size_bytes", sizeBytes).
		Msg("Backup completed successfully")

	return nil
}

// rotateOldBackups deletes backups past the retention window, always keeping
// the newest few regardless of age.
func (s *BackupService) rotateOldBackups(ctx context.Context) error {
	keys, err := s.s3.ListKeys(ctx, backupPrefix)
	if err != nil {
		return err
	}
	if len(keys) <= minBackupsToKeep {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	// Keys sort oldest first; protect the newest minBackupsToKeep.
	candidates := keys[:len(keys)-minBackupsToKeep]
	for _, key := range candidates {
		ts, ok := parseBackupTimestamp(key)
		if !ok {
			continue
		}
		if ts.Before(cutoff) {
			if err := s.s3.Delete(ctx, key); err != nil {
				s.log.Error().Err(err).Str("key", key).Msg("Failed to delete old backup")
				continue
			}
			s.log.Info().Str("key", key).Msg("Deleted old backup")
		}
	}
	return nil
}

func parseBackupTimestamp(key string) (time.Time, bool) {
	if !strings.HasPrefix(key, backupPrefix) || !strings.HasSuffix(key, ".tar.gz") {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(key, backupPrefix), ".tar.gz")
	ts, err := time.Parse(backupTimeLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeMetadata(path string, metadata BackupMetadata) error {
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func createArchive(archivePath string, files []string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	for _, path := range files {
		if err := addToArchive(tw, path); err != nil {
			return fmt.Errorf("failed to add %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func addToArchive(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.Base(path)

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
