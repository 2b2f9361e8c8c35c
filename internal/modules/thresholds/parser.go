package thresholds

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Cutpoint expressions as published in the external cut point tables, e.g.
// ">= 53 % to < 67 %", "< 53 %", ">= 0.421057", "> -0.5", "100".
var (
	lowerBoundRe = regexp.MustCompile(`>=?\s*(-?\d+\.?\d*)`)
	upperBoundRe = regexp.MustCompile(`<=?\s*(-?\d+\.?\d*)`)
)

// ParseBandExpr parses a single cutpoint expression into numeric bounds.
// Open-ended expressions produce ±Inf sentinels. Percent signs and padding are
// ignored; relative-change metrics carry negative bounds and no percent sign.
func ParseBandExpr(expr string) (lower, upper float64, err error) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(expr, "%", ""))
	if cleaned == "" {
		return 0, 0, fmt.Errorf("empty threshold expression")
	}

	switch {
	case strings.Contains(cleaned, "to"):
		// Range: ">= -0.179809 to < 0"
		parts := strings.SplitN(cleaned, "to", 2)
		lo, err := firstMatch(lowerBoundRe, parts[0])
		if err != nil {
			return 0, 0, fmt.Errorf("bad lower bound in %q: %w", expr, err)
		}
		hi, err := firstMatch(upperBoundRe, parts[1])
		if err != nil {
			return 0, 0, fmt.Errorf("bad upper bound in %q: %w", expr, err)
		}
		return lo, hi, nil

	case strings.HasPrefix(cleaned, "<"):
		hi, err := firstMatch(upperBoundRe, cleaned)
		if err != nil {
			return 0, 0, fmt.Errorf("bad upper bound in %q: %w", expr, err)
		}
		return math.Inf(-1), hi, nil

	case strings.HasPrefix(cleaned, ">"):
		lo, err := firstMatch(lowerBoundRe, cleaned)
		if err != nil {
			return 0, 0, fmt.Errorf("bad lower bound in %q: %w", expr, err)
		}
		return lo, math.Inf(1), nil

	case strings.HasPrefix(cleaned, "100"):
		// Perfect-score band published as a bare "100"
		return 100, 100, nil

	default:
		return 0, 0, fmt.Errorf("unexpected threshold format: %q", expr)
	}
}

func firstMatch(re *regexp.Regexp, s string) (float64, error) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("no numeric bound in %q", s)
	}
	return strconv.ParseFloat(m[1], 64)
}

// BandSpec is the raw cutpoint specification for one measure: star level to
// threshold expression, as parsed out of the external cut point table.
type BandSpec map[int]string

// BuildTable parses per-measure band specifications into a Table. A band that
// fails to parse is logged and skipped - a single malformed cell must not take
// down the whole reference table. Measures whose bands all fail are omitted.
func BuildTable(specs map[string]BandSpec, log zerolog.Logger) *Table {
	bands := make(map[string][]Band, len(specs))
	for measure, spec := range specs {
		var list []Band
		for stars, expr := range spec {
			lower, upper, err := ParseBandExpr(expr)
			if err != nil {
				log.Warn().
					Err(err).
					Str("measure", measure).
					Int("stars", stars).
					Msg("Skipping unparseable threshold band")
				continue
			}
			list = append(list, Band{Lower: lower, Upper: upper, Stars: stars})
		}
		if len(list) > 0 {
			bands[measure] = list
		}
	}
	return NewTable(bands)
}

// CollapseMeasureKey normalizes a cut point column header to the panel column
// convention: "C01: Breast Cancer Screening" becomes "C: Breast Cancer
// Screening". Headers without a prefix are returned unchanged.
func CollapseMeasureKey(key string) string {
	idx := strings.Index(key, ":")
	if idx <= 0 {
		return key
	}
	return key[:1] + ":" + key[idx+1:]
}
