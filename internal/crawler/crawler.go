// Package crawler implements the source-specific crawlers. Each crawler
// drives its own fetch client through the full region/type combination grid,
// parses raw payloads into domain rows, and reports the raw/parsed/invalid
// counts the schema guard classifies.
package crawler

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"rentradar/internal/domain"
)

// Crawler is implemented by each source.
type Crawler interface {
	Source() string
	Run(ctx context.Context, req domain.TaskRequest, stats *domain.RunStats) (*Result, error)
}

// Result aggregates one crawl run's output. RawCount covers every item the
// source returned; InvalidCount covers raw items that could not be mapped.
// Exactly one of Listings or Trades is populated depending on the source.
type Result struct {
	RawCount     int
	InvalidCount int
	Listings     []domain.Listing
	Trades       []domain.RealTrade
	KeySamples   [][]string
	// Scope describes which slice of the table this run observed, for the
	// stale-listing sweep. Zero for sources without deactivation.
	Scope domain.DeactivationScope
}

// keySampler records up to three distinct top-level key sets from raw items,
// as parse-failure evidence for mismatch diagnostics.
type keySampler struct {
	seen    map[string]struct{}
	samples [][]string
}

func newKeySampler() *keySampler {
	return &keySampler{seen: make(map[string]struct{})}
}

func (s *keySampler) observe(item map[string]any) {
	if len(s.samples) >= 3 || len(item) == 0 {
		return
	}
	keys := make([]string, 0, len(item))
	for key := range item {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	sig := strings.Join(keys, ",")
	if _, ok := s.seen[sig]; ok {
		return
	}
	s.seen[sig] = struct{}{}
	s.samples = append(s.samples, keys)
}

// toInt coerces loose JSON values (numbers, comma-grouped strings) to an int.
func toInt(value any) int {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return int(v)
	case int:
		return v
	case string:
		cleaned := strings.NewReplacer(",", "", " ", "").Replace(v)
		if cleaned == "" {
			return 0
		}
		n, err := strconv.Atoi(cleaned)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// toFloat coerces loose JSON values to a float64.
func toFloat(value any) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		cleaned := strings.NewReplacer(",", "", " ", "").Replace(v)
		if cleaned == "" {
			return 0
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// toString stringifies a JSON value; numeric identifiers keep their integer
// form.
func toString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}
