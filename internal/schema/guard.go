// Package schema guards persistence against silent upstream contract drift.
// A source that starts answering with a changed payload shape yields raw
// items that no longer parse; the guard turns that into a hard stop before
// anything reaches the database, instead of a quiet "0 rows upserted".
package schema

import (
	"fmt"
	"strings"

	"rentradar/internal/domain"
)

// Verdict classifies one crawl run's raw/parsed counts.
type Verdict int

const (
	// VerdictEmpty: the source returned nothing. A legitimate result.
	VerdictEmpty Verdict = iota
	// VerdictValid: at least one raw item parsed. Partial parse failures
	// are tolerated; only total failure is treated as drift.
	VerdictValid
	// VerdictMismatch: raw items arrived but none parsed.
	VerdictMismatch
)

func (v Verdict) String() string {
	switch v {
	case VerdictEmpty:
		return "empty"
	case VerdictValid:
		return "valid"
	case VerdictMismatch:
		return "mismatch"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Classify maps raw and parsed item counts to a verdict.
func Classify(raw, parsed int) Verdict {
	switch {
	case raw == 0:
		return VerdictEmpty
	case parsed == 0:
		return VerdictMismatch
	default:
		return VerdictValid
	}
}

// MismatchError reports total parse failure for a source, with enough
// evidence (distinct top-level key sets of unparseable items) to diagnose the
// drift from logs alone.
type MismatchError struct {
	Source       string
	RawCount     int
	ParsedCount  int
	InvalidCount int
	KeySamples   [][]string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf(
		"%s schema mismatch: raw items fetched but none parsed (raw_count=%d, parsed_count=%d, invalid_count=%d, schema_keys_sample=%v)",
		e.Source, e.RawCount, e.ParsedCount, e.InvalidCount, e.KeySamples)
}

// ValidListings drops records with a blank source identifier. Such rows can
// never satisfy the (source, source_id) uniqueness contract and must not be
// persisted or counted as parsed output.
func ValidListings(rows []domain.Listing) []domain.Listing {
	out := make([]domain.Listing, 0, len(rows))
	for _, row := range rows {
		if strings.TrimSpace(row.SourceID) == "" {
			continue
		}
		out = append(out, row)
	}
	return out
}
