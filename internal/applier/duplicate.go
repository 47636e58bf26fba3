package applier

import (
	"strings"

	"github.com/datacollect/core/internal/entitystore"
)

// detectDuplicate compares candidate against other under cfg and reports
// whether they are a potential duplicate pair: same Type, and at least
// cfg.Threshold of cfg.Fields equal under case-insensitive trimmed
// comparison (spec.md §4.5).
func detectDuplicate(candidate, other *entitystore.Entity, cfg DuplicateDetectionConfig) bool {
	if candidate.Type != other.Type {
		return false
	}
	matches := 0
	for _, field := range cfg.Fields {
		a, aok := fieldValue(candidate, field)
		b, bok := fieldValue(other, field)
		if !aok || !bok {
			continue
		}
		if normalize(a) == normalize(b) && normalize(a) != "" {
			matches++
		}
	}
	return matches >= cfg.Threshold
}

func fieldValue(e *entitystore.Entity, field string) (string, bool) {
	if field == "name" {
		return e.Name, true
	}
	const dataPrefix = "data."
	if strings.HasPrefix(field, dataPrefix) {
		key := strings.TrimPrefix(field, dataPrefix)
		v, ok := e.Data[key]
		if !ok {
			return "", false
		}
		s, ok := v.(string)
		return s, ok
	}
	return "", false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// findDuplicates compares candidate against every other entity of the same
// type, returning the canonical pairs that clear cfg.Threshold (spec.md
// §4.5: "triggered after create-*").
func findDuplicates(candidate *entitystore.Entity, others []*entitystore.Entity, cfg DuplicateDetectionConfig) []entitystore.PotentialDuplicatePair {
	var pairs []entitystore.PotentialDuplicatePair
	for _, other := range others {
		if other.GUID == candidate.GUID {
			continue
		}
		if detectDuplicate(candidate, other, cfg) {
			pairs = append(pairs, entitystore.CanonicalPair(candidate.GUID, other.GUID))
		}
	}
	return pairs
}
