package entitystore

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Operator is one of spec.md §4.1's comparison operators.
type Operator string

const (
	OpEq    Operator = "$eq"
	OpGt    Operator = "$gt"
	OpGte   Operator = "$gte"
	OpLt    Operator = "$lt"
	OpLte   Operator = "$lte"
	OpRegex Operator = "$regex"
)

// Criterion is one single-key predicate: Key may be a dotted path
// ("data.age"). A plain equality (bare value) is Ops == {OpEq: value}.
// Two operators on the same criterion are only valid as a range:
// {$gte: v1, $lte: v2} (spec.md §9 Open Question resolution) — any other
// multi-operator combination is rejected with ErrInvalidQuery at match time.
type Criterion struct {
	Key string
	Ops map[Operator]any
}

// Eq builds a bare-value equality criterion.
func Eq(key string, value any) Criterion {
	return Criterion{Key: key, Ops: map[Operator]any{OpEq: value}}
}

// Op builds a single-operator criterion.
func Op(key string, op Operator, value any) Criterion {
	return Criterion{Key: key, Ops: map[Operator]any{op: value}}
}

// Range builds the one sanctioned multi-operator criterion: a closed range
// on a single field.
func Range(key string, gte, lte any) Criterion {
	return Criterion{Key: key, Ops: map[Operator]any{OpGte: gte, OpLte: lte}}
}

// Criteria is a sequence of criteria conjoined with AND (spec.md §4.1).
type Criteria []Criterion

// Matches reports whether pair satisfies every criterion in c, where each
// criterion independently may be satisfied against either pair.Initial or
// pair.Modified (spec.md §4.1: "an entity matches iff every criterion is
// satisfied on at least one projection").
func Matches(pair *EntityPair, c Criteria) (bool, error) {
	for _, criterion := range c {
		ok, err := criterion.matchesEither(pair)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (c Criterion) matchesEither(pair *EntityPair) (bool, error) {
	if pair.Modified != nil {
		ok, err := c.matchesEntity(pair.Modified)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	if pair.Initial != nil {
		return c.matchesEntity(pair.Initial)
	}
	return false, nil
}

func (c Criterion) matchesEntity(e *Entity) (bool, error) {
	val, found := resolveField(e, c.Key)

	if len(c.Ops) == 2 {
		gte, hasGte := c.Ops[OpGte]
		lte, hasLte := c.Ops[OpLte]
		if !hasGte || !hasLte {
			return false, fmt.Errorf("%w: key %q: only a $gte+$lte range may combine two operators", ErrInvalidQuery, c.Key)
		}
		if !found {
			return false, nil
		}
		geOk, err := compare(val, gte)
		if err != nil {
			return false, err
		}
		leOk, err := compare(val, lte)
		if err != nil {
			return false, err
		}
		return geOk >= 0 && leOk <= 0, nil
	}

	if len(c.Ops) != 1 {
		return false, fmt.Errorf("%w: key %q: exactly one operator expected", ErrInvalidQuery, c.Key)
	}

	for op, want := range c.Ops {
		switch op {
		case OpEq:
			if !found {
				return false, nil
			}
			return equalValues(val, want), nil
		case OpRegex:
			if !found {
				return false, nil
			}
			s, ok := val.(string)
			if !ok {
				return false, nil
			}
			pattern, ok := want.(string)
			if !ok {
				return false, fmt.Errorf("%w: key %q: $regex value must be a string", ErrInvalidQuery, c.Key)
			}
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return false, fmt.Errorf("%w: key %q: %v", ErrInvalidQuery, c.Key, err)
			}
			return re.MatchString(s), nil
		case OpGt, OpGte, OpLt, OpLte:
			if !found {
				return false, nil
			}
			cmp, err := compare(val, want)
			if err != nil {
				return false, err
			}
			switch op {
			case OpGt:
				return cmp > 0, nil
			case OpGte:
				return cmp >= 0, nil
			case OpLt:
				return cmp < 0, nil
			case OpLte:
				return cmp <= 0, nil
			}
		}
	}
	return false, nil
}

// resolveField resolves a dotted path against known top-level Entity
// fields first ("name", "type", "version", "lastUpdated", "guid",
// "externalId", "memberIds"), falling back to Data — with further dotted
// traversal into nested Data maps for paths like "data.address.city".
func resolveField(e *Entity, path string) (any, bool) {
	head, rest, hasRest := strings.Cut(path, ".")

	switch head {
	case "guid":
		return e.GUID, true
	case "name":
		return e.Name, true
	case "type":
		return string(e.Type), true
	case "version":
		return e.Version, true
	case "lastUpdated":
		return e.LastUpdated, true
	case "externalId":
		return e.ExternalID, true
	case "memberIds":
		return e.MemberIDs, true
	case "data":
		if !hasRest {
			return e.Data, true
		}
		return resolveDataPath(e.Data, rest)
	default:
		return resolveDataPath(e.Data, path)
	}
}

func resolveDataPath(data map[string]any, path string) (any, bool) {
	if data == nil {
		return nil, false
	}
	head, rest, hasRest := strings.Cut(path, ".")
	v, ok := data[head]
	if !ok {
		return nil, false
	}
	if !hasRest {
		return v, true
	}
	nested, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return resolveDataPath(nested, rest)
}

func equalValues(a, b any) bool {
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return strings.EqualFold(strings.TrimSpace(as), strings.TrimSpace(bs))
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

// compare returns -1, 0, or 1 comparing a to b, supporting strings
// (lexicographic, case-insensitive) and numerics.
func compare(a, b any) (int, error) {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, fmt.Errorf("%w: cannot compare string to %T", ErrInvalidQuery, b)
		}
		as, bs = strings.ToLower(as), strings.ToLower(bs)
		switch {
		case as < bs:
			return -1, nil
		case as > bs:
			return 1, nil
		default:
			return 0, nil
		}
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return 0, fmt.Errorf("%w: cannot compare %T to %T", ErrInvalidQuery, a, b)
	}
	switch {
	case af < bf:
		return -1, nil
	case af > bf:
		return 1, nil
	default:
		return 0, nil
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
