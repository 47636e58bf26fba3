package entitystore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func samplePair() *EntityPair {
	return &EntityPair{
		Initial: &Entity{
			GUID: "g1", Type: TypeIndividual, Name: "John Doe", Version: 1,
			Data: map[string]any{"age": float64(30), "email": "JOHN@Example.com"},
		},
		Modified: &Entity{
			GUID: "g1", Type: TypeIndividual, Name: "John Doe", Version: 2,
			Data: map[string]any{"age": float64(31), "email": "JOHN@Example.com"},
		},
	}
}

func TestMatches_BareEquality_CaseInsensitiveString(t *testing.T) {
	pair := samplePair()
	ok, err := Matches(pair, Criteria{Eq("name", "john doe")})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMatches_DottedPath(t *testing.T) {
	pair := samplePair()
	ok, err := Matches(pair, Criteria{Eq("data.email", "john@example.com")})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMatches_OperatorsNumeric(t *testing.T) {
	pair := samplePair()
	ok, err := Matches(pair, Criteria{Op("data.age", OpGt, float64(30))})
	require.NoError(t, err)
	require.True(t, ok, "modified.age=31 satisfies $gt 30")

	ok, err = Matches(pair, Criteria{Op("data.age", OpLt, float64(32))})
	require.NoError(t, err)
	require.True(t, ok, "modified.age=31 satisfies $lt 32")

	ok, err = Matches(pair, Criteria{Op("data.age", OpLt, float64(30))})
	require.NoError(t, err)
	require.False(t, ok, "neither projection's age is below 30")
}

func TestMatches_CriterionMatchesEitherProjection(t *testing.T) {
	pair := samplePair()
	// initial.version == 1, modified.version == 2: a criterion targeting
	// either value should match since each criterion may be satisfied on
	// at least one projection.
	ok, err := Matches(pair, Criteria{Eq("version", 1)})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Matches(pair, Criteria{Eq("version", 2)})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Matches(pair, Criteria{Eq("version", 99)})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMatches_Regex(t *testing.T) {
	pair := samplePair()
	ok, err := Matches(pair, Criteria{Op("name", OpRegex, "^john")})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMatches_Range(t *testing.T) {
	pair := samplePair()
	ok, err := Matches(pair, Criteria{Range("data.age", float64(25), float64(35))})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Matches(pair, Criteria{Range("data.age", float64(32), float64(40))})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMatches_MultiOperatorNonRangeRejected(t *testing.T) {
	pair := samplePair()
	bad := Criterion{Key: "data.age", Ops: map[Operator]any{OpGt: float64(1), OpEq: float64(2)}}
	_, err := Matches(pair, Criteria{bad})
	require.ErrorIs(t, err, ErrInvalidQuery)
}

func TestMatches_MissingFieldFails(t *testing.T) {
	pair := samplePair()
	ok, err := Matches(pair, Criteria{Eq("data.missing", "x")})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMatches_ConjoinsMultipleCriteriaWithAnd(t *testing.T) {
	pair := samplePair()
	ok, err := Matches(pair, Criteria{
		Eq("name", "john doe"),
		Op("data.age", OpGte, float64(31)),
	})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Matches(pair, Criteria{
		Eq("name", "john doe"),
		Op("data.age", OpGte, float64(99)),
	})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCanonicalPair_OrdersLexicographically(t *testing.T) {
	p := CanonicalPair("zzz", "aaa")
	require.Equal(t, "aaa", p.EntityGUID)
	require.Equal(t, "zzz", p.DuplicateGUID)

	p2 := CanonicalPair("aaa", "zzz")
	require.Equal(t, p, p2)
}

func TestEntity_CloneIsIndependent(t *testing.T) {
	e := &Entity{GUID: "g1", Data: map[string]any{"k": "v"}, MemberIDs: []string{"m1"}, LastUpdated: time.Now()}
	c := e.Clone()
	c.Data["k"] = "changed"
	c.MemberIDs[0] = "m2"
	require.Equal(t, "v", e.Data["k"])
	require.Equal(t, "m1", e.MemberIDs[0])
}
