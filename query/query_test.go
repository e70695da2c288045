package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rec struct {
	ID    int64
	Name  string
	Score float32
	Tags  []string
}

func resolveRec(field string) (Accessor[rec], bool) {
	switch field {
	case "id":
		return func(r *rec) (any, bool) { return r.ID, true }, true
	case "name":
		return func(r *rec) (any, bool) { return r.Name, true }, true
	case "score":
		return func(r *rec) (any, bool) { return r.Score, true }, true
	case "tags":
		return func(r *rec) (any, bool) { return r.Tags, r.Tags != nil }, true
	}
	return nil, false
}

func TestConstraints(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name    string
		c       Constraint
		v       any
		present bool
		want    bool
	}{
		{"eq cross numeric", Eq(int32(3)), float64(3), true, true},
		{"eq uint vs int", Eq(uint8(7)), int64(7), true, true},
		{"eq string", Eq("a"), "a", true, true},
		{"eq missing", Eq("a"), nil, false, false},
		{"ne missing", Ne("a"), nil, false, true},
		{"ne same", Ne(1), 1.0, true, false},
		{"gt", Gt(10), 11, true, true},
		{"gt equal", Gt(10), 10, true, false},
		{"gte equal", Gte(10), int8(10), true, true},
		{"lt string", Lt("b"), "a", true, true},
		{"lte time", Lte(now), now.Add(-time.Second), true, true},
		{"gt incomparable", Gt(1), "x", true, false},
		{"exists true", Present(true), 0, true, true},
		{"exists false", Present(false), nil, false, true},
		{"in slice", In([]int{1, 2, 3}), float64(2), true, true},
		{"in map keys", In(map[string]bool{"x": true}), "x", true, true},
		{"in miss", In([]string{"a"}), "b", true, false},
		{"in time", In([]time.Time{now}), now.UTC(), true, true},
		{"range inclusive lo", Between(1, 5), 1, true, true},
		{"range inclusive hi", Between(1, 5), 5.0, true, true},
		{"range outside", Between(1, 5), 6, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.c.Test(tc.v, tc.present))
		})
	}
}

func TestQualifyPromotesKeyEquality(t *testing.T) {
	q := New().Where("id", Eq(int64(4))).Where("name", Eq("x"))
	_, has := q.Key()
	require.False(t, has)

	q.Qualify("id")
	k, has := q.Key()
	require.True(t, has)
	assert.Equal(t, int64(4), k)
	assert.Len(t, q.Terms(), 1)

	terms, err := q.Filter()
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, "id", terms[0].Field)
}

func TestKeyDoesNotShadowKeyFieldTerms(t *testing.T) {
	q := ByKey(int64(5)).Where("id", Gt(10)).Qualify("id")

	terms, err := q.Filter()
	require.NoError(t, err)
	require.Len(t, terms, 2)

	pred, err := Compile[rec](q, resolveRec)
	require.NoError(t, err)
	assert.False(t, pred(&rec{ID: 5}), "contradictory constraints match nothing")

	ok, err := Matches(q, func(string) (any, bool) { return int64(5), true })
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEncodeRewritesOperands(t *testing.T) {
	type id [2]byte
	enc := func(field string, v any) (any, error) {
		if x, ok := v.(id); ok {
			return field + ":" + string(x[:]), nil
		}
		return v, nil
	}
	q := ByKey(id{'a', 'b'}).
		Where("ref", In([]any{id{'c', 'd'}, "raw"})).
		Where("span", Between(id{'e', 'f'}, id{'g', 'h'})).
		Where("other", Ne(id{'i', 'j'})).
		Where("live", Present(true)).
		Qualify("id")

	got, err := q.Encode(enc)
	require.NoError(t, err)

	k, _ := got.Key()
	assert.Equal(t, "id:ab", k)
	terms := got.Terms()
	require.Len(t, terms, 4)
	assert.Equal(t, []any{"ref:cd", "raw"}, terms[0].Constraint.Values())
	lo, hi := terms[1].Constraint.Range()
	assert.Equal(t, "span:ef", lo)
	assert.Equal(t, "span:gh", hi)
	assert.Equal(t, NotEqual, terms[2].Constraint.Kind())
	assert.Equal(t, "other:ij", terms[2].Constraint.Operand())
	assert.Equal(t, true, terms[3].Constraint.Operand())
	assert.True(t, terms[2].Constraint.Test("other:zz", true))

	orig, _ := q.Key()
	assert.Equal(t, id{'a', 'b'}, orig, "source query untouched")
}

func TestFilterRequiresQualification(t *testing.T) {
	_, err := ByKey(1).Filter()
	require.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	q := New().Where("a", Eq(1))
	c := q.Clone().Where("b", Eq(2)).Qualify("a")
	assert.Len(t, q.Terms(), 1)
	assert.Equal(t, "", q.KeyField())
	assert.Equal(t, "a", c.KeyField())
}

func TestCompile(t *testing.T) {
	q := New().Where("name", Eq("ann")).Where("score", Gte(2.5))
	pred, err := Compile[rec](q.Qualify("id"), resolveRec)
	require.NoError(t, err)

	assert.True(t, pred(&rec{Name: "ann", Score: 3}))
	assert.False(t, pred(&rec{Name: "ann", Score: 1}))
	assert.False(t, pred(&rec{Name: "bob", Score: 3}))
	assert.False(t, pred(nil))

	byKey, err := Compile[rec](ByKey(7).Qualify("id"), resolveRec)
	require.NoError(t, err)
	assert.True(t, byKey(&rec{ID: 7}))
	assert.False(t, byKey(&rec{ID: 8}))

	_, err = Compile[rec](New().Where("nope", Eq(1)), resolveRec)
	require.Error(t, err)
}

func TestMatchesTreatsNilAsMissing(t *testing.T) {
	doc := map[string]any{"a": nil, "b": int64(2)}
	lookup := func(f string) (any, bool) { v, ok := doc[f]; return v, ok }

	ok, err := Matches(New().Where("a", Present(false)).Where("b", Eq(2)), lookup)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Matches(New().Where("c", Eq(1)), lookup)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOrderingCompare(t *testing.T) {
	o := By(Asc("a"), Desc("b"))
	keys := []SortKey{
		{Num(2), Num(0)},
		{Num(1), Num(3)},
		{Num(1), Num(5)},
	}
	sortKeys(o, keys)
	assert.Equal(t, []SortKey{
		{Num(1), Num(5)},
		{Num(1), Num(3)},
		{Num(2), Num(0)},
	}, keys)
}

func TestCoefficientOf(t *testing.T) {
	assert.Equal(t, Num(0), CoefficientOf(nil, false))
	assert.Equal(t, Num(1), CoefficientOf(true, true))
	assert.Equal(t, Num(3), CoefficientOf(uint16(3), true))
	assert.Equal(t, Str("x"), CoefficientOf("x", true))
	assert.Equal(t, Num(0), CoefficientOf([]int{1}, true))

	o := By(Asc("s"))
	assert.Equal(t, -1, o.Compare(SortKey{Str("a")}, SortKey{Str("b")}))
	assert.Equal(t, -1, o.Compare(SortKey{Num(99)}, SortKey{Str("a")}))
}

func sortKeys(o Ordering, keys []SortKey) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && o.Compare(keys[j], keys[j-1]) < 0; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}
