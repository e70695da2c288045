package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/unkn0wn-root/datacache/doc"
	"github.com/unkn0wn-root/datacache/query"
	"github.com/unkn0wn-root/datacache/table"
)

func TestFilterTranslation(t *testing.T) {
	q := query.ByKey(int64(7)).
		Where("age", query.Between(18, 65)).
		Where("name", query.In([]string{"a", "b"})).
		Where("deleted", query.Present(false)).
		Qualify("id")

	got, err := Filter(q)
	require.NoError(t, err)
	want := bson.D{
		{Key: "id", Value: bson.D{{Key: "$eq", Value: int64(7)}}},
		{Key: "age", Value: bson.D{{Key: "$gte", Value: int64(18)}, {Key: "$lte", Value: int64(65)}}},
		{Key: "name", Value: bson.D{{Key: "$in", Value: bson.A{"a", "b"}}}},
		{Key: "deleted", Value: bson.D{{Key: "$exists", Value: false}}},
	}
	assert.Equal(t, want, got)
}

func TestFilterKeepsTermsOnKeyField(t *testing.T) {
	q := query.ByKey(int64(5)).Where("id", query.Gt(10)).Qualify("id")

	got, err := Filter(q)
	require.NoError(t, err)
	want := bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "id", Value: bson.D{{Key: "$eq", Value: int64(5)}}}},
		bson.D{{Key: "id", Value: bson.D{{Key: "$gt", Value: int64(10)}}}},
	}}}
	assert.Equal(t, want, got)
}

func TestFilterRejectsUnqualifiedKey(t *testing.T) {
	_, err := Filter(query.ByKey(1))
	assert.Error(t, err)
}

func TestSortAndProjection(t *testing.T) {
	assert.Equal(t, bson.D{{Key: "age", Value: 1}, {Key: "name", Value: -1}},
		Sort(query.By(query.Asc("age"), query.Desc("name"))))
	assert.Nil(t, Sort(nil))
	assert.Equal(t, bson.D{{Key: "_id", Value: 0}, {Key: "id", Value: 1}, {Key: "name", Value: 1}},
		Projection([]string{"name", "id"}, "id"))
}

func TestBSONConversion(t *testing.T) {
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	nested := doc.New()
	nested.Put("city", "Oslo")
	d := doc.New()
	_ = d.SetKey("id", int64(1))
	d.Put("home", nested)
	d.Put("tags", []any{"x", uint64(3)})

	body := toBSON(d).(bson.D)
	assert.Equal(t, bson.D{{Key: "city", Value: "Oslo"}}, body[1].Value)
	assert.Equal(t, bson.A{"x", int64(3)}, body[2].Value)

	row := bson.D{
		{Key: "_id", Value: primitive.NewObjectID()},
		{Key: "id", Value: int32(1)},
		{Key: "at", Value: primitive.NewDateTimeFromTime(when)},
		{Key: "home", Value: bson.D{{Key: "city", Value: "Oslo"}}},
		{Key: "tags", Value: bson.A{"x"}},
	}
	back := document(row, "id")
	_, hasID := back.Raw("_id")
	assert.False(t, hasID)
	k, ok := back.Key()
	require.True(t, ok)
	assert.Equal(t, int64(1), k)
	at, _ := back.Raw("at")
	assert.True(t, when.Equal(at.(time.Time)))
	home, _ := back.Raw("home")
	city, _ := home.(*doc.Document).Raw("city")
	assert.Equal(t, "Oslo", city)
}

func TestLiveCollection(t *testing.T) {
	uri := os.Getenv("DATACACHE_MONGO_URI")
	if uri == "" {
		t.Skip("DATACACHE_MONGO_URI not set")
	}
	ctx := context.Background()
	tbl, err := Connect(ctx, uri, "datacache_test", "users")
	require.NoError(t, err)
	defer tbl.Close(ctx)
	_, _ = tbl.DeleteMany(ctx, query.New())

	for i, n := range []string{"ann", "bob"} {
		d := doc.New()
		_ = d.SetKey("id", int64(i+1))
		d.Put("name", n)
		require.NoError(t, tbl.UpsertOne(ctx, d))
	}
	res, err := tbl.FindOne(ctx, query.ByKey(int64(2)).Qualify("id"))
	require.NoError(t, err)
	require.True(t, res.Found)
	name, _ := res.Input.Raw("name")
	assert.Equal(t, "bob", name)

	cur, err := tbl.Find(ctx, query.New().Qualify("id"), table.FindOptions{Sort: query.By(query.Desc("name")), Limit: 1})
	require.NoError(t, err)
	rows, err := table.Collect(ctx, cur)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
