// Package datacache implements a cache-aside access layer over a table of
// records. Every record read through a Datastore is held by exactly one
// *Item per key until the item is evicted, so all readers of a key share
// the same handle.
//
// Components:
//   - DataTable: the system of record (memory, bolt, kv, sql, mongo, dynamo).
//   - DataCodec[K, T]: maps T to the table's field layout, built from
//     `data:"..."` struct tags and bound through a Registry per table format.
//   - Cache: the item index (ordered by default; ristretto or sturdyc when
//     bounded).
//   - Pool: the executor that runs asynchronous reads, saves, deletes and
//     continuations.
//
// Reads:
//
//	st := ds.FindOne(ctx, query.New().Where("name", query.Eq("ann")))
//	it, err := st.Await()                 // Cached, Fetched, Absent or Failed
//
//	for f, err := range ds.FindAll(ctx, q).IncludeCached().Sort(query.Desc("score")).Stream() {
//		...                               // cached items win over table rows
//	}
//
// Writes go through the item:
//
//	it, _ := ds.GetOrCreate(42)
//	_ = it.Set(&Account{ID: 42, Name: "ann"})
//	ok, err := it.Save(ctx)
//
// DeleteAll removes matching records from the table and evicts matching
// cached items; the returned status completes once both phases reported.
package datacache
