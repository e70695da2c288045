package datacache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// Datastores call them from executor workers.
type Hooks interface {
	// A find missed the cache and went to the table.
	CacheMiss(store, opID string)

	// A table read failed; the operation completed as failed.
	FetchFailed(store, opID string, err error)

	// An upsert of key failed.
	SaveFailed(store, key string, err error)

	// A record read from the table could not be decoded.
	DecodeFailed(store, field string, err error)

	// A continuation panicked; the downstream future failed with *PanicError.
	ContinuationPanic(store string, v any)

	// n handles were evicted from the cache.
	Evicted(store string, n int)

	// Both phases of a delete-all reported.
	DeleteAllCompleted(store string, deleted int64, evicted int, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) CacheMiss(string, string)                     {}
func (NopHooks) FetchFailed(string, string, error)            {}
func (NopHooks) SaveFailed(string, string, error)             {}
func (NopHooks) DecodeFailed(string, string, error)           {}
func (NopHooks) ContinuationPanic(string, any)                {}
func (NopHooks) Evicted(string, int)                          {}
func (NopHooks) DeleteAllCompleted(string, int64, int, error) {}
