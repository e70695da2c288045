package datacache

import (
	"context"
	"fmt"
	"reflect"

	"github.com/unkn0wn-root/datacache/codec"
	"github.com/unkn0wn-root/datacache/table"
)

// Found is one bulk find result: either a cached item or a store record that
// has not been loaded into the cache. Store results are materialized on
// demand with Item.
type Found[K comparable, T any] struct {
	ds     *Datastore[K, T]
	key    K
	cached bool

	item  *Item[K, T]
	value *T

	in      codec.DecodeInput
	partial bool
	fields  map[string]struct{}
}

func (ds *Datastore[K, T]) foundCached(it *Item[K, T], v *T) *Found[K, T] {
	return &Found[K, T]{ds: ds, key: it.key, cached: true, item: it, value: v}
}

func (ds *Datastore[K, T]) foundStored(in codec.DecodeInput, projection []string) (*Found[K, T], error) {
	key, err := ds.codec.DecodeKey(in)
	if err != nil {
		ds.decodeFailed(err)
		return nil, err
	}
	f := &Found[K, T]{ds: ds, key: key, in: in, partial: in.Partial() || projection != nil}
	if f.partial {
		f.fields = make(map[string]struct{}, len(projection)+1)
		f.fields[ds.codec.KeyField()] = struct{}{}
		for _, name := range projection {
			f.fields[name] = struct{}{}
		}
	}
	return f, nil
}

func (f *Found[K, T]) Key() K { return f.key }

// Cached reports whether the result came from the cache.
func (f *Found[K, T]) Cached() bool { return f.cached }

// Partial reports a projected store result.
func (f *Found[K, T]) Partial() bool { return f.partial }

// Input is the raw store record, nil for cached results.
func (f *Found[K, T]) Input() codec.DecodeInput { return f.in }

// Equal compares results by key.
func (f *Found[K, T]) Equal(o *Found[K, T]) bool {
	return o != nil && f.key == o.key
}

func (f *Found[K, T]) lookup(field string) (any, bool) {
	if f.cached {
		return f.ds.codec.Field(f.value, field)
	}
	return f.in.Raw(field)
}

// Item returns the cached item for this result, loading the store record into
// it if needed. A partial result is completed with a full read; that read
// fails with table.ErrNotFound when the record has since been deleted.
func (f *Found[K, T]) Item(ctx context.Context) (*Item[K, T], error) {
	if f.cached {
		return f.item, nil
	}
	ds := f.ds
	if !f.partial {
		v, err := ds.codec.DecodeNew(f.in)
		if err != nil {
			ds.decodeFailed(err)
			return nil, err
		}
		it := ds.GetOrReference(f.key)
		it.loaded(v)
		return it, nil
	}
	it := ds.GetOrReference(f.key)
	if it.Loaded() {
		return it, nil
	}
	ok, err := it.Pull(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, table.Wrap(ds.tbl.Name(), "pull", fmt.Errorf("key %v: %w", f.key, table.ErrNotFound))
	}
	return it, nil
}

// Field reads one field of a result as V. Reading a field outside the
// projection of a partial result is a usage error. An absent field yields
// the zero value.
func Field[V any, K comparable, T any](f *Found[K, T], name string) (V, error) {
	var zero V
	ds := f.ds
	if _, ok := ds.codec.Accessor(name); !ok {
		return zero, usage("field", "unknown field %q", name)
	}
	if f.partial {
		if _, ok := f.fields[name]; !ok {
			return zero, usage("field", "field %q is not in the projection", name)
		}
	}

	ctx := ds.codec.NewContext()
	typ := reflect.TypeFor[V]()
	if !f.cached {
		v, ok, err := f.in.Read(ctx, name, typ)
		if err != nil || !ok {
			return zero, err
		}
		out, _ := v.Interface().(V)
		return out, nil
	}

	raw, ok := ds.codec.Field(f.value, name)
	if !ok {
		return zero, nil
	}
	if v, ok := raw.(V); ok {
		return v, nil
	}
	tree, err := ctx.EncodeValue(reflect.ValueOf(raw))
	if err != nil {
		return zero, err
	}
	dst := reflect.New(typ).Elem()
	if err := ctx.DecodeValue(tree, dst); err != nil {
		return zero, err
	}
	out, _ := dst.Interface().(V)
	return out, nil
}
