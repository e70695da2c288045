package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// KeyString renders a primary key as a stable string for byte stores and
// hash-keyed caches.
func KeyString(k any) string {
	switch x := k.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case []byte:
		return hex.EncodeToString(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(k)
}

// StoreKey joins prefix and key. Keys longer than max are replaced by a
// short sha256 digest so every backend accepts them.
func StoreKey(prefix, key string, max int) string {
	if max <= 0 || len(prefix)+1+len(key) <= max {
		return prefix + ":" + key
	}
	sum := sha256.Sum256([]byte(key))
	return prefix + ":#" + hex.EncodeToString(sum[:8])
}
