// Package wire frames documents stored in byte providers.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version    byte = 1
	kindRecord byte = 1

	hdrLen = 4 + 1 + 1 + 8 + 2
)

var (
	ErrCorrupt = errors.New("datacache: corrupt record")
	ErrKey     = errors.New("datacache: invalid record key length")
	magic4     = [...]byte{'D', 'C', 'R', 'D'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Record is one stored document. Key is the logical primary key string so
// that hashed storage keys can be verified on read.
type Record struct {
	Rev     uint64
	Key     string
	Payload []byte
}

// EncodeRecord frames r:
//
//	magic(4) | ver(1) | kind(1) | rev(u64 be) | klen(u16 be) | key | vlen(u32 be) | payload
func EncodeRecord(r Record) ([]byte, error) {
	if l := len(r.Key); l == 0 || l > 0xFFFF {
		return nil, ErrKey
	}
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(r.Key) + 4 + len(r.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindRecord)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], r.Rev)
	buf.Write(u8[:])

	binary.BigEndian.PutUint16(u2[:], uint16(len(r.Key)))
	buf.Write(u2[:])
	buf.WriteString(r.Key)

	binary.BigEndian.PutUint32(u4[:], uint32(len(r.Payload)))
	buf.Write(u4[:])
	buf.Write(r.Payload)
	return buf.Bytes(), nil
}

// DecodeRecord parses a frame. Payload aliases b. Trailing bytes are
// rejected.
func DecodeRecord(b []byte) (Record, error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version || b[5] != kindRecord {
		return Record{}, ErrCorrupt
	}
	off := 6
	rev := binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	klen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if klen == 0 || klen > len(b)-off {
		return Record{}, ErrCorrupt
	}
	key := string(b[off : off+klen])
	off += klen

	if off+4 > len(b) {
		return Record{}, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return Record{}, ErrCorrupt
	}
	return Record{Rev: rev, Key: key, Payload: b[off : off+vlen]}, nil
}
