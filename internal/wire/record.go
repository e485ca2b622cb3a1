package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Persisted identity record layout: the raw identity, five reserved
// 16-bit slots for forward compatibility, and an additive checksum over
// everything before it.
const (
	RecordSize       = IdentitySize + 2*reservedSlots + 2
	reservedSlots    = 5
	ReservedSentinel = 0xFFFF

	// checksumSeed keeps an all-zero record from checksumming to zero,
	// so blank storage never validates.
	checksumSeed = 0x55AA
)

// ErrBadChecksum reports that a record's stored checksum does not match
// the bytes it covers.
var ErrBadChecksum = errors.New("record checksum mismatch")

// Record is the durable identity record. Reserved slots carry
// [ReservedSentinel] until some future layout assigns them meaning.
type Record struct {
	Identity [IdentitySize]byte
	Reserved [reservedSlots]uint16
}

// NewRecord builds a record for id with all reserved slots set to the
// sentinel.
func NewRecord(id [IdentitySize]byte) Record {
	r := Record{Identity: id}
	for i := range r.Reserved {
		r.Reserved[i] = ReservedSentinel
	}
	return r
}

// Checksum sums p byte-wise into a 16-bit accumulator starting from the
// fixed seed. Overflow wraps, which is the modulo the layout calls for.
func Checksum(p []byte) uint16 {
	sum := uint16(checksumSeed)
	for _, b := range p {
		sum += uint16(b)
	}
	return sum
}

// Encode renders the record with a freshly computed trailing checksum.
func (r Record) Encode() []byte {
	p := make([]byte, RecordSize)
	copy(p[:IdentitySize], r.Identity[:])
	for i, v := range r.Reserved {
		binary.LittleEndian.PutUint16(p[IdentitySize+2*i:], v)
	}
	binary.LittleEndian.PutUint16(p[RecordSize-2:], Checksum(p[:RecordSize-2]))
	return p
}

// DecodeRecord parses and validates a persisted record. A wrong length
// or a checksum mismatch is returned as an error; the caller treats any
// error as corruption and re-initializes.
func DecodeRecord(p []byte) (Record, error) {
	if len(p) != RecordSize {
		return Record{}, fmt.Errorf("identity record is %d bytes, want %d", len(p), RecordSize)
	}
	stored := binary.LittleEndian.Uint16(p[RecordSize-2:])
	if got := Checksum(p[:RecordSize-2]); got != stored {
		return Record{}, fmt.Errorf("%w: computed %#04x, stored %#04x", ErrBadChecksum, got, stored)
	}
	var r Record
	copy(r.Identity[:], p[:IdentitySize])
	for i := range r.Reserved {
		r.Reserved[i] = binary.LittleEndian.Uint16(p[IdentitySize+2*i:])
	}
	return r, nil
}
