// Package fingerprint holds fixed-length binary structural fingerprints and the
// Tanimoto coefficient used to compare them.
package fingerprint

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// DefaultLength matches ECFP4 folded to 2048 bits.
const DefaultLength = 2048

// ErrEmptyLength is returned when a fingerprint is created with zero bits.
var ErrEmptyLength = errors.New("fingerprint length must be positive")

// #region length-mismatch
// LengthMismatchError is returned when two fingerprints of different lengths are
// compared, or a bit index falls outside the declared length.
type LengthMismatchError struct {
	Expected uint
	Actual   uint
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("fingerprint length mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// #endregion length-mismatch

// #region fingerprint
// Fingerprint is an immutable fixed-length bit vector.
type Fingerprint struct {
	bits   *bitset.BitSet
	length uint
}

// New returns an all-zero fingerprint of the given length.
func New(length uint) (*Fingerprint, error) {
	if length == 0 {
		return nil, ErrEmptyLength
	}
	return &Fingerprint{bits: bitset.New(length), length: length}, nil
}

// FromOnBits builds a fingerprint with the listed bit positions set.
func FromOnBits(length uint, on []uint) (*Fingerprint, error) {
	fp, err := New(length)
	if err != nil {
		return nil, err
	}
	for _, i := range on {
		if i >= length {
			return nil, &LengthMismatchError{Expected: length, Actual: i + 1}
		}
		fp.bits.Set(i)
	}
	return fp, nil
}

// FromBitString parses a string of '0'/'1' characters; character i is bit i.
func FromBitString(s string) (*Fingerprint, error) {
	s = strings.TrimSpace(s)
	fp, err := New(uint(len(s)))
	if err != nil {
		return nil, err
	}
	for i, c := range s {
		switch c {
		case '1':
			fp.bits.Set(uint(i))
		case '0':
		default:
			return nil, fmt.Errorf("fingerprint bit string: invalid character %q at %d", c, i)
		}
	}
	return fp, nil
}

// FromHex decodes a little-endian hex encoding (bit i lives in byte i/8 at
// position i%8). length may be smaller than 8*len(bytes) but no bit past it
// may be set.
func FromHex(s string, length uint) (*Fingerprint, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("fingerprint hex: %w", err)
	}
	if uint(len(raw))*8 < length {
		return nil, &LengthMismatchError{Expected: length, Actual: uint(len(raw)) * 8}
	}
	fp, err := New(length)
	if err != nil {
		return nil, err
	}
	for b, v := range raw {
		for j := uint(0); j < 8; j++ {
			if v&(1<<j) == 0 {
				continue
			}
			i := uint(b)*8 + j
			if i >= length {
				return nil, &LengthMismatchError{Expected: length, Actual: i + 1}
			}
			fp.bits.Set(i)
		}
	}
	return fp, nil
}

// Len returns the declared bit length.
func (f *Fingerprint) Len() uint { return f.length }

// Count returns the number of set bits.
func (f *Fingerprint) Count() uint { return f.bits.Count() }

// Test reports whether bit i is set.
func (f *Fingerprint) Test(i uint) bool { return i < f.length && f.bits.Test(i) }

// OnBits returns the set bit positions in ascending order.
func (f *Fingerprint) OnBits() []uint {
	out := make([]uint, 0, f.bits.Count())
	for i, ok := f.bits.NextSet(0); ok && i < f.length; i, ok = f.bits.NextSet(i + 1) {
		out = append(out, i)
	}
	return out
}

// Equal reports bit-for-bit equality, including length.
func (f *Fingerprint) Equal(o *Fingerprint) bool {
	if f == nil || o == nil {
		return f == o
	}
	if f.length != o.length {
		return false
	}
	return f.bits.IntersectionCardinality(o.bits) == f.bits.Count() && f.bits.Count() == o.bits.Count()
}

// Hex returns the little-endian hex encoding accepted by FromHex.
func (f *Fingerprint) Hex() string {
	raw := make([]byte, (f.length+7)/8)
	for _, i := range f.OnBits() {
		raw[i/8] |= 1 << (i % 8)
	}
	return hex.EncodeToString(raw)
}

// #endregion fingerprint

// #region tanimoto
// Tanimoto returns |A∩B| / |A∪B|, defined as 0 when both fingerprints are empty.
func Tanimoto(a, b *Fingerprint) (float64, error) {
	if a == nil || b == nil {
		return 0, errors.New("tanimoto: nil fingerprint")
	}
	if a.length != b.length {
		return 0, &LengthMismatchError{Expected: a.length, Actual: b.length}
	}
	union := a.bits.UnionCardinality(b.bits)
	if union == 0 {
		return 0, nil
	}
	inter := a.bits.IntersectionCardinality(b.bits)
	return float64(inter) / float64(union), nil
}

// #endregion tanimoto
