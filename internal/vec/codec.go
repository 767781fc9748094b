package vec

import (
	"encoding/binary"
	"math/big"

	"github.com/shopspring/decimal"

	"utxo-cohort-lab/internal/domain"
)

// Codec encodes values of T into fixed-width rows.
type Codec[T any] interface {
	Width() int
	Encode(dst []byte, v T)
	Decode(src []byte) T
}

// Uint64Codec stores big-endian uint64.
type Uint64Codec struct{}

func (Uint64Codec) Width() int                  { return 8 }
func (Uint64Codec) Encode(dst []byte, v uint64) { binary.BigEndian.PutUint64(dst, v) }
func (Uint64Codec) Decode(src []byte) uint64    { return binary.BigEndian.Uint64(src) }

// SatsCodec stores satoshi amounts.
type SatsCodec struct{}

func (SatsCodec) Width() int                       { return 8 }
func (SatsCodec) Encode(dst []byte, v domain.Sats) { binary.BigEndian.PutUint64(dst, uint64(v)) }
func (SatsCodec) Decode(src []byte) domain.Sats    { return domain.Sats(binary.BigEndian.Uint64(src)) }

// Int64Codec stores big-endian two's complement int64.
type Int64Codec struct{}

func (Int64Codec) Width() int                 { return 8 }
func (Int64Codec) Encode(dst []byte, v int64) { binary.BigEndian.PutUint64(dst, uint64(v)) }
func (Int64Codec) Decode(src []byte) int64    { return int64(binary.BigEndian.Uint64(src)) }

// OptionalCentsCodec stores a presence byte followed by the price.
type OptionalCentsCodec struct{}

func (OptionalCentsCodec) Width() int { return 9 }

func (OptionalCentsCodec) Encode(dst []byte, v domain.OptionalCents) {
	if !v.Valid {
		clear(dst[:9])
		return
	}
	dst[0] = 1
	binary.BigEndian.PutUint64(dst[1:9], uint64(v.Value))
}

func (OptionalCentsCodec) Decode(src []byte) domain.OptionalCents {
	if src[0] == 0 {
		return domain.NoCents
	}
	return domain.SomeCents(domain.Cents(int64(binary.BigEndian.Uint64(src[1:9]))))
}

// DecimalScale is the number of fractional digits kept by DecimalCodec.
const DecimalScale = 10

// DecimalCodec stores a decimal as a 128-bit two's complement integer scaled
// by 10^DecimalScale. Digits beyond the scale are rounded half away from zero.
type DecimalCodec struct{}

func (DecimalCodec) Width() int { return 16 }

var (
	two128      = new(big.Int).Lsh(big.NewInt(1), 128)
	minNegative = new(big.Int).Lsh(big.NewInt(1), 127)
)

func (DecimalCodec) Encode(dst []byte, v decimal.Decimal) {
	n := v.Shift(DecimalScale).Round(0).BigInt()
	// Euclidean modulus yields the two's complement form; values outside int128 wrap.
	n.Mod(n, two128)
	n.FillBytes(dst[:16])
}

func (DecimalCodec) Decode(src []byte) decimal.Decimal {
	n := new(big.Int).SetBytes(src[:16])
	if n.Cmp(minNegative) >= 0 {
		n.Sub(n, two128)
	}
	return decimal.NewFromBigInt(n, -DecimalScale)
}
