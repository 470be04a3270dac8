package merkletrie

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/holiman/uint256"
)

// Prefix - ключ фиксированной ширины, который читается как битовая строка
// начиная со старшего бита. Все смещения и длины кратны BranchBits.
type Prefix[K any] interface {
	comparable

	// BitWidth - ширина ключа W
	BitWidth() PrefixLenBits

	// Nibble возвращает 4 бита, начиная со смещения offset
	Nibble(offset PrefixLenBits) uint8

	// Truncate обнуляет все биты после первых n
	Truncate(n PrefixLenBits) K

	// MatchLen - длина общего префикса в битах (W если ключи равны)
	MatchLen(other K) PrefixLenBits

	// Cmp сравнивает ключи как беззнаковые целые
	Cmp(other K) int

	// AppendBytes дописывает первые ceil(n/8) байт ключа в big-endian
	AppendBytes(buf []byte, n PrefixLenBits) []byte

	String() string
}

// checkPrefixLen паникует на невыровненной длине - это ошибка вызывающего
func checkPrefixLen(n, width PrefixLenBits) {
	if n > width || n%BranchBits != 0 {
		panic(fmt.Sprintf("merkletrie: invalid prefix length %d (width %d)", n, width))
	}
}

func alignDown(n PrefixLenBits) PrefixLenBits {
	return n &^ (BranchBits - 1)
}

// ============================================
// UInt64Prefix
// ============================================

// UInt64Prefix - 64-битный ключ
type UInt64Prefix uint64

const uint64Width PrefixLenBits = 64

func (p UInt64Prefix) BitWidth() PrefixLenBits {
	return uint64Width
}

func (p UInt64Prefix) Nibble(offset PrefixLenBits) uint8 {
	return uint8((uint64(p) >> (uint64Width - BranchBits - offset)) & (BranchFactor - 1))
}

func (p UInt64Prefix) Truncate(n PrefixLenBits) UInt64Prefix {
	if n >= uint64Width {
		return p
	}
	if n == 0 {
		return 0
	}
	return p & UInt64Prefix(^uint64(0)<<(uint64Width-n))
}

func (p UInt64Prefix) MatchLen(other UInt64Prefix) PrefixLenBits {
	x := uint64(p ^ other)
	if x == 0 {
		return uint64Width
	}
	return PrefixLenBits(bits.LeadingZeros64(x))
}

func (p UInt64Prefix) Cmp(other UInt64Prefix) int {
	switch {
	case p < other:
		return -1
	case p > other:
		return 1
	}
	return 0
}

func (p UInt64Prefix) AppendBytes(buf []byte, n PrefixLenBits) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(p.Truncate(n)))
	return append(buf, b[:(n+7)/8]...)
}

func (p UInt64Prefix) String() string {
	return fmt.Sprintf("%016x", uint64(p))
}

// ============================================
// UInt256Prefix
// ============================================

// UInt256Prefix - 256-битный ключ (state-trie ключи, хеши аккаунтов)
type UInt256Prefix struct {
	v uint256.Int
}

const uint256Width PrefixLenBits = 256

func NewUInt256Prefix(v *uint256.Int) UInt256Prefix {
	return UInt256Prefix{v: *v}
}

func UInt256PrefixFromUint64(v uint64) UInt256Prefix {
	var p UInt256Prefix
	p.v.SetUint64(v)
	return p
}

// UInt256PrefixFromBytes32 читает ключ из 32 байт big-endian
func UInt256PrefixFromBytes32(b [32]byte) UInt256Prefix {
	var p UInt256Prefix
	p.v.SetBytes32(b[:])
	return p
}

func (p UInt256Prefix) Int() *uint256.Int {
	v := p.v
	return &v
}

func (p UInt256Prefix) BitWidth() PrefixLenBits {
	return uint256Width
}

func (p UInt256Prefix) Nibble(offset PrefixLenBits) uint8 {
	// лимбы little-endian: p.v[3] - старшие 64 бита
	limb := p.v[3-offset/64]
	shift := 64 - BranchBits - offset%64
	return uint8((limb >> shift) & (BranchFactor - 1))
}

func (p UInt256Prefix) Truncate(n PrefixLenBits) UInt256Prefix {
	if n >= uint256Width {
		return p
	}
	var out UInt256Prefix
	if n == 0 {
		return out
	}
	mask := new(uint256.Int).Not(new(uint256.Int))
	mask.Lsh(mask, uint(uint256Width-n))
	out.v.And(&p.v, mask)
	return out
}

func (p UInt256Prefix) MatchLen(other UInt256Prefix) PrefixLenBits {
	x := new(uint256.Int).Xor(&p.v, &other.v)
	if x.IsZero() {
		return uint256Width
	}
	return uint256Width - PrefixLenBits(x.BitLen())
}

func (p UInt256Prefix) Cmp(other UInt256Prefix) int {
	return p.v.Cmp(&other.v)
}

func (p UInt256Prefix) AppendBytes(buf []byte, n PrefixLenBits) []byte {
	t := p.Truncate(n)
	b := t.v.Bytes32()
	return append(buf, b[:(n+7)/8]...)
}

func (p UInt256Prefix) String() string {
	b := p.v.Bytes32()
	return fmt.Sprintf("%x", b[:])
}
