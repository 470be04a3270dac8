package merkletrie

import (
	"encoding/binary"
	"io"
	"math/bits"
)

// BranchBitmapBytes - размер bitmap на проводе (для Merkle-пруфов)
const BranchBitmapBytes = 2

// BranchBitmap - множество занятых веток узла, бит b ⇔ есть ребенок b.
// Pop и Lowest на пустом bitmap не определены: сначала Empty().
type BranchBitmap uint16

func (b *BranchBitmap) Add(branch uint8) {
	*b |= 1 << branch
}

// Pop удаляет и возвращает младшую ветку
func (b *BranchBitmap) Pop() uint8 {
	loc := uint8(bits.TrailingZeros16(uint16(*b)))
	*b &^= 1 << loc
	return loc
}

func (b *BranchBitmap) Erase(branch uint8) {
	*b &^= 1 << branch
}

func (b BranchBitmap) Lowest() uint8 {
	return uint8(bits.TrailingZeros16(uint16(b)))
}

func (b BranchBitmap) Size() int {
	return bits.OnesCount16(uint16(b))
}

func (b BranchBitmap) Contains(branch uint8) bool {
	return b&(1<<branch) != 0
}

// DropLT возвращает копию без веток меньше branch
func (b BranchBitmap) DropLT(branch uint8) BranchBitmap {
	return b & BranchBitmap(uint32(0xFFFF)<<branch)
}

func (b BranchBitmap) Empty() bool {
	return b == 0
}

func (b *BranchBitmap) Clear() {
	*b = 0
}

func (b BranchBitmap) Bits() uint16 {
	return uint16(b)
}

// AppendBytes дописывает bitmap в 2 байта big-endian
func (b BranchBitmap) AppendBytes(buf []byte) []byte {
	return binary.BigEndian.AppendUint16(buf, uint16(b))
}

func (b BranchBitmap) WriteTo(w io.Writer) (int64, error) {
	var out [BranchBitmapBytes]byte
	binary.BigEndian.PutUint16(out[:], uint16(b))
	n, err := w.Write(out[:])
	return int64(n), err
}

// ParseBranchBitmap читает bitmap из проводного формата
func ParseBranchBitmap(data []byte) (BranchBitmap, error) {
	if len(data) != BranchBitmapBytes {
		return 0, ErrBadBitmapSize
	}
	return BranchBitmap(binary.BigEndian.Uint16(data)), nil
}
