package merkletrie

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EmptyValue - значение без данных, когда важен только набор ключей
type EmptyValue struct{}

func (EmptyValue) DataLen() int {
	return 0
}

func (EmptyValue) AppendBytes(buf []byte) []byte {
	return buf
}

// MsgpackValue хранит значение вместе с его msgpack-кодировкой.
// Кодируется один раз при создании; ключи map сортируются,
// так что равные значения дают равные байты.
type MsgpackValue[T any] struct {
	v    T
	data []byte
}

func NewMsgpackValue[T any](v T) (MsgpackValue[T], error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return MsgpackValue[T]{}, fmt.Errorf("failed to encode leaf value: %w", err)
	}
	return MsgpackValue[T]{v: v, data: buf.Bytes()}, nil
}

// DecodeMsgpackValue восстанавливает значение из байт, отданных AppendBytes
func DecodeMsgpackValue[T any](data []byte) (MsgpackValue[T], error) {
	var v T
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return MsgpackValue[T]{}, fmt.Errorf("failed to decode leaf value: %w", err)
	}
	return MsgpackValue[T]{v: v, data: bytes.Clone(data)}, nil
}

func (m MsgpackValue[T]) Get() T {
	return m.v
}

func (m MsgpackValue[T]) Bytes() []byte {
	return m.data
}

func (m MsgpackValue[T]) DataLen() int {
	return len(m.data)
}

func (m MsgpackValue[T]) AppendBytes(buf []byte) []byte {
	return append(buf, m.data...)
}
