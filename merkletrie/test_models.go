package merkletrie

import (
	"encoding/binary"
	"fmt"
)

// Int32Value для тестов
type Int32Value int32

func (v Int32Value) DataLen() int {
	return 4
}

func (v Int32Value) AppendBytes(buf []byte) []byte {
	return binary.BigEndian.AppendUint32(buf, uint32(v))
}

// Offer - заявка стакана для тестов метаданных
type Offer struct {
	Owner    uint64
	OfferID  uint64
	Amount   int64
	MinPrice uint64
}

func (o Offer) DataLen() int {
	return 32
}

func (o Offer) AppendBytes(buf []byte) []byte {
	buf = binary.BigEndian.AppendUint64(buf, o.Owner)
	buf = binary.BigEndian.AppendUint64(buf, o.OfferID)
	buf = binary.BigEndian.AppendUint64(buf, uint64(o.Amount))
	return binary.BigEndian.AppendUint64(buf, o.MinPrice)
}

// OrderbookMetadata - доступный объем продажи (endow) и число заявок.
// Rollbacks считает листья, вставленные через RollbackInsert.
type OrderbookMetadata struct {
	Endow     int64
	Count     int64
	Rollbacks int64
}

func (m OrderbookMetadata) Add(other OrderbookMetadata) OrderbookMetadata {
	return OrderbookMetadata{
		Endow:     m.Endow + other.Endow,
		Count:     m.Count + other.Count,
		Rollbacks: m.Rollbacks + other.Rollbacks,
	}
}

func (m OrderbookMetadata) Sub(other OrderbookMetadata) OrderbookMetadata {
	return OrderbookMetadata{
		Endow:     m.Endow - other.Endow,
		Count:     m.Count - other.Count,
		Rollbacks: m.Rollbacks - other.Rollbacks,
	}
}

func (OrderbookMetadata) FromValue(o Offer) OrderbookMetadata {
	return OrderbookMetadata{Endow: o.Amount, Count: 1}
}

func (m OrderbookMetadata) WithRollback() OrderbookMetadata {
	m.Rollbacks = 1
	return m
}

func (m OrderbookMetadata) Equal(other OrderbookMetadata) bool {
	return m == other
}

func (m OrderbookMetadata) Size() int {
	return int(m.Count)
}

func (m OrderbookMetadata) String() string {
	return fmt.Sprintf("endow:%d count:%d rollbacks:%d", m.Endow, m.Count, m.Rollbacks)
}

// NewOffer для тестов
func NewOffer(owner, id uint64, amount int64, minPrice uint64) Offer {
	return Offer{Owner: owner, OfferID: id, Amount: amount, MinPrice: minPrice}
}
