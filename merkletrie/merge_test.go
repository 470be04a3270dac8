package merkletrie

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeEquivalence(t *testing.T) {
	keys := testKeys(3000, 51)

	target := newOfferTrie(DefaultConfig())
	serial := target.OpenSerialSubsidiary()
	for _, k := range keys {
		serial.Insert(k, offerFor(k))
	}
	target.MergeIn(serial)

	// те же вставки напрямую, по возрастанию ключа
	direct := newOfferTrie(DefaultConfig())
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	for _, k := range sorted {
		direct.Insert(k, offerFor(k))
	}

	require.Equal(t, direct.Metadata(), target.Metadata())
	require.Equal(t, direct.HashAndNormalize(), target.HashAndNormalize())
	require.Equal(t, direct.Metadata(), target.Metadata())

	// serial-дерево поглощено и пусто
	require.Zero(t, serial.Len())
	require.Equal(t, uint64(1), target.GetStats().Merges)
}

func TestMergeIntoNonEmpty(t *testing.T) {
	keys := testKeys(1000, 53)

	target := newOfferTrie(DefaultConfig())
	direct := newOfferTrie(DefaultConfig())
	for _, k := range keys[:600] {
		target.Insert(k, offerFor(k))
		direct.Insert(k, offerFor(k))
	}
	target.HashAndNormalize()

	// пересечение: ключи 400..599 перезаписываются другими значениями
	serial := target.OpenSerialSubsidiary()
	for _, k := range keys[400:] {
		o := offerFor(k)
		o.Amount *= 3
		serial.Insert(k, o)
		direct.Insert(k, o)
	}
	serial.Delete(keys[999])
	direct.Delete(keys[999])

	target.MergeIn(serial)

	require.Equal(t, direct.HashAndNormalize(), target.HashAndNormalize())
	require.Equal(t, direct.Metadata(), target.Metadata())

	o, ok := target.Get(keys[450])
	require.True(t, ok)
	require.Equal(t, offerFor(keys[450]).Amount*3, o.Amount)
}

func TestMergeEmptySerial(t *testing.T) {
	target := newOfferTrie(DefaultConfig())
	h := target.HashAndNormalize()

	serial := target.OpenSerialSubsidiary()
	serial.Insert(5, NewOffer(1, 5, 1, 1))
	serial.Delete(5)

	target.MergeIn(serial)
	require.Equal(t, h, target.HashAndNormalize())
	require.Zero(t, target.GetStats().Merges)
}

func TestSerialReuseAfterMerge(t *testing.T) {
	target := newOfferTrie(DefaultConfig())
	serial := target.OpenSerialSubsidiary()

	for round := 0; round < 3; round++ {
		for _, k := range testKeys(200, uint64(60+round)) {
			serial.Insert(k, offerFor(k))
		}
		nodes := len(serial.nodes)
		target.MergeIn(serial)

		require.Zero(t, serial.Len())
		require.GreaterOrEqual(t, cap(serial.nodes), nodes)
	}
	require.Equal(t, int64(600), target.Metadata().Count)
}

// Метки стратегии, которой писали в serial, переживают слияние
func TestMergeKeepsSerialLeafMetadata(t *testing.T) {
	rollback := RollbackInsert[Offer, OrderbookMetadata]{}
	keys := testKeys(500, 57)

	target := newOfferTrie(DefaultConfig())
	direct := newOfferTrie(DefaultConfig())

	serial := target.OpenSerialSubsidiary()
	for i, k := range keys {
		if i%2 == 0 {
			serial.InsertWith(k, offerFor(k), rollback)
			direct.InsertWith(k, offerFor(k), rollback)
		} else {
			serial.Insert(k, offerFor(k))
			direct.Insert(k, offerFor(k))
		}
	}
	require.Equal(t, int64(250), serial.Metadata().Rollbacks)

	target.MergeIn(serial)

	require.Equal(t, int64(250), target.Metadata().Rollbacks)
	require.Equal(t, direct.Metadata(), target.Metadata())
	require.Equal(t, direct.HashAndNormalize(), target.HashAndNormalize())
	require.Equal(t, direct.Metadata(), target.Metadata())

	// serial со своей стратегией по умолчанию
	other := NewSerialTrie[UInt64Prefix, Offer, OrderbookMetadata](16, rollback)
	other.Insert(1, NewOffer(1, 1, 10, 0))
	other.Insert(2, NewOffer(1, 2, 20, 0))

	fresh := newOfferTrie(DefaultConfig())
	fresh.MergeIn(other)
	require.Equal(t, OrderbookMetadata{Endow: 30, Count: 2, Rollbacks: 2}, fresh.Metadata())
	fresh.HashAndNormalize()
	require.Equal(t, OrderbookMetadata{Endow: 30, Count: 2, Rollbacks: 2}, fresh.Metadata())
}

// Занятый лист: значение сливается стратегией целевого дерева
func TestMergeCombinesExistingLeaves(t *testing.T) {
	sum := CombineInsert[Offer, OrderbookMetadata]{
		Combine: func(old, incoming Offer) Offer {
			incoming.Amount += old.Amount
			return incoming
		},
	}
	newSumTrie := func() *offerTrie {
		return NewWithStrategy[UInt64Prefix, Offer, OrderbookMetadata](DefaultConfig(), sum)
	}

	keys := testKeys(300, 59)
	target := newSumTrie()
	direct := newSumTrie()
	for _, k := range keys[:200] {
		target.Insert(k, offerFor(k))
		direct.Insert(k, offerFor(k))
	}
	target.HashAndNormalize()

	serial := target.OpenSerialSubsidiary()
	for _, k := range keys[100:] {
		serial.Insert(k, offerFor(k))
		direct.Insert(k, offerFor(k))
	}
	target.MergeIn(serial)

	require.Equal(t, direct.Metadata(), target.Metadata())
	require.Equal(t, direct.HashAndNormalize(), target.HashAndNormalize())

	o, ok := target.Get(keys[150])
	require.True(t, ok)
	require.Equal(t, offerFor(keys[150]).Amount*2, o.Amount)
}
