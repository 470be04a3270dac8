package merkletrie

import (
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type offerTrie = Trie[UInt64Prefix, Offer, OrderbookMetadata]

func newOfferTrie(cfg *Config) *offerTrie {
	return New[UInt64Prefix, Offer, OrderbookMetadata](cfg)
}

func testKeys(n int, seed uint64) []UInt64Prefix {
	r := rand.New(rand.NewPCG(seed, seed^0x5EED))
	seen := make(map[UInt64Prefix]struct{}, n)
	keys := make([]UInt64Prefix, 0, n)
	for len(keys) < n {
		k := UInt64Prefix(r.Uint64())
		// часть ключей с общими длинными префиксами, чтобы были split'ы
		if len(keys)%3 == 0 {
			k &= 0xFFFF_0000_0000_FFFF
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

func offerFor(k UInt64Prefix) Offer {
	return NewOffer(uint64(k)>>32, uint64(k), int64(k%1000)+1, uint64(k)%97)
}

func TestOrderIndependence(t *testing.T) {
	keys := testKeys(2000, 1)

	a := newOfferTrie(DefaultConfig())
	for _, k := range keys {
		a.Insert(k, offerFor(k))
	}

	// другой порядок плюс лишние ключи, которые потом удаляются
	b := newOfferTrie(DefaultConfig())
	extra := testKeys(500, 2)
	shuffled := append([]UInt64Prefix(nil), keys...)
	r := rand.New(rand.NewPCG(3, 4))
	r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	for i, k := range shuffled {
		b.Insert(k, offerFor(k))
		if i < len(extra) {
			b.Insert(extra[i], offerFor(extra[i]))
		}
		if i%500 == 0 {
			b.HashAndNormalize()
		}
	}
	for _, k := range extra {
		if _, ok := a.Get(k); ok {
			continue
		}
		b.Delete(k)
	}

	require.Equal(t, a.HashAndNormalize(), b.HashAndNormalize())
	require.Equal(t, a.Metadata(), b.Metadata())
}

func TestIdempotentHashing(t *testing.T) {
	m := newOfferTrie(DefaultConfig())
	for _, k := range testKeys(300, 5) {
		m.Insert(k, offerFor(k))
	}

	h1 := m.HashAndNormalize()
	rehashed := m.GetStats().RehashedNodes

	h2 := m.HashAndNormalize()
	require.Equal(t, h1, h2)
	require.Equal(t, rehashed, m.GetStats().RehashedNodes)
	require.False(t, m.Root().IsDirty())
}

func TestInsertDeleteRoundTrip(t *testing.T) {
	m := newOfferTrie(DefaultConfig())
	keys := testKeys(400, 7)
	for _, k := range keys[:200] {
		m.Insert(k, offerFor(k))
	}
	before := m.HashAndNormalize()
	meta := m.Metadata()

	// вставка и удаление вперемешку с несвязанными ключами
	probe := UInt64Prefix(0x0123_4567_89AB_CDEF)
	m.Insert(probe, offerFor(probe))
	for _, k := range keys[200:300] {
		m.Insert(k, offerFor(k))
	}
	require.True(t, m.Delete(probe))
	for _, k := range keys[200:300] {
		require.True(t, m.Delete(k))
	}

	require.Equal(t, meta, m.Metadata())
	require.Equal(t, before, m.HashAndNormalize())
}

func TestMetadataConservation(t *testing.T) {
	m := newOfferTrie(DefaultConfig())
	present := make(map[UInt64Prefix]Offer)

	r := rand.New(rand.NewPCG(11, 12))
	keys := testKeys(1000, 13)
	for round := 0; round < 5; round++ {
		for i := 0; i < 800; i++ {
			k := keys[r.IntN(len(keys))]
			if r.IntN(3) == 0 {
				m.Delete(k)
				delete(present, k)
				continue
			}
			o := offerFor(k)
			o.Amount = int64(r.IntN(10_000))
			m.Insert(k, o)
			present[k] = o
		}

		var want OrderbookMetadata
		for _, o := range present {
			want = want.Add(want.FromValue(o))
		}

		// корень точен и до normalize
		require.Equal(t, want, m.Metadata(), "round %d", round)
		m.HashAndNormalize()
		require.Equal(t, want, m.Metadata(), "round %d", round)

		// и каждый дочерний узел корня после normalize
		var sum OrderbookMetadata
		for b := uint8(0); b < BranchFactor; b++ {
			if c := m.Root().GetChild(b); c != nil {
				sum = sum.Add(c.Metadata())
			}
		}
		require.Equal(t, want, sum)
	}
}

func TestConcurrentInsertsMatchSequential(t *testing.T) {
	keys := testKeys(4000, 21)

	seq := newOfferTrie(DefaultConfig())
	for _, k := range keys {
		seq.Insert(k, offerFor(k))
	}

	par := newOfferTrie(DefaultConfig())
	const workers = 8
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			// каждый пятый ключ пишут все горутины сразу
			for i, k := range keys {
				if i%workers == w || i%5 == 0 {
					par.Insert(k, offerFor(k))
				}
			}
		}(w)
	}
	wg.Wait()

	require.Equal(t, seq.Metadata().Count, par.Metadata().Count)
	require.Equal(t, seq.HashAndNormalize(), par.HashAndNormalize())
	require.Equal(t, seq.Metadata(), par.Metadata())
}

func TestConcurrentInsertDeleteMetadata(t *testing.T) {
	m := newOfferTrie(DefaultConfig())
	keys := testKeys(256, 31)

	const workers = 8
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(w), 99))
			for i := 0; i < 2000; i++ {
				k := keys[r.IntN(len(keys))]
				if r.IntN(2) == 0 {
					m.Delete(k)
				} else {
					o := offerFor(k)
					o.Amount = int64(r.IntN(1000))
					m.Insert(k, o)
				}
			}
		}(w)
	}
	wg.Wait()

	// какое значение победило - не определено, но агрегат сходится с листьями
	var want OrderbookMetadata
	for _, k := range keys {
		if o, ok := m.Get(k); ok {
			want = want.Add(want.FromValue(o))
		}
	}
	require.Equal(t, want, m.Metadata())
	m.HashAndNormalize()
	require.Equal(t, want, m.Metadata())
}

func TestRollbackInsert(t *testing.T) {
	m := newOfferTrie(DefaultConfig())
	rollback := RollbackInsert[Offer, OrderbookMetadata]{}

	m.Insert(1, NewOffer(1, 1, 10, 5))
	m.InsertWith(2, NewOffer(1, 2, 20, 5), rollback)
	m.InsertWith(3, NewOffer(1, 3, 30, 5), rollback)

	require.Equal(t, OrderbookMetadata{Endow: 60, Count: 3, Rollbacks: 2}, m.Metadata())

	// перезапись обычной вставкой снимает пометку
	m.Insert(3, NewOffer(1, 3, 5, 5))
	require.Equal(t, OrderbookMetadata{Endow: 35, Count: 3, Rollbacks: 1}, m.Metadata())

	require.True(t, m.Delete(2))
	m.HashAndNormalize()
	require.Equal(t, OrderbookMetadata{Endow: 15, Count: 2, Rollbacks: 0}, m.Metadata())
}

func TestCombineInsert(t *testing.T) {
	sum := CombineInsert[Int32Value, SizeMetadata[Int32Value]]{
		Combine: func(old, incoming Int32Value) Int32Value { return old + incoming },
	}
	m := NewWithStrategy[UInt64Prefix, Int32Value, SizeMetadata[Int32Value]](DefaultConfig(), sum)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				m.Insert(UInt64Prefix(i%10), 1)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		v, ok := m.Get(UInt64Prefix(i))
		require.True(t, ok)
		require.Equal(t, Int32Value(80), v)
	}
	require.Equal(t, int64(10), m.Metadata().N)
	require.Equal(t, uint64(800), m.GetStats().Inserts)
}

func TestUInt256Trie(t *testing.T) {
	a := New[UInt256Prefix, Int32Value, SizeMetadata[Int32Value]](DefaultConfig())
	b := New[UInt256Prefix, Int32Value, SizeMetadata[Int32Value]](DefaultConfig())

	keys := make([]UInt256Prefix, 0, 300)
	for i := 0; i < 300; i++ {
		var raw [32]byte
		raw[0] = byte(i % 7)
		raw[17] = byte(i)
		raw[31] = byte(i * 13)
		keys = append(keys, UInt256PrefixFromBytes32(raw))
	}

	for i, k := range keys {
		a.Insert(k, Int32Value(i))
	}
	for i := len(keys) - 1; i >= 0; i-- {
		b.Insert(keys[i], Int32Value(i))
	}

	require.Equal(t, a.HashAndNormalize(), b.HashAndNormalize())
	require.Equal(t, int64(300), a.Metadata().N)

	v, ok := a.Get(keys[42])
	require.True(t, ok)
	require.Equal(t, Int32Value(42), v)
}

func TestEmptyTrieHashStable(t *testing.T) {
	a := newOfferTrie(DefaultConfig())
	b := newOfferTrie(&Config{Workers: 1})

	require.Equal(t, a.HashAndNormalize(), b.HashAndNormalize())
	require.Equal(t, OrderbookMetadata{}, a.Metadata())
	require.Equal(t, uint64(1), a.GetStats().Normalizations)
}
