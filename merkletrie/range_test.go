package merkletrie

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newRangeTrie(ids ...uint64) *Trie[UInt64Prefix, Int32Value, SizeMetadata[Int32Value]] {
	tr := New[UInt64Prefix, Int32Value, SizeMetadata[Int32Value]](DefaultConfig())
	for _, id := range ids {
		tr.Insert(UInt64Prefix(id), Int32Value(id))
	}
	return tr
}

func TestTrieRange(t *testing.T) {
	ids := make([]uint64, 0, 100)
	for i := uint64(0); i < 100; i++ {
		ids = append(ids, i*10)
	}
	tr := newRangeTrie(ids...)

	// Range [200, 500)
	results := tr.Range(200, 500, true, false)
	require.Len(t, results, 30) // 200, 210, ..., 490

	for i := 0; i < len(results)-1; i++ {
		require.Less(t, results[i].Key, results[i+1].Key, "results should be sorted")
	}
	require.Equal(t, UInt64Prefix(200), results[0].Key)
	require.Equal(t, UInt64Prefix(490), results[len(results)-1].Key)
	require.Equal(t, Int32Value(490), results[len(results)-1].Value)
}

func TestTrieRangeEmpty(t *testing.T) {
	ids := make([]uint64, 0, 100)
	for i := uint64(0); i < 100; i++ {
		ids = append(ids, i*10)
	}
	tr := newRangeTrie(ids...)

	// Query вне диапазона
	require.Empty(t, tr.Range(1000, 2000, true, false))
	// start > end
	require.Nil(t, tr.Range(500, 200, true, true))
}

func TestTrieRangeBoundaries(t *testing.T) {
	tr := newRangeTrie(100, 200, 300, 400, 500)

	tests := []struct {
		name          string
		start         UInt64Prefix
		end           UInt64Prefix
		includeStart  bool
		includeEnd    bool
		expectedCount int
	}{
		{"[200, 400)", 200, 400, true, false, 2},  // 200, 300
		{"(200, 400]", 200, 400, false, true, 2},  // 300, 400
		{"[200, 400]", 200, 400, true, true, 3},   // 200, 300, 400
		{"(200, 400)", 200, 400, false, false, 1}, // 300
		{"[200, 200]", 200, 200, true, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := tr.Range(tt.start, tt.end, tt.includeStart, tt.includeEnd)
			require.Len(t, results, tt.expectedCount)

			parallel := tr.RangeParallel(tt.start, tt.end, tt.includeStart, tt.includeEnd)
			require.Equal(t, results, parallel)
		})
	}
}

func TestTrieRangeLarge(t *testing.T) {
	ids := make([]uint64, 0, 10000)
	for i := uint64(0); i < 10000; i++ {
		// разносим ключи по всем веткам корня
		ids = append(ids, i<<50|i)
	}
	tr := newRangeTrie(ids...)
	tr.HashAndNormalize()

	start, end := UInt64Prefix(3000<<50|3000), UInt64Prefix(7000<<50|7000)
	results := tr.RangeParallel(start, end, true, false)
	require.Len(t, results, 4000)

	// Проверяем все элементы
	for i, e := range results {
		require.Equal(t, UInt64Prefix(ids[3000+i]), e.Key, "position %d", i)
	}
	require.Equal(t, results, tr.Range(start, end, true, false))
}

func BenchmarkTrieRange(b *testing.B) {
	tr := New[UInt64Prefix, Int32Value, SizeMetadata[Int32Value]](DefaultConfig())
	for i := uint64(0); i < 100000; i++ {
		tr.Insert(UInt64Prefix(i), Int32Value(i))
	}
	tr.HashAndNormalize()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tr.Range(10000, 10100, true, false)
	}
}
