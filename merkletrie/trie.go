package merkletrie

import (
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "merkletrie")

// Trie - конкурентное 16-арное Merkle-дерево с метаданными поддеревьев.
//
// Insert/Delete/GetSubnodeRef безопасны из любого числа горутин.
// HashAndNormalize и MergeIn - точки синхронизации: вызывающий
// исключает параллельные мутации на время их работы.
type Trie[K Prefix[K], V Value, M Metadata[M, V]] struct {
	root     *Node[K, V, M]
	gc       *GC[K, V, M]
	cfg      *Config
	strategy InsertStrategy[V, M]

	// Метрики
	stats *counters
}

// DeleteSideEffect вызывается с удаленным значением
type DeleteSideEffect[K any, V any] func(key K, v V)

// New создает дерево со стратегией перезаписи
func New[K Prefix[K], V Value, M Metadata[M, V]](cfg *Config) *Trie[K, V, M] {
	return NewWithStrategy[K, V, M](cfg, OverwriteInsert[V, M]{})
}

// NewWithStrategy создает дерево с заданной стратегией вставки по умолчанию
func NewWithStrategy[K Prefix[K], V Value, M Metadata[M, V]](cfg *Config, s InsertStrategy[V, M]) *Trie[K, V, M] {
	cfg = cfg.withDefaults()
	if s == nil {
		s = OverwriteInsert[V, M]{}
	}

	stats := &counters{}
	var zero K
	root := new(Node[K, V, M])
	root.init(zero, 0)

	return &Trie[K, V, M]{
		root:     root,
		gc:       newGC[K, V, M](cfg.GCCollectInterval, stats),
		cfg:      cfg,
		strategy: s,
		stats:    stats,
	}
}

// GetSubnodeRef возвращает узел домена (prefix, l), создавая его при необходимости.
// Узел и все его предки помечаются dirty.
func (t *Trie[K, V, M]) GetSubnodeRef(prefix K, l PrefixLenBits) *Node[K, V, M] {
	return t.root.GetOrCreate(prefix, l, t.gc)
}

// Insert вставляет значение стратегией дерева
func (t *Trie[K, V, M]) Insert(key K, v V) {
	t.root.Insert(key, v, t.strategy, t.gc)
}

// InsertWith вставляет значение заданной стратегией
func (t *Trie[K, V, M]) InsertWith(key K, v V, s InsertStrategy[V, M]) {
	t.root.Insert(key, v, s, t.gc)
}

// Delete удаляет ключ; false если ключа не было
func (t *Trie[K, V, M]) Delete(key K) bool {
	return t.root.DeleteValue(key, t.gc)
}

func (t *Trie[K, V, M]) DeleteWithSideEffect(key K, fn DeleteSideEffect[K, V]) bool {
	return t.root.DeleteValueWithSideEffect(key, t.gc, fn)
}

func (t *Trie[K, V, M]) Get(key K) (V, bool) {
	return t.root.get(key, t.gc)
}

// Metadata - агрегат всех листьев дерева. Вставки через узел из
// GetSubnodeRef попадают сюда только после HashAndNormalize.
func (t *Trie[K, V, M]) Metadata() M {
	return t.root.Metadata()
}

func (t *Trie[K, V, M]) Root() *Node[K, V, M] {
	return t.root
}

// GetGC возвращает handle сборщика, который требуют мутации узлов
func (t *Trie[K, V, M]) GetGC() *GC[K, V, M] {
	return t.gc
}

func (t *Trie[K, V, M]) Strategy() InsertStrategy[V, M] {
	return t.strategy
}

// OpenSerialSubsidiary открывает независимое однопоточное дерево
// для дешевой сборки пачки вставок перед MergeIn.
func (t *Trie[K, V, M]) OpenSerialSubsidiary() *SerialTrie[K, V, M] {
	return NewSerialTrie[K, V, M](t.cfg.SerialArenaCapacity, t.strategy)
}

// GetStats возвращает статистику дерева
func (t *Trie[K, V, M]) GetStats() Stats {
	s := t.stats.snapshot()
	s.Epoch = t.gc.Epoch()
	return s
}
