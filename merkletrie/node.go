package merkletrie

import (
	"fmt"
	"sync/atomic"
)

// leafEntry публикуется целиком одним CAS: значение и вклад листа
// в метаданные всегда согласованы.
type leafEntry[V any, M any] struct {
	value V
	meta  M
}

// Node - корень поддерева. Префикс хранится абсолютным (все биты выше
// prefixLen обнулены), так что сжатый путь не требует отдельного поля.
// Узел длины W - лист.
type Node[K Prefix[K], V Value, M Metadata[M, V]] struct {
	prefix    K
	prefixLen PrefixLenBits

	children [BranchFactor]atomic.Pointer[Node[K, V, M]]
	// Биты установленных слотов; сверяется с детьми на normalize
	branches atomic.Uint32

	entry atomic.Pointer[leafEntry[V, M]]
	meta  atomicMetadata[M]

	// Lazy hashing
	dirty atomic.Bool
	hash  Hash

	// Поколение normalize, в котором узел выдан наружу; 0 - не выдавался
	refGen atomic.Uint64
}

func (n *Node[K, V, M]) init(prefix K, l PrefixLenBits) {
	n.prefix = prefix
	n.prefixLen = l
	n.dirty.Store(true)
}

// reset готовит узел к возврату в пул
func (n *Node[K, V, M]) reset() {
	var zero K
	n.prefix = zero
	n.prefixLen = 0
	for i := range n.children {
		n.children[i].Store(nil)
	}
	n.branches.Store(0)
	n.entry.Store(nil)
	n.meta.clear()
	n.dirty.Store(false)
	n.hash = Hash{}
	n.refGen.Store(0)
}

func (n *Node[K, V, M]) isLeaf() bool {
	return n.prefixLen == n.prefix.BitWidth()
}

// covers - лежит ли домен (prefix, l) внутри домена узла
func (n *Node[K, V, M]) covers(prefix K, l PrefixLenBits) bool {
	return n.prefixLen <= l && prefix.Truncate(n.prefixLen) == n.prefix
}

func (n *Node[K, V, M]) mustCover(prefix K, l PrefixLenBits) {
	checkPrefixLen(l, prefix.BitWidth())
	if !n.covers(prefix, l) {
		panic(fmt.Sprintf("merkletrie: domain %s/%d is outside node %s/%d", prefix, l, n.prefix, n.prefixLen))
	}
}

// walk спускается к домену (prefix, l), создавая недостающие узлы.
// Возвращает путь от n до целевого узла включительно; все узлы пути
// помечены dirty.
func (n *Node[K, V, M]) walk(prefix K, l PrefixLenBits, gc *GC[K, V, M], path []*Node[K, V, M]) []*Node[K, V, M] {
	cur := n
	for {
		path = append(path, cur)
		if cur.prefixLen == l {
			break
		}

		b := prefix.Nibble(cur.prefixLen)
		slot := &cur.children[b]
		child := slot.Load()

		if child == nil {
			cand := gc.alloc(prefix.Truncate(l), l)
			if slot.CompareAndSwap(nil, cand) {
				cur.branches.Or(1 << b)
				gc.stats.nodesCreated.Add(1)
				path = append(path, cand)
				break
			}
			gc.lostRace(cand)
			continue
		}

		m := prefix.MatchLen(child.prefix)
		m = min(m, l, child.prefixLen)
		m = alignDown(m)
		if m == child.prefixLen {
			cur = child
			continue
		}

		// Сжатый путь расходится: вставляем промежуточный узел длины m.
		// Его метаданные - снимок ребенка, normalize пересчитает точно.
		split := gc.alloc(prefix.Truncate(m), m)
		cb := child.prefix.Nibble(m)
		split.children[cb].Store(child)
		split.branches.Store(1 << cb)
		split.meta.store(child.meta.load())
		if slot.CompareAndSwap(child, split) {
			gc.stats.splits.Add(1)
			gc.stats.nodesCreated.Add(1)
			cur = split
			continue
		}
		gc.lostRace(split)
	}

	for _, p := range path {
		if !p.dirty.Load() {
			p.dirty.Store(true)
		}
	}
	return path
}

// lookup спускается к домену без создания узлов
func (n *Node[K, V, M]) lookup(prefix K, l PrefixLenBits, path []*Node[K, V, M]) ([]*Node[K, V, M], bool) {
	cur := n
	for {
		path = append(path, cur)
		if cur.prefixLen == l {
			return path, true
		}

		child := cur.children[prefix.Nibble(cur.prefixLen)].Load()
		if child == nil || child.prefixLen > l || prefix.Truncate(child.prefixLen) != child.prefix {
			return path, false
		}
		cur = child
	}
}

// GetOrCreate возвращает узел, который управляет ровно доменом (prefix, l),
// материализуя недостающие узлы. Конкурирующие вызовы на одном домене
// получают один и тот же узел. Ссылка действительна до следующего
// HashAndNormalize.
func (n *Node[K, V, M]) GetOrCreate(prefix K, l PrefixLenBits, gc *GC[K, V, M]) *Node[K, V, M] {
	n.checkRef(gc)
	n.mustCover(prefix, l)

	g := gc.Pin()
	defer g.Unpin()

	path := n.walk(prefix, l, gc, make([]*Node[K, V, M], 0, pathCap(prefix)))
	target := path[len(path)-1]
	if target != n {
		target.refGen.Store(gc.refGeneration())
	}
	return target
}

// checkRef паникует, если узел выдан через GetOrCreate до последнего
// HashAndNormalize: такая ссылка может указывать на отцепленный узел.
func (n *Node[K, V, M]) checkRef(gc *GC[K, V, M]) {
	if g := n.refGen.Load(); g != 0 && g != gc.refGeneration() {
		panic(fmt.Sprintf("merkletrie: node %s/%d used after HashAndNormalize, take a fresh GetSubnodeRef", n.prefix, n.prefixLen))
	}
}

// Insert записывает значение в лист key и прибавляет дельту метаданных
// ко всем узлам на пути от n до листа.
func (n *Node[K, V, M]) Insert(key K, v V, s InsertStrategy[V, M], gc *GC[K, V, M]) {
	n.upsert(key, gc, func(old *leafEntry[V, M]) (V, M) {
		value := v
		if old != nil {
			value = s.ValueCombine(old.value, v)
		}
		return value, s.NewMetadata(value)
	})
}

// mergeLeaf публикует готовую пару (value, meta) из serial-дерева.
// Если лист уже занят, значение сливается стратегией, а вклад листа
// сдвигается на разницу, которую слияние вносит в значение.
func (n *Node[K, V, M]) mergeLeaf(key K, v V, meta M, s InsertStrategy[V, M], gc *GC[K, V, M]) {
	n.upsert(key, gc, func(old *leafEntry[V, M]) (V, M) {
		if old == nil {
			return v, meta
		}
		value := s.ValueCombine(old.value, v)
		return value, meta.Add(s.NewMetadata(value).Sub(s.NewMetadata(v)))
	})
}

// upsert заменяет запись листа одним CAS; build строит новую запись
// по старой (nil если листа не было). Дельта (new - old) уходит всем
// узлам пути, включая сам лист.
func (n *Node[K, V, M]) upsert(key K, gc *GC[K, V, M], build func(old *leafEntry[V, M]) (V, M)) {
	w := key.BitWidth()
	n.checkRef(gc)
	n.mustCover(key, w)

	g := gc.Pin()
	defer g.Unpin()

	path := n.walk(key, w, gc, make([]*Node[K, V, M], 0, pathCap(key)))
	leaf := path[len(path)-1]

	for {
		old := leaf.entry.Load()

		var oldMeta M
		if old != nil {
			oldMeta = old.meta
		}

		value, meta := build(old)
		if leaf.entry.CompareAndSwap(old, &leafEntry[V, M]{value: value, meta: meta}) {
			delta := meta.Sub(oldMeta)
			for _, p := range path {
				p.meta.add(delta)
			}
			break
		}
	}
	gc.stats.inserts.Add(1)
}

// DeleteValue удаляет лист key, если он есть. Удаление отсутствующего
// ключа ничего не меняет. Пустые узлы убирает HashAndNormalize.
func (n *Node[K, V, M]) DeleteValue(key K, gc *GC[K, V, M]) bool {
	_, ok := n.deleteValue(key, gc)
	return ok
}

// DeleteValueWithSideEffect вызывает fn с удаленным значением
func (n *Node[K, V, M]) DeleteValueWithSideEffect(key K, gc *GC[K, V, M], fn func(key K, v V)) bool {
	v, ok := n.deleteValue(key, gc)
	if ok && fn != nil {
		fn(key, v)
	}
	return ok
}

func (n *Node[K, V, M]) deleteValue(key K, gc *GC[K, V, M]) (V, bool) {
	var none V
	w := key.BitWidth()
	n.checkRef(gc)
	n.mustCover(key, w)

	g := gc.Pin()
	defer g.Unpin()

	path, found := n.lookup(key, w, make([]*Node[K, V, M], 0, pathCap(key)))
	if !found {
		return none, false
	}

	leaf := path[len(path)-1]
	old := leaf.entry.Swap(nil)
	if old == nil {
		return none, false
	}

	var zero M
	delta := zero.Sub(old.meta)
	for _, p := range path {
		p.meta.add(delta)
		if !p.dirty.Load() {
			p.dirty.Store(true)
		}
	}
	gc.stats.deletes.Add(1)
	return old.value, true
}

// get читает значение листа без создания узлов
func (n *Node[K, V, M]) get(key K, gc *GC[K, V, M]) (V, bool) {
	var none V
	g := gc.Pin()
	defer g.Unpin()

	path, found := n.lookup(key, key.BitWidth(), make([]*Node[K, V, M], 0, pathCap(key)))
	if !found {
		return none, false
	}
	return path[len(path)-1].Value()
}

func pathCap[K Prefix[K]](key K) int {
	return int(key.BitWidth()/BranchBits) + 1
}

// GetChild возвращает ребенка в слоте branch или nil
func (n *Node[K, V, M]) GetChild(branch uint8) *Node[K, V, M] {
	return n.children[branch].Load()
}

func (n *Node[K, V, M]) Prefix() K {
	return n.prefix
}

func (n *Node[K, V, M]) PrefixLen() PrefixLenBits {
	return n.prefixLen
}

func (n *Node[K, V, M]) IsLeaf() bool {
	return n.isLeaf()
}

// Branches - занятые слоты по версии последнего normalize (плюс новые)
func (n *Node[K, V, M]) Branches() BranchBitmap {
	return BranchBitmap(n.branches.Load())
}

// Metadata - агрегат поддерева. Точен для всех узлов после HashAndNormalize.
// Между вызовами корень точен, пока мутации идут от корня (Trie.Insert,
// Trie.Delete, MergeIn); вставки через узел из GetSubnodeRef доходят
// только до этого узла, предки догоняют на следующем HashAndNormalize.
func (n *Node[K, V, M]) Metadata() M {
	return n.meta.load()
}

// Hash - закешированный хеш; имеет смысл только если !IsDirty()
func (n *Node[K, V, M]) Hash() Hash {
	return n.hash
}

func (n *Node[K, V, M]) IsDirty() bool {
	return n.dirty.Load()
}

// Value возвращает значение листа
func (n *Node[K, V, M]) Value() (V, bool) {
	if e := n.entry.Load(); e != nil {
		return e.value, true
	}
	var none V
	return none, false
}
