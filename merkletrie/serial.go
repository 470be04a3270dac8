package merkletrie

// ============================================
// SerialTrie - однопоточная сборка пачки
// ============================================

// Корень всегда в ячейке 0 и никогда не бывает ребенком,
// поэтому 0 в слоте означает пустой слот.
const nilIndex int32 = 0

type serialNode[K Prefix[K], V Value, M Metadata[M, V]] struct {
	prefix    K
	prefixLen PrefixLenBits
	children  [BranchFactor]int32
	branches  BranchBitmap

	hasValue bool
	value    V
	meta     M
}

// SerialTrie - дерево без атомиков поверх арены с free list.
// Форма всегда каноническая: удаление сразу вычищает и схлопывает узлы.
// Не безопасно для конкурентного использования.
type SerialTrie[K Prefix[K], V Value, M Metadata[M, V]] struct {
	nodes    []serialNode[K, V, M]
	free     []int32
	strategy InsertStrategy[V, M]

	leaves int
	reused uint64
}

// SerialStats - состояние арены
type SerialStats struct {
	Leaves    int
	LiveNodes int
	FreeNodes int
	Reused    uint64
}

func NewSerialTrie[K Prefix[K], V Value, M Metadata[M, V]](capacity int, s InsertStrategy[V, M]) *SerialTrie[K, V, M] {
	if capacity < 1 {
		capacity = 1
	}
	if s == nil {
		s = OverwriteInsert[V, M]{}
	}
	st := &SerialTrie[K, V, M]{
		nodes:    make([]serialNode[K, V, M], 1, capacity),
		strategy: s,
	}
	return st
}

// alloc берет ячейку из free list или растит арену.
// Указатели на ячейки после alloc недействительны.
func (s *SerialTrie[K, V, M]) alloc(prefix K, l PrefixLenBits) int32 {
	var idx int32
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
		s.reused++
	} else {
		s.nodes = append(s.nodes, serialNode[K, V, M]{})
		idx = int32(len(s.nodes) - 1)
	}
	s.nodes[idx] = serialNode[K, V, M]{prefix: prefix, prefixLen: l}
	return idx
}

func (s *SerialTrie[K, V, M]) release(idx int32) {
	s.nodes[idx] = serialNode[K, V, M]{}
	s.free = append(s.free, idx)
}

// Insert вставляет значение стратегией дерева
func (s *SerialTrie[K, V, M]) Insert(key K, v V) {
	s.InsertWith(key, v, s.strategy)
}

func (s *SerialTrie[K, V, M]) InsertWith(key K, v V, strategy InsertStrategy[V, M]) {
	w := key.BitWidth()
	path := make([]int32, 0, pathCap(key))

	cur := int32(0)
	for {
		path = append(path, cur)
		if s.nodes[cur].prefixLen == w {
			break
		}

		b := key.Nibble(s.nodes[cur].prefixLen)
		ci := s.nodes[cur].children[b]
		if ci == nilIndex {
			leaf := s.alloc(key, w)
			s.nodes[cur].children[b] = leaf
			s.nodes[cur].branches.Add(b)
			path = append(path, leaf)
			break
		}

		child := &s.nodes[ci]
		m := alignDown(min(key.MatchLen(child.prefix), w, child.prefixLen))
		if m == child.prefixLen {
			cur = ci
			continue
		}

		cb := child.prefix.Nibble(m)
		childMeta := child.meta
		split := s.alloc(key.Truncate(m), m)
		sp := &s.nodes[split]
		sp.children[cb] = ci
		sp.branches.Add(cb)
		sp.meta = childMeta
		s.nodes[cur].children[b] = split
		cur = split
	}

	leaf := &s.nodes[path[len(path)-1]]
	value := v
	if leaf.hasValue {
		value = strategy.ValueCombine(leaf.value, v)
	} else {
		s.leaves++
	}

	repl, delta := MetadataInsert(strategy, leaf.meta, value)
	leaf.value = value
	leaf.hasValue = true
	leaf.meta = repl

	for _, i := range path[:len(path)-1] {
		s.nodes[i].meta = s.nodes[i].meta.Add(delta)
	}
}

// lookup возвращает путь от корня до листа key
func (s *SerialTrie[K, V, M]) lookup(key K) ([]int32, bool) {
	w := key.BitWidth()
	path := make([]int32, 0, pathCap(key))

	cur := int32(0)
	for {
		path = append(path, cur)
		nd := &s.nodes[cur]
		if nd.prefixLen == w {
			return path, nd.hasValue
		}

		ci := nd.children[key.Nibble(nd.prefixLen)]
		if ci == nilIndex {
			return path, false
		}
		child := &s.nodes[ci]
		if key.Truncate(child.prefixLen) != child.prefix {
			return path, false
		}
		cur = ci
	}
}

func (s *SerialTrie[K, V, M]) Get(key K) (V, bool) {
	path, ok := s.lookup(key)
	if !ok {
		var none V
		return none, false
	}
	return s.nodes[path[len(path)-1]].value, true
}

// Delete удаляет лист и сразу чистит путь: пустые узлы уходят
// в free list, узлы с одним ребенком схлопываются.
func (s *SerialTrie[K, V, M]) Delete(key K) bool {
	_, ok := s.delete(key)
	return ok
}

func (s *SerialTrie[K, V, M]) DeleteWithSideEffect(key K, fn DeleteSideEffect[K, V]) bool {
	v, ok := s.delete(key)
	if ok && fn != nil {
		fn(key, v)
	}
	return ok
}

func (s *SerialTrie[K, V, M]) delete(key K) (V, bool) {
	path, ok := s.lookup(key)
	if !ok {
		var none V
		return none, false
	}

	leafIdx := path[len(path)-1]
	removed := s.nodes[leafIdx].value

	var zero M
	delta := zero.Sub(s.nodes[leafIdx].meta)
	for _, i := range path[:len(path)-1] {
		s.nodes[i].meta = s.nodes[i].meta.Add(delta)
	}
	s.leaves--

	// Снимаем лист и поднимаемся, пока узлы вырождаются
	for d := len(path) - 1; d > 0; d-- {
		idx := path[d]
		parent := path[d-1]
		nd := &s.nodes[idx]

		var repl int32
		switch {
		case nd.prefixLen == key.BitWidth():
			repl = nilIndex
		case nd.branches.Empty():
			repl = nilIndex
		case nd.branches.Size() == 1:
			repl = nd.children[nd.branches.Lowest()]
		default:
			return removed, true
		}

		b := key.Nibble(s.nodes[parent].prefixLen)
		s.nodes[parent].children[b] = repl
		if repl == nilIndex {
			s.nodes[parent].branches.Erase(b)
		}
		s.release(idx)
	}
	return removed, true
}

// ForEach обходит листья по возрастанию ключа; fn возвращает false для остановки
func (s *SerialTrie[K, V, M]) ForEach(fn func(key K, v V) bool) {
	s.forEachLeaf(0, func(key K, v V, _ M) bool {
		return fn(key, v)
	})
}

// forEachLeaf отдает вместе со значением вклад листа в метаданные
func (s *SerialTrie[K, V, M]) forEachLeaf(idx int32, fn func(key K, v V, m M) bool) bool {
	nd := &s.nodes[idx]
	if nd.hasValue {
		return fn(nd.prefix, nd.value, nd.meta)
	}
	for rest := nd.branches; !rest.Empty(); {
		if !s.forEachLeaf(nd.children[rest.Pop()], fn) {
			return false
		}
	}
	return true
}

// Len - число листьев
func (s *SerialTrie[K, V, M]) Len() int {
	return s.leaves
}

// Metadata - агрегат всех листьев
func (s *SerialTrie[K, V, M]) Metadata() M {
	return s.nodes[0].meta
}

// Reset возвращает все узлы в арену, емкость сохраняется
func (s *SerialTrie[K, V, M]) Reset() {
	clear(s.nodes)
	s.nodes = s.nodes[:1]
	s.free = s.free[:0]
	s.leaves = 0
}

func (s *SerialTrie[K, V, M]) Stats() SerialStats {
	return SerialStats{
		Leaves:    s.leaves,
		LiveNodes: len(s.nodes) - len(s.free),
		FreeNodes: len(s.free),
		Reused:    s.reused,
	}
}
