package merkletrie

import (
	"golang.org/x/sync/errgroup"
)

// Entry - пара ключ/значение листа
type Entry[K any, V any] struct {
	Key   K
	Value V
}

// inRange проверяет ключ против границ
func inRange[K Prefix[K]](key, start, end K, includeStart, includeEnd bool) bool {
	cmpStart := key.Cmp(start)
	cmpEnd := key.Cmp(end)

	switch {
	case includeStart && includeEnd:
		return cmpStart >= 0 && cmpEnd <= 0
	case includeStart && !includeEnd:
		return cmpStart >= 0 && cmpEnd < 0
	case !includeStart && includeEnd:
		return cmpStart > 0 && cmpEnd <= 0
	default:
		return cmpStart > 0 && cmpEnd < 0
	}
}

// Range возвращает листья с ключами между start и end по возрастанию.
// Поддеревья целиком вне диапазона не посещаются.
func (t *Trie[K, V, M]) Range(start, end K, includeStart, includeEnd bool) []Entry[K, V] {
	if start.Cmp(end) > 0 {
		return nil
	}

	g := t.gc.Pin()
	defer g.Unpin()

	result := make([]Entry[K, V], 0)
	rangeNode(t.root, start, end, includeStart, includeEnd, &result)
	return result
}

// RangeParallel - то же, что Range, но ветки корня обходятся воркерами
func (t *Trie[K, V, M]) RangeParallel(start, end K, includeStart, includeEnd bool) []Entry[K, V] {
	if start.Cmp(end) > 0 {
		return nil
	}

	guard := t.gc.Pin()
	defer guard.Unpin()

	partials := make([][]Entry[K, V], BranchFactor)

	var g errgroup.Group
	g.SetLimit(t.cfg.Workers)
	for b := range BranchFactor {
		child := t.root.children[b].Load()
		if child == nil {
			continue
		}
		g.Go(func() error {
			local := make([]Entry[K, V], 0)
			rangeNode(child, start, end, includeStart, includeEnd, &local)
			partials[b] = local
			return nil
		})
	}
	_ = g.Wait()

	result := make([]Entry[K, V], 0)
	for _, p := range partials {
		result = append(result, p...)
	}
	return result
}

func rangeNode[K Prefix[K], V Value, M Metadata[M, V]](n *Node[K, V, M], start, end K, includeStart, includeEnd bool, result *[]Entry[K, V]) {
	if n == nil {
		return
	}

	// Все ключи поддерева имеют вид prefix + хвост
	if n.prefix.Cmp(start.Truncate(n.prefixLen)) < 0 || n.prefix.Cmp(end.Truncate(n.prefixLen)) > 0 {
		return
	}

	if n.isLeaf() {
		if e := n.entry.Load(); e != nil && inRange(n.prefix, start, end, includeStart, includeEnd) {
			*result = append(*result, Entry[K, V]{Key: n.prefix, Value: e.value})
		}
		return
	}

	for b := range BranchFactor {
		rangeNode(n.children[b].Load(), start, end, includeStart, includeEnd, result)
	}
}
