package merkletrie

import (
	"encoding/binary"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
)

// Доменные теги хеша
const (
	hashTagLeaf   byte = 0x00
	hashTagBranch byte = 0x01
)

var blake3HasherPool = sync.Pool{
	New: func() any { return blake3.New() },
}

// HashAndNormalize приводит дерево к каноническому виду и возвращает
// корневой хеш. Вызывающий гарантирует, что параллельных мутаций нет.
//
// Проход снизу вверх: пустые не-корневые узлы удаляются, внутренние
// узлы без значения с одним ребенком схлопываются, у dirty узлов
// пересчитываются метаданные и хеш. Ссылки, полученные через
// GetSubnodeRef до вызова, после него недействительны.
func (t *Trie[K, V, M]) HashAndNormalize() Hash {
	root := t.root
	t.gc.generation.Add(1)
	if !root.dirty.Load() {
		return root.hash
	}

	before := t.stats.snapshot()

	var g errgroup.Group
	g.SetLimit(t.cfg.Workers)
	for b := range BranchFactor {
		child := root.children[b].Load()
		if child == nil || !child.dirty.Load() {
			continue
		}
		g.Go(func() error {
			if repl := t.normalizeNode(child, false); repl != child {
				root.children[b].Store(repl)
				t.gc.Retire(child)
			}
			return nil
		})
	}
	_ = g.Wait()

	t.normalizeNode(root, true)
	t.stats.normalizations.Add(1)

	after := t.stats.snapshot()
	log.WithField("pruned", after.PrunedNodes-before.PrunedNodes).
		WithField("collapsed", after.CollapsedNodes-before.CollapsedNodes).
		WithField("rehashed", after.RehashedNodes-before.RehashedNodes).
		WithField("root", root.hash.String()[:16]).
		Debug("trie normalized")

	t.gc.Collect()
	return root.hash
}

// normalizeNode возвращает узел, который должен стоять в слоте вместо n
// (сам n, его единственный ребенок или nil). Если вернулся не n, вызывающий
// сначала перевешивает слот и только потом отдает n в Retire.
func (t *Trie[K, V, M]) normalizeNode(n *Node[K, V, M], root bool) *Node[K, V, M] {
	if !n.dirty.Load() {
		return n
	}

	if n.isLeaf() {
		e := n.entry.Load()
		if e == nil {
			t.stats.pruned.Add(1)
			return nil
		}
		n.meta.store(e.meta)
		t.rehash(n, 0, e)
		return n
	}

	var (
		bm  BranchBitmap
		sum M
	)
	for b := range BranchFactor {
		child := n.children[b].Load()
		if child == nil {
			continue
		}
		repl := t.normalizeNode(child, false)
		if repl != child {
			n.children[b].Store(repl)
			t.gc.Retire(child)
		}
		if repl == nil {
			continue
		}
		bm.Add(uint8(b))
		sum = sum.Add(repl.meta.load())
	}
	n.branches.Store(uint32(bm))

	if !root {
		switch bm.Size() {
		case 0:
			t.stats.pruned.Add(1)
			return nil
		case 1:
			t.stats.collapsed.Add(1)
			return n.children[bm.Lowest()].Load()
		}
	}

	n.meta.store(sum)
	t.rehash(n, bm, nil)
	return n
}

// rehash: blake3(tag || len || prefix || bitmap || child hashes || value)
func (t *Trie[K, V, M]) rehash(n *Node[K, V, M], bm BranchBitmap, e *leafEntry[V, M]) {
	hasher := blake3HasherPool.Get().(*blake3.Hasher)
	hasher.Reset()

	valueLen := 0
	if e != nil {
		valueLen = e.value.DataLen()
	}
	buf := make([]byte, 0, 1+2+HashBytes+BranchBitmapBytes+valueLen)

	if e != nil {
		buf = append(buf, hashTagLeaf)
	} else {
		buf = append(buf, hashTagBranch)
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(n.prefixLen))
	buf = n.prefix.AppendBytes(buf, n.prefixLen)
	buf = bm.AppendBytes(buf)
	hasher.Write(buf)

	for rest := bm; !rest.Empty(); {
		child := n.children[rest.Pop()].Load()
		hasher.Write(child.hash[:])
	}

	if e != nil {
		hasher.Write(e.value.AppendBytes(buf[:0]))
	}

	hasher.Sum(n.hash[:0])
	blake3HasherPool.Put(hasher)

	n.dirty.Store(false)
	t.stats.rehashed.Add(1)
}
