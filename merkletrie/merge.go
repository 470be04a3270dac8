package merkletrie

import (
	"golang.org/x/sync/errgroup"
)

// MergeIn переносит все листья serial-дерева в t одной логической пачкой
// и сбрасывает serial в его арену. Метаданные листьев переносятся как есть
// (включая метки стратегии, которой писали в serial), поэтому итог совпадает
// с прямыми вставками тех же ключей по возрастанию.
//
// Ветки корня serial-дерева не пересекаются, поэтому каждая уходит
// в своего воркера. Параллельно с MergeIn мутировать serial нельзя.
func (t *Trie[K, V, M]) MergeIn(s *SerialTrie[K, V, M]) {
	if s.Len() == 0 {
		s.Reset()
		return
	}

	root := &s.nodes[0]

	var g errgroup.Group
	g.SetLimit(t.cfg.Workers)
	for rest := root.branches; !rest.Empty(); {
		b := rest.Pop()
		sub := root.children[b]
		g.Go(func() error {
			s.forEachLeaf(sub, func(key K, v V, m M) bool {
				t.root.mergeLeaf(key, v, m, t.strategy, t.gc)
				return true
			})
			return nil
		})
	}
	_ = g.Wait()

	log.WithField("leaves", s.Len()).Debug("serial trie merged")
	t.stats.merges.Add(1)
	s.Reset()
}
