package merkletrie

import (
	"golang.org/x/sync/errgroup"
)

// AccumulateFn описывает, как листья раскладываются в плоский выход.
//
// SubtreeContribution должна быть аддитивной: сумма вкладов детей равна
// вкладу родителя, вклад корня равен OutputLength.
type AccumulateFn[V any, M any, O any] interface {
	OutputLength(root M) int
	SubtreeContribution(m M) int

	// Write пишет вклад одного листа начиная с offset (может занять несколько ячеек)
	Write(out []O, offset int, v V)
}

// IdentityAccumulator пишет по одной ячейке на лист - само значение
type IdentityAccumulator[V any, M SizedMetadata] struct{}

func (IdentityAccumulator[V, M]) OutputLength(root M) int {
	return root.Size()
}

func (IdentityAccumulator[V, M]) SubtreeContribution(m M) int {
	return m.Size()
}

func (IdentityAccumulator[V, M]) Write(out []V, offset int, v V) {
	out[offset] = v
}

type accumulateTask[K Prefix[K], V Value, M Metadata[M, V]] struct {
	node   *Node[K, V, M]
	offset int
}

// AccumulateValues раскладывает листья t по возрастанию ключа.
//
// Смещения считаются сверху вниз по метаданным до старта воркеров,
// каждый воркер владеет своим поддеревом и пишет только в свой диапазон.
// Метаданные должны быть точными: вызывать после HashAndNormalize
// или MergeIn, без параллельных мутаций.
func AccumulateValues[O any, K Prefix[K], V Value, M Metadata[M, V]](t *Trie[K, V, M], fn AccumulateFn[V, M, O]) []O {
	out := make([]O, fn.OutputLength(t.root.Metadata()))
	if len(out) == 0 {
		return out
	}

	guard := t.gc.Pin()
	defer guard.Unpin()

	// Расширяем фронт задач, пока не наберем достаточно поддеревьев
	target := t.cfg.Workers * t.cfg.AccumulateTasksPerWorker
	frontier := []accumulateTask[K, V, M]{{node: t.root}}
	for len(frontier) < target {
		next := make([]accumulateTask[K, V, M], 0, len(frontier)*BranchFactor)
		expanded := false
		for _, task := range frontier {
			if task.node.isLeaf() {
				next = append(next, task)
				continue
			}
			off := task.offset
			for b := range BranchFactor {
				child := task.node.children[b].Load()
				if child == nil {
					continue
				}
				next = append(next, accumulateTask[K, V, M]{node: child, offset: off})
				off += fn.SubtreeContribution(child.meta.load())
				expanded = true
			}
		}
		frontier = next
		if !expanded {
			break
		}
	}

	var g errgroup.Group
	g.SetLimit(t.cfg.Workers)
	for _, task := range frontier {
		g.Go(func() error {
			accumulateNode(task.node, task.offset, fn, out)
			return nil
		})
	}
	_ = g.Wait()

	log.WithField("tasks", len(frontier)).WithField("outputs", len(out)).Debug("values accumulated")
	return out
}

func accumulateNode[O any, K Prefix[K], V Value, M Metadata[M, V]](n *Node[K, V, M], offset int, fn AccumulateFn[V, M, O], out []O) {
	if n.isLeaf() {
		if e := n.entry.Load(); e != nil {
			fn.Write(out, offset, e.value)
		}
		return
	}

	for b := range BranchFactor {
		child := n.children[b].Load()
		if child == nil {
			continue
		}
		accumulateNode(child, offset, fn, out)
		offset += fn.SubtreeContribution(child.meta.load())
	}
}
