package merkletrie

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
)

var (
	ErrTrieExists      = errors.New("merkletrie: trie already registered")
	ErrTrieNotFound    = errors.New("merkletrie: trie not found")
	ErrNotCheckpointed = errors.New("merkletrie: forest changed since last checkpoint")
)

// Checkpointer - дерево, которое умеет нормализоваться и отдать свой корень.
// Любой *Trie подходит независимо от типов ключа и значения.
type Checkpointer interface {
	HashAndNormalize() Hash
	GetStats() Stats
}

// Forest держит несколько именованных деревьев разных типов
// и сводит их корни в один глобальный корень.
//
// Checkpoint нормализует все деревья, поэтому на время вызова
// писатели всех деревьев должны быть остановлены.
type Forest struct {
	mu      sync.RWMutex
	tries   map[string]Checkpointer
	names   []string // отсортированы
	roots   []Hash   // параллельно names, с последнего Checkpoint
	global  Hash
	dirty   bool
	workers int
}

func NewForest(cfg *Config) *Forest {
	return &Forest{
		tries:   make(map[string]Checkpointer),
		workers: cfg.withDefaults().Workers,
	}
}

func (f *Forest) Register(name string, t Checkpointer) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.tries[name]; exists {
		return fmt.Errorf("%w: %q", ErrTrieExists, name)
	}
	f.tries[name] = t
	i, _ := slices.BinarySearch(f.names, name)
	f.names = slices.Insert(f.names, i, name)
	f.dirty = true
	return nil
}

func (f *Forest) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.tries[name]; !exists {
		return false
	}
	delete(f.tries, name)
	i, _ := slices.BinarySearch(f.names, name)
	f.names = slices.Delete(f.names, i, i+1)
	f.dirty = true
	return true
}

func (f *Forest) Get(name string) (Checkpointer, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tries[name]
	return t, ok
}

func (f *Forest) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.names)
}

// Checkpoint нормализует все деревья параллельно и пересчитывает глобальный корень
func (f *Forest) Checkpoint() Hash {
	f.mu.Lock()
	defer f.mu.Unlock()

	roots := make([]Hash, len(f.names))
	var g errgroup.Group
	g.SetLimit(f.workers)
	for i, name := range f.names {
		t := f.tries[name]
		g.Go(func() error {
			roots[i] = t.HashAndNormalize()
			return nil
		})
	}
	_ = g.Wait()

	f.roots = roots
	f.global = computeForestRoot(roots)
	f.dirty = false

	log.WithField("tries", len(roots)).WithField("root", f.global.String()[:16]).Debug("forest checkpoint")
	return f.global
}

// GlobalRoot - корень с последнего Checkpoint
func (f *Forest) GlobalRoot() (Hash, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.dirty {
		return Hash{}, ErrNotCheckpointed
	}
	return f.global, nil
}

// GetStats суммирует счетчики всех деревьев; Epoch - максимальная эпоха
func (f *Forest) GetStats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var total Stats
	for _, name := range f.names {
		s := f.tries[name].GetStats()
		total.Inserts += s.Inserts
		total.Deletes += s.Deletes
		total.NodesCreated += s.NodesCreated
		total.Splits += s.Splits
		total.LostRaces += s.LostRaces
		total.RetiredNodes += s.RetiredNodes
		total.ReclaimedNodes += s.ReclaimedNodes
		total.ReusedNodes += s.ReusedNodes
		total.Normalizations += s.Normalizations
		total.PrunedNodes += s.PrunedNodes
		total.CollapsedNodes += s.CollapsedNodes
		total.RehashedNodes += s.RehashedNodes
		total.Merges += s.Merges
		total.Epoch = max(total.Epoch, s.Epoch)
	}
	return total
}

// ForestProof доказывает, что корень дерева входит в глобальный корень
type ForestProof struct {
	Name       string
	TrieRoot   Hash
	Path       []Hash
	IsLeft     []bool // узел на пути - левый в паре
	GlobalRoot Hash
}

func (p *ForestProof) Verify() bool {
	if len(p.Path) != len(p.IsLeft) {
		return false
	}
	h := p.TrieRoot
	for i, sibling := range p.Path {
		if p.IsLeft[i] {
			h = hashPair(h, sibling)
		} else {
			h = hashPair(sibling, h)
		}
	}
	return h == p.GlobalRoot
}

// Proof строится по корням последнего Checkpoint
func (f *Forest) Proof(name string) (*ForestProof, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.dirty {
		return nil, ErrNotCheckpointed
	}
	idx, found := slices.BinarySearch(f.names, name)
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrTrieNotFound, name)
	}

	p := &ForestProof{Name: name, TrieRoot: f.roots[idx], GlobalRoot: f.global}
	level := f.roots
	for len(level) > 1 {
		sibling := idx ^ 1
		var h Hash
		if sibling < len(level) {
			h = level[sibling]
		}
		p.Path = append(p.Path, h)
		p.IsLeft = append(p.IsLeft, idx%2 == 0)

		level = nextForestLevel(level)
		idx /= 2
	}
	return p, nil
}

// computeForestRoot - бинарное дерево Меркла над корнями,
// непарный узел хешируется с нулевым
func computeForestRoot(roots []Hash) Hash {
	if len(roots) == 0 {
		return Hash{}
	}
	level := roots
	for len(level) > 1 {
		level = nextForestLevel(level)
	}
	return level[0]
}

func nextForestLevel(level []Hash) []Hash {
	next := make([]Hash, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		var right Hash
		if i+1 < len(level) {
			right = level[i+1]
		}
		next = append(next, hashPair(level[i], right))
	}
	return next
}

func hashPair(left, right Hash) Hash {
	hasher := blake3HasherPool.Get().(*blake3.Hasher)
	hasher.Reset()
	hasher.Write(left[:])
	hasher.Write(right[:])

	var out Hash
	hasher.Sum(out[:0])
	blake3HasherPool.Put(hasher)
	return out
}
