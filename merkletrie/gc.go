package merkletrie

import (
	"sync"
	"sync/atomic"
)

// ============================================
// Эпохальная реклемация узлов
// ============================================
//
// Память за узлами держит рантайм Go, поэтому GC здесь отвечает за другое:
// отцепленный узел можно вернуть в пул и переиспользовать только когда
// ни один читатель, начавший обход до отцепления, уже не может его видеть.
//
// Три эпохи: узел, отправленный в Retire в эпоху e, переиспользуется
// при переходе в эпоху e+2. Переход e -> e+1 возможен, только если
// нет читателей, закрепленных в e-1.

const gcEpochs = 3

// Guard - закрепление читателя в эпохе. Снимается через Unpin.
type Guard struct {
	slot *atomic.Int64
}

func (g Guard) Unpin() {
	g.slot.Add(-1)
}

// GC - handle, который требуют все структурные мутации
type GC[K Prefix[K], V Value, M Metadata[M, V]] struct {
	epoch  atomic.Uint64
	active [gcEpochs]atomic.Int64

	mu    sync.Mutex
	limbo [gcEpochs][]*Node[K, V, M]

	retires  atomic.Uint64
	interval uint64

	// Счетчик HashAndNormalize для проверки устаревших ссылок на узлы
	generation atomic.Uint64

	// Пул освобожденных узлов (как nodePool у LRU)
	pool sync.Pool

	stats *counters
}

func newGC[K Prefix[K], V Value, M Metadata[M, V]](interval uint64, stats *counters) *GC[K, V, M] {
	if interval == 0 {
		interval = 1
	}
	return &GC[K, V, M]{
		interval: interval,
		stats:    stats,
	}
}

// Pin закрепляет читателя в текущей эпохе
func (g *GC[K, V, M]) Pin() Guard {
	for {
		e := g.epoch.Load()
		slot := &g.active[e%gcEpochs]
		slot.Add(1)
		if g.epoch.Load() == e {
			return Guard{slot: slot}
		}
		// эпоха ушла между чтением и инкрементом
		slot.Add(-1)
	}
}

// Retire откладывает переиспользование узла, уже недостижимого из дерева.
// Потомки не затрагиваются: за них отвечает тот, кто их отцепил.
func (g *GC[K, V, M]) Retire(n *Node[K, V, M]) {
	if n == nil {
		return
	}

	g.mu.Lock()
	e := g.epoch.Load()
	g.limbo[e%gcEpochs] = append(g.limbo[e%gcEpochs], n)
	g.mu.Unlock()

	g.stats.retired.Add(1)
	if g.retires.Add(1)%g.interval == 0 {
		g.Collect()
	}
}

// Collect пытается сдвинуть эпоху; true если сдвинули
func (g *GC[K, V, M]) Collect() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.epoch.Load()
	// (e+2)%3 == (e-1)%3
	if g.active[(e+2)%gcEpochs].Load() != 0 {
		return false
	}

	next := e + 1
	g.epoch.Store(next)

	// limbo[(e+1)%3] - узлы, отправленные в эпоху e-2
	idx := next % gcEpochs
	reclaim := g.limbo[idx]
	for i, n := range reclaim {
		n.reset()
		g.pool.Put(n)
		reclaim[i] = nil
	}
	g.limbo[idx] = reclaim[:0]

	if len(reclaim) > 0 {
		g.stats.reclaimed.Add(uint64(len(reclaim)))
		log.WithField("epoch", next).WithField("reclaimed", len(reclaim)).Trace("gc epoch advanced")
	}
	return true
}

// refGeneration - ненулевой штамп текущего поколения ссылок
func (g *GC[K, V, M]) refGeneration() uint64 {
	return g.generation.Load() + 1
}

// Epoch возвращает текущую эпоху
func (g *GC[K, V, M]) Epoch() uint64 {
	return g.epoch.Load()
}

// Pending - число узлов, ожидающих переиспользования
func (g *GC[K, V, M]) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	total := 0
	for i := range g.limbo {
		total += len(g.limbo[i])
	}
	return total
}

// alloc берет узел из пула или создает новый
func (g *GC[K, V, M]) alloc(prefix K, l PrefixLenBits) *Node[K, V, M] {
	n, _ := g.pool.Get().(*Node[K, V, M])
	if n == nil {
		n = new(Node[K, V, M])
	} else {
		g.stats.reused.Add(1)
	}
	n.init(prefix, l)
	return n
}

// lostRace - кандидат проиграл CAS и никому не был виден
func (g *GC[K, V, M]) lostRace(n *Node[K, V, M]) {
	g.stats.lostRaces.Add(1)
	g.Retire(n)
}
