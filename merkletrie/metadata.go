package merkletrie

import (
	"fmt"
	"sync/atomic"
)

// Metadata - пользовательский агрегат поддерева (например, сумма или счетчик листьев).
//
// Нулевое значение типа - очищенное состояние. Add/Sub должны быть
// ассоциативны и коммутативны: итог не зависит от порядка операций.
type Metadata[M any, V any] interface {
	Add(other M) M
	Sub(other M) M

	// FromValue строит вклад одного листа; вызывается на нулевом значении
	FromValue(v V) M

	Equal(other M) bool
	String() string
}

// SizedMetadata - метаданные, из которых можно получить число листьев
type SizedMetadata interface {
	Size() int
}

// MetadataInsert считает замену метаданных листа и дельту (new - old),
// которую надо прибавить ко всем строгим предкам.
func MetadataInsert[V any, M Metadata[M, V]](s InsertStrategy[V, M], old M, v V) (replacement, delta M) {
	replacement = s.NewMetadata(v)
	delta = replacement.Sub(old)
	return replacement, delta
}

// ============================================
// SizeMetadata
// ============================================

// SizeMetadata считает листья поддерева
type SizeMetadata[V any] struct {
	N int64
}

func (m SizeMetadata[V]) Add(other SizeMetadata[V]) SizeMetadata[V] {
	return SizeMetadata[V]{N: m.N + other.N}
}

func (m SizeMetadata[V]) Sub(other SizeMetadata[V]) SizeMetadata[V] {
	return SizeMetadata[V]{N: m.N - other.N}
}

func (m SizeMetadata[V]) FromValue(V) SizeMetadata[V] {
	return SizeMetadata[V]{N: 1}
}

func (m SizeMetadata[V]) Equal(other SizeMetadata[V]) bool {
	return m.N == other.N
}

func (m SizeMetadata[V]) Size() int {
	return int(m.N)
}

func (m SizeMetadata[V]) String() string {
	return fmt.Sprintf("size:%d", m.N)
}

// ============================================
// Атомарная ячейка метаданных
// ============================================

type aggregate[M any] interface {
	Add(other M) M
	Equal(other M) bool
}

// atomicMetadata хранит неизменяемый снимок; += делается CAS-циклом.
// nil означает нулевое значение.
type atomicMetadata[M aggregate[M]] struct {
	p atomic.Pointer[M]
}

func (a *atomicMetadata[M]) load() M {
	if p := a.p.Load(); p != nil {
		return *p
	}
	var zero M
	return zero
}

func (a *atomicMetadata[M]) store(m M) {
	a.p.Store(&m)
}

func (a *atomicMetadata[M]) clear() {
	a.p.Store(nil)
}

func (a *atomicMetadata[M]) add(delta M) {
	var zero M
	if delta.Equal(zero) {
		return
	}

	for {
		old := a.p.Load()
		var cur M
		if old != nil {
			cur = *old
		}
		next := cur.Add(delta)
		if a.p.CompareAndSwap(old, &next) {
			return
		}
	}
}
