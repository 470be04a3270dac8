package merkletrie

// InsertStrategy задает поведение вставки в существующий или новый лист.
//
// ValueCombine вызывается только если в листе уже есть значение.
// NewMetadata строит вклад листа; дельта предкам считается в MetadataInsert,
// так что стратегия не может сломать протокол распространения.
type InsertStrategy[V any, M any] interface {
	ValueCombine(old, incoming V) V
	NewMetadata(v V) M
}

// OverwriteInsert - стратегия по умолчанию: новое значение заменяет старое
type OverwriteInsert[V any, M Metadata[M, V]] struct{}

func (OverwriteInsert[V, M]) ValueCombine(_, incoming V) V {
	return incoming
}

func (OverwriteInsert[V, M]) NewMetadata(v V) M {
	var m M
	return m.FromValue(v)
}

// RollbackMetadata - метаданные со счетчиком откатываемых листьев
type RollbackMetadata[M any, V any] interface {
	Metadata[M, V]

	// WithRollback помечает вклад листа как откатываемый
	WithRollback() M
}

// RollbackInsert перезаписывает значение и помечает лист для отката
type RollbackInsert[V any, M RollbackMetadata[M, V]] struct{}

func (RollbackInsert[V, M]) ValueCombine(_, incoming V) V {
	return incoming
}

func (RollbackInsert[V, M]) NewMetadata(v V) M {
	var m M
	return m.FromValue(v).WithRollback()
}

// CombineInsert сливает значения пользовательской функцией.
// Для детерминизма при гонках Combine должна быть коммутативной и ассоциативной.
type CombineInsert[V any, M Metadata[M, V]] struct {
	Combine func(old, incoming V) V
}

func (c CombineInsert[V, M]) ValueCombine(old, incoming V) V {
	return c.Combine(old, incoming)
}

func (CombineInsert[V, M]) NewMetadata(v V) M {
	var m M
	return m.FromValue(v)
}
