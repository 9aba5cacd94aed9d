package crdt

import "sync"

// Version идентифицирует версию полного состояния для правила Last-Write-Wins.
type Version struct {
	NodeID    string // NodeID идентификатор контекста, записавшего версию
	Timestamp int64  // Timestamp время записи (ms)
}

// IsNewerThan сравнивает две версии по алгоритму LWW:
// 1. Сначала сравнивается Timestamp (больший выигрывает)
// 2. При равных Timestamp сравнивается NodeID (лексикографически)
func (v Version) IsNewerThan(other Version) bool {
	if v.Timestamp > other.Timestamp {
		return true
	}
	if v.Timestamp < other.Timestamp {
		return false
	}
	// Timestamps равны - сравниваем NodeID для детерминизма
	return v.NodeID > other.NodeID
}

// LWWRegister хранит версию последнего принятого полного состояния.
// Сами данные живут в хранилище корзины, регистр решает только, кто победил.
type LWWRegister struct {
	current Version
	mu      sync.RWMutex
}

// NewLWWRegister создает регистр с начальной версией.
func NewLWWRegister(initial Version) *LWWRegister {
	return &LWWRegister{current: initial}
}

// Offer предлагает новую версию.
// Возвращает true, если версия новее текущей и была принята.
func (r *LWWRegister) Offer(v Version) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !v.IsNewerThan(r.current) {
		return false
	}
	r.current = v
	return true
}

// Advance безусловно продвигает регистр, если версия не старее текущей.
// Используется для локальных изменений и принятых инкрементальных команд.
func (r *LWWRegister) Advance(v Version) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.IsNewerThan(r.current) || v == r.current {
		r.current = v
	}
}

// Current возвращает текущую версию.
func (r *LWWRegister) Current() Version {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.current
}
