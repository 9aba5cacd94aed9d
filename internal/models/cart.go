package models

import (
	"fmt"
	"math"
)

// CartItem представляет позицию корзины.
// Идентичность позиции определяется полем ID, внутри корзины ID уникален.
type CartItem struct {
	ID       string  `json:"id"`                 // ID идентификатор товара
	Name     string  `json:"name,omitempty"`     // Name отображаемое название
	Image    string  `json:"image,omitempty"`    // Image URL изображения (только для отображения)
	SKU      string  `json:"sku,omitempty"`      // SKU артикул (только для отображения)
	Price    float64 `json:"price"`              // Price цена за единицу, >= 0
	Quantity int     `json:"quantity,omitempty"` // Quantity количество, >= 1 внутри корзины
}

// CartState представляет полное состояние корзины в одном контексте.
// TotalItems и TotalAmount - производные поля, пересчитываются после каждой редукции.
type CartState struct {
	Items       []CartItem `json:"items"`       // Items позиции в порядке добавления
	TotalItems  int        `json:"totalItems"`  // TotalItems сумма quantity по всем позициям
	TotalAmount float64    `json:"totalAmount"` // TotalAmount сумма price*quantity по всем позициям
	LastUpdated int64      `json:"lastUpdated"` // LastUpdated время последнего изменения (ms), не убывает
}

// NewCartState возвращает пустую корзину с заданным временем последнего изменения.
func NewCartState(lastUpdated int64) CartState {
	return CartState{
		Items:       []CartItem{},
		LastUpdated: lastUpdated,
	}
}

// Recalculate пересчитывает производные поля TotalItems и TotalAmount.
func (s *CartState) Recalculate() {
	totalItems := 0
	totalAmount := 0.0
	for _, item := range s.Items {
		totalItems += item.Quantity
		totalAmount += item.Price * float64(item.Quantity)
	}
	if s.Items == nil {
		s.Items = []CartItem{}
	}
	s.TotalItems = totalItems
	s.TotalAmount = totalAmount
}

// TotalsConsistent проверяет, что производные поля соответствуют позициям.
func (s CartState) TotalsConsistent() bool {
	check := s.Clone()
	check.Recalculate()
	return check.TotalItems == s.TotalItems && nearlyEqual(check.TotalAmount, s.TotalAmount)
}

// Clone создает глубокую копию состояния
func (s CartState) Clone() CartState {
	items := make([]CartItem, len(s.Items))
	copy(items, s.Items)
	s.Items = items
	return s
}

// Find возвращает индекс позиции с заданным ID.
func (s CartState) Find(id string) (int, bool) {
	for i, item := range s.Items {
		if item.ID == id {
			return i, true
		}
	}
	return -1, false
}

// Quantity возвращает количество товара с заданным ID (0, если товара нет).
func (s CartState) Quantity(id string) int {
	if i, ok := s.Find(id); ok {
		return s.Items[i].Quantity
	}
	return 0
}

// Equal сравнивает два состояния по позициям, итогам и времени изменения.
func (s CartState) Equal(other CartState) bool {
	if s.LastUpdated != other.LastUpdated || s.TotalItems != other.TotalItems {
		return false
	}
	if !nearlyEqual(s.TotalAmount, other.TotalAmount) {
		return false
	}
	return ItemsEqual(s.Items, other.Items)
}

// ItemsEqual сравнивает два списка позиций с учетом порядка.
func ItemsEqual(a, b []CartItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Validate проверяет структурную корректность состояния.
// Производные поля не проверяются: их можно восстановить через Recalculate.
func (s CartState) Validate() error {
	if s.LastUpdated < 0 {
		return fmt.Errorf("%w: negative lastUpdated", ErrInvalidState)
	}
	seen := make(map[string]struct{}, len(s.Items))
	for i, item := range s.Items {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("%w: item %d: %v", ErrInvalidState, i, err)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item %q: quantity must be >= 1", ErrInvalidState, item.ID)
		}
		if _, dup := seen[item.ID]; dup {
			return fmt.Errorf("%w: duplicate item id %q", ErrInvalidState, item.ID)
		}
		seen[item.ID] = struct{}{}
	}
	return nil
}

// Validate проверяет поля позиции, которые не зависят от контекста корзины.
func (i CartItem) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidItem)
	}
	if math.IsNaN(i.Price) || math.IsInf(i.Price, 0) || i.Price < 0 {
		return fmt.Errorf("%w: invalid price %v", ErrInvalidItem, i.Price)
	}
	if i.Quantity < 0 {
		return fmt.Errorf("%w: negative quantity", ErrInvalidItem)
	}
	return nil
}

const amountEpsilon = 1e-9

func nearlyEqual(a, b float64) bool {
	diff := math.Abs(a - b)
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return diff <= amountEpsilon*scale
}
