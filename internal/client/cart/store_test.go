package cart

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/cartsync/internal/models"
)

func TestNewStore_RecalculatesBootstrapState(t *testing.T) {
	store := NewStore(models.CartState{Items: []models.CartItem{{ID: "a", Price: 2, Quantity: 3}}})

	state := store.State()
	assert.Equal(t, 3, state.TotalItems)
	assert.InDelta(t, 6.0, state.TotalAmount, 1e-9)
}

func TestStore_ApplyNotifiesOnChangeOnly(t *testing.T) {
	store := NewStore(models.NewCartState(0))

	var received []models.CartState
	unsubscribe := store.Subscribe(func(state models.CartState) {
		received = append(received, state)
	})
	defer unsubscribe()

	_, changed := store.Apply(models.AddItem(models.CartItem{ID: "a", Price: 1}), 10)
	require.True(t, changed)

	_, changed = store.Apply(models.RemoveItem("missing"), 11)
	require.False(t, changed)

	require.Len(t, received, 1)
	assert.Equal(t, 1, received[0].TotalItems)
	assert.Equal(t, int64(2), store.Reductions())
}

func TestStore_ApplyQuietDefersNotification(t *testing.T) {
	store := NewStore(models.NewCartState(0))

	var received []models.CartState
	store.Subscribe(func(state models.CartState) {
		received = append(received, state)
	})

	state, changed := store.ApplyQuiet(models.AddItem(models.CartItem{ID: "a", Price: 1}), 10)
	require.True(t, changed)
	assert.Empty(t, received)
	assert.Equal(t, 1, store.State().Quantity("a"))

	store.Notify(state)
	require.Len(t, received, 1)
	assert.Equal(t, int64(10), received[0].LastUpdated)
}

func TestStore_StateReturnsCopy(t *testing.T) {
	store := NewStore(models.CartState{Items: []models.CartItem{{ID: "a", Price: 1, Quantity: 1}}})

	state := store.State()
	state.Items[0].Quantity = 50

	assert.Equal(t, 1, store.State().Items[0].Quantity)
}

func TestStore_Unsubscribe(t *testing.T) {
	store := NewStore(models.NewCartState(0))

	calls := 0
	unsubscribe := store.Subscribe(func(models.CartState) { calls++ })
	unsubscribe()
	unsubscribe()

	store.Apply(models.AddItem(models.CartItem{ID: "a", Price: 1}), 1)

	assert.Equal(t, 0, calls)
}

func TestStore_Reset(t *testing.T) {
	store := NewStore(models.NewCartState(0))

	var got models.CartState
	store.Subscribe(func(state models.CartState) { got = state })

	store.Reset(models.CartState{Items: []models.CartItem{{ID: "b", Price: 5, Quantity: 2}}, LastUpdated: 9})

	assert.Equal(t, 2, got.TotalItems)
	assert.Equal(t, int64(9), store.State().LastUpdated)
	assert.Equal(t, int64(0), store.Reductions(), "Reset must not invoke the reducer")
}

func TestStore_WithReducer(t *testing.T) {
	calls := 0
	store := NewStore(models.NewCartState(0), WithReducer(func(state models.CartState, cmd models.Command, at int64) (models.CartState, bool) {
		calls++
		return Step(state, cmd, at)
	}))

	store.Apply(models.Clear(), 1)

	assert.Equal(t, 1, calls)
}

func TestStore_ConcurrentApply(t *testing.T) {
	store := NewStore(models.NewCartState(0))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Apply(models.AddItem(models.CartItem{ID: "a", Price: 1}), 1)
		}()
	}
	wg.Wait()

	state := store.State()
	assert.Equal(t, 100, state.TotalItems)
	assert.InDelta(t, 100.0, state.TotalAmount, 1e-9)
}
