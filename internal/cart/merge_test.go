package cart_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appErrors "github.com/tiendamovil/cartsync/internal/errors"
	"github.com/tiendamovil/cartsync/internal/identity"
	"github.com/tiendamovil/cartsync/internal/models"
)

func TestLoadCart(t *testing.T) {
	ctx := t.Context()
	user := &identity.User{UID: "user-1"}

	t.Run("Success - Non-empty remote replaces local state", func(t *testing.T) {
		// Arrange
		f := setup(t, user)

		_, err := f.ctrl.AddToCart(ctx, addReq("prod-local", "", "", 1, 100, "Proveedor"))
		require.NoError(t, err)

		f.remote.mu.Lock()
		f.remote.items = []models.CartItem{
			{ID: "srv-1", ProductID: "prod-9", Quantity: 3, Price: 80, ProviderName: "Remoto"},
			{ID: "srv-2", ProductID: "prod-10", Quantity: 1, Price: 120, ProviderName: "Remoto"},
		}
		f.remote.mu.Unlock()

		// Act
		err = f.ctrl.LoadCart(ctx, false)

		// Assert
		require.NoError(t, err)

		items := f.ctrl.Items()
		require.Len(t, items, 2)
		assert.Equal(t, "srv-1", items[0].ID)
		assert.Equal(t, "srv-2", items[1].ID)

		persisted, err := f.store.LoadCart(ctx)
		require.NoError(t, err)
		require.Len(t, persisted, 2)
		assert.Equal(t, "srv-1", persisted[0].ID)
	})

	t.Run("Success - Empty remote keeps local lines", func(t *testing.T) {
		// Arrange
		f := setup(t, user)

		item, err := f.ctrl.AddToCart(ctx, addReq("prod-local", "", "", 2, 100, "Proveedor"))
		require.NoError(t, err)

		// Act
		err = f.ctrl.LoadCart(ctx, false)

		// Assert
		require.NoError(t, err)

		items := f.ctrl.Items()
		require.Len(t, items, 1)
		assert.Equal(t, item.ID, items[0].ID, "a first sync must never wipe the local cart")
	})

	t.Run("Success - Line added during an in-flight fetch survives an empty remote", func(t *testing.T) {
		// Arrange
		f := setup(t, user)

		gate := make(chan struct{})
		f.remote.mu.Lock()
		f.remote.fetchGate = gate
		f.remote.mu.Unlock()

		done := make(chan error, 1)
		go func() { done <- f.ctrl.LoadCart(context.Background(), false) }()

		require.Eventually(t, func() bool {
			f.remote.mu.Lock()
			defer f.remote.mu.Unlock()
			return f.remote.fetchCalls >= 2
		}, 2*time.Second, 5*time.Millisecond, "merge must be holding the fetch open")

		item, err := f.ctrl.AddToCart(ctx, addReq("prod-local", "", "", 1, 100, "Proveedor"))
		require.NoError(t, err)

		// Act
		close(gate)
		require.NoError(t, <-done)

		// Assert
		items := f.ctrl.Items()
		require.Len(t, items, 1, "a merge finishing after the add must keep the line")
		assert.Equal(t, item.ID, items[0].ID)

		persisted, err := f.store.LoadCart(ctx)
		require.NoError(t, err)
		require.Len(t, persisted, 1)
		assert.Equal(t, item.ID, persisted[0].ID)
	})

	t.Run("Success - Remote failure falls back to local state", func(t *testing.T) {
		// Arrange
		f := setup(t, user)

		item, err := f.ctrl.AddToCart(ctx, addReq("prod-local", "", "", 1, 100, "Proveedor"))
		require.NoError(t, err)

		f.remote.mu.Lock()
		f.remote.fetchErr = appErrors.NetworkError("Remote unreachable")
		f.remote.mu.Unlock()

		kicksBefore := f.drainer.kicks.Load()

		// Act
		err = f.ctrl.LoadCart(ctx, false)

		// Assert
		require.NoError(t, err, "remote failures never surface to the caller")

		items := f.ctrl.Items()
		require.Len(t, items, 1)
		assert.Equal(t, item.ID, items[0].ID)

		assert.Greater(t, f.drainer.kicks.Load(), kicksBefore, "pending intents still get a drain attempt")
	})

	t.Run("Success - Anonymous load is local only", func(t *testing.T) {
		// Arrange
		f := setup(t, nil)

		_, err := f.ctrl.AddToCart(ctx, addReq("prod-local", "", "", 1, 100, "Proveedor"))
		require.NoError(t, err)

		// Act
		err = f.ctrl.LoadCart(ctx, false)

		// Assert
		require.NoError(t, err)
		assert.Len(t, f.ctrl.Items(), 1)

		f.remote.mu.Lock()
		defer f.remote.mu.Unlock()
		assert.Zero(t, f.remote.fetchCalls, "no remote call without an identity")
	})

	t.Run("Success - Remote lines enriched with tier rules", func(t *testing.T) {
		// Arrange
		f := setup(t, user)

		f.remote.mu.Lock()
		f.remote.items = []models.CartItem{
			{ID: "srv-1", ProductID: "prod-9", Quantity: 3, Price: 80, ProviderName: "Remoto"},
			{ID: "srv-2", ProductID: "prod-sin-precios", Quantity: 1, Price: 50, ProviderName: "Remoto"},
		}
		f.remote.prices = map[string][]models.PriceRule{
			"prod-9": {{Quantity: "1,2", Price: 90}, {Quantity: "3+", Price: 80}},
		}
		f.remote.mu.Unlock()

		// Act
		err := f.ctrl.LoadCart(ctx, false)

		// Assert
		require.NoError(t, err)

		items := f.ctrl.Items()
		require.Len(t, items, 2)

		require.Len(t, items[0].ProductPrices, 2)
		assert.Equal(t, "3+", items[0].ProductPrices[1].Quantity)

		assert.Empty(t, items[1].ProductPrices, "a failed tier lookup never aborts the merge")
	})
}
