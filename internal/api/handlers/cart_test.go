package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tiendamovil/cartsync/internal/api/handlers"
	"github.com/tiendamovil/cartsync/internal/cart"
	appErrors "github.com/tiendamovil/cartsync/internal/errors"
	"github.com/tiendamovil/cartsync/internal/identity"
	"github.com/tiendamovil/cartsync/internal/models"
	"github.com/tiendamovil/cartsync/internal/storage"
	"github.com/tiendamovil/cartsync/internal/testutils"
)

// nullRemote is an always-empty remote cart.
type nullRemote struct{}

func (nullRemote) FetchCart(ctx context.Context, bypassCache bool) ([]models.CartItem, error) {
	return []models.CartItem{}, nil
}

func (nullRemote) FetchProductPrices(ctx context.Context, productID string) ([]models.PriceRule, error) {
	return []models.PriceRule{}, nil
}

type nopDrainer struct{}

func (nopDrainer) Kick() {}

// setupCartTest -> creates a controller over a throwaway store plus its handler
func setupCartTest(t *testing.T) (*cart.Controller, *handlers.CartHandler) {
	t.Helper()

	store, err := storage.Open(filepath.Join(t.TempDir(), "cartsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	provider := identity.NewTokenProvider(nil)

	controller := cart.NewController(store, nullRemote{}, provider, nopDrainer{})
	t.Cleanup(controller.Close)

	return controller, handlers.NewCartHandler(controller)
}

func seedItem(t *testing.T, controller *cart.Controller, productID string, quantity int, price float64) *models.CartItem {
	t.Helper()

	item, err := controller.AddToCart(context.Background(), &models.AddItemRequest{
		ProductID:    productID,
		Quantity:     quantity,
		Price:        price,
		ProductName:  "Producto " + productID,
		ProviderName: "Proveedor",
	})
	require.NoError(t, err)

	return item
}

func TestAddItemHandler(t *testing.T) {

	t.Run("Success - Item added", func(t *testing.T) {
		// Arrange
		_, handler := setupCartTest(t)

		body := models.AddItemRequest{
			ProductID:    "prod-1",
			Quantity:     2,
			Price:        450,
			Color:        "rojo",
			ProductName:  "Camiseta",
			ProviderName: "Textiles Norte",
		}

		req := testutils.NewJSONRequest(t, http.MethodPost, "/v1/cart/items", body, nil)
		rec := httptest.NewRecorder()

		// Act
		handler.AddItem().ServeHTTP(rec, req)

		// Assert
		assert.Equal(t, http.StatusCreated, rec.Code)

		var item models.CartItem
		envelope := testutils.DecodeAPIResponse(t, rec, &item)
		assert.True(t, envelope.Success)
		assert.NotEmpty(t, item.ID)
		assert.Equal(t, "prod-1", item.ProductID)
		assert.False(t, item.IsChecked)
	})

	t.Run("Failure - Validation error", func(t *testing.T) {
		_, handler := setupCartTest(t)

		// quantity missing
		body := map[string]any{"productId": "prod-1", "price": 450, "productName": "Camiseta", "providerName": "X"}

		req := testutils.NewJSONRequest(t, http.MethodPost, "/v1/cart/items", body, nil)
		rec := httptest.NewRecorder()

		handler.AddItem().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)

		envelope := testutils.DecodeAPIResponse(t, rec, nil)
		assert.False(t, envelope.Success)
		require.NotNil(t, envelope.Error)
		assert.Equal(t, appErrors.ErrCodeValidation, envelope.Error.Code)
	})

	t.Run("Failure - Malformed body", func(t *testing.T) {
		_, handler := setupCartTest(t)

		req := httptest.NewRequest(http.MethodPost, "/v1/cart/items", nil)
		rec := httptest.NewRecorder()

		handler.AddItem().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetCartHandler(t *testing.T) {

	t.Run("Success - Items returned", func(t *testing.T) {
		// Arrange
		controller, handler := setupCartTest(t)
		seedItem(t, controller, "prod-1", 2, 450)

		req := testutils.NewJSONRequest(t, http.MethodGet, "/v1/cart", nil, nil)
		rec := httptest.NewRecorder()

		// Act
		handler.GetCart().ServeHTTP(rec, req)

		// Assert
		assert.Equal(t, http.StatusOK, rec.Code)

		var items []models.CartItem
		testutils.DecodeAPIResponse(t, rec, &items)
		require.Len(t, items, 1)
		assert.Equal(t, "prod-1", items[0].ProductID)
	})
}

func TestGetSummaryHandler(t *testing.T) {

	t.Run("Success - Totals over checked lines", func(t *testing.T) {
		// Arrange
		controller, handler := setupCartTest(t)

		checked := seedItem(t, controller, "prod-1", 2, 100)
		seedItem(t, controller, "prod-2", 1, 999)
		require.NoError(t, controller.ToggleItemCheck(context.Background(), checked.ID))

		req := testutils.NewJSONRequest(t, http.MethodGet, "/v1/cart/summary", nil, nil)
		rec := httptest.NewRecorder()

		// Act
		handler.GetSummary().ServeHTTP(rec, req)

		// Assert
		assert.Equal(t, http.StatusOK, rec.Code)

		var summary struct {
			TotalItems       int                          `json:"totalItems"`
			TotalPrice       float64                      `json:"totalPrice"`
			TieredTotalPrice float64                      `json:"tieredTotalPrice"`
			Groups           map[string][]models.CartItem `json:"groups"`
		}
		testutils.DecodeAPIResponse(t, rec, &summary)

		assert.Equal(t, 2, summary.TotalItems)
		assert.Equal(t, 200.0, summary.TotalPrice)
		assert.Equal(t, 200.0, summary.TieredTotalPrice, "lines without tier rules quote at the snapshot price")
		require.Len(t, summary.Groups["Proveedor"], 2)
	})
}

func TestUpdateQuantityHandler(t *testing.T) {

	t.Run("Success - Quantity updated", func(t *testing.T) {
		// Arrange
		controller, handler := setupCartTest(t)
		item := seedItem(t, controller, "prod-1", 1, 100)

		req := testutils.NewJSONRequest(t, http.MethodPatch, "/v1/cart/items/"+item.ID,
			models.UpdateQuantityRequest{Quantity: 4}, map[string]string{"id": item.ID})
		rec := httptest.NewRecorder()

		// Act
		handler.UpdateQuantity().ServeHTTP(rec, req)

		// Assert
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 4, controller.Items()[0].Quantity)
	})

	t.Run("Failure - Unknown item", func(t *testing.T) {
		_, handler := setupCartTest(t)

		req := testutils.NewJSONRequest(t, http.MethodPatch, "/v1/cart/items/missing",
			models.UpdateQuantityRequest{Quantity: 4}, map[string]string{"id": "missing"})
		rec := httptest.NewRecorder()

		handler.UpdateQuantity().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)

		envelope := testutils.DecodeAPIResponse(t, rec, nil)
		require.NotNil(t, envelope.Error)
		assert.Equal(t, appErrors.ErrCodeNotFound, envelope.Error.Code)
	})

	t.Run("Failure - Missing item id", func(t *testing.T) {
		_, handler := setupCartTest(t)

		req := testutils.NewJSONRequest(t, http.MethodPatch, "/v1/cart/items/",
			models.UpdateQuantityRequest{Quantity: 4}, nil)
		rec := httptest.NewRecorder()

		handler.UpdateQuantity().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)

		envelope := testutils.DecodeAPIResponse(t, rec, nil)
		require.NotNil(t, envelope.Error)
		assert.Equal(t, appErrors.ErrCodeValidation, envelope.Error.Code)
		assert.Contains(t, envelope.Error.Message, "'id'")
	})
}

func TestToggleCheckHandler(t *testing.T) {

	t.Run("Success - Selection flipped", func(t *testing.T) {
		// Arrange
		controller, handler := setupCartTest(t)
		item := seedItem(t, controller, "prod-1", 1, 100)

		req := testutils.NewJSONRequest(t, http.MethodPatch, "/v1/cart/items/"+item.ID+"/check", nil,
			map[string]string{"id": item.ID})
		rec := httptest.NewRecorder()

		// Act
		handler.ToggleCheck().ServeHTTP(rec, req)

		// Assert
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, controller.Items()[0].IsChecked)
	})
}

func TestRemoveItemHandler(t *testing.T) {

	t.Run("Success - Item removed", func(t *testing.T) {
		// Arrange
		controller, handler := setupCartTest(t)
		item := seedItem(t, controller, "prod-1", 1, 100)

		req := testutils.NewJSONRequest(t, http.MethodDelete, "/v1/cart/items/"+item.ID, nil,
			map[string]string{"id": item.ID})
		rec := httptest.NewRecorder()

		// Act
		handler.RemoveItem().ServeHTTP(rec, req)

		// Assert
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, controller.Items())
	})
}

func TestBatchRemoveHandler(t *testing.T) {

	t.Run("Success - Ordered lines cleared in one call", func(t *testing.T) {
		// Arrange
		controller, handler := setupCartTest(t)

		first := seedItem(t, controller, "prod-1", 1, 100)
		second := seedItem(t, controller, "prod-2", 1, 100)
		kept := seedItem(t, controller, "prod-3", 1, 100)

		req := testutils.NewJSONRequest(t, http.MethodPost, "/v1/cart/items/batch-delete",
			models.BatchRemoveRequest{IDs: []string{first.ID, second.ID}}, nil)
		rec := httptest.NewRecorder()

		// Act
		handler.BatchRemove().ServeHTTP(rec, req)

		// Assert
		assert.Equal(t, http.StatusOK, rec.Code)

		items := controller.Items()
		require.Len(t, items, 1)
		assert.Equal(t, kept.ID, items[0].ID)
	})

	t.Run("Failure - Empty id list", func(t *testing.T) {
		_, handler := setupCartTest(t)

		req := testutils.NewJSONRequest(t, http.MethodPost, "/v1/cart/items/batch-delete",
			models.BatchRemoveRequest{IDs: []string{}}, nil)
		rec := httptest.NewRecorder()

		handler.BatchRemove().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestClearCartHandler(t *testing.T) {

	t.Run("Success - Cart emptied", func(t *testing.T) {
		// Arrange
		controller, handler := setupCartTest(t)
		seedItem(t, controller, "prod-1", 1, 100)

		req := testutils.NewJSONRequest(t, http.MethodDelete, "/v1/cart", nil, nil)
		rec := httptest.NewRecorder()

		// Act
		handler.ClearCart().ServeHTTP(rec, req)

		// Assert
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, controller.Items())
	})
}

func TestRefreshHandler(t *testing.T) {

	t.Run("Success - Local-only refresh returns current items", func(t *testing.T) {
		// Arrange
		controller, handler := setupCartTest(t)
		seedItem(t, controller, "prod-1", 1, 100)

		req := testutils.NewJSONRequest(t, http.MethodPost, "/v1/cart/refresh?force=true", nil, nil)
		rec := httptest.NewRecorder()

		// Act
		handler.Refresh().ServeHTTP(rec, req)

		// Assert
		assert.Equal(t, http.StatusOK, rec.Code)

		var items []models.CartItem
		testutils.DecodeAPIResponse(t, rec, &items)
		require.Len(t, items, 1)
	})
}
