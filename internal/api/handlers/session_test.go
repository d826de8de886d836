package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tiendamovil/cartsync/internal/api/handlers"
	"github.com/tiendamovil/cartsync/internal/cart"
	appErrors "github.com/tiendamovil/cartsync/internal/errors"
	"github.com/tiendamovil/cartsync/internal/identity"
	"github.com/tiendamovil/cartsync/internal/storage"
	"github.com/tiendamovil/cartsync/internal/testutils"
)

func setupSessionTest(t *testing.T) (*identity.TokenProvider, *handlers.SessionHandler) {
	t.Helper()

	store, err := storage.Open(filepath.Join(t.TempDir(), "cartsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	provider := identity.NewTokenProvider(nil)

	controller := cart.NewController(store, nullRemote{}, provider, nopDrainer{})
	t.Cleanup(controller.Close)

	return provider, handlers.NewSessionHandler(provider, controller)
}

func sessionToken(t *testing.T, uid string) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub":   uid,
		"email": uid + "@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	return token
}

func TestSetTokenHandler(t *testing.T) {

	t.Run("Success - Identity established", func(t *testing.T) {
		// Arrange
		provider, handler := setupSessionTest(t)

		body := map[string]string{"token": sessionToken(t, "user-1")}

		req := testutils.NewJSONRequest(t, http.MethodPost, "/v1/session/token", body, nil)
		rec := httptest.NewRecorder()

		// Act
		handler.SetToken().ServeHTTP(rec, req)

		// Assert
		assert.Equal(t, http.StatusOK, rec.Code)

		user := provider.CurrentUser()
		require.NotNil(t, user)
		assert.Equal(t, "user-1", user.UID)
	})

	t.Run("Failure - Malformed token", func(t *testing.T) {
		provider, handler := setupSessionTest(t)

		body := map[string]string{"token": "not-a-jwt"}

		req := testutils.NewJSONRequest(t, http.MethodPost, "/v1/session/token", body, nil)
		rec := httptest.NewRecorder()

		handler.SetToken().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Nil(t, provider.CurrentUser())

		envelope := testutils.DecodeAPIResponse(t, rec, nil)
		require.NotNil(t, envelope.Error)
		assert.Equal(t, appErrors.ErrCodeUnauthorized, envelope.Error.Code)
	})

	t.Run("Failure - Missing token field", func(t *testing.T) {
		_, handler := setupSessionTest(t)

		req := testutils.NewJSONRequest(t, http.MethodPost, "/v1/session/token", map[string]string{}, nil)
		rec := httptest.NewRecorder()

		handler.SetToken().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSignOutHandler(t *testing.T) {

	t.Run("Success - Identity cleared", func(t *testing.T) {
		// Arrange
		provider, handler := setupSessionTest(t)
		require.NoError(t, provider.SetToken(sessionToken(t, "user-1")))

		req := testutils.NewJSONRequest(t, http.MethodPost, "/v1/session", nil, nil)
		rec := httptest.NewRecorder()

		// Act
		handler.SignOut().ServeHTTP(rec, req)

		// Assert
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Nil(t, provider.CurrentUser())
	})
}

func TestAppStateHandler(t *testing.T) {

	t.Run("Success - Lifecycle transition accepted", func(t *testing.T) {
		// Arrange
		_, handler := setupSessionTest(t)

		req := testutils.NewJSONRequest(t, http.MethodPost, "/v1/lifecycle",
			map[string]string{"state": "background"}, nil)
		rec := httptest.NewRecorder()

		// Act
		handler.AppState().ServeHTTP(rec, req)

		// Assert
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Failure - Unknown state", func(t *testing.T) {
		_, handler := setupSessionTest(t)

		req := testutils.NewJSONRequest(t, http.MethodPost, "/v1/lifecycle",
			map[string]string{"state": "hibernating"}, nil)
		rec := httptest.NewRecorder()

		handler.AppState().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
