package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tiendamovil/cartsync/internal/cache"
	"github.com/tiendamovil/cartsync/internal/config"
	appErrors "github.com/tiendamovil/cartsync/internal/errors"
	"github.com/tiendamovil/cartsync/internal/identity"
	"github.com/tiendamovil/cartsync/internal/metrics"
	"github.com/tiendamovil/cartsync/internal/models"
	"golang.org/x/time/rate"
)

// Gateway wraps the remote cart REST surface. Every request carries a bearer
// token from the identity provider; a 401 triggers exactly one forced token
// refresh and one retry. Idempotent GETs are cached briefly and identical
// method+URL calls are spaced out to dampen call storms from independent UI
// triggers — neither is a correctness mechanism.
type Gateway struct {
	baseURL   string
	client    *http.Client
	provider  identity.Provider
	respCache cache.Cache
	cacheTTL  time.Duration
	spacing   time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(cfg *config.RemoteAPI, provider identity.Provider, respCache cache.Cache) *Gateway {
	return &Gateway{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		client:    &http.Client{Timeout: cfg.Timeout},
		provider:  provider,
		respCache: respCache,
		cacheTTL:  cfg.GetCacheTTL,
		spacing:   cfg.MinCallSpace,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// CreateItemRequest is the POST /cart wire payload. Field names carry the
// add-time snapshots the backend stores verbatim.
type CreateItemRequest struct {
	ProductID            string  `json:"productId"`
	Quantity             int     `json:"quantity"`
	PriceSnapshot        float64 `json:"priceSnapshot"`
	ColorSnapshot        string  `json:"colorSnapshot,omitempty"`
	SizeSnapshot         string  `json:"sizeSnapshot,omitempty"`
	ProductNameSnapshot  string  `json:"productNameSnapshot"`
	ImageURLSnapshot     string  `json:"imageUrlSnapshot"`
	ProviderNameSnapshot string  `json:"providerNameSnapshot"`
}

type remoteItem struct {
	ID                   string    `json:"id"`
	ProductID            string    `json:"productId"`
	Quantity             int       `json:"quantity"`
	PriceSnapshot        float64   `json:"priceSnapshot"`
	ColorSnapshot        string    `json:"colorSnapshot"`
	SizeSnapshot         string    `json:"sizeSnapshot"`
	ProductNameSnapshot  string    `json:"productNameSnapshot"`
	ImageURLSnapshot     string    `json:"imageUrlSnapshot"`
	ProviderNameSnapshot string    `json:"providerNameSnapshot"`
	IsChecked            bool      `json:"isChecked"`
	CreatedAt            time.Time `json:"createdAt"`
}

func (r *remoteItem) toModel() models.CartItem {
	return models.CartItem{
		ID:           r.ID,
		ProductID:    r.ProductID,
		Quantity:     r.Quantity,
		Price:        r.PriceSnapshot,
		Color:        r.ColorSnapshot,
		Size:         r.SizeSnapshot,
		ProductName:  r.ProductNameSnapshot,
		ImageURL:     r.ImageURLSnapshot,
		ProviderName: r.ProviderNameSnapshot,
		IsChecked:    r.IsChecked,
		CreatedAt:    r.CreatedAt,
	}
}

// FetchCart returns the authenticated user's full remote cart. With
// bypassCache the short GET cache is skipped (used by forced refreshes).
func (g *Gateway) FetchCart(ctx context.Context, bypassCache bool) ([]models.CartItem, error) {

	var remote []remoteItem

	if err := g.getJSON(ctx, "/cart", &remote, bypassCache); err != nil {
		return nil, err
	}

	items := make([]models.CartItem, 0, len(remote))
	for i := range remote {
		items = append(items, remote[i].toModel())
	}

	return items, nil
}

func (g *Gateway) CreateItem(ctx context.Context, req *CreateItemRequest) (*models.CartItem, error) {

	var created remoteItem

	if err := g.do(ctx, http.MethodPost, "/cart", req, &created); err != nil {
		return nil, err
	}

	item := created.toModel()

	return &item, nil
}

func (g *Gateway) PatchQuantity(ctx context.Context, itemID string, quantity int) error {

	body := map[string]int{"quantity": quantity}

	return g.do(ctx, http.MethodPatch, "/cart/"+itemID, body, nil)
}

func (g *Gateway) PatchChecked(ctx context.Context, itemID string, isChecked bool) error {

	body := map[string]bool{"isChecked": isChecked}

	return g.do(ctx, http.MethodPatch, "/cart/"+itemID+"/check", body, nil)
}

func (g *Gateway) DeleteItem(ctx context.Context, itemID string) error {
	return g.do(ctx, http.MethodDelete, "/cart/"+itemID, nil, nil)
}

// FetchProductPrices returns the tiered price rules for a product.
func (g *Gateway) FetchProductPrices(ctx context.Context, productID string) ([]models.PriceRule, error) {

	var rules []models.PriceRule

	if err := g.getJSON(ctx, "/product-prices/product/"+productID, &rules, false); err != nil {
		return nil, err
	}

	return rules, nil
}

func (g *Gateway) getJSON(ctx context.Context, path string, out any, bypassCache bool) error {

	key := cache.Key(cache.ResponseKeyPrefix, http.MethodGet+" "+g.baseURL+path)

	if !bypassCache && g.respCache != nil {

		found, err := g.respCache.Get(ctx, key, out)
		if err != nil {
			slog.Debug("Response cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		} else if found {
			return nil
		}
	}

	if err := g.do(ctx, http.MethodGet, path, nil, out); err != nil {
		return err
	}

	if g.respCache != nil {
		if err := g.respCache.Set(ctx, key, out, g.cacheTTL); err != nil {
			slog.Debug("Response cache write failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}

	return nil
}

func (g *Gateway) do(ctx context.Context, method, path string, body, out any) error {

	var payload []byte

	if body != nil {

		var err error

		payload, err = json.Marshal(body)
		if err != nil {
			return appErrors.InternalError("Failed to encode request body").WithError(err)
		}
	}

	if err := g.throttle(ctx, method, path); err != nil {
		return err
	}

	token, err := g.provider.Token(ctx, false)
	if err != nil {
		return err
	}

	resp, err := g.send(ctx, method, path, payload, token)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {

		_ = resp.Body.Close()

		metrics.ObserveAuthRetry()
		slog.Info("Authorization expired, retrying with a refreshed token",
			slog.String("method", method), slog.String("path", path))

		token, err = g.provider.Token(ctx, true)
		if err != nil {
			return err
		}

		resp, err = g.send(ctx, method, path, payload, token)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized {
			_ = resp.Body.Close()
			return appErrors.AuthExpiredError("Authorization rejected after token refresh")
		}
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return appErrors.NotFoundError("Remote resource not found").WithDetail(method + " " + path)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return appErrors.NetworkError(fmt.Sprintf("Remote call failed with status %d", resp.StatusCode)).
			WithDetail(method + " " + path)
	}

	if out == nil {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return appErrors.NetworkError("Failed to read response body").WithError(err)
	}

	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return appErrors.NetworkError("Failed to decode response body").WithError(err)
	}

	return nil
}

func (g *Gateway) send(ctx context.Context, method, path string, payload []byte, token string) (*http.Response, error) {

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, appErrors.InternalError("Failed to build request").WithError(err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, appErrors.NetworkError("Remote unreachable").WithError(err)
	}

	return resp, nil
}

// throttle enforces minimum spacing between identical method+URL calls.
func (g *Gateway) throttle(ctx context.Context, method, path string) error {

	if g.spacing <= 0 {
		return nil
	}

	key := method + " " + path

	g.mu.Lock()
	limiter, ok := g.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(g.spacing), 1)
		g.limiters[key] = limiter
	}
	g.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return appErrors.TooManyRequestsError("Call spacing not met before the deadline").WithError(err)
	}

	return nil
}
