package cart

import (
	"context"
	"log/slog"
	"sync"
	"time"

	appErrors "github.com/tiendamovil/cartsync/internal/errors"
	"github.com/tiendamovil/cartsync/internal/gateway"
	"github.com/tiendamovil/cartsync/internal/identity"
	"github.com/tiendamovil/cartsync/internal/models"
	"github.com/tiendamovil/cartsync/internal/storage"
	syncops "github.com/tiendamovil/cartsync/internal/sync"
	"github.com/tiendamovil/cartsync/internal/utils"
)

// RemoteGateway is the slice of the remote surface the merge/load routine
// reads from. Writes go through the outbox, not through this interface.
type RemoteGateway interface {
	FetchCart(ctx context.Context, bypassCache bool) ([]models.CartItem, error)
	FetchProductPrices(ctx context.Context, productID string) ([]models.PriceRule, error)
}

// Drainer nudges the background sync worker.
type Drainer interface {
	Kick()
}

// AppState mirrors the host application's lifecycle.
type AppState string

const (
	AppStateActive     AppState = "active"
	AppStateBackground AppState = "background"
	AppStateInactive   AppState = "inactive"
)

// Controller owns the in-memory CartState. Mutations apply to memory and the
// local store synchronously, then the remote push happens through the durable
// outbox without blocking the caller. The local store and remote gateway only
// hold copies; this struct is the single owner.
type Controller struct {
	store    *storage.Store
	gw       RemoteGateway
	drainer  Drainer
	provider identity.Provider

	mu          sync.Mutex
	items       []models.CartItem
	user        *identity.User
	appState    AppState
	unsubscribe func()
}

func NewController(store *storage.Store, gw RemoteGateway, provider identity.Provider, drainer Drainer) *Controller {

	c := &Controller{
		store:    store,
		gw:       gw,
		drainer:  drainer,
		provider: provider,
		items:    []models.CartItem{},
		appState: AppStateActive,
	}

	// local snapshot first so the cart is usable before any network round trip
	local, err := store.LoadCart(context.Background())
	if err != nil {
		slog.Error("Failed to load local cart snapshot", slog.String("error", err.Error()))
		local = []models.CartItem{}
	}

	c.items = local

	c.unsubscribe = provider.OnAuthStateChanged(c.onAuthStateChanged)

	return c
}

// Close detaches the controller from the identity provider. In-flight sync
// work is abandoned, not awaited.
func (c *Controller) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

// AddToCart appends a new line or, when a line for the same
// (product, color, size) selector exists, increments its quantity. The line's
// catalog fields are frozen snapshots of the request.
func (c *Controller) AddToCart(ctx context.Context, req *models.AddItemRequest) (*models.CartItem, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	selector := (&models.CartItem{ProductID: req.ProductID, Color: req.Color, Size: req.Size}).SelectorKey()

	var line *models.CartItem

	for i := range c.items {
		if c.items[i].SelectorKey() == selector {
			line = &c.items[i]
			break
		}
	}

	merged := line != nil

	if merged {
		line.Quantity += req.Quantity
	} else {

		now := time.Now()

		c.items = append(c.items, models.CartItem{
			ID:           models.NewLocalID(req.ProductID, req.Color, req.Size, now),
			ProductID:    req.ProductID,
			Quantity:     req.Quantity,
			Price:        req.Price,
			Color:        req.Color,
			Size:         req.Size,
			ProductName:  req.ProductName,
			ImageURL:     req.ImageURL,
			ProviderName: req.ProviderName,
			IsChecked:    false,
			CreatedAt:    now,
		})

		line = &c.items[len(c.items)-1]
	}

	if err := c.persistLocked(ctx); err != nil {
		return nil, err
	}

	if merged {
		c.enqueueLocked(ctx, storage.OpUpdateQuantity, line.ID, syncops.QuantityIntent{Quantity: line.Quantity})
	} else {
		c.enqueueLocked(ctx, storage.OpAdd, line.ID, syncops.AddIntent{
			LocalID: line.ID,
			Request: gateway.CreateItemRequest{
				ProductID:            line.ProductID,
				Quantity:             line.Quantity,
				PriceSnapshot:        line.Price,
				ColorSnapshot:        line.Color,
				SizeSnapshot:         line.Size,
				ProductNameSnapshot:  line.ProductName,
				ImageURLSnapshot:     line.ImageURL,
				ProviderNameSnapshot: line.ProviderName,
			},
		})
	}

	item := *line

	return &item, nil
}

// UpdateQuantity rewrites a line's quantity.
func (c *Controller) UpdateQuantity(ctx context.Context, itemID string, quantity int) error {

	if quantity < 1 {
		return appErrors.BadRequestError("Quantity must be at least 1")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := c.findLocked(itemID)
	if line == nil {
		return appErrors.NotFoundError("Cart item not found")
	}

	line.Quantity = quantity

	if err := c.persistLocked(ctx); err != nil {
		return err
	}

	c.enqueueLocked(ctx, storage.OpUpdateQuantity, itemID, syncops.QuantityIntent{Quantity: quantity})

	return nil
}

// ToggleItemCheck flips the line's selection flag. The flag is synced to the
// backend but never affects pricing beyond selecting lines for totals.
func (c *Controller) ToggleItemCheck(ctx context.Context, itemID string) error {

	c.mu.Lock()
	defer c.mu.Unlock()

	line := c.findLocked(itemID)
	if line == nil {
		return appErrors.NotFoundError("Cart item not found")
	}

	line.IsChecked = !line.IsChecked

	if err := c.persistLocked(ctx); err != nil {
		return err
	}

	c.enqueueLocked(ctx, storage.OpToggleCheck, itemID, syncops.CheckIntent{IsChecked: line.IsChecked})

	return nil
}

// RemoveItem drops one line.
func (c *Controller) RemoveItem(ctx context.Context, itemID string) error {
	return c.RemoveMultipleItems(ctx, []string{itemID})
}

// RemoveMultipleItems drops the matching lines in one local write, firing one
// remote delete per id. Used directly after an order is placed to clear the
// ordered lines in a batch.
func (c *Controller) RemoveMultipleItems(ctx context.Context, itemIDs []string) error {

	c.mu.Lock()
	defer c.mu.Unlock()

	drop := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		drop[id] = true
	}

	kept := c.items[:0]
	removed := make([]string, 0, len(itemIDs))

	for _, item := range c.items {
		if drop[item.ID] {
			removed = append(removed, item.ID)
		} else {
			kept = append(kept, item)
		}
	}

	if len(removed) == 0 {
		return appErrors.NotFoundError("No matching cart items")
	}

	c.items = kept

	if err := c.persistLocked(ctx); err != nil {
		return err
	}

	for _, id := range removed {

		// stale updates for a gone line would only produce 404s
		if err := c.store.RemoveIntentsForItem(ctx, id); err != nil {
			slog.Warn("Failed to prune outbox for removed item", slog.String("itemId", id), slog.String("error", err.Error()))
		}

		c.enqueueLocked(ctx, storage.OpRemove, id, struct{}{})
	}

	return nil
}

// ClearCart empties memory, the local snapshot and the pending outbox. No
// remote call is made.
func (c *Controller) ClearCart(ctx context.Context) error {

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = []models.CartItem{}

	if err := c.store.ClearCart(ctx); err != nil {
		slog.Error("Failed to clear local cart snapshot", slog.String("error", err.Error()))
		return appErrors.StorageError("Failed to clear cart").WithError(err)
	}

	if err := c.store.ClearOutbox(ctx); err != nil {
		slog.Warn("Failed to clear pending sync intents", slog.String("error", err.Error()))
	}

	return nil
}

// Items returns a copy of the current cart state.
func (c *Controller) Items() []models.CartItem {

	c.mu.Lock()
	defer c.mu.Unlock()

	items := make([]models.CartItem, len(c.items))
	copy(items, c.items)

	return items
}

// TotalItems counts distinct lines, not summed quantities.
func (c *Controller) TotalItems() int {

	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

// TotalPrice sums price × quantity over the checked lines only.
func (c *Controller) TotalPrice() float64 {

	c.mu.Lock()
	defer c.mu.Unlock()

	var total float64

	for i := range c.items {
		if c.items[i].IsChecked {
			total += c.items[i].Price * float64(c.items[i].Quantity)
		}
	}

	return total
}

// TieredTotalPrice sums the checked lines using the tier rules each line
// carries from the last merge. Lines without a matching rule fall back to
// their snapshot price, so the result equals TotalPrice for a never-merged
// cart.
func (c *Controller) TieredTotalPrice() float64 {

	c.mu.Lock()
	defer c.mu.Unlock()

	var total float64

	for i := range c.items {
		if c.items[i].IsChecked {
			unit := models.TieredPrice(c.items[i].ProductPrices, c.items[i].Quantity, c.items[i].Price)
			total += unit * float64(c.items[i].Quantity)
		}
	}

	return total
}

// GroupedItems partitions the cart by provider name, keeping each line's
// insertion order within its group.
func (c *Controller) GroupedItems() map[string][]models.CartItem {

	c.mu.Lock()
	defer c.mu.Unlock()

	groups := make(map[string][]models.CartItem)

	for _, item := range c.items {
		groups[item.ProviderName] = append(groups[item.ProviderName], item)
	}

	return groups
}

// CurrentUser returns the identity the controller currently tracks.
func (c *Controller) CurrentUser() *identity.User {

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.user
}

// OnAppStateChange feeds host lifecycle transitions in. A return to the
// foreground while authenticated triggers a best-effort outbox drain.
func (c *Controller) OnAppStateChange(state AppState) {

	c.mu.Lock()
	prev := c.appState
	c.appState = state
	authenticated := c.user != nil
	c.mu.Unlock()

	if state == AppStateActive && prev != AppStateActive && authenticated {
		c.drainer.Kick()
	}
}

// OnItemSynced is the worker callback rewriting a locally generated line id
// to the server-assigned one. Only the id changes; the local line keeps its
// current quantity and selection, which later intents carry remotely.
func (c *Controller) OnItemSynced(localID string, server *models.CartItem) {

	if server == nil || server.ID == "" || server.ID == localID {
		return
	}

	ctx, cancel := utils.WithStoreTimeout(context.Background())
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	line := c.findLocked(localID)
	if line == nil {
		return
	}

	line.ID = server.ID

	if err := c.store.RemapIntentItemID(ctx, localID, server.ID); err != nil {
		slog.Warn("Failed to remap queued intents to server id",
			slog.String("localId", localID), slog.String("serverId", server.ID), slog.String("error", err.Error()))
	}

	if err := c.persistLocked(ctx); err != nil {
		slog.Warn("Failed to persist server-assigned id", slog.String("error", err.Error()))
	}
}

func (c *Controller) onAuthStateChanged(user *identity.User) {

	c.mu.Lock()
	prev := c.user
	c.user = user
	c.mu.Unlock()

	if user == nil {
		// logged-out users keep their local cart; sync ops become no-ops
		slog.Info("Identity cleared, keeping local cart state")
		return
	}

	if prev == nil || prev.UID != user.UID {

		slog.Info("Identity established, merging remote cart", slog.String("uid", user.UID))

		go func() {
			if err := c.LoadCart(context.Background(), false); err != nil {
				slog.Warn("Merge after sign-in failed", slog.String("error", err.Error()))
			}
		}()
	}
}

// callers hold c.mu
func (c *Controller) findLocked(itemID string) *models.CartItem {

	for i := range c.items {
		if c.items[i].ID == itemID {
			return &c.items[i]
		}
	}

	return nil
}

// callers hold c.mu
func (c *Controller) persistLocked(ctx context.Context) error {

	if err := c.store.SaveCart(ctx, c.items); err != nil {
		slog.Error("Failed to persist cart snapshot", slog.String("error", err.Error()))
		return appErrors.StorageError("Failed to persist cart").WithError(err)
	}

	return nil
}

// callers hold c.mu; enqueue failures are logged, the in-memory and persisted
// cart remain the source the next merge reconciles from
func (c *Controller) enqueueLocked(ctx context.Context, op storage.OpKind, itemID string, payload any) {

	if _, err := c.store.EnqueueIntent(ctx, op, itemID, payload); err != nil {
		slog.Error("Failed to enqueue sync intent",
			slog.String("op", string(op)), slog.String("itemId", itemID), slog.String("error", err.Error()))
		return
	}

	c.drainer.Kick()
}
