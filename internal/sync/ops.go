package sync

import (
	"context"
	"log/slog"

	appErrors "github.com/tiendamovil/cartsync/internal/errors"
	"github.com/tiendamovil/cartsync/internal/gateway"
	"github.com/tiendamovil/cartsync/internal/identity"
	"github.com/tiendamovil/cartsync/internal/metrics"
	"github.com/tiendamovil/cartsync/internal/models"
)

// Outcome classifies a sync attempt. Skipped means no identity was
// established and no remote call was made.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// CartGateway is the remote surface the sync operations push to.
type CartGateway interface {
	CreateItem(ctx context.Context, req *gateway.CreateItemRequest) (*models.CartItem, error)
	PatchQuantity(ctx context.Context, itemID string, quantity int) error
	PatchChecked(ctx context.Context, itemID string, isChecked bool) error
	DeleteItem(ctx context.Context, itemID string) error
}

// Ops holds the four background mutations. Each issues at most one gateway
// call; failures are logged and counted, never surfaced to the caller's user.
type Ops struct {
	gw       CartGateway
	provider identity.Provider
}

func NewOps(gw CartGateway, provider identity.Provider) *Ops {
	return &Ops{gw: gw, provider: provider}
}

// Add pushes a freshly added line. On success it returns the server's view of
// the item, whose id replaces the locally generated one.
func (o *Ops) Add(ctx context.Context, item *models.CartItem) (*models.CartItem, Outcome, error) {

	if o.provider.CurrentUser() == nil {
		metrics.ObserveSyncOperation("add", metrics.OutcomeSkipped)
		return nil, OutcomeSkipped, nil
	}

	req := &gateway.CreateItemRequest{
		ProductID:            item.ProductID,
		Quantity:             item.Quantity,
		PriceSnapshot:        item.Price,
		ColorSnapshot:        item.Color,
		SizeSnapshot:         item.Size,
		ProductNameSnapshot:  item.ProductName,
		ImageURLSnapshot:     item.ImageURL,
		ProviderNameSnapshot: item.ProviderName,
	}

	created, err := o.gw.CreateItem(ctx, req)
	if err != nil {
		o.observeFailure("add", item.ID, err)
		return nil, OutcomeFailed, err
	}

	metrics.ObserveSyncOperation("add", metrics.OutcomeOK)

	return created, OutcomeOK, nil
}

func (o *Ops) UpdateQuantity(ctx context.Context, itemID string, quantity int) (Outcome, error) {

	if o.provider.CurrentUser() == nil {
		metrics.ObserveSyncOperation("update_quantity", metrics.OutcomeSkipped)
		return OutcomeSkipped, nil
	}

	if err := o.gw.PatchQuantity(ctx, itemID, quantity); err != nil {
		o.observeFailure("update_quantity", itemID, err)
		return OutcomeFailed, err
	}

	metrics.ObserveSyncOperation("update_quantity", metrics.OutcomeOK)

	return OutcomeOK, nil
}

func (o *Ops) ToggleCheck(ctx context.Context, itemID string, isChecked bool) (Outcome, error) {

	if o.provider.CurrentUser() == nil {
		metrics.ObserveSyncOperation("toggle_check", metrics.OutcomeSkipped)
		return OutcomeSkipped, nil
	}

	if err := o.gw.PatchChecked(ctx, itemID, isChecked); err != nil {
		o.observeFailure("toggle_check", itemID, err)
		return OutcomeFailed, err
	}

	metrics.ObserveSyncOperation("toggle_check", metrics.OutcomeOK)

	return OutcomeOK, nil
}

func (o *Ops) Remove(ctx context.Context, itemID string) (Outcome, error) {

	if o.provider.CurrentUser() == nil {
		metrics.ObserveSyncOperation("remove", metrics.OutcomeSkipped)
		return OutcomeSkipped, nil
	}

	if err := o.gw.DeleteItem(ctx, itemID); err != nil {
		o.observeFailure("remove", itemID, err)
		return OutcomeFailed, err
	}

	metrics.ObserveSyncOperation("remove", metrics.OutcomeOK)

	return OutcomeOK, nil
}

func (o *Ops) observeFailure(op, itemID string, err error) {

	metrics.ObserveSyncOperation(op, metrics.OutcomeFailed)

	slog.Warn("Background sync operation failed",
		slog.String("op", op),
		slog.String("itemId", itemID),
		slog.String("error", err.Error()),
	)
}

// permanent reports whether a sync failure cannot succeed on retry (the
// request itself is rejected, not the transport).
func permanent(err error) bool {

	appErr, ok := appErrors.IsAppError(err)
	if !ok {
		return false
	}

	switch appErr.Code {
	case appErrors.ErrCodeNotFound, appErrors.ErrCodeBadRequest, appErrors.ErrCodeValidation:
		return true
	}

	return false
}
