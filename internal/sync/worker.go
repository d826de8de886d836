package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tiendamovil/cartsync/internal/config"
	appErrors "github.com/tiendamovil/cartsync/internal/errors"
	"github.com/tiendamovil/cartsync/internal/gateway"
	"github.com/tiendamovil/cartsync/internal/identity"
	"github.com/tiendamovil/cartsync/internal/metrics"
	"github.com/tiendamovil/cartsync/internal/models"
	"github.com/tiendamovil/cartsync/internal/storage"
)

// Intent payloads stored in the outbox, one per OpKind. Remove carries no
// payload beyond the item id column.

type AddIntent struct {
	LocalID string                    `json:"localId"`
	Request gateway.CreateItemRequest `json:"request"`
}

type QuantityIntent struct {
	Quantity int `json:"quantity"`
}

type CheckIntent struct {
	IsChecked bool `json:"isChecked"`
}

// ItemSyncedFunc is invoked when an Add intent lands remotely, so the owner
// can swap the locally generated id for the server-assigned one.
type ItemSyncedFunc func(localID string, server *models.CartItem)

// Worker drains the durable outbox on a ticker and on demand. One worker per
// store; draining is strictly in insertion order.
type Worker struct {
	store        *storage.Store
	ops          *Ops
	provider     identity.Provider
	cfg          *config.Outbox
	onItemSynced ItemSyncedFunc
	kick         chan struct{}
}

var errNoIdentity = errors.New("no identity established")

// attempts per entry within one drain pass; the durable attempt budget in
// config caps retries across passes.
const triesPerDrain = 3

func NewWorker(store *storage.Store, ops *Ops, provider identity.Provider, cfg *config.Outbox, onItemSynced ItemSyncedFunc) *Worker {
	return &Worker{
		store:        store,
		ops:          ops,
		provider:     provider,
		cfg:          cfg,
		onItemSynced: onItemSynced,
		kick:         make(chan struct{}, 1),
	}
}

// SetItemSyncedFunc installs the id-remap callback. Call before Run; the
// controller and worker reference each other, so one side wires up late.
func (w *Worker) SetItemSyncedFunc(fn ItemSyncedFunc) {
	w.onItemSynced = fn
}

// Kick nudges the worker to drain now. Never blocks.
func (w *Worker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *Worker) Run(ctx context.Context) {

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Drain(ctx)
		case <-w.kick:
			w.Drain(ctx)
		}
	}
}

// Drain pushes pending intents to the remote, oldest first. Entries that
// exhaust their attempt budget or fail permanently are dropped with a warning
// rather than blocking the queue.
func (w *Worker) Drain(ctx context.Context) {

	if w.provider.CurrentUser() == nil {
		return
	}

	entries, err := w.store.PendingIntents(ctx, w.cfg.BatchSize)
	if err != nil {
		slog.Error("Failed to read pending sync intents", slog.String("error", err.Error()))
		return
	}

	for _, entry := range entries {

		if ctx.Err() != nil {
			return
		}

		created, err := w.attempt(ctx, entry)

		if err == nil {

			if created != nil && w.onItemSynced != nil {
				w.onItemSynced(entry.ItemID, created)
			}

			if err := w.store.MarkIntentDone(ctx, entry.ID); err != nil {
				slog.Error("Failed to remove drained intent", slog.Int64("id", entry.ID), slog.String("error", err.Error()))
			}

			continue
		}

		if errors.Is(err, errNoIdentity) {
			// identity dropped mid-drain; leave the queue as-is
			return
		}

		permDrop := permanent(err)
		exhausted := entry.Attempts+1 >= w.cfg.MaxAttempts

		if permDrop || exhausted {

			slog.Warn("Dropping sync intent",
				slog.Int64("id", entry.ID),
				slog.String("op", string(entry.Op)),
				slog.String("itemId", entry.ItemID),
				slog.Int("attempts", entry.Attempts+1),
				slog.Bool("permanent", permDrop),
				slog.String("error", err.Error()),
			)

			if err := w.store.MarkIntentDone(ctx, entry.ID); err != nil {
				slog.Error("Failed to drop intent", slog.Int64("id", entry.ID), slog.String("error", err.Error()))
			}

			continue
		}

		if err := w.store.MarkIntentFailed(ctx, entry.ID, err.Error()); err != nil {
			slog.Error("Failed to record intent failure", slog.Int64("id", entry.ID), slog.String("error", err.Error()))
		}
	}

	if depth, err := w.store.OutboxDepth(ctx); err == nil {
		metrics.SetOutboxDepth(depth)
	}
}

func (w *Worker) attempt(ctx context.Context, entry *storage.OutboxEntry) (*models.CartItem, error) {

	operation := func() (*models.CartItem, error) {

		created, err := w.dispatch(ctx, entry)

		if err != nil && (permanent(err) || errors.Is(err, errNoIdentity)) {
			return nil, backoff.Permanent(err)
		}

		return created, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(triesPerDrain),
	)
}

func (w *Worker) dispatch(ctx context.Context, entry *storage.OutboxEntry) (*models.CartItem, error) {

	switch entry.Op {

	case storage.OpAdd:

		var intent AddIntent
		if err := json.Unmarshal(entry.Payload, &intent); err != nil {
			return nil, appErrors.BadRequestError(fmt.Sprintf("Corrupt add intent %d", entry.ID)).WithError(err)
		}

		item := models.CartItem{
			ID:           intent.LocalID,
			ProductID:    intent.Request.ProductID,
			Quantity:     intent.Request.Quantity,
			Price:        intent.Request.PriceSnapshot,
			Color:        intent.Request.ColorSnapshot,
			Size:         intent.Request.SizeSnapshot,
			ProductName:  intent.Request.ProductNameSnapshot,
			ImageURL:     intent.Request.ImageURLSnapshot,
			ProviderName: intent.Request.ProviderNameSnapshot,
		}

		created, outcome, err := w.ops.Add(ctx, &item)
		if outcome == OutcomeSkipped {
			return nil, errNoIdentity
		}

		return created, err

	case storage.OpUpdateQuantity:

		var intent QuantityIntent
		if err := json.Unmarshal(entry.Payload, &intent); err != nil {
			return nil, appErrors.BadRequestError(fmt.Sprintf("Corrupt quantity intent %d", entry.ID)).WithError(err)
		}

		outcome, err := w.ops.UpdateQuantity(ctx, entry.ItemID, intent.Quantity)
		if outcome == OutcomeSkipped {
			return nil, errNoIdentity
		}

		return nil, err

	case storage.OpToggleCheck:

		var intent CheckIntent
		if err := json.Unmarshal(entry.Payload, &intent); err != nil {
			return nil, appErrors.BadRequestError(fmt.Sprintf("Corrupt check intent %d", entry.ID)).WithError(err)
		}

		outcome, err := w.ops.ToggleCheck(ctx, entry.ItemID, intent.IsChecked)
		if outcome == OutcomeSkipped {
			return nil, errNoIdentity
		}

		return nil, err

	case storage.OpRemove:

		outcome, err := w.ops.Remove(ctx, entry.ItemID)
		if outcome == OutcomeSkipped {
			return nil, errNoIdentity
		}

		return nil, err
	}

	return nil, fmt.Errorf("unknown intent kind %q", entry.Op)
}
