package cart

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/tiendamovil/cartsync/internal/metrics"
	"github.com/tiendamovil/cartsync/internal/models"
)

// LoadCart runs the merge/load routine: local snapshot first, then, once an
// identity is established, the remote cart enriched with current tiered
// prices. A non-empty remote cart replaces local state entirely (the server
// is authoritative once it holds any data); an empty remote cart keeps the
// local lines so a first sync never destroys them. Remote failures fall back
// to local-only state and never surface to the caller.
func (c *Controller) LoadCart(ctx context.Context, forceSync bool) error {

	local, err := c.store.LoadCart(ctx)
	if err != nil {
		slog.Error("Failed to load local cart snapshot", slog.String("error", err.Error()))
		local = []models.CartItem{}
	}

	c.mu.Lock()
	// mutations write memory and the store under c.mu, so the snapshot read
	// above can only lag memory; it hydrates an empty cart, never replaces one
	if len(c.items) == 0 && len(local) > 0 {
		c.items = local
	}
	authenticated := c.user != nil
	c.mu.Unlock()

	if !authenticated {
		metrics.ObserveMergeRun(metrics.MergeLocalOnly)
		return nil
	}

	remote, err := c.gw.FetchCart(ctx, forceSync)
	if err != nil {

		slog.Warn("Remote cart fetch failed, staying on local state", slog.String("error", err.Error()))
		metrics.ObserveMergeRun(metrics.MergeFailed)

		c.drainer.Kick()

		return nil
	}

	c.enrich(ctx, remote)

	c.mu.Lock()

	// decide against the items held right now, not the pre-fetch snapshot: a
	// line added while the fetch was in flight must survive an empty remote
	merged := c.items
	outcome := metrics.MergeLocalOnly

	if len(remote) > 0 {
		merged = remote
		outcome = metrics.MergeRemote
	}

	changed := !reflect.DeepEqual(merged, c.items)

	if changed {
		c.items = merged

		if err := c.store.SaveCart(ctx, merged); err != nil {
			slog.Error("Failed to persist merged cart", slog.String("error", err.Error()))
		}
	}

	c.mu.Unlock()

	metrics.ObserveMergeRun(outcome)

	c.drainer.Kick()

	return nil
}

// enrich attaches the current tiered price rules to each remote line. A
// failed lookup leaves that line with an empty rule list instead of aborting
// the merge.
func (c *Controller) enrich(ctx context.Context, items []models.CartItem) {

	for i := range items {

		rules, err := c.gw.FetchProductPrices(ctx, items[i].ProductID)
		if err != nil {

			slog.Debug("Tiered price lookup failed",
				slog.String("productId", items[i].ProductID), slog.String("error", err.Error()))

			items[i].ProductPrices = []models.PriceRule{}

			continue
		}

		items[i].ProductPrices = rules
	}
}
