package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/tiendamovil/cartsync/internal/api/middleware"
	"github.com/tiendamovil/cartsync/internal/cart"
	appErrors "github.com/tiendamovil/cartsync/internal/errors"
	"github.com/tiendamovil/cartsync/internal/models"
	"github.com/tiendamovil/cartsync/internal/utils/response"
)

// CartHandler is the localhost control surface over the cart controller, for
// the UI shell hosting the engine.
type CartHandler struct {
	controller *cart.Controller
	validator  *validator.Validate
}

func NewCartHandler(controller *cart.Controller) *CartHandler {
	return &CartHandler{
		controller: controller,
		validator:  validator.New(),
	}
}

func (h *CartHandler) GetCart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		response.Success(w, http.StatusOK, h.controller.Items())
	}
}

type cartSummary struct {
	TotalItems       int                          `json:"totalItems"`
	TotalPrice       float64                      `json:"totalPrice"`
	TieredTotalPrice float64                      `json:"tieredTotalPrice"`
	Groups           map[string][]models.CartItem `json:"groups"`
}

// GetSummary reports the selection totals and the provider grouping the order
// screens are built from. TotalPrice quotes the snapshot prices the lines
// were added at; TieredTotalPrice re-quotes them against the tier rules the
// last merge attached.
func (h *CartHandler) GetSummary() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		summary := cartSummary{
			TotalItems:       h.controller.TotalItems(),
			TotalPrice:       h.controller.TotalPrice(),
			TieredTotalPrice: h.controller.TieredTotalPrice(),
			Groups:           h.controller.GroupedItems(),
		}

		response.Success(w, http.StatusOK, summary)
	}
}

func (h *CartHandler) AddItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		var req models.AddItemRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			return
		}

		if !validateStruct(w, r, h.validator, req) {
			return
		}

		item, err := h.controller.AddToCart(r.Context(), &req)
		if err != nil {
			middleware.LoggerFromContext(r.Context()).Error("Error adding item to cart", slog.String("error", err.Error()))
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusCreated, item)
	}
}

func (h *CartHandler) UpdateQuantity() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		itemID := r.PathValue("id")
		if itemID == "" {
			response.Error(w, appErrors.AddValidationError("id", "is required"))
			return
		}

		var req models.UpdateQuantityRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			return
		}

		if !validateStruct(w, r, h.validator, req) {
			return
		}

		if err := h.controller.UpdateQuantity(r.Context(), itemID, req.Quantity); err != nil {
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, map[string]bool{"updated": true})
	}
}

func (h *CartHandler) ToggleCheck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		itemID := r.PathValue("id")
		if itemID == "" {
			response.Error(w, appErrors.AddValidationError("id", "is required"))
			return
		}

		if err := h.controller.ToggleItemCheck(r.Context(), itemID); err != nil {
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, map[string]bool{"updated": true})
	}
}

func (h *CartHandler) RemoveItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		itemID := r.PathValue("id")
		if itemID == "" {
			response.Error(w, appErrors.AddValidationError("id", "is required"))
			return
		}

		if err := h.controller.RemoveItem(r.Context(), itemID); err != nil {
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, map[string]bool{"removed": true})
	}
}

// BatchRemove drops several lines in one local write, the path used right
// after an order is placed.
func (h *CartHandler) BatchRemove() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		var req models.BatchRemoveRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			return
		}

		if !validateStruct(w, r, h.validator, req) {
			return
		}

		if err := h.controller.RemoveMultipleItems(r.Context(), req.IDs); err != nil {
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, map[string]bool{"removed": true})
	}
}

func (h *CartHandler) ClearCart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		if err := h.controller.ClearCart(r.Context()); err != nil {
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, map[string]bool{"cleared": true})
	}
}

// Refresh re-runs the merge/load routine against the remote cart.
func (h *CartHandler) Refresh() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		force := r.URL.Query().Get("force") == "true"

		if err := h.controller.LoadCart(r.Context(), force); err != nil {
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, h.controller.Items())
	}
}
