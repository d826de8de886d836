package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/tiendamovil/cartsync/internal/cart"
	appErrors "github.com/tiendamovil/cartsync/internal/errors"
	"github.com/tiendamovil/cartsync/internal/identity"
	"github.com/tiendamovil/cartsync/internal/utils/response"
)

// SessionHandler feeds identity and app-lifecycle events from the host shell
// into the engine.
type SessionHandler struct {
	provider   *identity.TokenProvider
	controller *cart.Controller
	validator  *validator.Validate
}

func NewSessionHandler(provider *identity.TokenProvider, controller *cart.Controller) *SessionHandler {
	return &SessionHandler{
		provider:   provider,
		controller: controller,
		validator:  validator.New(),
	}
}

type setTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// SetToken installs the bearer token the host obtained from its identity
// provider; the engine reacts as an auth-state change.
func (h *SessionHandler) SetToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		var req setTokenRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			return
		}

		if !validateStruct(w, r, h.validator, req) {
			return
		}

		if err := h.provider.SetToken(req.Token); err != nil {
			response.Error(w, err)
			return
		}

		response.Success(w, http.StatusOK, map[string]bool{"signedIn": true})
	}
}

// SignOut clears the identity. Cart state deliberately stays as-is.
func (h *SessionHandler) SignOut() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		h.provider.SignOut()

		response.Success(w, http.StatusOK, map[string]bool{"signedIn": false})
	}
}

type appStateRequest struct {
	State string `json:"state" validate:"required,oneof=active background inactive"`
}

// AppState forwards foreground/background transitions.
func (h *SessionHandler) AppState() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		var req appStateRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			return
		}

		if !validateStruct(w, r, h.validator, req) {
			return
		}

		switch cart.AppState(req.State) {
		case cart.AppStateActive, cart.AppStateBackground, cart.AppStateInactive:
			h.controller.OnAppStateChange(cart.AppState(req.State))
		default:
			response.Error(w, appErrors.BadRequestError("Unknown app state"))
			return
		}

		response.Success(w, http.StatusOK, map[string]string{"state": req.State})
	}
}
