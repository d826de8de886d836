package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/tiendamovil/cartsync/internal/api/middleware"
	appErrors "github.com/tiendamovil/cartsync/internal/errors"
	"github.com/tiendamovil/cartsync/internal/utils/response"
)

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	defer r.Body.Close()

	logger := middleware.LoggerFromContext(r.Context())

	err := json.NewDecoder(r.Body).Decode(&dest)

	if errors.Is(err, io.EOF) {
		logger.Warn("Empty request body", slog.String("endpoint", r.URL.Path))
		response.WriteJson(w, http.StatusBadRequest, response.APIResponse{
			Success: false,
			Error:   &response.ErrorResponse{Code: appErrors.ErrCodeBadRequest, Message: "request body cannot be empty"},
		})
		return err
	}

	if err != nil {
		logger.Error("Failed to decode request body",
			slog.String("error", err.Error()),
			slog.String("endpoint", r.URL.Path),
		)
		response.WriteJson(w, http.StatusBadRequest, response.APIResponse{
			Success: false,
			Error:   &response.ErrorResponse{Code: appErrors.ErrCodeBadRequest, Message: fmt.Sprintf("invalid JSON: %v", err)},
		})
		return err
	}

	return nil
}

func validateStruct(w http.ResponseWriter, r *http.Request, validate *validator.Validate, data interface{}) bool {
	if err := validate.Struct(data); err != nil {
		logger := middleware.LoggerFromContext(r.Context())

		if validationErrs, ok := err.(validator.ValidationErrors); ok {
			logger.Warn("User input validation failed",
				slog.String("error", validationErrs.Error()),
			)
			response.ValidationError(w, validationErrs)
		} else {
			logger.Error("Unexpected validation error", slog.String("error", err.Error()))
			response.Error(w, err)
		}
		return false
	}
	return true
}
