package testutils

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tiendamovil/cartsync/internal/utils/response"
)

// NewJSONRequest builds a test request with a JSON body and path parameters
// resolved the way the facade mux resolves them.
func NewJSONRequest(t *testing.T, method, target string, body any, pathParams map[string]string) *http.Request {
	t.Helper()

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for key, value := range pathParams {
		req.SetPathValue(key, value)
	}

	return req
}

// DecodeAPIResponse unmarshals the facade's response envelope, decoding the
// data payload into out when it is non-nil.
func DecodeAPIResponse(t *testing.T, rec *httptest.ResponseRecorder, out any) *response.APIResponse {
	t.Helper()

	var envelope struct {
		Success bool                    `json:"success"`
		Data    json.RawMessage         `json:"data"`
		Error   *response.ErrorResponse `json:"error"`
	}

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))

	if out != nil && len(envelope.Data) > 0 {
		require.NoError(t, json.Unmarshal(envelope.Data, out))
	}

	return &response.APIResponse{Success: envelope.Success, Error: envelope.Error}
}
