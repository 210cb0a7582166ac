package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "custody/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "db failed"))

		require.Equal(t, http.StatusInternalServerError, w.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "internal_error", body["error"])
		_, ok := body["error_description"]
		assert.False(t, ok)
	})

	t.Run("state conflicts map to 409 with description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInsufficientBalance, "insufficient available balance"))

		require.Equal(t, http.StatusConflict, w.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "insufficient_balance", body["error"])
		assert.Equal(t, "state_conflict", body["error_kind"])
		assert.Equal(t, "insufficient available balance", body["error_description"])
	})

	t.Run("status table", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, StatusFor(dErrors.CodeInvalidAmount))
		assert.Equal(t, http.StatusForbidden, StatusFor(dErrors.CodeForbidden))
		assert.Equal(t, http.StatusNotFound, StatusFor(dErrors.CodeNotFound))
		assert.Equal(t, http.StatusBadGateway, StatusFor(dErrors.CodeTransferFailed))
	})
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Amount string `json:"amount"`
	}

	t.Run("rejects unknown fields", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"1","extra":true}`))
		_, err := DecodeJSON[payload](httptest.NewRecorder(), r)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	t.Run("rejects empty body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		_, err := DecodeJSON[payload](httptest.NewRecorder(), r)
		require.Error(t, err)
	})

	t.Run("decodes valid body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"42"}`))
		p, err := DecodeJSON[payload](httptest.NewRecorder(), r)
		require.NoError(t, err)
		assert.Equal(t, "42", p.Amount)
	})
}

type grantBody struct {
	Role string `json:"role"`
}

func (g *grantBody) Validate() error {
	g.Role = strings.TrimSpace(g.Role)
	if g.Role == "" {
		return dErrors.New(dErrors.CodeValidation, "role is required")
	}
	return nil
}

func TestDecodeAndPrepare(t *testing.T) {
	t.Run("validation failure writes 400", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"role":"  "}`))
		_, ok := DecodeAndPrepare[grantBody](rec, r, nil, r.Context(), "")
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "role is required")
	})

	t.Run("valid body is normalized", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"role":" admin "}`))
		body, ok := DecodeAndPrepare[grantBody](rec, r, nil, r.Context(), "")
		require.True(t, ok)
		assert.Equal(t, "admin", body.Role)
	})
}
