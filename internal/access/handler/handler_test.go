package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody/internal/access/models"
	"custody/internal/access/service"
	"custody/internal/access/store"
	"custody/pkg/testutil"
)

var (
	admin  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	lender = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

func newRouter(t *testing.T) (http.Handler, *service.Directory) {
	t.Helper()
	dir := service.New(store.NewInMemory())
	_, err := dir.Bootstrap(context.Background(), admin)
	require.NoError(t, err)

	r := chi.NewRouter()
	New(dir, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r, dir
}

func do(router http.Handler, method, path, body string, caller common.Address) *httptest.ResponseRecorder {
	return testutil.Do(router, testutil.NewRequest(method, path, body, testutil.AsCaller(caller)))
}

func TestGrantAndQuery(t *testing.T) {
	router, dir := newRouter(t)

	body := `{"role":"lender","principal":"` + lender.Hex() + `"}`
	rec := do(router, http.MethodPost, "/roles/grant", body, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	ok, err := dir.HasRole(context.Background(), models.RoleLender, lender)
	require.NoError(t, err)
	assert.True(t, ok)

	rec = do(router, http.MethodGet, "/roles/lender/"+lender.Hex(), "", common.Address{})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp MembershipResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.HasRole)

	rec = do(router, http.MethodGet, "/roles/lender", "", common.Address{})
	require.Equal(t, http.StatusOK, rec.Code)
	var members MembersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &members))
	assert.Equal(t, []string{lender.Hex()}, members.Members)
}

func TestGrantErrors(t *testing.T) {
	router, _ := newRouter(t)
	valid := `{"role":"lender","principal":"` + lender.Hex() + `"}`

	tests := []struct {
		name   string
		body   string
		caller common.Address
		status int
	}{
		{"no caller", valid, common.Address{}, http.StatusUnauthorized},
		{"caller without admin", valid, lender, http.StatusForbidden},
		{"unknown role", `{"role":"owner","principal":"` + lender.Hex() + `"}`, admin, http.StatusBadRequest},
		{"bad principal", `{"role":"lender","principal":"0x12"}`, admin, http.StatusBadRequest},
		{"unknown field", `{"role":"lender","principal":"` + lender.Hex() + `","extra":1}`, admin, http.StatusBadRequest},
		{"empty body", "", admin, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(router, http.MethodPost, "/roles/grant", tt.body, tt.caller)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestRevoke(t *testing.T) {
	router, _ := newRouter(t)
	body := `{"role":"lender","principal":"` + lender.Hex() + `"}`

	rec := do(router, http.MethodPost, "/roles/revoke", body, admin)
	assert.Equal(t, http.StatusConflict, rec.Code, "revoking a role that is not held")

	require.Equal(t, http.StatusOK, do(router, http.MethodPost, "/roles/grant", body, admin).Code)
	rec = do(router, http.MethodPost, "/roles/revoke", body, admin)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MembershipResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.HasRole)
}

func TestRenounceIsRejected(t *testing.T) {
	router, _ := newRouter(t)
	rec := do(router, http.MethodPost, "/roles/renounce", `{"role":"admin"}`, admin)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestQueryValidation(t *testing.T) {
	router, _ := newRouter(t)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/roles/owner", "", common.Address{}).Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/roles/lender/nope", "", common.Address{}).Code)
}
