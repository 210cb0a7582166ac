package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accessmodels "custody/internal/access/models"
	access "custody/internal/access/service"
	accessstore "custody/internal/access/store"
	"custody/internal/eligibility"
	"custody/internal/eligibility/models"
	"custody/internal/eligibility/service"
	"custody/internal/eligibility/store"
	"custody/pkg/testutil"
)

var (
	admin  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	clerk  = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	wallet = common.HexToAddress("0x0000000000000000000000000000000000001001")
	second = common.HexToAddress("0x0000000000000000000000000000000000001002")

	identityHash = "0x" + strings.Repeat("0", 62) + "01"
	now          = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	router    http.Handler
	countries *store.InMemoryCountryStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	dir := access.New(accessstore.NewInMemory())
	_, err := dir.Bootstrap(ctx, admin)
	require.NoError(t, err)
	require.NoError(t, dir.Grant(ctx, admin, accessmodels.RoleRegistrar, clerk))

	registry := service.New(store.NewInMemory(), dir)
	countries := store.NewInMemoryCountries()
	gate := eligibility.NewGate(eligibility.NewPolicy(countries), registry)

	r := chi.NewRouter()
	New(registry, gate, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return fixture{router: r, countries: countries}
}

func (f fixture) do(method, path, body string, caller common.Address) *httptest.ResponseRecorder {
	return testutil.Do(f.router, testutil.NewRequest(method, path, body, testutil.At(now), testutil.AsCaller(caller)))
}

func registerBody(wallets ...common.Address) string {
	quoted := make([]string, len(wallets))
	for i, w := range wallets {
		quoted[i] = `"` + w.Hex() + `"`
	}
	return `{"hash":"` + identityHash + `","expires_at":"2027-01-01T00:00:00Z","wallets":[` +
		strings.Join(quoted, ",") + `],"country":840,"data":"ref"}`
}

func TestIdentityLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/identities", registerBody(wallet), clerk)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created IdentityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, []string{wallet.Hex()}, created.Wallets)

	rec = f.do(http.MethodPost, "/identities", registerBody(wallet), clerk)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, "/identities/"+identityHash+"/wallets", `{"wallets":["`+second.Hex()+`"]}`, clerk)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPatch, "/identities/"+identityHash, `{"country":276}`, clerk)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated IdentityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, uint16(276), updated.Country)
	assert.Len(t, updated.Wallets, 2)

	rec = f.do(http.MethodDelete, "/identities/"+identityHash+"/wallets",
		`{"wallets":["`+wallet.Hex()+`","`+second.Hex()+`"]}`, clerk)
	assert.Equal(t, http.StatusConflict, rec.Code, "removing every wallet is rejected")

	rec = f.do(http.MethodDelete, "/identities/"+identityHash, "", clerk)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/identities/"+identityHash, "", common.Address{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/identities", registerBody(wallet), clerk).Code)

	rec := f.do(http.MethodGet, "/identities/verify/"+wallet.Hex(), "", common.Address{})
	require.Equal(t, http.StatusOK, rec.Code)
	var v models.Verification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.True(t, v.Eligible)

	require.NoError(t, f.countries.Add(context.Background(), 840))
	rec = f.do(http.MethodPost, "/identities/verify", `{"wallets":["`+wallet.Hex()+`","`+second.Hex()+`"]}`, common.Address{})
	require.Equal(t, http.StatusOK, rec.Code)
	var batch struct {
		Verifications []models.Verification `json:"verifications"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	require.Len(t, batch.Verifications, 2)
	assert.False(t, batch.Verifications[0].Eligible)
	assert.Equal(t, models.ReasonCountryNotAllowed, batch.Verifications[0].Reason)
	assert.Equal(t, models.ReasonNotRegistered, batch.Verifications[1].Reason)
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		caller common.Address
		status int
	}{
		{"register unauthenticated", http.MethodPost, "/identities", registerBody(wallet), common.Address{}, http.StatusUnauthorized},
		{"register without role", http.MethodPost, "/identities", registerBody(wallet), second, http.StatusForbidden},
		{"register without wallets", http.MethodPost, "/identities", registerBody(), clerk, http.StatusBadRequest},
		{"bad hash in path", http.MethodGet, "/identities/0x1234", "", common.Address{}, http.StatusBadRequest},
		{"empty patch", http.MethodPatch, "/identities/" + identityHash, `{}`, clerk, http.StatusBadRequest},
		{"empty batch", http.MethodPost, "/identities/batch", `{"identities":[]}`, clerk, http.StatusBadRequest},
		{"verify bad wallet", http.MethodGet, "/identities/verify/nope", "", common.Address{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.path, tt.body, tt.caller)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}
