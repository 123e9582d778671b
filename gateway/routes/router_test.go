package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"usdengine/config"
	"usdengine/core/events"
	"usdengine/core/genesis"
	"usdengine/core/types"
	"usdengine/gateway/middleware"
	"usdengine/native/cdp"
	"usdengine/storage"
)

const (
	adminHex = "0x00000000000000000000000000000000000000d0"
	usdcHex  = "0x00000000000000000000000000000000000000c0"
	wethHex  = "0x00000000000000000000000000000000000000ee"
	userHex  = "0x00000000000000000000000000000000000000a1"
)

type stubJournal struct {
	account string
	limit   int
}

func (s *stubJournal) AccountEvents(_ context.Context, account string, limit int) ([]types.Event, error) {
	s.account, s.limit = account, limit
	return []types.Event{{Sequence: 1, Type: cdp.EventTypeUsdMinted, Attributes: map[string]string{"account": account}}}, nil
}

type stubRecon struct{ err error }

func (s stubRecon) Export(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "/tmp/recon.parquet", nil
}

type fixture struct {
	handler http.Handler
	runtime *genesis.Runtime
	bus     *events.Bus
	journal *stubJournal
}

func newFixture(t *testing.T, recon Reconciler) *fixture {
	t.Helper()
	bus := events.NewBus(32)
	rt, err := genesis.Build(config.Default(), storage.NewMemDB(), bus, nil)
	require.NoError(t, err)
	journal := &stubJournal{}
	handler, err := New(Config{
		Engine:        rt.Engine,
		Ledger:        rt.Ledger,
		Feeds:         rt.Feeds,
		Bus:           bus,
		Journal:       journal,
		Recon:         recon,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{}, nil),
	})
	require.NoError(t, err)
	return &fixture{handler: handler, runtime: rt, bus: bus, journal: journal}
}

func (f *fixture) do(t *testing.T, method, path, account string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if account != "" {
		req.Header.Set("X-Account", account)
	}
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out), res.Body.String())
	return out
}

func (f *fixture) openPosition(t *testing.T) {
	t.Helper()
	res := f.do(t, http.MethodPost, "/v1/tokens/approve", adminHex, map[string]string{
		"token":  usdcHex,
		"amount": "1000000000000000000000",
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	res = f.do(t, http.MethodPost, "/v1/deposit-and-mint", adminHex, map[string]string{
		"asset":            usdcHex,
		"collateralAmount": "1000000000000000000000",
		"usdAmount":        "400000000000000000000",
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
}

func TestNewRequiresEngineAndLedger(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestHealthAndCollaterals(t *testing.T) {
	f := newFixture(t, nil)

	res := f.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, res.Code)

	res = f.do(t, http.MethodGet, "/v1/collaterals", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	body := decodeBody(t, res)
	require.Len(t, body["collaterals"], 2)
	require.True(t, strings.EqualFold(wethHex, body["weth"].(string)))

	res = f.do(t, http.MethodGet, "/v1/collaterals/0", "", nil)
	require.Equal(t, http.StatusOK, res.Code)

	res = f.do(t, http.MethodGet, "/v1/collaterals/7", "", nil)
	require.Equal(t, http.StatusNotFound, res.Code)
	body = decodeBody(t, res)
	require.Equal(t, "index_out_of_range", body["code"])
	require.EqualValues(t, 7, body["index"])
	require.EqualValues(t, 2, body["length"])

	res = f.do(t, http.MethodGet, "/v1/collaterals/x", "", nil)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestDepositAndMintFlow(t *testing.T) {
	f := newFixture(t, nil)
	f.openPosition(t)

	res := f.do(t, http.MethodGet, "/v1/positions/me", adminHex, nil)
	require.Equal(t, http.StatusOK, res.Code)
	body := decodeBody(t, res)
	require.Equal(t, "400000000000000000000", body["debt"])
	require.Equal(t, string(cdp.StatusHealthy), body["status"])
	require.Equal(t, "1.25", body["healthFactorDisplay"])

	res = f.do(t, http.MethodGet, "/v1/supply", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	body = decodeBody(t, res)
	require.Equal(t, true, body["balanced"])
	require.Equal(t, "400000000000000000000", body["totalSupply"])

	res = f.do(t, http.MethodGet, "/v1/tokens/0x0000000000000000000000000000000000000005/balances/me", adminHex, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "400000000000000000000", decodeBody(t, res)["balance"])

	res = f.do(t, http.MethodGet, "/v1/mintable?asset="+usdcHex, adminHex, nil)
	require.Equal(t, http.StatusOK, res.Code)
	body = decodeBody(t, res)
	require.Equal(t, "100000000000000000000", body["amount"])
	require.Equal(t, true, body["healthy"])

	res = f.do(t, http.MethodPost, "/v1/burn", adminHex, map[string]string{"amount": "100000000000000000000"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	body = decodeBody(t, res)
	position := body["position"].(map[string]any)
	require.Equal(t, "300000000000000000000", position["debt"])
}

func TestMintBeyondCapacityReportsHealthFactor(t *testing.T) {
	f := newFixture(t, nil)
	f.openPosition(t)

	res := f.do(t, http.MethodPost, "/v1/mint", adminHex, map[string]string{"amount": "200000000000000000000"})
	require.Equal(t, http.StatusUnprocessableEntity, res.Code)
	body := decodeBody(t, res)
	require.Equal(t, "breaks_health_factor", body["code"])
	require.NotEmpty(t, body["healthFactor"])

	debt, err := f.runtime.Engine.Position(f.runtime.Admin)
	require.NoError(t, err)
	require.Equal(t, "400000000000000000000", debt.Debt.String())
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t, nil)

	cases := map[string]struct {
		path    string
		account string
		body    any
		status  int
		code    string
	}{
		"no caller":        {path: "/v1/mint", body: map[string]string{"amount": "1"}, status: http.StatusUnauthorized, code: "unauthenticated"},
		"unknown field":    {path: "/v1/mint", account: userHex, body: map[string]string{"amount": "1", "extra": "x"}, status: http.StatusBadRequest, code: "bad_request"},
		"bad amount":       {path: "/v1/burn", account: userHex, body: map[string]string{"amount": "1.5"}, status: http.StatusBadRequest, code: "bad_request"},
		"zero amount":      {path: "/v1/mint", account: userHex, body: map[string]string{"amount": "0"}, status: http.StatusBadRequest, code: "invalid_amount"},
		"bad asset":        {path: "/v1/deposit", account: userHex, body: map[string]string{"asset": "nope", "amount": "1"}, status: http.StatusBadRequest, code: "bad_request"},
		"unsupported":      {path: "/v1/deposit", account: userHex, body: map[string]string{"asset": userHex, "amount": "1"}, status: http.StatusBadRequest, code: "unsupported_asset"},
		"no allowance":     {path: "/v1/deposit", account: userHex, body: map[string]string{"asset": usdcHex, "amount": "1"}, status: http.StatusConflict},
		"unknown token":    {path: "/v1/tokens/approve", account: userHex, body: map[string]string{"token": userHex, "amount": "1"}, status: http.StatusNotFound, code: "unknown_token"},
		"mint without lot": {path: "/v1/mint", account: userHex, body: map[string]string{"amount": "1"}, status: http.StatusUnprocessableEntity, code: "breaks_health_factor"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res := f.do(t, http.MethodPost, tc.path, tc.account, tc.body)
			require.Equal(t, tc.status, res.Code, res.Body.String())
			if tc.code != "" {
				require.Equal(t, tc.code, decodeBody(t, res)["code"])
			}
		})
	}
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t, stubRecon{})

	res := f.do(t, http.MethodPost, "/v1/admin/weth", userHex, map[string]string{"asset": usdcHex})
	require.Equal(t, http.StatusForbidden, res.Code)

	res = f.do(t, http.MethodPost, "/v1/admin/feeds", adminHex, map[string]any{
		"assets":     []string{usdcHex},
		"feeds":      []string{"usdc-usd", "eth-usd"},
		"thresholds": []uint64{60},
	})
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, "array_length_mismatch", decodeBody(t, res)["code"])

	res = f.do(t, http.MethodPost, "/v1/admin/feeds", adminHex, map[string]any{
		"assets":     []string{usdcHex},
		"feeds":      []string{"usdc-usd"},
		"thresholds": []uint64{60},
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	entry, err := f.runtime.Engine.CollateralAsset(0)
	require.NoError(t, err)
	require.EqualValues(t, 60, entry.LiquidationThreshold)

	res = f.do(t, http.MethodPost, "/v1/admin/prices", adminHex, map[string]string{"feed": "eth-usd", "price": "2000.5"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "200050000000", decodeBody(t, res)["price"])

	res = f.do(t, http.MethodPost, "/v1/admin/prices", adminHex, map[string]string{"feed": "btc-usd", "price": "1"})
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, "unknown_feed", decodeBody(t, res)["code"])

	res = f.do(t, http.MethodPost, "/v1/admin/recon", adminHex, map[string]string{})
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "/tmp/recon.parquet", decodeBody(t, res)["file"])
}

func TestReconcileDisabledAndFailing(t *testing.T) {
	f := newFixture(t, nil)
	res := f.do(t, http.MethodPost, "/v1/admin/recon", adminHex, map[string]string{})
	require.Equal(t, http.StatusServiceUnavailable, res.Code)

	f = newFixture(t, stubRecon{err: errors.New("disk full")})
	res = f.do(t, http.MethodPost, "/v1/admin/recon", adminHex, map[string]string{})
	require.Equal(t, http.StatusInternalServerError, res.Code)
	require.Equal(t, "internal error", decodeBody(t, res)["error"])
}

func TestAccountEventsLimit(t *testing.T) {
	f := newFixture(t, nil)

	res := f.do(t, http.MethodGet, "/v1/accounts/me/events?limit=9000", adminHex, nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, 500, f.journal.limit)
	require.True(t, strings.EqualFold(adminHex, f.journal.account))

	res = f.do(t, http.MethodGet, "/v1/accounts/"+userHex+"/events?limit=-1", adminHex, nil)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestEventStreamFiltersByAccount(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events/ws?account=" + adminHex
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	f.openPosition(t)

	seen := map[string]bool{}
	for !seen[cdp.EventTypeUsdMinted] {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var evt types.Event
		require.NoError(t, json.Unmarshal(data, &evt))
		require.True(t, strings.EqualFold(adminHex, evt.Attr("account")), "unexpected event %+v", evt)
		seen[evt.Type] = true
	}
	require.True(t, seen[cdp.EventTypeCollateralDeposited])
}

const streamSecret = "stream-test-secret"

func newStreamServer(t *testing.T, origins []string) *httptest.Server {
	t.Helper()
	bus := events.NewBus(32)
	rt, err := genesis.Build(config.Default(), storage.NewMemDB(), bus, nil)
	require.NoError(t, err)
	handler, err := New(Config{
		Engine: rt.Engine,
		Ledger: rt.Ledger,
		Feeds:  rt.Feeds,
		Bus:    bus,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    true,
			HMACSecret: streamSecret,
		}, nil),
		CORS: middleware.CORSConfig{AllowedOrigins: origins},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func bearer(t *testing.T, subject, scope string) http.Header {
	t.Helper()
	claims := jwt.MapClaims{"sub": subject, "exp": time.Now().Add(time.Hour).Unix()}
	if scope != "" {
		claims["scope"] = scope
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(streamSecret))
	require.NoError(t, err)
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func TestEventStreamLimitedToCallerWithoutAdminScope(t *testing.T) {
	srv := newStreamServer(t, []string{"https://app.example"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events/ws"

	_, res, err := websocket.Dial(ctx, base+"?account="+adminHex, &websocket.DialOptions{HTTPHeader: bearer(t, userHex, "")})
	require.Error(t, err)
	require.NotNil(t, res)
	require.Equal(t, http.StatusForbidden, res.StatusCode)

	_, res, err = websocket.Dial(ctx, base, nil)
	require.Error(t, err)
	require.NotNil(t, res)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	conn, _, err := websocket.Dial(ctx, base+"?account=me", &websocket.DialOptions{HTTPHeader: bearer(t, userHex, "")})
	require.NoError(t, err)
	conn.Close(websocket.StatusNormalClosure, "")

	conn, _, err = websocket.Dial(ctx, base+"?account="+adminHex, &websocket.DialOptions{HTTPHeader: bearer(t, userHex, middleware.ScopeAdmin)})
	require.NoError(t, err)
	conn.Close(websocket.StatusNormalClosure, "")
}

func TestEventStreamUsesCORSOrigins(t *testing.T) {
	srv := newStreamServer(t, []string{"https://app.example"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events/ws"

	headers := bearer(t, userHex, "")
	headers.Set("Origin", "https://evil.example")
	_, res, err := websocket.Dial(ctx, base, &websocket.DialOptions{HTTPHeader: headers})
	require.Error(t, err)
	require.NotNil(t, res)
	require.Equal(t, http.StatusForbidden, res.StatusCode)

	headers.Set("Origin", "https://app.example")
	conn, _, err := websocket.Dial(ctx, base, &websocket.DialOptions{HTTPHeader: headers})
	require.NoError(t, err)
	conn.Close(websocket.StatusNormalClosure, "")
}

func TestOriginPatterns(t *testing.T) {
	require.Equal(t, []string{"*"}, originPatterns(nil))
	require.Equal(t, []string{"*"}, originPatterns([]string{"https://a.example", "*"}))
	require.Equal(t, []string{"a.example", "b.example:8443"},
		originPatterns([]string{"https://a.example", "https://b.example:8443"}))
}
