package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/lendpool/internal/accounting"
	"github.com/vadiminshakov/lendpool/internal/domain"
	"github.com/vadiminshakov/lendpool/internal/metrics"
	"github.com/vadiminshakov/lendpool/internal/services/custody"
	"github.com/vadiminshakov/lendpool/internal/services/lending"
	"github.com/vadiminshakov/lendpool/internal/services/pricer"
	"github.com/vadiminshakov/lendpool/internal/storage/journal"
	"github.com/vadiminshakov/lendpool/internal/storage/ledger"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	clk, mock := accounting.NewMockClock(time.Unix(1_700_000_000, 0))
	prices := pricer.NewStaticPricer(clk)
	for _, asset := range domain.AllAssetKinds() {
		prices.SetQuote(pricer.Quote{Asset: asset, Price: decimal.NewFromInt(1), Timestamp: mock.Now()})
	}
	c, err := custody.NewSimulateCustody(nil, clk, nil)
	require.NoError(t, err)

	events, err := journal.NewWALStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	reg := prometheus.NewRegistry()
	engine, err := lending.New(ledger.NewMemoryStore(), prices, c, clk, nil,
		lending.WithJournal(events),
		lending.WithMetrics(metrics.NewLedgerMetrics(reg)))
	require.NoError(t, err)

	srv := NewServer("", engine, nil,
		WithEvents(events),
		WithFaucet(c),
		WithGatherer(reg),
		WithPollInterval(10*time.Millisecond))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func call(t *testing.T, ts *httptest.Server, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func bankBody(asset string) map[string]string {
	return map[string]string{
		"authority":              "admin",
		"asset":                  asset,
		"max_ltv":                "0.5",
		"liquidate_threshold":    "0.8",
		"liquidate_bonus":        "0.05",
		"liquidate_close_factor": "0.5",
	}
}

func bootstrap(t *testing.T, ts *httptest.Server) {
	t.Helper()
	for _, asset := range []string{"SOL", "USDC"} {
		status, body := call(t, ts, http.MethodPost, "/banks", bankBody(asset))
		require.Equal(t, http.StatusCreated, status, body)
	}
	for _, owner := range []string{"alice", "bob"} {
		status, body := call(t, ts, http.MethodPost, "/users", map[string]string{"owner": owner})
		require.Equal(t, http.StatusCreated, status, body)
	}
	status, body := call(t, ts, http.MethodPost, "/faucet", map[string]any{"account": "alice", "asset": "usdc", "amount": 1000})
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 1000, body["balance"])

	status, body = call(t, ts, http.MethodPost, "/faucet", map[string]any{"account": "bob", "asset": "SOL", "amount": 1000})
	require.Equal(t, http.StatusOK, status, body)
}

func TestServer_LedgerFlow(t *testing.T) {
	ts := newTestServer(t)
	bootstrap(t, ts)

	status, body := call(t, ts, http.MethodPost, "/deposit", map[string]any{"owner": "alice", "asset": "USDC", "amount": 1000})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "1000", body["shares_delta"])
	assert.Equal(t, "deposit", body["op"])

	status, body = call(t, ts, http.MethodPost, "/deposit", map[string]any{"owner": "bob", "asset": "SOL", "amount": 1000})
	require.Equal(t, http.StatusOK, status, body)

	status, body = call(t, ts, http.MethodPost, "/borrow", map[string]any{
		"owner": "alice", "collateral": "USDC", "asset": "SOL", "value": "400",
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 400, body["amount"])
	assert.Equal(t, "400", body["value"])

	status, body = call(t, ts, http.MethodGet, "/users/alice", nil)
	require.Equal(t, http.StatusOK, status, body)
	assets, ok := body["assets"].([]any)
	require.True(t, ok)
	assert.Len(t, assets, 2)

	status, body = call(t, ts, http.MethodGet, "/users/alice/health", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "2", body["health_factor"])
	assert.Equal(t, false, body["liquidatable"])

	status, body = call(t, ts, http.MethodPost, "/repay", map[string]any{"owner": "alice", "asset": "SOL", "amount": 400})
	require.Equal(t, http.StatusOK, status, body)

	status, body = call(t, ts, http.MethodGet, "/users/alice/health", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "infinite", body["health_factor"])

	status, body = call(t, ts, http.MethodPost, "/withdraw", map[string]any{"owner": "alice", "asset": "USDC", "amount": 1000})
	require.Equal(t, http.StatusOK, status, body)

	status, body = call(t, ts, http.MethodGet, "/banks/usdc", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 0, body["total_deposited_amount"])
	assert.Equal(t, "0", body["total_deposited_shares"])
}

func TestServer_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	bootstrap(t, ts)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{"duplicate bank", http.MethodPost, "/banks", bankBody("SOL"), http.StatusConflict, "policy"},
		{"duplicate user", http.MethodPost, "/users", map[string]string{"owner": "alice"}, http.StatusConflict, "policy"},
		{"unknown asset", http.MethodGet, "/banks/BTC", nil, http.StatusBadRequest, "validation"},
		{"unknown user", http.MethodGet, "/users/mallory", nil, http.StatusNotFound, "not_found"},
		{"zero deposit", http.MethodPost, "/deposit", map[string]any{"owner": "alice", "asset": "USDC", "amount": 0},
			http.StatusBadRequest, "validation"},
		{"same asset borrow", http.MethodPost, "/borrow",
			map[string]any{"owner": "alice", "collateral": "SOL", "asset": "SOL", "value": "1"},
			http.StatusBadRequest, "validation"},
		{"bad borrow value", http.MethodPost, "/borrow",
			map[string]any{"owner": "alice", "collateral": "USDC", "asset": "SOL", "value": "lots"},
			http.StatusBadRequest, "validation"},
		{"no collateral", http.MethodPost, "/borrow",
			map[string]any{"owner": "alice", "collateral": "USDC", "asset": "SOL", "value": "1"},
			http.StatusConflict, "policy"},
		{"nothing to repay", http.MethodPost, "/repay", map[string]any{"owner": "alice", "asset": "SOL", "amount": 1},
			http.StatusConflict, "policy"},
		{"custody overdraft", http.MethodPost, "/deposit", map[string]any{"owner": "alice", "asset": "USDC", "amount": 5000},
			http.StatusBadGateway, "collaborator"},
		{"unknown field", http.MethodPost, "/users", map[string]string{"owner": "carol", "role": "admin"},
			http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := call(t, ts, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, status, body)
			assert.NotEmpty(t, body["error"])
			if tt.kind != "" {
				assert.Equal(t, tt.kind, body["kind"])
			}
		})
	}
}

func TestServer_BodyLimit(t *testing.T) {
	ts := newTestServer(t)

	huge := `{"owner":"` + strings.Repeat("a", requestLimit+1) + `"}`
	resp, err := ts.Client().Post(ts.URL+"/users", "application/json", strings.NewReader(huge))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestServer_FaucetDisabled(t *testing.T) {
	srv := NewServer("", nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	status, body := call(t, ts, http.MethodPost, "/faucet", map[string]any{"account": "alice", "asset": "SOL", "amount": 1})
	assert.Equal(t, http.StatusNotFound, status)
	assert.NotEmpty(t, body["error"])

	resp, err := ts.Client().Get(ts.URL + "/events/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t)
	bootstrap(t, ts)

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `lendpool_operations_total{op="create_bank",result="ok"} 2`)
	assert.Contains(t, string(raw), "lendpool_bank_total")
}

func TestServer_EventStream(t *testing.T) {
	ts := newTestServer(t)
	bootstrap(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events/stream?after=2", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	status, body := call(t, ts, http.MethodPost, "/deposit", map[string]any{"owner": "alice", "asset": "USDC", "amount": 10})
	require.Equal(t, http.StatusOK, status, body)

	var ops []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && len(ops) < 3 {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event domain.LedgerEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		ops = append(ops, string(event.Op))
	}

	// the two bank events are skipped by ?after=2
	assert.Equal(t, []string{"create_user", "create_user", "deposit"}, ops)
}

func TestServer_EventStreamFiltersOps(t *testing.T) {
	ts := newTestServer(t)
	bootstrap(t, ts)

	resp, err := ts.Client().Get(ts.URL + "/events/stream?op=liquidate")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events/stream?op=deposit", nil)
	require.NoError(t, err)
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	status, body := call(t, ts, http.MethodPost, "/deposit", map[string]any{"owner": "alice", "asset": "USDC", "amount": 10})
	require.Equal(t, http.StatusOK, status, body)

	scanner := bufio.NewScanner(resp.Body)
	var event domain.LedgerEvent
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
			break
		}
	}

	// bank and user events are filtered out
	assert.Equal(t, domain.OpDeposit, event.Op)
	assert.Equal(t, uint64(10), event.Amount)
}
