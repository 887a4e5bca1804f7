package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/engine"
	"github.com/alanyoungcy/parimutuel/internal/server/handler"
	"github.com/alanyoungcy/parimutuel/internal/server/ws"
	"github.com/alanyoungcy/parimutuel/internal/service"
	"github.com/alanyoungcy/parimutuel/internal/store/memstore"
)

const apiKey = "secret"

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	*httptest.Server
	bus *memstore.SignalBus
	hub *ws.Hub
}

func newTestServer(t *testing.T, rateLimit int) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := memstore.NewSignalBus(100)
	audit := memstore.NewAuditStore()
	pub := service.NewEventPublisher(bus, audit, nil, nil, nil, 256, logger)

	var n atomic.Int64
	eng := engine.New(engine.Config{}, memstore.NewJournal(), logger,
		engine.WithClock(func() time.Time { return t0 }),
		engine.WithIDs(func() string { return fmt.Sprintf("id-%d", n.Add(1)) }),
		engine.WithObserver(pub.Observe),
	)
	svc := service.NewMarketService(eng, nil, nil, nil, service.MarketServiceConfig{}, logger)
	amounts := handler.Amounts{Decimals: 2}

	hub := ws.NewHub(bus, logger, ws.Config{Mode: "server"})
	srv := NewServer(Config{
		APIKey:     apiKey,
		RateLimit:  rateLimit,
		RateWindow: time.Minute,
	}, Handlers{
		Health:     handler.NewHealthHandler(nil, logger),
		Markets:    handler.NewMarketHandler(svc, amounts, logger),
		Bets:       handler.NewBetHandler(svc, amounts, logger),
		Settlement: handler.NewSettlementHandler(svc, amounts, logger),
		Audit:      handler.NewAuditHandler(audit, nil, logger),
	}, hub, memstore.NewRateLimiter(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	go pub.Run(ctx)
	go hub.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return &testServer{Server: ts, bus: bus, hub: hub}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestAPI_MarketLifecycle(t *testing.T) {
	ts := newTestServer(t, 0)

	code, m := ts.do(t, http.MethodPost, "/api/markets", map[string]any{
		"title":    "Final",
		"outcomes": []string{"A", "B"},
		"deadline": t0.Add(time.Hour).Format(time.RFC3339),
	})
	if code != http.StatusCreated {
		t.Fatalf("create market = %d %v", code, m)
	}
	id := m["id"].(string)
	base := "/api/markets/" + id

	for _, b := range []map[string]any{
		{"participant": "P1", "outcome": "A", "amount": 5000},
		{"participant": "P2", "outcome": "A", "amount": 3000},
		{"participant": "P3", "outcome": "B", "amount": 2000},
	} {
		if code, body := ts.do(t, http.MethodPost, base+"/bets", b); code != http.StatusCreated {
			t.Fatalf("place bet = %d %v", code, body)
		}
	}

	code, outs := ts.do(t, http.MethodGet, base+"/outcomes", nil)
	if code != http.StatusOK || outs["staked_display"] != "100.00" {
		t.Fatalf("outcomes = %d %v", code, outs)
	}
	first := outs["outcomes"].([]any)[0].(map[string]any)
	if first["share"] != "0.8000" {
		t.Fatalf("share of A = %v", first["share"])
	}

	if code, _ := ts.do(t, http.MethodPost, base+"/lock", nil); code != http.StatusOK {
		t.Fatalf("lock = %d", code)
	}
	if code, body := ts.do(t, http.MethodPost, base+"/bets", map[string]any{"participant": "P4", "outcome": "A", "amount": 1}); code != http.StatusConflict {
		t.Fatalf("late bet = %d %v", code, body)
	}
	if code, _ := ts.do(t, http.MethodPost, base+"/resolve", map[string]any{"outcome": "Z"}); code != http.StatusUnprocessableEntity {
		t.Fatalf("resolve unknown outcome = %d", code)
	}
	if code, _ := ts.do(t, http.MethodPost, base+"/resolve", map[string]any{"outcome": "A"}); code != http.StatusOK {
		t.Fatalf("resolve = %d", code)
	}

	code, st := ts.do(t, http.MethodPost, base+"/settle", nil)
	if code != http.StatusOK {
		t.Fatalf("settle = %d %v", code, st)
	}
	ents := st["settlement"].(map[string]any)["entitlements"].(map[string]any)
	if ents["P1"].(float64) != 6250 || ents["P2"].(float64) != 3750 {
		t.Fatalf("entitlements = %v", ents)
	}

	code, w := ts.do(t, http.MethodPost, base+"/withdrawals", map[string]any{"participant": "P2"})
	if code != http.StatusOK || w["entry"].(map[string]any)["amount"].(float64) != 3750 {
		t.Fatalf("withdraw = %d %v", code, w)
	}
	code, e := ts.do(t, http.MethodGet, base+"/entitlements/P2", nil)
	if code != http.StatusOK || e["remaining"].(float64) != 0 {
		t.Fatalf("entitlement = %d %v", code, e)
	}
	if code, _ := ts.do(t, http.MethodPost, base+"/withdrawals", map[string]any{"participant": "P2"}); code != http.StatusConflict {
		t.Fatalf("second withdraw = %d", code)
	}

	code, list := ts.do(t, http.MethodGet, "/api/markets?state=settled", nil)
	if code != http.StatusOK || list["total"].(float64) != 1 {
		t.Fatalf("list settled = %d %v", code, list)
	}
	code, ledger := ts.do(t, http.MethodGet, base+"/ledger", nil)
	if code != http.StatusOK || len(ledger["entries"].([]any)) != 4 {
		t.Fatalf("ledger = %d %v", code, ledger)
	}
}

func TestAPI_Errors(t *testing.T) {
	ts := newTestServer(t, 0)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown market", http.MethodGet, "/api/markets/nope", nil, http.StatusNotFound},
		{"bad state filter", http.MethodGet, "/api/markets?state=nope", nil, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/markets", map[string]any{"bogus": 1}, http.StatusBadRequest},
		{"invalid market", http.MethodPost, "/api/markets", map[string]any{"outcomes": []string{"A"}, "deadline": t0.Add(time.Hour)}, http.StatusUnprocessableEntity},
		{"void without reason", http.MethodPost, "/api/markets/x/void", map[string]any{}, http.StatusBadRequest},
		{"archives not configured", http.MethodGet, "/api/archives", nil, http.StatusServiceUnavailable},
		{"bad audit since", http.MethodGet, "/api/audit?since=yesterday", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, body := ts.do(t, tt.method, tt.path, tt.body); code != tt.want {
				t.Fatalf("status = %d, want %d (%v)", code, tt.want, body)
			}
		})
	}
}

func TestAPI_AuthAndRateLimit(t *testing.T) {
	ts := newTestServer(t, 2)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health without key = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}

	resp, err = http.Get(ts.URL + "/api/markets")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("markets without key = %d", resp.StatusCode)
	}

	// Health was the first request counted.
	if code, _ := ts.do(t, http.MethodGet, "/api/markets", nil); code != http.StatusOK {
		t.Fatalf("second request = %d", code)
	}
	if code, _ := ts.do(t, http.MethodGet, "/api/markets", nil); code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", code)
	}
}

func TestWS_StreamsMarketEvents(t *testing.T) {
	ts := newTestServer(t, 0)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-API-Key": []string{apiKey}})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello map[string]any
	if err := conn.ReadJSON(&hello); err != nil || hello["type"] != "hello" {
		t.Fatalf("hello = %v, %v", hello, err)
	}

	code, m := ts.do(t, http.MethodPost, "/api/markets", map[string]any{
		"outcomes": []string{"A", "B"},
		"deadline": t0.Add(time.Hour),
	})
	if code != http.StatusCreated {
		t.Fatalf("create = %d", code)
	}

	var msg domain.EventMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Event.Kind != domain.EventMarketCreated || msg.Market.ID != m["id"] {
		t.Fatalf("ws message = %+v", msg)
	}
}
