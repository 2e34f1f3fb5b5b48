package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/chronochain/internal/api"
	"github.com/jmerrifield20/chronochain/internal/chain"
	"github.com/jmerrifield20/chronochain/internal/config"
	"github.com/jmerrifield20/chronochain/internal/ledger"
	"github.com/jmerrifield20/chronochain/internal/validator"
	"go.uber.org/zap"
)

var ctx = context.Background()

// base is 2024-01-01T00:00:00Z in milliseconds.
const base = int64(1_704_067_200_000)

func newLedger(t *testing.T, payloads ...string) *ledger.Ledger {
	t.Helper()
	ts := base
	l := ledger.New(nil, zap.NewNop(), ledger.WithChainOptions(chain.WithClock(func() int64 {
		ts += int64(24 * time.Hour / time.Millisecond)
		return ts
	})))
	if err := l.Create(ctx); err != nil {
		t.Fatal(err)
	}
	for _, p := range payloads {
		if _, err := l.Append(ctx, []byte(p)); err != nil {
			t.Fatal(err)
		}
	}
	return l
}

func setupRouter(t *testing.T, l api.Ledger, cfg config.ServerConfig) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return api.NewRouter(l, cfg, zap.NewNop())
}

func get(t *testing.T, router *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestLedgerOverview_200(t *testing.T) {
	l := newLedger(t, "a", "b")
	router := setupRouter(t, l, config.ServerConfig{})

	w, resp := get(t, router, "/api/v1/ledger")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if int(resp["length"].(float64)) != 2 {
		t.Errorf("expected length 2, got %v", resp["length"])
	}
	if resp["algorithm"] != "sha256" {
		t.Errorf("algorithm: got %v", resp["algorithm"])
	}
	if resp["id"] != l.ID().String() {
		t.Errorf("id: got %v, want %s", resp["id"], l.ID())
	}
}

func TestLedgerVerify_200(t *testing.T) {
	router := setupRouter(t, newLedger(t, "a"), config.ServerConfig{})

	w, resp := get(t, router, "/api/v1/ledger/verify")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["valid"] != true {
		t.Errorf("expected valid=true, got %v", resp["valid"])
	}
}

type brokenLedger struct{ api.Ledger }

func (brokenLedger) Validate(context.Context) (validator.Result, error) {
	return validator.Result{
		Length:  3,
		Checked: 2,
		Failure: &validator.Error{Index: 1, Reason: validator.DigestMismatch, Expected: "aa", Found: "bb"},
	}, nil
}

func TestLedgerVerify_reportsFailure(t *testing.T) {
	router := setupRouter(t, brokenLedger{newLedger(t)}, config.ServerConfig{})

	w, resp := get(t, router, "/api/v1/ledger/verify")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp["valid"] != false {
		t.Errorf("expected valid=false, got %v", resp["valid"])
	}
	failure, _ := resp["failure"].(map[string]any)
	if failure["reason"] != "digest_mismatch" || int(failure["index"].(float64)) != 1 {
		t.Errorf("failure: got %v", failure)
	}
}

func TestLedgerGetBlock_200(t *testing.T) {
	router := setupRouter(t, newLedger(t, "a", "b"), config.ServerConfig{})

	w, resp := get(t, router, "/api/v1/ledger/blocks/1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if int(resp["index"].(float64)) != 1 {
		t.Errorf("index: got %v", resp["index"])
	}
	// []byte payloads are base64 in JSON: "b" -> "Yg==".
	if resp["payload"] != "Yg==" {
		t.Errorf("payload: got %v", resp["payload"])
	}
}

func TestLedgerGetBlock_404(t *testing.T) {
	router := setupRouter(t, newLedger(t), config.ServerConfig{})

	w, _ := get(t, router, "/api/v1/ledger/blocks/0")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestLedgerGetBlock_400_invalidIdx(t *testing.T) {
	router := setupRouter(t, newLedger(t), config.ServerConfig{})

	for _, idx := range []string{"abc", "-1"} {
		w, _ := get(t, router, "/api/v1/ledger/blocks/"+idx)
		if w.Code != http.StatusBadRequest {
			t.Errorf("idx %q: expected 400, got %d", idx, w.Code)
		}
	}
}

func TestLedgerGetBlockByDigest(t *testing.T) {
	l := newLedger(t, "a", "b")
	router := setupRouter(t, l, config.ServerConfig{})
	b1, err := l.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}

	w, resp := get(t, router, "/api/v1/ledger/blocks/by-digest/"+b1.Digest().String())
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if int(resp["index"].(float64)) != 1 || resp["digest"] != b1.Digest().String() {
		t.Errorf("by-digest: got %v", resp)
	}

	w, _ = get(t, router, "/api/v1/ledger/blocks/by-digest/"+strings.Repeat("0", 64))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown digest: expected 404, got %d", w.Code)
	}

	w, _ = get(t, router, "/api/v1/ledger/blocks/by-digest/xyz")
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed digest: expected 400, got %d", w.Code)
	}

	// Numeric lookups still reach the index route.
	w, _ = get(t, router, "/api/v1/ledger/blocks/0")
	if w.Code != http.StatusOK {
		t.Errorf("blocks/0: expected 200, got %d", w.Code)
	}
}

func TestLedgerListBlocks(t *testing.T) {
	// Blocks are stamped 2024-01-02, 01-03, 01-04.
	router := setupRouter(t, newLedger(t, "a", "b", "c"), config.ServerConfig{})

	w, resp := get(t, router, "/api/v1/ledger/blocks?since=2024-01-02T12:00:00Z&until=2024-01-04T06:00:00Z")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if int(resp["count"].(float64)) != 2 {
		t.Errorf("count: got %v, want 2", resp["count"])
	}

	w, resp = get(t, router, "/api/v1/ledger/blocks")
	if w.Code != http.StatusOK || int(resp["count"].(float64)) != 3 {
		t.Errorf("unbounded list: code %d count %v", w.Code, resp["count"])
	}

	w, _ = get(t, router, "/api/v1/ledger/blocks?since=not-a-date")
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid since: expected 400, got %d", w.Code)
	}
}

func TestLedger_closedIs503(t *testing.T) {
	l := newLedger(t, "a")
	if err := l.Close(ctx); err != nil {
		t.Fatal(err)
	}
	router := setupRouter(t, l, config.ServerConfig{})

	for _, path := range []string{"/api/v1/ledger", "/api/v1/ledger/verify", "/api/v1/ledger/blocks/0"} {
		w, _ := get(t, router, path)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, w.Code)
		}
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	router := setupRouter(t, newLedger(t), config.ServerConfig{CORSOrigins: []string{"*"}})

	w, resp := get(t, router, "/healthz")
	if w.Code != http.StatusOK || resp["status"] != "ok" {
		t.Errorf("healthz: %d %v", w.Code, resp)
	}

	body := scrape(t, router)
	if !strings.Contains(body, `chronochain_http_requests_total{driver="memory",method="GET",path="/healthz",status="200"}`) {
		t.Errorf("metrics: missing healthz request counter:\n%s", body)
	}
}

func scrape(t *testing.T, router *gin.Engine) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
	return rec.Body.String()
}

func TestRateLimiter_429(t *testing.T) {
	router := setupRouter(t, newLedger(t), config.ServerConfig{RateLimitRPS: 1})

	var limited bool
	for i := 0; i < 10; i++ {
		w, _ := get(t, router, "/healthz")
		if w.Code == http.StatusTooManyRequests {
			limited = true
			if w.Header().Get("Retry-After") != "1" {
				t.Error("missing Retry-After header")
			}
			break
		}
	}
	if !limited {
		t.Error("expected a 429 after exceeding the burst")
	}

	unlimited := setupRouter(t, newLedger(t), config.ServerConfig{})
	if body := scrape(t, unlimited); !strings.Contains(body, `chronochain_http_rate_limited_total{path="/healthz"}`) {
		t.Errorf("metrics: missing rate-limited counter:\n%s", body)
	}
}

var _ api.Ledger = (*ledger.Ledger)(nil)
