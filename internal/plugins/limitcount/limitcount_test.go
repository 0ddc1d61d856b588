package limitcount

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wudi/apigate/internal/plugin"
)

func intp(v int) *int    { return &v }
func boolp(v bool) *bool { return &v }

func buildPlugin(t *testing.T, cfg *LimitCountConfig) plugin.Plugin {
	t.Helper()
	p, err := cfg.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return p
}

func doRequest(p plugin.Plugin, remoteAddr string, consumer string) *httptest.ResponseRecorder {
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	ctx := plugin.NewContext(r)
	if consumer != "" {
		ctx.SetConsumer(consumer)
	}
	p.Call(w, r, ctx, plugin.NewNext(nil, upstream))
	return w
}

func TestTokensExhaust(t *testing.T) {
	p := buildPlugin(t, &LimitCountConfig{Interval: 60, Refill: intp(2)})

	w := doRequest(p, "1.2.3.4:1000", "")
	if w.Code != http.StatusOK {
		t.Fatalf("first: %d", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "1" {
		t.Fatalf("first remaining = %q", got)
	}

	w = doRequest(p, "1.2.3.4:1000", "")
	if w.Code != http.StatusOK {
		t.Fatalf("second: %d", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("second remaining = %q", got)
	}

	w = doRequest(p, "1.2.3.4:1000", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("third: %d, want 503 (default rejected code)", w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("rejected remaining = %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Fatalf("limit header = %q", got)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	p := buildPlugin(t, &LimitCountConfig{Interval: 60, Refill: intp(1)})

	if w := doRequest(p, "1.1.1.1:1", ""); w.Code != http.StatusOK {
		t.Fatalf("ip1 first: %d", w.Code)
	}
	if w := doRequest(p, "1.1.1.1:1", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("ip1 second: %d", w.Code)
	}
	if w := doRequest(p, "2.2.2.2:1", ""); w.Code != http.StatusOK {
		t.Fatalf("ip2 first: %d (keys must be independent)", w.Code)
	}
}

func TestRefillZeroRejectsAll(t *testing.T) {
	p := buildPlugin(t, &LimitCountConfig{Interval: 60, Refill: intp(0)})

	if w := doRequest(p, "1.2.3.4:1", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", w.Code)
	}
}

func TestRefillAfterInterval(t *testing.T) {
	storage := newMemoryStorage(50*time.Millisecond, 1)

	r := httptest.NewRequest("GET", "/", nil)
	if ok, _, _ := storage.Check(r, "k"); !ok {
		t.Fatal("first check must pass")
	}
	if ok, _, _ := storage.Check(r, "k"); ok {
		t.Fatal("second check must fail")
	}

	time.Sleep(70 * time.Millisecond)
	if ok, _, _ := storage.Check(r, "k"); !ok {
		t.Fatal("check after interval must pass again")
	}
}

func TestRejectedCodeAndMsg(t *testing.T) {
	p := buildPlugin(t, &LimitCountConfig{
		Interval:     60,
		Refill:       intp(0),
		RejectedCode: http.StatusTooManyRequests,
		RejectedMsg:  "slow down",
	})

	w := doRequest(p, "1.2.3.4:1", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("code = %d", w.Code)
	}
	if w.Body.String() != "slow down" {
		t.Fatalf("body = %q", w.Body.String())
	}
}

func TestQuotaHeadersCanBeDisabled(t *testing.T) {
	p := buildPlugin(t, &LimitCountConfig{
		Interval:             60,
		Refill:               intp(1),
		ShowLimitQuotaHeader: boolp(false),
	})

	w := doRequest(p, "1.2.3.4:1", "")
	if w.Header().Get("X-RateLimit-Limit") != "" {
		t.Fatal("quota headers must be suppressed")
	}
}

func TestConsumerNameKey(t *testing.T) {
	p := buildPlugin(t, &LimitCountConfig{Interval: 60, Refill: intp(1), Key: "consumerName"})

	if w := doRequest(p, "1.1.1.1:1", "alice"); w.Code != http.StatusOK {
		t.Fatalf("alice first: %d", w.Code)
	}
	// Different IP, same consumer: still counted against alice
	if w := doRequest(p, "9.9.9.9:1", "alice"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("alice second: %d", w.Code)
	}
	if w := doRequest(p, "1.1.1.1:1", "bob"); w.Code != http.StatusOK {
		t.Fatalf("bob: %d", w.Code)
	}
}

func TestHeaderKeys(t *testing.T) {
	p := buildPlugin(t, &LimitCountConfig{Interval: 60, Refill: intp(1), Key: "xRealIp"})

	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	send := func(realIP string) *httptest.ResponseRecorder {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-Real-Ip", realIP)
		w := httptest.NewRecorder()
		p.Call(w, r, plugin.NewContext(r), plugin.NewNext(nil, upstream))
		return w
	}

	if w := send("7.7.7.7"); w.Code != http.StatusOK {
		t.Fatalf("first: %d", w.Code)
	}
	if w := send("7.7.7.7"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("second: %d", w.Code)
	}
	if w := send("8.8.8.8"); w.Code != http.StatusOK {
		t.Fatalf("other real-ip: %d", w.Code)
	}
}

func TestUnknownKeyRejected(t *testing.T) {
	cfg := &LimitCountConfig{Key: "cookie"}
	if _, err := cfg.Create(); err == nil {
		t.Fatal("expected error for unknown key strategy")
	}
}
