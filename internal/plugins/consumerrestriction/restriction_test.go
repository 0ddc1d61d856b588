package consumerrestriction

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wudi/apigate/internal/plugin"
)

func callWith(t *testing.T, cfg *RestrictionConfig, consumer string) *httptest.ResponseRecorder {
	t.Helper()
	p, err := cfg.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	ctx := plugin.NewContext(r)
	if consumer != "" {
		ctx.SetConsumer(consumer)
	}
	p.Call(w, r, ctx, plugin.NewNext(nil, upstream))
	return w
}

func TestWhitelist(t *testing.T) {
	cfg := &RestrictionConfig{Whitelist: []string{"alice"}}

	if w := callWith(t, cfg, "alice"); w.Code != http.StatusOK {
		t.Fatalf("alice: %d", w.Code)
	}
	if w := callWith(t, cfg, "bob"); w.Code != http.StatusForbidden {
		t.Fatalf("bob: %d, want 403", w.Code)
	}
	if w := callWith(t, cfg, ""); w.Code != http.StatusForbidden {
		t.Fatalf("anonymous: %d, want 403 (whitelist rejects missing name)", w.Code)
	}
}

func TestBlacklist(t *testing.T) {
	cfg := &RestrictionConfig{Blacklist: []string{"mallory"}}

	if w := callWith(t, cfg, "mallory"); w.Code != http.StatusForbidden {
		t.Fatalf("mallory: %d, want 403", w.Code)
	}
	if w := callWith(t, cfg, "alice"); w.Code != http.StatusOK {
		t.Fatalf("alice: %d", w.Code)
	}
	if w := callWith(t, cfg, ""); w.Code != http.StatusOK {
		t.Fatalf("anonymous: %d (blacklist passes missing name)", w.Code)
	}
}

func TestWhitelistWinsOverBlacklist(t *testing.T) {
	cfg := &RestrictionConfig{Whitelist: []string{"alice"}, Blacklist: []string{"alice"}}

	if w := callWith(t, cfg, "alice"); w.Code != http.StatusOK {
		t.Fatalf("alice: %d (whitelist wins)", w.Code)
	}
}

func TestEmptyConfigRejectsAll(t *testing.T) {
	cfg := &RestrictionConfig{}

	if w := callWith(t, cfg, "anyone"); w.Code != http.StatusForbidden {
		t.Fatalf("code = %d, want 403", w.Code)
	}
}

func TestConfiguredRejectedCode(t *testing.T) {
	cfg := &RestrictionConfig{Whitelist: []string{"alice"}, RejectedCode: http.StatusUnauthorized}

	if w := callWith(t, cfg, "bob"); w.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", w.Code)
	}
}
