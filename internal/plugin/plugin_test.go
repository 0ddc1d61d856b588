package plugin

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// tracePlugin appends markers around the chain walk.
type tracePlugin struct {
	name     string
	priority int
	trace    *[]string
	shortRes string // when set, short-circuit with this body
}

func (p *tracePlugin) Priority() int { return p.priority }

func (p *tracePlugin) Call(w http.ResponseWriter, r *http.Request, ctx *Context, next Next) {
	*p.trace = append(*p.trace, p.name+":pre")
	if p.shortRes != "" {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(p.shortRes))
		return
	}
	next.Call(w, r, ctx)
	*p.trace = append(*p.trace, p.name+":post")
}

func TestChainWalksInOrder(t *testing.T) {
	var trace []string
	chain := []Plugin{
		&tracePlugin{name: "a", trace: &trace},
		&tracePlugin{name: "b", trace: &trace},
	}
	endpoint := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		trace = append(trace, "endpoint")
		w.WriteHeader(http.StatusOK)
	})

	r := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	NewNext(chain, endpoint).Call(w, r, NewContext(r))

	want := []string{"a:pre", "b:pre", "endpoint", "b:post", "a:post"}
	if fmt.Sprint(trace) != fmt.Sprint(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
}

func TestChainShortCircuit(t *testing.T) {
	var trace []string
	chain := []Plugin{
		&tracePlugin{name: "a", trace: &trace},
		&tracePlugin{name: "b", trace: &trace, shortRes: "stopped"},
		&tracePlugin{name: "c", trace: &trace},
	}
	endpointHit := false
	endpoint := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpointHit = true
	})

	r := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	NewNext(chain, endpoint).Call(w, r, NewContext(r))

	if endpointHit {
		t.Fatal("endpoint should not run after short-circuit")
	}
	if w.Code != http.StatusTeapot || w.Body.String() != "stopped" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
	want := []string{"a:pre", "b:pre", "a:post"}
	if fmt.Sprint(trace) != fmt.Sprint(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
}

func TestEmptyChainCallsEndpoint(t *testing.T) {
	endpointHit := false
	endpoint := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpointHit = true
	})

	r := httptest.NewRequest("GET", "/", nil)
	NewNext(nil, endpoint).Call(httptest.NewRecorder(), r, NewContext(r))

	if !endpointHit {
		t.Fatal("endpoint not reached")
	}
}

func TestSortByPriorityStable(t *testing.T) {
	var trace []string
	mk := func(name string, prio int) Plugin {
		return &tracePlugin{name: name, priority: prio, trace: &trace}
	}

	chain := []Plugin{mk("low1", 0), mk("high1", 1000), mk("low2", 0), mk("high2", 1000)}
	SortByPriority(chain)

	var order []string
	for _, p := range chain {
		order = append(order, p.(*tracePlugin).name)
	}
	want := []string{"high1", "high2", "low1", "low2"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestContextSeedsRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:4567"

	ctx := NewContext(r)
	if got := ctx.GetString("remoteAddr"); got != "10.1.2.3" {
		t.Fatalf("remoteAddr = %q", got)
	}

	ctx.SetConsumer("alice")
	if ctx.ConsumerName != "alice" {
		t.Fatalf("ConsumerName = %q", ctx.ConsumerName)
	}
	if got := ctx.GetString("consumerName"); got != "alice" {
		t.Fatalf("consumerName var = %q", got)
	}
}

func TestResponseRecorder(t *testing.T) {
	rec := NewRecorder()
	rec.Header().Set("X-Test", "1")
	rec.WriteHeader(http.StatusAccepted)
	rec.WriteHeader(http.StatusTeapot) // ignored
	rec.Write([]byte("body"))

	if rec.Status() != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Status())
	}
	if string(rec.Body()) != "body" {
		t.Fatalf("body = %q", rec.Body())
	}

	w := httptest.NewRecorder()
	rec.WriteTo(w)
	if w.Code != http.StatusAccepted || w.Body.String() != "body" || w.Header().Get("X-Test") != "1" {
		t.Fatalf("flushed %d %q %q", w.Code, w.Body.String(), w.Header().Get("X-Test"))
	}
}
