package endpoint

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestEchoReturnsBody(t *testing.T) {
	ep, err := (&EchoConfig{}).Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	r := httptest.NewRequest("POST", "/", strings.NewReader("HELLO"))
	r.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	ep.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if w.Body.String() != "HELLO" {
		t.Fatalf("body = %q", w.Body.String())
	}
	if w.Header().Get("Content-Type") != "text/plain" {
		t.Fatalf("content type = %q", w.Header().Get("Content-Type"))
	}
}

func TestEchoEmptyBody(t *testing.T) {
	ep, _ := (&EchoConfig{}).Create()

	w := httptest.NewRecorder()
	ep.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusOK || w.Body.Len() != 0 {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
}
