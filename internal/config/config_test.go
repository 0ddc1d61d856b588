package config

import (
	"encoding/json"
	"testing"
)

const sampleYAML = `
provider:
  type: file
  path: proxy.yaml
admin:
  listeners:
    - type: tcp
      bind: 127.0.0.1:9090
`

func TestParseGatewayConfigYAML(t *testing.T) {
	cfg, err := ParseGatewayConfig([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseGatewayConfig: %v", err)
	}
	if cfg.Provider.Type != "file" {
		t.Fatalf("provider type = %q", cfg.Provider.Type)
	}
	if len(cfg.Admin.Listeners) != 1 || cfg.Admin.Listeners[0].Type != "tcp" {
		t.Fatalf("admin listeners = %+v", cfg.Admin.Listeners)
	}
}

func TestParseGatewayConfigRequiresProvider(t *testing.T) {
	if _, err := ParseGatewayConfig([]byte("admin: {}\n")); err == nil {
		t.Fatal("expected error for missing provider")
	}
}

const proxyYAML = `
consumers:
  - name: alice
    auth:
      type: basic
      username: alice
      password: secret
    filters:
      - type: cidr
        ip: ["10.0.0.0/8"]
routes:
  - path: /api
    host: api.example.com
    service: backend
  - path: /inline
    strip: false
    service:
      target:
        type: echo
services:
  - name: backend
    target:
      type: upstream
      scheme: http
      host: 127.0.0.1:9000
globalPlugins:
  - type: prometheus
`

func TestParseProxyConfig(t *testing.T) {
	cfg, err := ParseProxyConfig([]byte(proxyYAML))
	if err != nil {
		t.Fatalf("ParseProxyConfig: %v", err)
	}

	if !cfg.AnonymousAllowed() {
		t.Fatal("anonymous access defaults to allowed")
	}

	if len(cfg.Consumers) != 1 {
		t.Fatalf("consumers = %d", len(cfg.Consumers))
	}
	alice := cfg.Consumers[0]
	if alice.Name != "alice" || alice.Auth == nil || alice.Auth.Type != "basic" {
		t.Fatalf("consumer = %+v", alice)
	}
	if len(alice.Filters) != 1 || alice.Filters[0].Type != "cidr" {
		t.Fatalf("filters = %+v", alice.Filters)
	}

	if len(cfg.Routes) != 2 {
		t.Fatalf("routes = %d", len(cfg.Routes))
	}

	ref := cfg.Routes[0]
	if !ref.Service.IsReference() || ref.Service.Reference != "backend" {
		t.Fatalf("route 0 service = %+v", ref.Service)
	}
	if !ref.StripEnabled() {
		t.Fatal("strip defaults to true")
	}
	if ref.Host != "api.example.com" {
		t.Fatalf("host = %q", ref.Host)
	}

	inline := cfg.Routes[1]
	if inline.Service.IsReference() {
		t.Fatal("route 1 must be inline")
	}
	if inline.Service.Inline.Target.Type != "echo" {
		t.Fatalf("inline target = %q", inline.Service.Inline.Target.Type)
	}
	if inline.StripEnabled() {
		t.Fatal("strip: false must be honored")
	}

	if len(cfg.Services) != 1 || cfg.Services[0].Target.Type != "upstream" {
		t.Fatalf("services = %+v", cfg.Services)
	}
	if len(cfg.GlobalPlugins) != 1 || cfg.GlobalPlugins[0].Type != "prometheus" {
		t.Fatalf("global plugins = %+v", cfg.GlobalPlugins)
	}
}

func TestProxyConfigJSONRoundTrip(t *testing.T) {
	cfg, err := ParseProxyConfig([]byte(proxyYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	reparsed, err := ParseProxyConfig(data)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	data2, err := json.Marshal(reparsed)
	if err != nil {
		t.Fatalf("remarshal: %v", err)
	}

	if string(data) != string(data2) {
		t.Fatalf("round trip mismatch:\n%s\n%s", data, data2)
	}
}

func TestServiceRefJSON(t *testing.T) {
	var ref ServiceRef
	if err := json.Unmarshal([]byte(`"backend"`), &ref); err != nil {
		t.Fatalf("string ref: %v", err)
	}
	if !ref.IsReference() || ref.Reference != "backend" {
		t.Fatalf("ref = %+v", ref)
	}
	out, _ := json.Marshal(ref)
	if string(out) != `"backend"` {
		t.Fatalf("marshal = %s", out)
	}

	if err := json.Unmarshal([]byte(`{"target":{"type":"echo"}}`), &ref); err != nil {
		t.Fatalf("inline ref: %v", err)
	}
	if ref.IsReference() {
		t.Fatal("expected inline")
	}

	if err := json.Unmarshal([]byte(`42`), &ref); err == nil {
		t.Fatal("expected error for invalid ref")
	}
}

func TestAllowAnonymousFalse(t *testing.T) {
	cfg, err := ParseProxyConfig([]byte(`{"allowAnonymous": false}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AnonymousAllowed() {
		t.Fatal("allowAnonymous: false must disable anonymous access")
	}
}
