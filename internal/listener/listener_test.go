package listener

import (
	"encoding/json"
	"net"
	"testing"
)

func TestTCPBind(t *testing.T) {
	var spec Spec
	if err := json.Unmarshal([]byte(`{"type":"tcp","bind":"127.0.0.1:0"}`), &spec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	ln, err := spec.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer ln.Close()

	if _, ok := ln.Addr().(*net.TCPAddr); !ok {
		t.Fatalf("addr = %T", ln.Addr())
	}
}

func TestTCPBindConflict(t *testing.T) {
	first, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	cfg := &TCPConfig{Bind: first.Addr().String()}
	if _, err := cfg.Create(); err == nil {
		t.Fatal("expected bind conflict error")
	}
}

func TestUnknownAcceptorType(t *testing.T) {
	var spec Spec
	if err := json.Unmarshal([]byte(`{"type":"quic"}`), &spec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, err := spec.Build(); err == nil {
		t.Fatal("expected unknown acceptor error")
	}
}

func TestInvalidTLSMaterial(t *testing.T) {
	cfg := &TCPConfig{
		Bind: "127.0.0.1:0",
		TLS:  &TLSConfig{Cert: "not a pem", Key: "not a pem"},
	}
	if _, err := cfg.Create(); err == nil {
		t.Fatal("expected TLS material error")
	}
}
