package tagged

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeCapturesTypeAndRaw(t *testing.T) {
	f, err := Decode([]byte(`{"type":"tcp","bind":"0.0.0.0:80"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Type != "tcp" {
		t.Fatalf("Type = %q", f.Type)
	}

	out, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(out) != `{"type":"tcp","bind":"0.0.0.0:80"}` {
		t.Fatalf("round trip = %s", out)
	}
}

func TestDecodeMissingType(t *testing.T) {
	if _, err := Decode([]byte(`{"bind":"x"}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestDecodeYAML(t *testing.T) {
	f, err := DecodeYAML([]byte("type: redis\nhost: localhost\nport: 6379\n"))
	if err != nil {
		t.Fatalf("DecodeYAML: %v", err)
	}
	if f.Type != "redis" {
		t.Fatalf("Type = %q", f.Type)
	}
	if !strings.Contains(string(f.Raw), `"port"`) {
		t.Fatalf("Raw = %s", f.Raw)
	}
}

type fakeConfig struct {
	Bind string `json:"bind"`
}

type fakeIface interface{ bind() string }

func (c *fakeConfig) bind() string { return c.Bind }

func TestRegistryBuild(t *testing.T) {
	reg := NewRegistry[fakeIface]("fake")
	reg.Register("tcp", func() fakeIface { return new(fakeConfig) })

	f, _ := Decode([]byte(`{"type":"tcp","bind":":80"}`))
	v, err := Build(reg, f)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if v.bind() != ":80" {
		t.Fatalf("bind = %q", v.bind())
	}
}

func TestRegistryUnknownType(t *testing.T) {
	reg := NewRegistry[fakeIface]("fake")

	f, _ := Decode([]byte(`{"type":"udp"}`))
	if _, err := Build(reg, f); err == nil || !strings.Contains(err.Error(), "unknown fake type") {
		t.Fatalf("err = %v", err)
	}
}

func TestFragmentInStruct(t *testing.T) {
	type holder struct {
		Target Fragment `json:"target"`
	}

	var h holder
	if err := json.Unmarshal([]byte(`{"target":{"type":"echo"}}`), &h); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if h.Target.Type != "echo" {
		t.Fatalf("Type = %q", h.Target.Type)
	}

	out, _ := json.Marshal(h)
	if string(out) != `{"target":{"type":"echo"}}` {
		t.Fatalf("round trip = %s", out)
	}
}
