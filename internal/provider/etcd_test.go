package provider

import (
	"testing"
)

func TestConfigValuesAssembly(t *testing.T) {
	v := newConfigValues("/gw")

	v.add("/gw/resources/services/1", []byte(`{"target":{"type":"echo"}}`))
	v.add("/gw/resources/routes/2", []byte(`{"path":"/a","service":"1"}`))
	v.add("/gw/resources/listeners/3", []byte(`{"type":"tcp","bind":"127.0.0.1:0"}`))
	v.add("/gw/resources/consumers/4", []byte(`{"name":"alice"}`))
	v.add("/gw/resources/globalPlugins/5", []byte(`{"type":"prometheus"}`))
	v.add("/gw/other/ignored", []byte(`{}`))
	v.add("/elsewhere/resources/routes/9", []byte(`{}`))

	cfg, err := v.generateConfig()
	if err != nil {
		t.Fatalf("generateConfig: %v", err)
	}

	if len(cfg.Services) != 1 || cfg.Services[0].Name != "1" {
		t.Fatalf("services = %+v (name must come from the resource id)", cfg.Services)
	}
	if len(cfg.Routes) != 1 || cfg.Routes[0].Service.Reference != "1" {
		t.Fatalf("routes = %+v", cfg.Routes)
	}
	if len(cfg.Listeners) != 1 || len(cfg.Consumers) != 1 || len(cfg.GlobalPlugins) != 1 {
		t.Fatalf("listeners/consumers/globals = %d/%d/%d",
			len(cfg.Listeners), len(cfg.Consumers), len(cfg.GlobalPlugins))
	}
}

func TestConfigValuesRemove(t *testing.T) {
	v := newConfigValues("/gw")
	v.add("/gw/resources/routes/1", []byte(`{"path":"/a","service":"s"}`))
	v.add("/gw/resources/routes/2", []byte(`{"path":"/b","service":"s"}`))

	v.remove("/gw/resources/routes/1")

	cfg, err := v.generateConfig()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Routes) != 1 || cfg.Routes[0].Path != "/b" {
		t.Fatalf("routes = %+v", cfg.Routes)
	}
}

func TestConfigValuesDeterministicOrder(t *testing.T) {
	v := newConfigValues("")
	v.add("/resources/routes/10", []byte(`{"path":"/ten","service":"s"}`))
	v.add("/resources/routes/2", []byte(`{"path":"/two","service":"s"}`))
	v.add("/resources/routes/1", []byte(`{"path":"/one","service":"s"}`))

	cfg, err := v.generateConfig()
	if err != nil {
		t.Fatal(err)
	}

	var paths []string
	for _, r := range cfg.Routes {
		paths = append(paths, r.Path)
	}
	want := []string{"/one", "/two", "/ten"}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("order = %v, want %v (numeric ids sort numerically)", paths, want)
		}
	}
}

func TestConfigValuesInvalidResource(t *testing.T) {
	v := newConfigValues("")
	v.add("/resources/routes/1", []byte(`{invalid json`))

	if _, err := v.generateConfig(); err == nil {
		t.Fatal("expected error for corrupt resource")
	}
}
