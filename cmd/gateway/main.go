package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/wudi/apigate/internal/config"
	"github.com/wudi/apigate/internal/gateway"
	"github.com/wudi/apigate/internal/logging"
	"github.com/wudi/apigate/internal/provider"

	_ "github.com/wudi/apigate/internal/plugins"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <config-file>\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}
	configPath := os.Args[1]

	logging.Setup()
	defer logging.Sync()

	logging.Info("load configuration file", zap.String("path", configPath))

	data, err := os.ReadFile(configPath)
	if err != nil {
		logging.Error("failed to read the configuration file", zap.Error(err))
		os.Exit(1)
	}
	cfg, err := config.ParseGatewayConfig(data)
	if err != nil {
		logging.Error("invalid configuration file", zap.Error(err))
		os.Exit(1)
	}

	prov, err := provider.Build(cfg.Provider, filepath.Dir(configPath))
	if err != nil {
		logging.Error("failed to create the configuration provider", zap.Error(err))
		os.Exit(1)
	}

	// The admin plane is compiled once at startup and served statically.
	adminCompiled, err := gateway.Compile(&cfg.Admin)
	if err != nil {
		logging.Error("invalid admin configuration", zap.Error(err))
		os.Exit(1)
	}
	adminListeners := make([]net.Listener, 0, len(cfg.Admin.Listeners))
	for _, spec := range cfg.Admin.Listeners {
		ln, err := spec.Build()
		if err != nil {
			logging.Error("failed to bind admin listener", zap.Error(err))
			os.Exit(1)
		}
		adminListeners = append(adminListeners, ln)
	}
	admin := gateway.NewDataPlane(adminCompiled, adminListeners)
	admin.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := gateway.NewController(prov)
	if err := ctrl.Run(ctx); err != nil {
		logging.Error("controller error", zap.Error(err))
		os.Exit(1)
	}
}
