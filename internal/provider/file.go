package provider

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wudi/apigate/internal/config"
	"github.com/wudi/apigate/internal/logging"
)

func init() {
	Register("file", func() Config { return new(FileConfig) })
}

// FileConfig reads snapshots from a YAML or JSON file on disk.
type FileConfig struct {
	Path string `json:"path"`
}

// Create resolves the path against the config root and builds the
// provider.
func (c *FileConfig) Create(configRoot string) (Provider, error) {
	path := c.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(configRoot, path)
	}
	return &fileProvider{path: path}, nil
}

// fileProvider watches one snapshot file. It emits only when the file
// content actually changed; an invalid snapshot is logged and skipped so
// the data-plane keeps serving the previous one.
type fileProvider struct {
	unsupported
	path string
}

func (p *fileProvider) Watch(ctx context.Context) (<-chan config.ProxyConfig, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files rather than write them
	// in place.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return nil, err
	}

	logging.Info("watch the configuration file", zap.String("path", p.path))

	out := make(chan config.ProxyConfig)
	go func() {
		defer close(out)
		defer watcher.Close()

		var current []byte
		emit := func() {
			data, err := os.ReadFile(p.path)
			if err != nil || len(data) == 0 {
				return
			}
			if bytes.Equal(data, current) {
				return
			}
			current = data
			cfg, err := config.ParseProxyConfig(data)
			if err != nil {
				logging.Error("invalid configuration file",
					zap.String("path", p.path),
					zap.Error(err),
				)
				return
			}
			logging.Info("configuration file changed", zap.String("path", p.path))
			select {
			case out <- *cfg:
			case <-ctx.Done():
			}
		}

		emit()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filepath.Base(p.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				emit()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Error("config watcher error", zap.Error(err))
			}
		}
	}()

	return out, nil
}
