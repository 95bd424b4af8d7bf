package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// LoadDir registers every *.yaml / *.yml template in dir. Templates with a
// type that already exists replace the previous entry. A missing directory
// is not an error.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read template dir %s: %w", dir, err)
	}

	n := 0
	for _, e := range entries {
		if e.IsDir() || !isTemplateFile(e.Name()) {
			continue
		}
		if err := r.LoadFile(filepath.Join(dir, e.Name())); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// LoadFile parses and registers a single YAML template.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read template %s: %w", path, err)
	}
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("parse template %s: %w", path, err)
	}
	if t.Type == "" {
		t.Type = AgentType(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	}
	if err := r.Register(t); err != nil {
		return fmt.Errorf("register template %s: %w", path, err)
	}
	return nil
}

// Watch re-registers templates in dir whenever a file is created or written,
// until ctx is done. Removing a file does not unregister its template.
func (r *Registry) Watch(ctx context.Context, dir string, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isTemplateFile(event.Name) || !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				if err := r.LoadFile(event.Name); err != nil {
					logger.Warn("template reload failed", zap.String("file", event.Name), zap.Error(err))
					continue
				}
				logger.Info("template reloaded", zap.String("file", event.Name))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("template watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func isTemplateFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
