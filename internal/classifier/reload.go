package classifier

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// LoadFile reads and parses a YAML rule configuration.
func LoadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// StartWatch reloads the rule file into the holder whenever it changes.
// A rule file that fails to parse or compile keeps the previous snapshot
// active; readers never observe a broken rule set. Returns after installing
// the watch; reloads happen on a background goroutine until ctx is done.
func StartWatch(ctx context.Context, path string, holder *Holder, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("classifier.watch.create_failed", "error", err)
		return err
	}
	// Watch the directory; editors replace files via rename, which drops a
	// watch installed on the file itself.
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		logger.Error("classifier.watch.add_failed", "dir", dir, "error", err)
		return err
	}
	target := filepath.Clean(path)

	go func() {
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("classifier.watch.close_error", "error", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case e, open := <-w.Events:
				if !open {
					return
				}
				if filepath.Clean(e.Name) != target {
					continue
				}
				if e.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				reload(path, holder, logger)
			case err, open := <-w.Errors:
				if !open {
					return
				}
				logger.Warn("classifier.watch.error", "error", err)
			}
		}
	}()
	logger.Info("classifier.watch.started", "path", path)
	return nil
}

func reload(path string, holder *Holder, logger *slog.Logger) {
	cfg, err := LoadFile(path)
	if err != nil {
		logger.Error("classifier.reload.read_failed", "path", path, "error", err)
		return
	}
	rs, err := Compile(cfg)
	if err != nil {
		logger.Error("classifier.reload.compile_failed", "path", path, "error", err)
		return
	}
	holder.Swap(rs)
	logger.Info("classifier.reload.ok",
		"path", path,
		"status_fields", rs.StatusFields(),
		"batch_enabled", rs.BatchEnabled(),
	)
}
