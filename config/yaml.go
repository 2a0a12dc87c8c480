package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// File is a YAML-backed set of client definitions.
//
// The file shape is a map of definitions keyed by client name:
//
//	log_level: info
//	clients:
//	  filesystem:
//	    transport: stdio
//	    command: mcp-fs
//	    args: ["--root", "/srv"]
//	  search:
//	    transport: streamable
//	    url: https://search.example.com/mcp
//	    request_timeout: 8000
type File struct {
	mu          sync.RWMutex
	path        string
	logger      *zap.Logger
	logLevel    string
	definitions map[string]Definition
}

type yamlFile struct {
	LogLevel string                            `yaml:"log_level"`
	Clients  map[string]map[string]interface{} `yaml:"clients"`
}

// LoadFile reads and validates the definitions file.
func LoadFile(path string, logger *zap.Logger) (*File, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &File{
		path:        path,
		logger:      logger,
		definitions: make(map[string]Definition),
	}
	if err := f.Update(); err != nil {
		return nil, err
	}
	return f, nil
}

// Update reloads the file. On parse or validation failure the previous
// definitions stay in effect.
func (f *File) Update() error {
	f.logger.Debug("updating client definitions from YAML file", zap.String("path", f.path))

	data, err := os.ReadFile(f.path)
	if err != nil {
		f.logger.Error("failed to read config file", zap.Error(err))
		return err
	}

	var yamlCfg yamlFile
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		f.logger.Error("failed to parse YAML", zap.Error(err))
		return fmt.Errorf("parse %s: %w", f.path, err)
	}

	newDefinitions := make(map[string]Definition, len(yamlCfg.Clients))
	for name, raw := range yamlCfg.Clients {
		def, err := FromMap(name, raw)
		if err != nil {
			f.logger.Error("invalid client definition", zap.String("client", name), zap.Error(err))
			return fmt.Errorf("client %q: %w", name, err)
		}
		newDefinitions[def.Name] = def
	}

	f.mu.Lock()
	f.logLevel = yamlCfg.LogLevel
	f.definitions = newDefinitions
	f.mu.Unlock()
	return nil
}

// LogLevel returns the configured log level, empty when unset.
func (f *File) LogLevel() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.logLevel
}

// Definition returns one definition by client name.
func (f *File) Definition(name string) (Definition, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	def, ok := f.definitions[name]
	return def, ok
}

// Definitions returns all definitions sorted by name.
func (f *File) Definitions() []Definition {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Definition, 0, len(f.definitions))
	for _, def := range f.definitions {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// watchDebounce batches rapid editor write/rename sequences into one reload.
const watchDebounce = 200 * time.Millisecond

// Watch reloads the file when it changes on disk and reports the new
// definitions to onChange. The containing directory is watched rather than
// the file itself, because editors replace files and a direct watch dies
// with the old inode. Watch blocks until ctx is done.
func (f *File) Watch(ctx context.Context, onChange func([]Definition)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	timer := time.NewTimer(watchDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	target := filepath.Clean(f.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C:
			if err := f.Update(); err != nil {
				f.logger.Warn("config reload failed, keeping previous definitions", zap.Error(err))
				continue
			}
			if onChange != nil {
				onChange(f.Definitions())
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				continue
			}
			f.logger.Warn("config watcher error", zap.Error(err))

		case event, ok := <-watcher.Events:
			if !ok {
				continue
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(watchDebounce)
		}
	}
}
