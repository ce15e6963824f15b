package definition

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/eleven-am/gantry/internal/domain"
)

// Catalog holds the pipeline definitions a server can trigger by name.
type Catalog struct {
	mu     sync.RWMutex
	defs   map[string]*Definition
	logger *slog.Logger
}

func NewCatalog(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		defs:   make(map[string]*Definition),
		logger: logger.With("component", "pipeline-catalog"),
	}
}

// LoadDir adds every .yaml and .yml file in dir. A missing directory is not
// an error; a malformed file is.
func (c *Catalog) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Warn("pipeline directory does not exist", "dir", dir)
			return nil
		}
		return fmt.Errorf("read pipeline directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		def, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		if err := c.Add(def); err != nil {
			return err
		}
	}
	return nil
}

// Add registers def after checking that its graph builds.
func (c *Catalog) Add(def *Definition) error {
	if _, err := def.Build(); err != nil {
		return fmt.Errorf("pipeline %q: %w", def.Name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.defs[def.Name]; ok {
		return fmt.Errorf("pipeline %q already defined in %s: %w", def.Name, existing.Source, domain.ErrInvalidInput)
	}
	c.defs[def.Name] = def
	c.logger.Info("pipeline registered", "pipeline", def.Name, "source", def.Source)
	return nil
}

func (c *Catalog) Get(name string) (*Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[name]
	if !ok {
		return nil, fmt.Errorf("pipeline %q: %w", name, domain.ErrNotFound)
	}
	return def, nil
}

func (c *Catalog) List() []*Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Definition, 0, len(c.defs))
	for _, def := range c.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
