package base

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mcdev12/trivia/go/internal/models"
)

// Source produces trivia items for one category.
type Source interface {
	Init(cfg SourceConfig) error
	Category() string
	FetchItems(ctx context.Context) ([]models.Item, error)
}

// SourceConfig is the per-source block of the content config.
type SourceConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Category     string        `yaml:"category"`      // overrides the source's category name
	Limit        int           `yaml:"limit"`         // max entities fetched, 0 for all
	PageSize     int           `yaml:"page_size"`     // list page size for paginated APIs
	RequestDelay time.Duration `yaml:"request_delay"` // pause between detail requests
	File         string        `yaml:"file"`          // item file for the manual source
}

var (
	registry   = make(map[string]Source)
	registryMu sync.RWMutex
)

// RegisterSource adds a source implementation under a key.
// It should be called in each source package's init() function.
// The source will be initialized later when retrieved.
func RegisterSource(key string, source Source) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if key == "" {
		return fmt.Errorf("source key cannot be empty")
	}
	if _, exists := registry[key]; exists {
		return fmt.Errorf("source already registered for key %q", key)
	}
	registry[key] = source
	return nil
}

// GetSource retrieves a source by key or returns an error if not found.
func GetSource(key string) (Source, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	source, exists := registry[key]
	if !exists {
		return nil, fmt.Errorf("no content source registered for key %q", key)
	}
	return source, nil
}

// InitializeSource initializes a specific source.
func InitializeSource(key string, cfg SourceConfig) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	source, exists := registry[key]
	if !exists {
		return fmt.Errorf("no content source registered for key %q", key)
	}
	if err := source.Init(cfg); err != nil {
		return fmt.Errorf("failed to init source %q: %w", key, err)
	}
	return nil
}

// Keys lists the registered source keys in order.
func Keys() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
