// Package content loads trivia items from the registered sources enabled
// in a YAML config and hands them to a sink (the memory backend or the
// Postgres seeder).
package content

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mcdev12/trivia/go/internal/content/base"
	_ "github.com/mcdev12/trivia/go/internal/content/flags"
	_ "github.com/mcdev12/trivia/go/internal/content/manual"
	_ "github.com/mcdev12/trivia/go/internal/content/pokemon"
	"github.com/mcdev12/trivia/go/internal/models"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config is the content section of the YAML config file.
type Config struct {
	Content struct {
		EnabledSources []string                     `yaml:"enabled_sources"`
		Sources        map[string]base.SourceConfig `yaml:"sources"`
	} `yaml:"content"`
}

// LoadConfig reads a content config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Batch is the output of one source.
type Batch struct {
	Source   string
	Category string
	Items    []models.Item
}

// Sink stores a batch and reports how many items were new.
type Sink interface {
	StoreBatch(ctx context.Context, batch Batch) (inserted int, err error)
}

// Load initializes and runs every enabled source. A failing source is
// logged and reported in the joined error; the others still load.
func Load(ctx context.Context, cfg *Config) ([]Batch, error) {
	var (
		batches []Batch
		errs    []error
	)
	for _, key := range cfg.Content.EnabledSources {
		if err := base.InitializeSource(key, cfg.Content.Sources[key]); err != nil {
			errs = append(errs, err)
			continue
		}
		src, err := base.GetSource(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items, err := src.FetchItems(ctx)
		if err != nil {
			log.Error().Err(err).Str("source", key).Msg("failed to fetch items")
			errs = append(errs, fmt.Errorf("source %s: %w", key, err))
			continue
		}
		log.Info().Str("source", key).Str("category", src.Category()).Int("items", len(items)).Msg("fetched items")
		batches = append(batches, Batch{Source: key, Category: src.Category(), Items: items})
	}
	return batches, errors.Join(errs...)
}

// Seed loads every enabled source into sink and returns the number of
// items fetched and inserted.
func Seed(ctx context.Context, cfg *Config, sink Sink) (fetched, inserted int, err error) {
	batches, loadErr := Load(ctx, cfg)
	for _, b := range batches {
		n, err := sink.StoreBatch(ctx, b)
		if err != nil {
			return fetched, inserted, fmt.Errorf("store %s: %w", b.Source, err)
		}
		fetched += len(b.Items)
		inserted += n
	}
	return fetched, inserted, loadErr
}
