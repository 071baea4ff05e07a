package manual

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/mcdev12/trivia/go/clients"
	"github.com/mcdev12/trivia/go/internal/content/base"
	"github.com/mcdev12/trivia/go/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	Key             = "manual"
	DefaultCategory = "General"
)

// File is the YAML layout of a hand-written item file.
type File struct {
	Category string `yaml:"category"`
	Items    []struct {
		ID       string   `yaml:"id"`
		Question string   `yaml:"question"`
		Answers  []string `yaml:"answers"`
		ImageURL string   `yaml:"image_url"`
	} `yaml:"items"`
}

// Source reads items from a YAML file.
type Source struct {
	config base.SourceConfig
	file   File
}

func init() {
	if err := base.RegisterSource(Key, &Source{}); err != nil {
		panic(fmt.Sprintf("Failed to register manual source: %v", err))
	}
}

func (s *Source) Init(cfg base.SourceConfig) error {
	if cfg.File == "" {
		return fmt.Errorf("manual source needs a file")
	}
	data, err := os.ReadFile(cfg.File)
	if err != nil {
		return fmt.Errorf("read %s: %w", cfg.File, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse %s: %w", cfg.File, err)
	}
	s.config = cfg
	s.file = f
	return nil
}

func (s *Source) Category() string {
	switch {
	case s.config.Category != "":
		return s.config.Category
	case s.file.Category != "":
		return s.file.Category
	}
	return DefaultCategory
}

func (s *Source) FetchItems(_ context.Context) ([]models.Item, error) {
	items := make([]models.Item, 0, len(s.file.Items))
	for i, it := range s.file.Items {
		if s.config.Limit > 0 && len(items) >= s.config.Limit {
			break
		}
		if it.Question == "" || len(it.Answers) == 0 {
			return nil, fmt.Errorf("%s: item %d needs a question and answers", s.config.File, i+1)
		}
		id := it.ID
		if id == "" {
			id = strconv.Itoa(i + 1)
		}
		items = append(items, models.Item{
			Question:   it.Question,
			Answer:     base.AnswerList(it.Answers...),
			ImageURL:   it.ImageURL,
			Source:     string(clients.ExternalSourceManual),
			ExternalID: id,
		})
	}
	return items, nil
}
