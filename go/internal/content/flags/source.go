package flags

import (
	"context"
	"fmt"

	"github.com/mcdev12/trivia/go/clients"
	"github.com/mcdev12/trivia/go/clients/restcountries"
	"github.com/mcdev12/trivia/go/internal/content/base"
	"github.com/mcdev12/trivia/go/internal/models"
)

const (
	Key             = "flags"
	DefaultCategory = "Flags"

	CountryQuestion = "Which country does this flag belong to?"
	CapitalQuestion = "What is the capital of the country with this flag?"
)

// Source builds flag questions from REST Countries.
type Source struct {
	api    *restcountries.Client
	config base.SourceConfig
}

func init() {
	if err := base.RegisterSource(Key, &Source{}); err != nil {
		panic(fmt.Sprintf("Failed to register flags source: %v", err))
	}
}

func (s *Source) Init(cfg base.SourceConfig) error {
	s.config = cfg
	s.api = restcountries.NewClient(cfg.BaseURL)
	return nil
}

func (s *Source) Category() string {
	if s.config.Category != "" {
		return s.config.Category
	}
	return DefaultCategory
}

// FetchItems returns a country question per flag and a capital question
// for countries that have one.
func (s *Source) FetchItems(ctx context.Context) ([]models.Item, error) {
	if s.api == nil {
		return nil, fmt.Errorf("flags source is not initialized")
	}
	countries, err := s.api.GetCountries(ctx)
	if err != nil {
		return nil, err
	}
	return s.mapCountries(countries), nil
}

func (s *Source) mapCountries(countries []restcountries.Country) []models.Item {
	var items []models.Item
	for i, c := range countries {
		if s.config.Limit > 0 && i >= s.config.Limit {
			break
		}
		if c.Flags.PNG == "" || c.Name.Common == "" {
			continue
		}
		id := c.CCA3
		if id == "" {
			id = c.Name.Common
		}
		items = append(items, models.Item{
			Question:   CountryQuestion,
			Answer:     base.AnswerList(c.Name.Common, c.Name.Official),
			ImageURL:   c.Flags.PNG,
			Source:     string(clients.ExternalSourceRestCountries),
			ExternalID: id + ":country",
		})
		if len(c.Capital) > 0 && c.Capital[0] != "" {
			items = append(items, models.Item{
				Question:   CapitalQuestion,
				Answer:     base.AnswerList(c.Capital[0]),
				ImageURL:   c.Flags.PNG,
				Source:     string(clients.ExternalSourceRestCountries),
				ExternalID: id + ":capital",
			})
		}
	}
	return items
}
