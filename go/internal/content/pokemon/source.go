package pokemon

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/trivia/go/clients"
	"github.com/mcdev12/trivia/go/clients/pokeapi"
	"github.com/mcdev12/trivia/go/internal/content/base"
	"github.com/mcdev12/trivia/go/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	Key             = "pokemon"
	DefaultCategory = "Pokémon"
	DefaultDelay    = 100 * time.Millisecond

	NameQuestion = "Who's that Pokémon?"
)

// Source builds sprite, type and ability questions from PokéAPI.
type Source struct {
	api    *pokeapi.Client
	config base.SourceConfig
	clock  clockwork.Clock
}

func init() {
	if err := base.RegisterSource(Key, &Source{}); err != nil {
		panic(fmt.Sprintf("Failed to register pokemon source: %v", err))
	}
}

func (s *Source) Init(cfg base.SourceConfig) error {
	if cfg.RequestDelay == 0 {
		cfg.RequestDelay = DefaultDelay
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = pokeapi.DefaultPageSize
	}
	s.config = cfg
	s.api = pokeapi.NewClient(cfg.BaseURL)
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	return nil
}

func (s *Source) Category() string {
	if s.config.Category != "" {
		return s.config.Category
	}
	return DefaultCategory
}

// FetchItems walks the pokemon index page by page and fetches each entry.
// A failed detail request skips that pokemon.
func (s *Source) FetchItems(ctx context.Context) ([]models.Item, error) {
	if s.api == nil {
		return nil, fmt.Errorf("pokemon source is not initialized")
	}

	var (
		items  []models.Item
		offset int
		seen   int
	)
	for {
		page, err := s.api.ListPokemon(ctx, s.config.PageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, ref := range page.Results {
			if s.config.Limit > 0 && seen >= s.config.Limit {
				return items, nil
			}
			seen++

			p, err := s.api.GetPokemon(ctx, ref.URL)
			if err != nil {
				log.Warn().Err(err).Str("pokemon", ref.Name).Msg("skipping pokemon")
				continue
			}
			items = append(items, mapPokemon(*p)...)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-s.clock.After(s.config.RequestDelay):
			}
		}
		if page.Next == nil || len(page.Results) == 0 {
			return items, nil
		}
		offset += len(page.Results)
	}
}

func mapPokemon(p pokeapi.Pokemon) []models.Item {
	sprite := p.Sprite()
	id := fmt.Sprintf("%d", p.ID)
	source := string(clients.ExternalSourcePokeAPI)
	items := []models.Item{{
		Question:   NameQuestion,
		Answer:     base.AnswerList(p.Name),
		ImageURL:   sprite,
		Source:     source,
		ExternalID: id + ":name",
	}}
	if types := p.TypeNames(); len(types) > 0 {
		items = append(items, models.Item{
			Question:   fmt.Sprintf("What type(s) of Pokémon is %s?", p.Name),
			Answer:     base.AnswerList(types...),
			ImageURL:   sprite,
			Source:     source,
			ExternalID: id + ":types",
		})
	}
	if abilities := p.AbilityNames(); len(abilities) > 0 {
		items = append(items, models.Item{
			Question:   fmt.Sprintf("What is one of %s's abilities?", p.Name),
			Answer:     base.AnswerList(abilities...),
			ImageURL:   sprite,
			Source:     source,
			ExternalID: id + ":abilities",
		})
	}
	return items
}
