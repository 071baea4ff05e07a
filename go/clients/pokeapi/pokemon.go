package pokeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type NamedResource struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type ListResponse struct {
	Count    int             `json:"count"`
	Next     *string         `json:"next"`
	Previous *string         `json:"previous"`
	Results  []NamedResource `json:"results"`
}

type Sprites struct {
	FrontDefault *string `json:"front_default"`
	Other        struct {
		OfficialArtwork struct {
			FrontDefault *string `json:"front_default"`
		} `json:"official-artwork"`
	} `json:"other"`
}

type PokemonType struct {
	Slot int           `json:"slot"`
	Type NamedResource `json:"type"`
}

type PokemonAbility struct {
	Ability  NamedResource `json:"ability"`
	IsHidden bool          `json:"is_hidden"`
}

type Pokemon struct {
	ID        int              `json:"id"`
	Name      string           `json:"name"`
	Sprites   Sprites          `json:"sprites"`
	Types     []PokemonType    `json:"types"`
	Abilities []PokemonAbility `json:"abilities"`
}

// Sprite returns the front sprite, falling back to the official artwork.
func (p Pokemon) Sprite() string {
	if p.Sprites.FrontDefault != nil && *p.Sprites.FrontDefault != "" {
		return *p.Sprites.FrontDefault
	}
	if a := p.Sprites.Other.OfficialArtwork.FrontDefault; a != nil {
		return *a
	}
	return ""
}

// TypeNames returns the pokemon's type names in slot order.
func (p Pokemon) TypeNames() []string {
	out := make([]string, 0, len(p.Types))
	for _, t := range p.Types {
		out = append(out, t.Type.Name)
	}
	return out
}

// AbilityNames returns the pokemon's ability names.
func (p Pokemon) AbilityNames() []string {
	out := make([]string, 0, len(p.Abilities))
	for _, a := range p.Abilities {
		out = append(out, a.Ability.Name)
	}
	return out
}

// ListPokemon returns one page of the pokemon index.
func (c *Client) ListPokemon(ctx context.Context, limit, offset int) (*ListResponse, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	body, err := c.Get(ctx, fmt.Sprintf("%s?limit=%d&offset=%d", PokemonEndpoint, limit, offset))
	if err != nil {
		return nil, fmt.Errorf("failed to list pokemon: %w", err)
	}
	var res ListResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pokemon list: %w", err)
	}
	return &res, nil
}

// GetPokemon fetches one pokemon by name or id. A full resource URL from
// a list response is accepted too.
func (c *Client) GetPokemon(ctx context.Context, nameOrURL string) (*Pokemon, error) {
	endpoint := PokemonEndpoint + "/" + nameOrURL
	if strings.HasPrefix(nameOrURL, c.BaseURL()) {
		endpoint = strings.TrimPrefix(nameOrURL, c.BaseURL())
	}
	body, err := c.Get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to get pokemon %s: %w", nameOrURL, err)
	}
	var p Pokemon
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pokemon %s: %w", nameOrURL, err)
	}
	return &p, nil
}
