package pokeapi

const (
	// Base URL
	BaseURL = "https://pokeapi.co/api/v2"

	// API Endpoints
	PokemonEndpoint = "/pokemon"

	// DefaultPageSize is the list page size used when none is configured.
	DefaultPageSize = 200
)
