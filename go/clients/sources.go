package clients

// ExternalSource names the provider an item was imported from. It is
// stored in items.source.
type ExternalSource string

const (
	// ExternalSourceRestCountries is https://restcountries.com
	ExternalSourceRestCountries ExternalSource = "restcountries"

	// ExternalSourcePokeAPI is https://pokeapi.co
	ExternalSourcePokeAPI ExternalSource = "pokeapi"

	// ExternalSourceManual represents manually entered items
	ExternalSourceManual ExternalSource = "manual"
)

// ExternalSourceConfig describes a provider.
type ExternalSourceConfig struct {
	Source      ExternalSource `json:"source"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
}

// GetExternalSources returns all known external sources.
func GetExternalSources() map[ExternalSource]ExternalSourceConfig {
	return map[ExternalSource]ExternalSourceConfig{
		ExternalSourceRestCountries: {
			Source:      ExternalSourceRestCountries,
			Name:        "REST Countries",
			Description: "Country names, flags and capitals",
		},
		ExternalSourcePokeAPI: {
			Source:      ExternalSourcePokeAPI,
			Name:        "PokéAPI",
			Description: "Pokémon names, sprites, types and abilities",
		},
		ExternalSourceManual: {
			Source:      ExternalSourceManual,
			Name:        "Manual Entry",
			Description: "Hand-written items",
		},
	}
}

// ValidateExternalSource checks if the source is known.
func ValidateExternalSource(source ExternalSource) bool {
	_, exists := GetExternalSources()[source]
	return exists
}
