package restcountries

const (
	// Base URL
	BaseURL = "https://restcountries.com/v3.1"

	// AllEndpoint lists every country. The API requires a field filter.
	AllEndpoint = "/all"

	// Fields requested from /all
	CountryFields = "name,capital,flags,cca3"
)
