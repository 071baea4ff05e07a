package restcountries

import (
	"context"
	"encoding/json"
	"fmt"
)

type Name struct {
	Common   string `json:"common"`
	Official string `json:"official"`
}

type Flags struct {
	PNG string `json:"png"`
	SVG string `json:"svg"`
	Alt string `json:"alt"`
}

type Country struct {
	CCA3    string   `json:"cca3"`
	Name    Name     `json:"name"`
	Capital []string `json:"capital"`
	Flags   Flags    `json:"flags"`
}

// GetCountries fetches every country with the fields the flag quiz needs.
func (c *Client) GetCountries(ctx context.Context) ([]Country, error) {
	body, err := c.Get(ctx, AllEndpoint+"?fields="+CountryFields)
	if err != nil {
		return nil, fmt.Errorf("failed to get countries: %w", err)
	}

	var countries []Country
	if err := json.Unmarshal(body, &countries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal countries: %w", err)
	}
	return countries, nil
}
