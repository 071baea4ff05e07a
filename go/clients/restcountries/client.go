package restcountries

import (
	"github.com/mcdev12/trivia/go/clients"
)

type Client struct {
	*clients.BaseClient
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = BaseURL
	}
	return &Client{BaseClient: clients.NewBaseClient(baseURL)}
}
