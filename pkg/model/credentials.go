package model

import (
	"github.com/m-mizutani/goerr/v2"
)

type Provider string

const (
	// ProviderDirect talks to the model vendor with an API key.
	ProviderDirect Provider = "direct"
	// ProviderGateway goes through an Azure OpenAI compatible gateway and
	// additionally needs an endpoint and API version.
	ProviderGateway Provider = "gateway"
)

// ModelCredentials selects and authenticates the embedding and chat models.
type ModelCredentials struct {
	Provider       Provider
	APIKey         string
	Endpoint       string
	APIVersion     string
	ChatModel      string
	EmbeddingModel string
}

// Validate checks required fields. Endpoint and APIVersion are only
// meaningful for the gateway provider.
func (c ModelCredentials) Validate() error {
	switch c.Provider {
	case ProviderDirect, ProviderGateway:
	default:
		return goerr.Wrap(ErrInvalidProvider, "unknown provider", goerr.V("provider", c.Provider))
	}

	type field struct {
		name  string
		value string
	}
	required := []field{
		{"api key", c.APIKey},
		{"chat model", c.ChatModel},
		{"embedding model", c.EmbeddingModel},
	}
	if c.Provider == ProviderGateway {
		required = append(required,
			field{"endpoint", c.Endpoint},
			field{"api version", c.APIVersion},
		)
	}

	for _, r := range required {
		if r.value == "" {
			return goerr.New(r.name+" is required",
				goerr.V("provider", c.Provider),
				goerr.T(ErrTagInvalidConfig))
		}
	}
	return nil
}
