package domain

import "strings"

// ProviderFormat selects the wire protocol used to talk to a model provider.
type ProviderFormat string

const (
	ProviderFormatGemini ProviderFormat = "gemini"
	ProviderFormatOpenAI ProviderFormat = "openai"
)

// Capability is something a provider's model can produce.
type Capability string

const (
	CapabilityText  Capability = "text"
	CapabilityImage Capability = "image"
)

// Provider describes a configured model endpoint.
type Provider struct {
	ID           string
	Name         string
	Format       ProviderFormat
	BaseURL      string
	APIKey       string
	Model        string
	Local        bool
	Capabilities []Capability
	IsDefault    bool
}

// Has reports whether the provider advertises capability c.
func (p Provider) Has(c Capability) bool {
	for _, have := range p.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Usable reports whether the provider can serve capability c: it needs a model
// id and either runs locally or carries a credential.
func (p Provider) Usable(c Capability) bool {
	if strings.TrimSpace(p.Model) == "" {
		return false
	}
	if !p.Has(c) {
		return false
	}
	return p.Local || strings.TrimSpace(p.APIKey) != ""
}
