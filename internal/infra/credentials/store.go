package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"photostudio/internal/domain"
	"photostudio/internal/infra"
	"photostudio/internal/sqlinline"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Store resolves model providers from the model_providers table. Providers
// defined through the environment are consulted when the table has no match.
type Store struct {
	sql       infra.SQLExecutor
	fallbacks []domain.Provider
}

func NewStore(sql infra.SQLExecutor, fallbacks ...domain.Provider) *Store {
	return &Store{sql: sql, fallbacks: fallbacks}
}

// EnvProviders builds the providers configured through GEMINI_* and OPENAI_*.
func EnvProviders(cfg *infra.Config) []domain.Provider {
	if cfg == nil {
		return nil
	}
	var out []domain.Provider
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		out = append(out,
			domain.Provider{
				ID:           ProviderGemini,
				Name:         "Gemini",
				Format:       domain.ProviderFormatGemini,
				BaseURL:      cfg.GeminiBaseURL,
				APIKey:       cfg.GeminiAPIKey,
				Model:        cfg.GeminiModel,
				Capabilities: []domain.Capability{domain.CapabilityText},
				IsDefault:    true,
			},
			domain.Provider{
				ID:           ProviderGemini + "-image",
				Name:         "Gemini Image",
				Format:       domain.ProviderFormatGemini,
				BaseURL:      cfg.GeminiBaseURL,
				APIKey:       cfg.GeminiAPIKey,
				Model:        cfg.GeminiImageModel,
				Capabilities: []domain.Capability{domain.CapabilityImage},
				IsDefault:    true,
			},
		)
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		out = append(out, domain.Provider{
			ID:           ProviderOpenAI,
			Name:         "OpenAI",
			Format:       domain.ProviderFormatOpenAI,
			BaseURL:      cfg.OpenAIBaseURL,
			APIKey:       cfg.OpenAIAPIKey,
			Model:        cfg.OpenAIModel,
			Capabilities: []domain.Capability{domain.CapabilityText},
		})
	}
	return out
}

// Provider returns the provider with the given id or domain.ErrNotFound.
func (s *Store) Provider(ctx context.Context, id string) (*domain.Provider, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("provider id: %w", domain.ErrNotFound)
	}
	p, err := scanProvider(s.sql.QueryRow(ctx, sqlinline.QSelectProviderByID, id))
	if err == nil {
		return p, nil
	}
	if !infra.IsNoRows(err) {
		return nil, fmt.Errorf("select provider: %w", err)
	}
	for _, fb := range s.fallbacks {
		if fb.ID == id {
			return &fb, nil
		}
	}
	return nil, fmt.Errorf("provider %s: %w", id, domain.ErrNotFound)
}

// Default returns the first usable provider for capability c, preferring rows
// flagged as default.
func (s *Store) Default(ctx context.Context, c domain.Capability) (*domain.Provider, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QSelectProvidersByCapability, string(c))
	if err != nil {
		return nil, fmt.Errorf("select providers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		if p.Usable(c) {
			return p, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate providers: %w", err)
	}
	for _, fb := range s.fallbacks {
		if fb.Usable(c) {
			return &fb, nil
		}
	}
	return nil, fmt.Errorf("%s provider: %w", c, domain.ErrProviderNotConfigured)
}

// Upsert stores provider configuration. Marking a provider as default clears
// the flag on every other provider sharing one of its capabilities.
func (s *Store) Upsert(ctx context.Context, p domain.Provider) error {
	p.ID = strings.TrimSpace(p.ID)
	p.APIKey = strings.TrimSpace(p.APIKey)
	if p.ID == "" {
		return errors.New("provider id is required")
	}
	if p.Format != domain.ProviderFormatGemini && p.Format != domain.ProviderFormatOpenAI {
		return fmt.Errorf("unsupported provider format %q", p.Format)
	}
	if len(p.Capabilities) == 0 {
		return errors.New("at least one capability is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = p.ID
	}
	caps := make([]string, 0, len(p.Capabilities))
	for _, c := range p.Capabilities {
		caps = append(caps, string(c))
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QUpsertProvider,
		p.ID, p.Name, string(p.Format), p.BaseURL, p.APIKey, p.Model, p.Local, caps, p.IsDefault,
	); err != nil {
		return fmt.Errorf("upsert provider: %w", err)
	}
	if !p.IsDefault {
		return nil
	}
	for _, c := range caps {
		if _, err := s.sql.Exec(ctx, sqlinline.QClearDefaultProvider, p.ID, c); err != nil {
			return fmt.Errorf("clear default provider: %w", err)
		}
	}
	return nil
}

func scanProvider(row pgx.Row) (*domain.Provider, error) {
	var (
		p      domain.Provider
		format string
		caps   []string
	)
	if err := row.Scan(&p.ID, &p.Name, &format, &p.BaseURL, &p.APIKey, &p.Model, &p.Local, &caps, &p.IsDefault); err != nil {
		return nil, err
	}
	p.Format = domain.ProviderFormat(format)
	p.APIKey = strings.TrimSpace(p.APIKey)
	for _, c := range caps {
		p.Capabilities = append(p.Capabilities, domain.Capability(c))
	}
	return &p, nil
}

var _ domain.ProviderSource = (*Store)(nil)
