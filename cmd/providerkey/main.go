package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"photostudio/internal/domain"
	"photostudio/internal/infra"
	"photostudio/internal/infra/credentials"
)

func main() {
	infra.LoadDotEnv()

	var (
		idFlag      string
		nameFlag    string
		formatFlag  string
		keyFlag     string
		modelFlag   string
		baseURLFlag string
		capsFlag    string
		localFlag   bool
		defaultFlag bool
	)
	flag.StringVar(&idFlag, "id", credentials.ProviderGemini, "provider id")
	flag.StringVar(&nameFlag, "name", "", "display name (defaults to the id)")
	flag.StringVar(&formatFlag, "format", string(domain.ProviderFormatGemini), "wire format (gemini or openai)")
	flag.StringVar(&keyFlag, "key", "", "API key (fallbacks to GEMINI_API_KEY or OPENAI_API_KEY)")
	flag.StringVar(&modelFlag, "model", "", "model id")
	flag.StringVar(&baseURLFlag, "base-url", "", "endpoint base URL (empty uses the format default)")
	flag.StringVar(&capsFlag, "capabilities", "text", "comma separated capabilities (text, image)")
	flag.BoolVar(&localFlag, "local", false, "provider runs locally and needs no API key")
	flag.BoolVar(&defaultFlag, "default", false, "make this the default provider for its capabilities")
	flag.Parse()

	format := domain.ProviderFormat(strings.TrimSpace(strings.ToLower(formatFlag)))
	caps, err := parseCapabilities(capsFlag)
	if err != nil {
		exitWithError(err)
	}

	key := strings.TrimSpace(keyFlag)
	if key == "" {
		switch format {
		case domain.ProviderFormatOpenAI:
			key = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		default:
			key = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
		}
	}
	if key == "" && !localFlag {
		exitWithError(fmt.Errorf("%s API key is required via -key or environment", strings.ToUpper(string(format))))
	}
	if strings.TrimSpace(modelFlag) == "" {
		exitWithError(fmt.Errorf("-model is required"))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(fmt.Errorf("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("create pool: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli", os.Getenv("LOG_LEVEL")).With().Str("cmd", "providerkey").Str("provider", idFlag).Logger()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))

	p := domain.Provider{
		ID:           idFlag,
		Name:         nameFlag,
		Format:       format,
		BaseURL:      strings.TrimSpace(baseURLFlag),
		APIKey:       key,
		Model:        strings.TrimSpace(modelFlag),
		Local:        localFlag,
		Capabilities: caps,
		IsDefault:    defaultFlag,
	}
	if err := store.Upsert(ctx, p); err != nil {
		exitWithError(fmt.Errorf("store provider %s: %w", p.ID, err))
	}
	fmt.Printf("provider %s stored (%s, %s)\n", p.ID, p.Model, capsFlag)
}

func parseCapabilities(raw string) ([]domain.Capability, error) {
	var caps []domain.Capability
	seen := map[domain.Capability]bool{}
	for _, part := range strings.Split(raw, ",") {
		c := domain.Capability(strings.TrimSpace(strings.ToLower(part)))
		if c == "" || seen[c] {
			continue
		}
		switch c {
		case domain.CapabilityText, domain.CapabilityImage:
		default:
			return nil, fmt.Errorf("unsupported capability %q", c)
		}
		seen[c] = true
		caps = append(caps, c)
	}
	if len(caps) == 0 {
		return nil, fmt.Errorf("at least one capability is required")
	}
	return caps, nil
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
