// Command providerkey stores a provider API key in provider_keys so the
// API and workers can start without the key in their environment.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"trendtide/internal/infra"
	"trendtide/internal/infra/credentials"
)

var envKeys = map[string]string{
	credentials.ProviderLLM:       "LLM_API_KEY",
	credentials.ProviderInference: "INFERENCE_API_KEY",
	credentials.ProviderImageKit:  "IMAGEKIT_PRIVATE_KEY",
	credentials.ProviderYouTube:   "YOUTUBE_API_KEY",
}

func main() {
	_ = godotenv.Load()

	var (
		keyFlag      string
		providerFlag string
	)
	flag.StringVar(&keyFlag, "key", "", "API key for the selected provider (falls back to the provider's environment variable)")
	flag.StringVar(&providerFlag, "provider", credentials.ProviderLLM, "provider to configure (llm, inference, imagekit, youtube)")
	flag.Parse()

	provider := strings.TrimSpace(strings.ToLower(providerFlag))
	envName, ok := envKeys[provider]
	if !ok {
		fmt.Fprintf(os.Stderr, "unsupported provider %q\n", providerFlag)
		os.Exit(1)
	}

	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = strings.TrimSpace(os.Getenv(envName))
	}
	if key == "" {
		fmt.Fprintf(os.Stderr, "%s key is required via -key or %s\n", provider, envName)
		os.Exit(1)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "providerkey").Str("provider", provider).Logger()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))

	if err := store.Rotate(ctx, provider, key, operator()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist %s key: %v\n", provider, err)
		os.Exit(1)
	}
	fmt.Printf("%s key stored successfully\n", provider)
}

func operator() string {
	name := os.Getenv("USER")
	if host, err := os.Hostname(); err == nil {
		return name + "@" + host
	}
	return name
}
