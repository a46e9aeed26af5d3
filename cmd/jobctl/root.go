package main

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"trendtide/internal/client"
	"trendtide/internal/poller"
)

type settings struct {
	apiURL       string
	token        string
	jsonOut      bool
	initialDelay time.Duration
	interval     time.Duration
	attempts     int
	verbose      bool
}

func (s *settings) client() *client.Client {
	return client.New(client.Options{BaseURL: s.apiURL, Token: s.token})
}

func (s *settings) poller(source poller.StatusSource) *poller.Poller {
	logger := zerolog.Nop()
	if s.verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return poller.New(source, poller.Options{
		InitialDelay: s.initialDelay,
		Interval:     s.interval,
		MaxAttempts:  s.attempts,
		Logger:       logger,
	})
}

func newRootCmd() *cobra.Command {
	s := &settings{}
	root := &cobra.Command{
		Use:           "jobctl",
		Short:         "Submit and track TrendTide generation jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&s.apiURL, "api", envOr("TRENDTIDE_API_URL", "http://localhost:8080"), "API base URL")
	flags.StringVar(&s.token, "token", os.Getenv("TRENDTIDE_TOKEN"), "bearer token (see jobctl token)")
	flags.BoolVar(&s.jsonOut, "json", false, "print raw JSON")
	flags.DurationVar(&s.initialDelay, "initial-delay", poller.DefaultInitialDelay, "wait before the first status check")
	flags.DurationVar(&s.interval, "interval", poller.DefaultInterval, "time between status checks")
	flags.IntVar(&s.attempts, "attempts", poller.DefaultMaxAttempts, "status checks before giving up")
	flags.BoolVarP(&s.verbose, "verbose", "v", false, "log poll attempts to stderr")

	root.AddCommand(
		newSubmitCmd(s),
		newStatusCmd(s),
		newPollCmd(s),
		newHistoryCmd(s),
		newCancelCmd(s),
		newExportCmd(s),
		newTokenCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
