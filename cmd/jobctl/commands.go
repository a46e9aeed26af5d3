package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"trendtide/internal/client"
	"trendtide/internal/domain"
	"trendtide/internal/infra"
	"trendtide/internal/jobs"
	"trendtide/internal/middleware"
	"trendtide/internal/poller"
)

func newSubmitCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a generation job",
	}

	var (
		content, reference, face string
		waitThumb                bool
	)
	thumb := &cobra.Command{
		Use:   "thumbnail",
		Short: "Generate a thumbnail from a video idea",
		RunE: func(cmd *cobra.Command, _ []string) error {
			job := client.ThumbnailJob{Content: content}
			var err error
			if job.ReferenceImage, err = readFile(reference); err != nil {
				return err
			}
			if job.FaceImage, err = readFile(face); err != nil {
				return err
			}
			handle, err := s.client().SubmitThumbnail(cmd.Context(), job)
			if err != nil {
				return err
			}
			return s.afterSubmit(cmd, handle, waitThumb)
		},
	}
	thumb.Flags().StringVar(&content, "content", "", "video idea (5-500 characters)")
	thumb.Flags().StringVar(&reference, "reference", "", "reference image file")
	thumb.Flags().StringVar(&face, "face", "", "face image file")
	thumb.Flags().BoolVar(&waitThumb, "wait", false, "poll until the run finishes")
	_ = thumb.MarkFlagRequired("content")

	var (
		title       string
		waitContent bool
	)
	contentCmd := &cobra.Command{
		Use:   "content",
		Short: "Generate titles, description, tags and thumbnails for a video title",
		RunE: func(cmd *cobra.Command, _ []string) error {
			handle, err := s.client().SubmitContent(cmd.Context(), title)
			if err != nil {
				return err
			}
			return s.afterSubmit(cmd, handle, waitContent)
		},
	}
	contentCmd.Flags().StringVar(&title, "title", "", "video title (3-200 characters)")
	contentCmd.Flags().BoolVar(&waitContent, "wait", false, "poll until the run finishes")
	_ = contentCmd.MarkFlagRequired("title")

	cmd.AddCommand(thumb, contentCmd)
	return cmd
}

func (s *settings) afterSubmit(cmd *cobra.Command, handle domain.RunHandle, wait bool) error {
	out := cmd.OutOrStdout()
	if s.jsonOut && !wait {
		return writeJSON(out, handle)
	}
	fmt.Fprintf(out, "run %s accepted\n", handle.RunID)
	if !wait {
		return nil
	}
	return s.poll(cmd, handle.RunID)
}

func newStatusCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a run and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := s.client().RunStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if s.jsonOut {
				return writeJSON(out, run)
			}
			fmt.Fprintf(out, "run %s %s (attempt %d)\n", run.RunID, run.Status, run.Attempt)
			for _, step := range run.Steps {
				line := fmt.Sprintf("  %-22s %s", step.Name, step.Status)
				if step.Error != "" {
					line += "  " + step.Error
				}
				fmt.Fprintln(out, line)
			}
			if run.Error != "" {
				fmt.Fprintf(out, "error: %s\n", run.Error)
			}
			return nil
		},
	}
}

func newPollCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "poll <run-id>",
		Short: "Wait for a run to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.poll(cmd, args[0])
		},
	}
}

func (s *settings) poll(cmd *cobra.Command, runID string) error {
	res, err := s.poller(s.client()).Poll(cmd.Context(), runID)
	out := cmd.OutOrStdout()
	if s.jsonOut && res.Run != nil {
		if jErr := writeJSON(out, res.Run); jErr != nil {
			return jErr
		}
		return err
	}
	fmt.Fprintln(out, res.Message())
	if err != nil {
		if errors.Is(err, domain.ErrRunFailed) || errors.Is(err, domain.ErrRunCancelled) {
			return fmt.Errorf("run %s: %s", runID, strings.ToLower(string(res.Outcome)))
		}
		return err
	}
	if res.Outcome != poller.OutcomeCompleted {
		return nil
	}
	switch res.Run.Function {
	case jobs.FunctionGenerateContent:
		pkg, err := res.ContentPackage()
		if err != nil {
			return err
		}
		printPackage(out, pkg)
	default:
		rec, err := res.Thumbnail()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "thumbnail: %s\n", rec.ThumbnailURL)
	}
	return nil
}

func newHistoryCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:       "history <thumbnails|content>",
		Short:     "List your generated artifacts, newest first",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"thumbnails", "content"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			c := s.client()
			switch args[0] {
			case "thumbnails", "thumbnail":
				items, err := c.ListThumbnails(cmd.Context())
				if err != nil {
					return err
				}
				if s.jsonOut {
					return writeJSON(out, items)
				}
				for _, it := range items {
					fmt.Fprintf(out, "%d  %s  %s\n", it.ID, time.Unix(it.CreatedAt, 0).UTC().Format(time.RFC3339), it.ThumbnailURL)
					fmt.Fprintf(out, "    %s\n", it.UserInput)
				}
			case "content", "contents":
				items, err := c.ListContents(cmd.Context())
				if err != nil {
					return err
				}
				if s.jsonOut {
					return writeJSON(out, items)
				}
				for _, it := range items {
					fmt.Fprintf(out, "%d  %s  %s\n", it.ID, time.Unix(it.CreatedAt, 0).UTC().Format(time.RFC3339), it.UserInput)
					printPackage(out, domain.ContentPackage{Titles: it.Titles, Description: it.Description, Tags: it.Tags, Thumbnails: it.Thumbnails})
				}
			default:
				return fmt.Errorf("unknown history kind %q", args[0])
			}
			return nil
		},
	}
}

func newCancelCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.client().Cancel(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, domain.ErrConflict) {
					return fmt.Errorf("run %s already finished", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s cancelled\n", args[0])
			return nil
		},
	}
}

// newTokenCmd signs a development token with JWT_SECRET.
func newTokenCmd() *cobra.Command {
	var (
		email, plan, locale string
		ttl                 time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for local development",
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := envOr("JWT_SECRET", infra.DevJWTSecret)
			now := time.Now()
			token, err := middleware.SignJWT(secret, middleware.TokenClaims{
				Sub:    email,
				Email:  email,
				Plan:   plan,
				Locale: locale,
				Iat:    now.Unix(),
				Exp:    now.Add(ttl).Unix(),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "requester email")
	cmd.Flags().StringVar(&plan, "plan", "free", "plan claim")
	cmd.Flags().StringVar(&locale, "locale", "", "locale claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func printPackage(out io.Writer, pkg domain.ContentPackage) {
	for _, t := range pkg.Titles {
		fmt.Fprintf(out, "  [%3d] %s\n", t.SEOScore, t.Title)
	}
	if pkg.Description != "" {
		fmt.Fprintf(out, "  %s\n", pkg.Description)
	}
	if len(pkg.Tags) > 0 {
		fmt.Fprintf(out, "  tags: %s\n", strings.Join(pkg.Tags, ", "))
	}
	for _, th := range pkg.Thumbnails {
		mark := ""
		if th.Fallback {
			mark = " (fallback)"
		}
		fmt.Fprintf(out, "  %s: %s%s\n", th.Heading, th.URL, mark)
	}
}

func readFile(path string) (*client.File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &client.File{Name: filepath.Base(path), MIME: http.DetectContentType(data), Data: data}, nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
