package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"trendtide/pkg/zip"
)

type manifestEntry struct {
	Kind      string `json:"kind"`
	ID        int64  `json:"id"`
	UserInput string `json:"userInput"`
	Heading   string `json:"heading,omitempty"`
	URL       string `json:"url"`
	File      string `json:"file,omitempty"`
	Error     string `json:"error,omitempty"`
}

// newExportCmd downloads the caller's generated thumbnails into one zip with a
// manifest.json describing every entry.
func newExportCmd(s *settings) *cobra.Command {
	var (
		out       string
		fallbacks bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download your thumbnail and content history into a zip archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c := s.client()

			thumbs, err := c.ListThumbnails(ctx)
			if err != nil {
				return err
			}
			contents, err := c.ListContents(ctx)
			if err != nil {
				return err
			}

			var (
				assets   []zip.Asset
				manifest []manifestEntry
			)
			fetch := func(entry manifestEntry, name string) {
				f, err := c.Download(ctx, entry.URL)
				if err != nil {
					entry.Error = err.Error()
					manifest = append(manifest, entry)
					return
				}
				if path.Ext(name) == "" {
					name += path.Ext(f.Name)
				}
				entry.File = name
				assets = append(assets, zip.Asset{Filename: name, MIME: f.MIME, Data: f.Data})
				manifest = append(manifest, entry)
			}

			for _, th := range thumbs {
				fetch(manifestEntry{Kind: "thumbnail", ID: th.ID, UserInput: th.UserInput, URL: th.ThumbnailURL},
					fmt.Sprintf("thumbnails/%d", th.ID))
			}
			for _, item := range contents {
				for i, th := range item.Thumbnails {
					entry := manifestEntry{Kind: "content", ID: item.ID, UserInput: item.UserInput, Heading: th.Heading, URL: th.URL}
					if th.Fallback && !fallbacks {
						entry.Error = "fallback image skipped"
						manifest = append(manifest, entry)
						continue
					}
					fetch(entry, fmt.Sprintf("content/%d/%d-%s", item.ID, i+1, slug(th.Heading)))
				}
			}

			raw, err := json.MarshalIndent(map[string]any{"contents": contents, "files": manifest}, "", "  ")
			if err != nil {
				return err
			}
			assets = append(assets, zip.Asset{Filename: "manifest.json", MIME: "application/json", Data: raw})

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := zip.Write(f, assets, time.Now()); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d files to %s\n", len(assets), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "trendtide-export.zip", "archive path")
	cmd.Flags().BoolVar(&fallbacks, "include-fallbacks", false, "also download fallback placeholder images")
	return cmd
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "image"
	}
	return out
}
