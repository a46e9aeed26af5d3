// Package jobs defines the durable workflows behind the ingestion endpoints:
// thumbnail generation and content package generation.
package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"trendtide/internal/domain"
	"trendtide/internal/providers/inference"
	"trendtide/internal/providers/llm"
	"trendtide/internal/storage"
	"trendtide/internal/workflow"
)

// Function ids registered with the engine.
const (
	FunctionGenerateThumbnail = "generate-thumbnail"
	FunctionGenerateContent   = "generate-content"
)

// Step names. They are persisted, so renaming one breaks replay of in-flight runs.
const (
	StepUploadAttachments   = "upload-attachments"
	StepGeneratePrompt      = "generate-prompt"
	StepGenerateImage       = "generate-image"
	StepGenerateContentPlan = "generate-content-plan"
	StepGenerateThumbnails  = "generate-thumbnails"
	StepPersist             = "persist"
)

// Completer is the vision/LLM adapter.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// ImageGenerator is the image inference adapter.
type ImageGenerator interface {
	Generate(ctx context.Context, req inference.Request) (*inference.Image, error)
}

// Deps are the collaborators shared by both job definitions.
type Deps struct {
	LLM        Completer
	Images     ImageGenerator
	Storage    storage.Uploader
	Thumbnails domain.ThumbnailRepository
	Contents   domain.ContentRepository

	// Folder is the logical storage folder for uploads and generated images.
	Folder          string
	FallbackBaseURL string
	Logger          zerolog.Logger
	Now             func() time.Time
}

// Functions returns both job definitions ready for Engine.Register. A
// negative retry budget defers to the engine default.
func Functions(d *Deps) []workflow.Function {
	if d.Now == nil {
		d.Now = time.Now
	}
	return []workflow.Function{
		{ID: FunctionGenerateThumbnail, Event: domain.EventGenerateThumbnail, Retries: -1, Handler: d.GenerateThumbnail},
		{ID: FunctionGenerateContent, Event: domain.EventGenerateContent, Retries: -1, Handler: d.GenerateContent},
	}
}

func (d *Deps) unix() int64 {
	if d.Now == nil {
		return time.Now().Unix()
	}
	return d.Now().Unix()
}
