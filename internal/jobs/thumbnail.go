package jobs

import (
	"context"
	"fmt"
	"strings"

	"trendtide/internal/domain"
	"trendtide/internal/providers/llm"
	"trendtide/internal/storage"
	"trendtide/internal/workflow"
)

// UploadedInputs is the output of the upload-attachments step.
type UploadedInputs struct {
	ReferenceImageURL *string `json:"referenceImageUrl,omitempty"`
	FaceImageURL      *string `json:"faceImageUrl,omitempty"`
}

// GenerateThumbnail uploads the attachments, asks the LLM for an image prompt,
// renders it and persists a ThumbnailRecord, which is the run output.
func (d *Deps) GenerateThumbnail(ctx context.Context, run *workflow.Run) (any, error) {
	var evt ThumbnailEvent
	if err := run.Decode(&evt); err != nil {
		return nil, err
	}

	inputs, err := workflow.Step(ctx, run, StepUploadAttachments, func(ctx context.Context) (UploadedInputs, error) {
		var out UploadedInputs
		ref, err := d.uploadAttachment(ctx, "reference", evt.ReferenceImage)
		if err != nil {
			return out, err
		}
		face, err := d.uploadAttachment(ctx, "face", evt.FaceImage)
		if err != nil {
			return out, err
		}
		out.ReferenceImageURL, out.FaceImageURL = ref, face
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	prompt, err := workflow.Step(ctx, run, StepGeneratePrompt, func(ctx context.Context) (string, error) {
		return d.thumbnailPrompt(ctx, evt, inputs)
	})
	if err != nil {
		return nil, err
	}

	image, err := workflow.Step(ctx, run, StepGenerateImage, func(ctx context.Context) (ImageResult, error) {
		return d.renderImage(ctx, prompt, "thumbnail")
	})
	if err != nil {
		return nil, err
	}

	return workflow.Step(ctx, run, StepPersist, func(ctx context.Context) (domain.ThumbnailRecord, error) {
		now := d.unix()
		rec := domain.ThumbnailRecord{
			UserInput:         evt.Content,
			ReferenceImageURL: inputs.ReferenceImageURL,
			FaceImageURL:      inputs.FaceImageURL,
			ThumbnailURL:      image.URL,
			UserEmail:         evt.UserEmail,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := d.Thumbnails.Insert(ctx, &rec); err != nil {
			return rec, fmt.Errorf("persist thumbnail: %w", err)
		}
		return rec, nil
	})
}

func (d *Deps) uploadAttachment(ctx context.Context, prefix string, file *EncodedFile) (*string, error) {
	if file == nil {
		return nil, nil
	}
	data, err := file.decode()
	if err != nil {
		return nil, workflow.NonRetriable(err)
	}
	up, err := d.Storage.Upload(ctx, storage.Object{
		Name:   storage.ObjectName(prefix, file.Type),
		Folder: d.Folder,
		MIME:   file.Type,
		Data:   data,
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s image: %w", prefix, err)
	}
	return &up.URL, nil
}

func (d *Deps) thumbnailPrompt(ctx context.Context, evt ThumbnailEvent, inputs UploadedInputs) (string, error) {
	var images []string
	if inputs.ReferenceImageURL != nil {
		images = append(images, *inputs.ReferenceImageURL)
	}
	if inputs.FaceImageURL != nil {
		images = append(images, *inputs.FaceImageURL)
	}
	text, err := d.LLM.Complete(ctx, llm.Request{
		System: thumbnailSystemPrompt,
		Messages: []llm.Message{{
			Text:      thumbnailInstruction(evt.Content, inputs.ReferenceImageURL != nil, inputs.FaceImageURL != nil, evt.Locale),
			ImageURLs: images,
		}},
		Temperature: 0.7,
		MaxTokens:   1000,
	})
	if err != nil {
		return "", err
	}
	prompt := strings.Trim(llm.TrimCodeFence(text), "\"' \n")
	if prompt == "" {
		return "", fmt.Errorf("%w: empty thumbnail prompt", domain.ErrProviderFailure)
	}
	return prompt, nil
}
