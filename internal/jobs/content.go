package jobs

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"trendtide/internal/domain"
	"trendtide/internal/providers/llm"
	"trendtide/internal/workflow"
)

// GenerateContent asks the LLM for a content plan, renders its four
// thumbnails in parallel and persists the package. The run output is the
// domain.ContentPackage.
func (d *Deps) GenerateContent(ctx context.Context, run *workflow.Run) (any, error) {
	var evt ContentEvent
	if err := run.Decode(&evt); err != nil {
		return nil, err
	}

	plan, err := workflow.Step(ctx, run, StepGenerateContentPlan, func(ctx context.Context) (ContentPlan, error) {
		text, err := d.LLM.Complete(ctx, llm.Request{
			System:      contentSystemPrompt,
			Messages:    []llm.Message{{Text: contentPlanInstruction(evt.Title, evt.Locale)}},
			Temperature: 0.8,
			JSON:        true,
		})
		if err != nil {
			return ContentPlan{}, err
		}
		plan, err := ParseContentPlan(text)
		if err != nil {
			return ContentPlan{}, workflow.NonRetriable(err)
		}
		return plan, nil
	})
	if err != nil {
		return nil, err
	}

	thumbs, err := workflow.Step(ctx, run, StepGenerateThumbnails, func(ctx context.Context) ([]domain.ThumbnailEntry, error) {
		return d.renderThumbnails(ctx, plan.Prompts)
	})
	if err != nil {
		return nil, err
	}

	pkg := domain.ContentPackage{
		Titles:      plan.Titles,
		Description: plan.Description,
		Tags:        plan.Tags,
		Thumbnails:  thumbs,
	}
	rec, err := workflow.Step(ctx, run, StepPersist, func(ctx context.Context) (domain.ContentRecord, error) {
		rec, err := domain.NewContentRecord(evt.Title, evt.UserEmail, pkg, d.unix())
		if err != nil {
			return domain.ContentRecord{}, workflow.NonRetriable(err)
		}
		if err := d.Contents.Insert(ctx, rec); err != nil {
			return *rec, fmt.Errorf("persist content package: %w", err)
		}
		return *rec, nil
	})
	if err != nil {
		return nil, err
	}
	return rec.Package()
}

// renderThumbnails yields exactly one entry per prompt, in prompt order. Each
// entry falls back independently; only cancellation fails the batch.
func (d *Deps) renderThumbnails(ctx context.Context, prompts []ThumbnailPrompt) ([]domain.ThumbnailEntry, error) {
	entries := make([]domain.ThumbnailEntry, len(prompts))
	var g errgroup.Group
	g.SetLimit(PlanThumbnailCount)
	for i, p := range prompts {
		g.Go(func() error {
			res, err := d.renderImage(ctx, p.Prompt, fmt.Sprintf("content-%d", i+1))
			if err != nil {
				return err
			}
			entries[i] = domain.ThumbnailEntry{
				Heading:  p.Heading,
				URL:      res.URL,
				FileID:   res.FileID,
				Fallback: res.Fallback,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}
