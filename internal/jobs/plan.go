package jobs

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"trendtide/internal/domain"
	"trendtide/internal/providers/llm"
)

// Expected content plan shape.
const (
	PlanTitleCount     = 3
	PlanTagCount       = 10
	PlanThumbnailCount = 4
)

// ThumbnailPrompt is one image to generate for a content package.
type ThumbnailPrompt struct {
	Heading string `json:"heading"`
	Prompt  string `json:"prompt"`
}

// ContentPlan is the validated LLM answer for a content generation run.
type ContentPlan struct {
	Titles      []domain.TitleSuggestion `json:"titles"`
	Description string                   `json:"description"`
	Tags        []string                 `json:"tags"`
	Prompts     []ThumbnailPrompt        `json:"image_prompts"`
}

// ParseContentPlan strips a markdown fence, decodes strict JSON and checks the
// plan shape. Every failure wraps domain.ErrParse.
func ParseContentPlan(raw string) (ContentPlan, error) {
	text := llm.TrimCodeFence(raw)
	if text == "" {
		return ContentPlan{}, fmt.Errorf("%w: empty content plan", domain.ErrParse)
	}
	var plan ContentPlan
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		return ContentPlan{}, fmt.Errorf("%w: content plan is not valid JSON: %v", domain.ErrParse, err)
	}
	if err := plan.validate(); err != nil {
		return ContentPlan{}, err
	}
	return plan, nil
}

func (p *ContentPlan) validate() error {
	if len(p.Titles) != PlanTitleCount {
		return fmt.Errorf("%w: expected %d titles, got %d", domain.ErrParse, PlanTitleCount, len(p.Titles))
	}
	for i := range p.Titles {
		p.Titles[i].Title = strings.TrimSpace(p.Titles[i].Title)
		if p.Titles[i].Title == "" {
			return fmt.Errorf("%w: title %d is empty", domain.ErrParse, i+1)
		}
		if s := p.Titles[i].SEOScore; s < 1 || s > 100 {
			return fmt.Errorf("%w: title %d seo_score %d out of range", domain.ErrParse, i+1, s)
		}
	}
	p.Description = strings.TrimSpace(p.Description)
	if p.Description == "" {
		return fmt.Errorf("%w: description is empty", domain.ErrParse)
	}
	if len(p.Tags) != PlanTagCount {
		return fmt.Errorf("%w: expected %d tags, got %d", domain.ErrParse, PlanTagCount, len(p.Tags))
	}
	for i, tag := range p.Tags {
		tag = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
		if tag == "" {
			return fmt.Errorf("%w: tag %d is empty", domain.ErrParse, i+1)
		}
		p.Tags[i] = tag
	}
	if len(p.Prompts) != PlanThumbnailCount {
		return fmt.Errorf("%w: expected %d image prompts, got %d", domain.ErrParse, PlanThumbnailCount, len(p.Prompts))
	}
	caser := cases.Title(language.English)
	for i := range p.Prompts {
		p.Prompts[i].Heading = caser.String(strings.TrimSpace(p.Prompts[i].Heading))
		p.Prompts[i].Prompt = strings.TrimSpace(p.Prompts[i].Prompt)
		if p.Prompts[i].Heading == "" || p.Prompts[i].Prompt == "" {
			return fmt.Errorf("%w: image prompt %d needs a heading and a prompt", domain.ErrParse, i+1)
		}
	}
	return nil
}
