package jobs

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

const thumbnailSystemPrompt = "You are an expert YouTube thumbnail designer. You write a single image generation prompt and nothing else: no preamble, no markdown, no quotes."

const contentSystemPrompt = "You are a YouTube growth strategist. You only answer with one valid JSON object."

const contentPlanSchema = `{"titles":[{"title":string,"seo_score":number}],"description":string,"tags":[string],"image_prompts":[{"heading":string,"prompt":string}]}`

// thumbnailStyles are the four visual styles requested for a content plan, in order.
var thumbnailStyles = []string{"3D render", "flat vector illustration", "vector art", "realistic photo"}

// LanguageName returns the English name of a BCP 47 locale ("id" -> "Indonesian").
// Unknown or empty locales fall back to English.
func LanguageName(locale string) string {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil || tag == language.Und {
		return "English"
	}
	base, _ := tag.Base()
	name := display.English.Languages().Name(language.Make(base.String()))
	if name == "" {
		return "English"
	}
	return name
}

func thumbnailInstruction(content string, hasReference, hasFace bool, locale string) string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Write one detailed prompt for an AI image model to create a 1280x720 YouTube thumbnail for this video: %q.", content)
	sb.WriteString(" Describe composition, subject, lighting, colour palette and any short bold overlay text.")
	if hasReference {
		sb.WriteString(" The first attached image is a reference thumbnail: match its layout, mood and style while making it original.")
	}
	if hasFace {
		sb.WriteString(" The attached face image belongs to the creator. The prompt MUST feature this person's face prominently as the main subject, large and clearly visible, with an expressive emotion that fits the topic.")
	}
	if lang := LanguageName(locale); lang != "English" {
		fmt.Fprintf(sb, " Any overlay text must be written in %s; the prompt itself stays in English.", lang)
	}
	sb.WriteString(" Return only the prompt text.")
	return sb.String()
}

func contentPlanInstruction(title, locale string) string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Create a YouTube content package for a video about %q. Respond strictly with JSON matching this schema: %s.", title, contentPlanSchema)
	sb.WriteString(" Rules: exactly 3 titles, each with an SEO score between 1 and 100; one description of 2-4 sentences; exactly 10 tags without '#';")
	fmt.Fprintf(sb, " exactly 4 image_prompts, each with a short heading and a detailed 1280x720 thumbnail prompt, using these styles in order: %s.", strings.Join(thumbnailStyles, ", "))
	fmt.Fprintf(sb, " Write titles, description and tags in %s. Image prompts stay in English.", LanguageName(locale))
	return sb.String()
}
