package slides

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// DescriptionProvider produces a structured description of one rendered
// slide image. Implementations must be safe for concurrent use.
type DescriptionProvider interface {
	// Describe returns the structured content of the slide. Any failure is
	// fatal for the whole document — the caller aborts ingestion rather than
	// index a half-described deck.
	Describe(ctx context.Context, png []byte, slideNumber int) (Content, error)
}

// describePrompt instructs the vision model on the required fields.
const describePrompt = `Describe this lecture slide for a study assistant.
Report the slide's text content, a description of any photographs or
illustrations, and a description of any diagrams, charts or figures.
Classify the slide as "title" or "content". If a field does not apply,
return an empty string for it.`

// GeminiDescriber implements DescriptionProvider using Gemini structured
// output via google.golang.org/genai.
type GeminiDescriber struct {
	// client is the shared Gemini API client.
	client *genai.Client
	// model is the multimodal model name (e.g. "gemini-2.0-flash").
	model string
}

// NewGeminiDescriber constructs a GeminiDescriber for the given model.
func NewGeminiDescriber(ctx context.Context, apiKey, model string) (*GeminiDescriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("slides: GOOGLE_API_KEY is required for the description provider")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("slides: failed to create Gemini client: %w", err)
	}
	return &GeminiDescriber{client: client, model: model}, nil
}

// contentSchema constrains the model's output to the Content field contract.
var contentSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"text_content":                     {Type: genai.TypeString},
		"images_description":               {Type: genai.TypeString},
		"diagrams_and_figures_description": {Type: genai.TypeString},
		"slide_type":                       {Type: genai.TypeString, Enum: []string{"title", "content"}},
	},
	Required: []string{"text_content", "images_description", "diagrams_and_figures_description", "slide_type"},
}

// Describe sends the rendered page to Gemini and decodes the structured reply.
func (g *GeminiDescriber) Describe(ctx context.Context, png []byte, slideNumber int) (Content, error) {
	parts := []*genai.Part{
		genai.NewPartFromBytes(png, "image/png"),
		genai.NewPartFromText(describePrompt),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   contentSchema,
	})
	if err != nil {
		return Content{}, fmt.Errorf("slides: describe slide %d: %w", slideNumber, err)
	}

	var c Content
	if err := json.Unmarshal([]byte(resp.Text()), &c); err != nil {
		return Content{}, fmt.Errorf("slides: decode description for slide %d: %w", slideNumber, err)
	}

	return c.Normalized(), nil
}
