// Package slides turns rendered slide-deck pages into retrievable chunks:
// perceptual-hash deduplication, structured description through an external
// vision model, and canonical chunk-string assembly.
package slides

import (
	"fmt"
	"strings"

	"github.com/corona10/goimagehash"
)

// noneSentinel replaces empty or missing description fields so the chunk
// string never carries nulls.
const noneSentinel = "None"

// Slide is one rendered page of a slide deck.
type Slide struct {
	// Number is the original 1-based page number. Preserved through
	// deduplication so citations always point at the real slide.
	Number int
	// PNG is the rendered page image.
	PNG []byte
}

// HashedSlide is a slide that survived deduplication, with its fingerprint.
type HashedSlide struct {
	Slide
	// Hash is the 64-bit perceptual hash of the rendered image.
	Hash *goimagehash.ImageHash
}

// HashHex returns the fingerprint as a 16-digit hex string for artifacts.
func (h HashedSlide) HashHex() string {
	return fmt.Sprintf("%016x", h.Hash.GetHash())
}

// Content is the structured description of one slide, as returned by the
// description provider.
type Content struct {
	// Text is the slide's textual content.
	Text string `json:"text_content"`
	// Images describes photographs or illustrations on the slide.
	Images string `json:"images_description"`
	// Diagrams describes diagrams, charts and figures on the slide.
	Diagrams string `json:"diagrams_and_figures_description"`
	// SlideType classifies the slide: "title" or "content".
	SlideType string `json:"slide_type"`
}

// Normalized returns a copy with whitespace collapsed and empty fields
// replaced by the "None" sentinel. SlideType defaults to "content".
func (c Content) Normalized() Content {
	out := Content{
		Text:      normalizeField(c.Text),
		Images:    normalizeField(c.Images),
		Diagrams:  normalizeField(c.Diagrams),
		SlideType: strings.TrimSpace(strings.ToLower(c.SlideType)),
	}
	if out.SlideType != "title" && out.SlideType != "content" {
		out.SlideType = "content"
	}
	return out
}

// normalizeField collapses internal whitespace and maps empty to the sentinel.
func normalizeField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return noneSentinel
	}
	return strings.Join(fields, " ")
}

// Chunk is the retrievable unit for one surviving slide.
type Chunk struct {
	// SlideNumber is the original 1-based page number.
	SlideNumber int
	// HashHex is the slide's perceptual-hash fingerprint.
	HashHex string
	// Content is the normalized structured description.
	Content Content
}

// NewChunk assembles a Chunk from a deduplicated slide and its description.
func NewChunk(h HashedSlide, content Content) Chunk {
	return Chunk{
		SlideNumber: h.Number,
		HashHex:     h.HashHex(),
		Content:     content.Normalized(),
	}
}

// ChunkText renders the canonical chunk string indexed in the knowledge
// store and shown to the model.
func (c Chunk) ChunkText() string {
	return fmt.Sprintf("Slide %d (%s) | Text: %s | Images: %s | Diagrams/Figures: %s",
		c.SlideNumber, c.Content.SlideType, c.Content.Text, c.Content.Images, c.Content.Diagrams)
}
