package retrieval

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/studybuddy/studybuddy-go/internal/stream"
)

// Ordering selects how retrieved results are arranged before numbering.
type Ordering string

const (
	// OrderRelevance keeps the retriever's order (slides first, each phase
	// ranked by similarity).
	OrderRelevance Ordering = "relevance"
	// OrderChronological sorts slides by (document, slide number) and
	// lectures by (lecture, start time), slides still first.
	OrderChronological Ordering = "chronological"
)

// previewLen caps the content preview carried in the rich source view.
const previewLen = 200

// Format orders the results, assigns 1-indexed chunk numbers, and renders
// the lean context string for prompt injection. The returned slice is the
// single source of truth for numbering: the rich view derives from it via
// ToRAGSources, so the two views can never diverge.
func Format(results []Result, ordering Ordering) ([]Result, string) {
	ordered := make([]Result, len(results))
	copy(ordered, results)

	if ordering == OrderChronological {
		sort.SliceStable(ordered, func(i, j int) bool {
			a, b := ordered[i], ordered[j]
			if a.SourceType != b.SourceType {
				return a.SourceType == SourceSlide
			}
			if a.SourceType == SourceSlide {
				if a.DocumentID != b.DocumentID {
					return a.DocumentID < b.DocumentID
				}
				return a.SlideNumber < b.SlideNumber
			}
			if a.LectureID != b.LectureID {
				return a.LectureID < b.LectureID
			}
			return a.StartSeconds < b.StartSeconds
		})
	}

	var b strings.Builder
	for i := range ordered {
		ordered[i].ChunkNumber = i + 1
		fmt.Fprintf(&b, "[%d] (%s) %s\n", ordered[i].ChunkNumber, locator(ordered[i]), ordered[i].Content)
	}

	return ordered, strings.TrimRight(b.String(), "\n")
}

// locator renders the short human label for one source.
func locator(r Result) string {
	if r.SourceType == SourceSlide {
		return fmt.Sprintf("Slide %d", r.SlideNumber)
	}
	return fmt.Sprintf("Lecture @%s", formatTimestamp(r.StartSeconds))
}

// formatTimestamp renders seconds as M:SS, or H:MM:SS beyond one hour.
func formatTimestamp(seconds float64) string {
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// ToRAGSources maps formatted results to the wire citation records. The
// mapping is pure: ordering and chunk numbers pass through unchanged.
func ToRAGSources(results []Result) []stream.RAGSource {
	out := make([]stream.RAGSource, 0, len(results))
	for _, r := range results {
		out = append(out, stream.RAGSource{
			SourceID:       r.SourceID,
			SourceType:     string(r.SourceType),
			ContentPreview: preview(r.Content),
			ChunkNumber:    r.ChunkNumber,
			DocumentID:     r.DocumentID,
			SlideNumber:    r.SlideNumber,
			LectureID:      r.LectureID,
			StartSeconds:   r.StartSeconds,
			EndSeconds:     r.EndSeconds,
			CourseID:       r.CourseID,
			OwnerID:        r.OwnerID,
			Title:          r.Title,
		})
	}
	return out
}

// preview truncates content for the rich source view, cutting on a rune
// boundary so the result is always valid UTF-8.
func preview(content string) string {
	if len(content) <= previewLen {
		return content
	}
	cut := previewLen
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "…"
}
