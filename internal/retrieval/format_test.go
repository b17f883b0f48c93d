package retrieval

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func sampleResults() []Result {
	return []Result{
		{SourceID: "s1", SourceType: SourceSlide, Content: "alpha", DocumentID: "doc-1", SlideNumber: 4},
		{SourceID: "s2", SourceType: SourceSlide, Content: "beta", DocumentID: "doc-1", SlideNumber: 2},
		{SourceID: "s3", SourceType: SourceLecture, Content: "gamma", LectureID: "lec-1", StartSeconds: 754, EndSeconds: 930},
	}
}

func Test_Format_NumbersAlignAcrossViews(t *testing.T) {
	t.Parallel()

	ordered, lean := Format(sampleResults(), OrderRelevance)
	sources := ToRAGSources(ordered)

	if len(ordered) != 3 || len(sources) != 3 {
		t.Fatalf("lengths: %d results, %d sources", len(ordered), len(sources))
	}

	lines := strings.Split(lean, "\n")
	if len(lines) != 3 {
		t.Fatalf("lean context lines: %d", len(lines))
	}

	for i := range ordered {
		wantNum := i + 1
		if ordered[i].ChunkNumber != wantNum {
			t.Errorf("result %d: chunk number %d", i, ordered[i].ChunkNumber)
		}
		if sources[i].ChunkNumber != wantNum {
			t.Errorf("source %d: chunk number %d", i, sources[i].ChunkNumber)
		}
		prefix := fmt.Sprintf("[%d] ", wantNum)
		if !strings.HasPrefix(lines[i], prefix) {
			t.Errorf("lean line %d: %q does not start with %q", i, lines[i], prefix)
		}
		if sources[i].SourceID != ordered[i].SourceID {
			t.Errorf("source %d: id mismatch", i)
		}
	}
}

func Test_Format_RelevanceKeepsInputOrder(t *testing.T) {
	t.Parallel()

	ordered, _ := Format(sampleResults(), OrderRelevance)
	if ordered[0].SourceID != "s1" || ordered[1].SourceID != "s2" || ordered[2].SourceID != "s3" {
		t.Errorf("relevance ordering changed input order: %v", ids(ordered))
	}
}

func Test_Format_ChronologicalOrdering(t *testing.T) {
	t.Parallel()

	in := []Result{
		{SourceID: "a", SourceType: SourceLecture, LectureID: "lec-1", StartSeconds: 400},
		{SourceID: "b", SourceType: SourceSlide, DocumentID: "doc-2", SlideNumber: 1},
		{SourceID: "c", SourceType: SourceSlide, DocumentID: "doc-1", SlideNumber: 9},
		{SourceID: "d", SourceType: SourceSlide, DocumentID: "doc-1", SlideNumber: 2},
		{SourceID: "e", SourceType: SourceLecture, LectureID: "lec-1", StartSeconds: 100},
	}
	ordered, _ := Format(in, OrderChronological)

	want := []string{"d", "c", "b", "e", "a"}
	got := ids(ordered)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chronological order: got %v, want %v", got, want)
		}
	}
}

func Test_Format_Locators(t *testing.T) {
	t.Parallel()

	_, lean := Format(sampleResults(), OrderRelevance)
	if !strings.Contains(lean, "(Slide 4) alpha") {
		t.Errorf("slide locator missing: %q", lean)
	}
	// 754 seconds is 12:34.
	if !strings.Contains(lean, "(Lecture @12:34) gamma") {
		t.Errorf("lecture locator missing: %q", lean)
	}
}

func Test_FormatTimestamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float64
		want string
	}{
		{0, "0:00"},
		{59, "0:59"},
		{60, "1:00"},
		{754, "12:34"},
		{3599, "59:59"},
		{3600, "1:00:00"},
		{7325, "2:02:05"},
	}
	for _, tt := range tests {
		if got := formatTimestamp(tt.in); got != tt.want {
			t.Errorf("formatTimestamp(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func Test_ToRAGSources_Preview(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 500)
	ordered, _ := Format([]Result{{SourceID: "s", SourceType: SourceSlide, Content: long}}, OrderRelevance)
	sources := ToRAGSources(ordered)
	if len(sources[0].ContentPreview) >= 500 {
		t.Errorf("preview not truncated: %d bytes", len(sources[0].ContentPreview))
	}
}

func Test_ToRAGSources_PreviewCutsOnRuneBoundary(t *testing.T) {
	t.Parallel()

	// Multi-byte runes straddling the cut point must not be split.
	long := strings.Repeat("ü", 300)
	ordered, _ := Format([]Result{{SourceID: "s", SourceType: SourceSlide, Content: long}}, OrderRelevance)
	sources := ToRAGSources(ordered)

	p := sources[0].ContentPreview
	if !utf8.ValidString(p) {
		t.Fatalf("preview is not valid UTF-8: %q", p)
	}
	if !strings.HasSuffix(p, "…") {
		t.Errorf("truncated preview must end with an ellipsis: %q", p)
	}
}

// ids extracts the SourceID sequence for order assertions.
func ids(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.SourceID
	}
	return out
}
