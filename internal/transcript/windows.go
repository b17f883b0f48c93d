// Package transcript groups timestamped spoken-lecture segments into
// fixed-duration windows, the retrievable chunks for lecture content.
package transcript

import (
	"sort"
	"strings"
)

// DefaultWindowSeconds is the target duration of one transcript window.
const DefaultWindowSeconds = 180.0

// Segment is one timestamped piece of transcribed speech, as produced by the
// external transcription service.
type Segment struct {
	// Start is the segment start offset in seconds.
	Start float64 `json:"start"`
	// End is the segment end offset in seconds.
	End float64 `json:"end"`
	// Text is the transcribed speech.
	Text string `json:"text"`
}

// Chunk is one window of consecutive segments.
type Chunk struct {
	// Index is the 0-based window ordinal.
	Index int
	// Start is the first segment's start offset in seconds.
	Start float64
	// End is the last segment's end offset in seconds.
	End float64
	// Text is the segments' text joined with single spaces.
	Text string
	// SegmentCount is the number of segments in this window.
	SegmentCount int
}

// Normalize drops malformed segments (empty text, end before start) and
// returns the survivors sorted by start time. The input slice is not
// modified.
func Normalize(segments []Segment) []Segment {
	valid := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		if s.End < s.Start {
			continue
		}
		valid = append(valid, s)
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].Start < valid[j].Start })
	return valid
}

// Window normalizes segments and accumulates them into consecutive chunks.
// A window flushes once the elapsed audio time (current segment's end minus
// the window's first start) reaches targetSeconds; the final partial window
// always flushes. Windows never overlap and their union covers exactly the
// span of the valid segments.
func Window(segments []Segment, targetSeconds float64) []Chunk {
	if targetSeconds <= 0 {
		targetSeconds = DefaultWindowSeconds
	}

	valid := Normalize(segments)
	if len(valid) == 0 {
		return nil
	}

	var chunks []Chunk
	var window []Segment
	flush := func() {
		if len(window) == 0 {
			return
		}
		texts := make([]string, 0, len(window))
		for _, s := range window {
			texts = append(texts, strings.TrimSpace(s.Text))
		}
		chunks = append(chunks, Chunk{
			Index:        len(chunks),
			Start:        window[0].Start,
			End:          window[len(window)-1].End,
			Text:         strings.Join(texts, " "),
			SegmentCount: len(window),
		})
		window = window[:0]
	}

	for _, s := range valid {
		window = append(window, s)
		if s.End-window[0].Start >= targetSeconds {
			flush()
		}
	}
	flush()

	return chunks
}
