package slides

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png" // register PNG decoder for rendered pages
	"log/slog"

	"github.com/corona10/goimagehash"

	"github.com/studybuddy/studybuddy-go/internal/logging"
)

// Deduper detects near-duplicate slide images within one document using
// 64-bit perceptual hashes. Not safe for concurrent use; each ingestion job
// owns its own Deduper.
type Deduper struct {
	// threshold is the maximum hamming distance at which two fingerprints
	// count as duplicates. 0 means exact match only.
	threshold int
	// seen holds the fingerprints of all surviving slides so far.
	seen []*goimagehash.ImageHash
}

// NewDeduper constructs a Deduper with the given hamming-distance threshold.
// Negative thresholds clamp to 0 (exact match).
func NewDeduper(threshold int) *Deduper {
	if threshold < 0 {
		threshold = 0
	}
	return &Deduper{threshold: threshold}
}

// Check fingerprints img and reports whether it duplicates a previously seen
// slide. Non-duplicates are recorded as seen.
func (d *Deduper) Check(img image.Image) (dup bool, hash *goimagehash.ImageHash, err error) {
	hash, err = goimagehash.PerceptionHash(img)
	if err != nil {
		return false, nil, fmt.Errorf("slides: perceptual hash: %w", err)
	}
	for _, s := range d.seen {
		dist, err := s.Distance(hash)
		if err != nil {
			return false, nil, fmt.Errorf("slides: hash distance: %w", err)
		}
		if dist <= d.threshold {
			return true, hash, nil
		}
	}
	d.seen = append(d.seen, hash)
	return false, hash, nil
}

// Dedup decodes and fingerprints the rendered pages in order, dropping
// near-duplicates before the expensive description step. Pages that fail to
// decode are logged and skipped. Survivors keep their original slide
// numbers; numbering is never rewritten after dedup.
func Dedup(ctx context.Context, pages []Slide, threshold int) []HashedSlide {
	log := logging.FromContext(ctx)
	d := NewDeduper(threshold)

	survivors := make([]HashedSlide, 0, len(pages))
	for _, page := range pages {
		img, _, err := image.Decode(bytes.NewReader(page.PNG))
		if err != nil {
			log.Warn("slides: skipping undecodable page",
				slog.Int("slide_number", page.Number),
				slog.String("error", err.Error()),
			)
			continue
		}

		dup, hash, err := d.Check(img)
		if err != nil {
			log.Warn("slides: skipping unhashable page",
				slog.Int("slide_number", page.Number),
				slog.String("error", err.Error()),
			)
			continue
		}
		if dup {
			log.Debug("slides: dropping duplicate page",
				slog.Int("slide_number", page.Number),
			)
			continue
		}

		survivors = append(survivors, HashedSlide{Slide: page, Hash: hash})
	}

	return survivors
}
