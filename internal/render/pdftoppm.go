// Package render rasterises uploaded slide decks into page images by
// shelling out to the poppler pdftoppm binary.
package render

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/studybuddy/studybuddy-go/internal/slides"
)

// DefaultDPI is the rasterisation resolution. 150 dpi keeps text readable
// for the vision model without producing oversized images.
const DefaultDPI = 150

// PDFRenderer renders PDF slide decks to PNG pages using the real pdftoppm
// binary found on PATH. It is the default renderer used in production.
type PDFRenderer struct {
	// dpi is the rasterisation resolution.
	dpi int
}

// NewPDFRenderer returns a new PDFRenderer. It verifies that the pdftoppm
// binary is available on PATH at construction time.
func NewPDFRenderer(dpi int) (*PDFRenderer, error) {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		return nil, fmt.Errorf("render: pdftoppm binary not found on PATH — install poppler-utils first")
	}
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &PDFRenderer{dpi: dpi}, nil
}

// Render writes data to a scratch directory, runs pdftoppm, and returns the
// rendered pages in page order. Page numbers come from pdftoppm's output
// filenames, so they always match the original deck.
func (r *PDFRenderer) Render(ctx context.Context, data []byte) ([]slides.Slide, error) {
	dir, err := os.MkdirTemp("", "studybuddy-render-*")
	if err != nil {
		return nil, fmt.Errorf("render: create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, fmt.Errorf("render: write input: %w", err)
	}

	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-r", strconv.Itoa(r.dpi),
		input,
		filepath.Join(dir, "page"),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("render: pdftoppm failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("render: read scratch dir: %w", err)
	}

	var pages []slides.Slide
	for _, entry := range entries {
		num, ok := pageNumber(entry.Name())
		if !ok {
			continue
		}
		png, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("render: read page %d: %w", num, err)
		}
		pages = append(pages, slides.Slide{Number: num, PNG: png})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })

	return pages, nil
}

// pageNumber extracts the 1-based page number from a pdftoppm output name
// such as "page-07.png". Zero-padding varies with the page count.
func pageNumber(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, "page-")
	if !ok {
		return 0, false
	}
	digits, ok := strings.CutSuffix(rest, ".png")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
