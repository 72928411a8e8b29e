// Package raster manages lazy page rendering for paged (pre-rastered)
// document formats.
package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/pageturn/pageturn/internal/storage"
)

// Rasterizer produces the bitmap of a single page at a scale and theme.
type Rasterizer interface {
	RenderPage(ctx context.Context, page int, scale float64, theme string) (image.Image, error)
}

// PageLoader fetches the base bitmap of a page at its natural size.
// Page numbers are 1-based.
type PageLoader func(ctx context.Context, page int) (image.Image, error)

// ImageRasterizer renders pages from pre-extracted page bitmaps,
// applying scale and theme adjustments on every render.
type ImageRasterizer struct {
	load PageLoader
}

// NewImageRasterizer creates a rasterizer over the given loader.
func NewImageRasterizer(load PageLoader) *ImageRasterizer {
	return &ImageRasterizer{load: load}
}

// RenderPage loads the base bitmap and applies scale and theme. A dark
// theme inverts the page; sepia desaturates and warms it.
func (r *ImageRasterizer) RenderPage(ctx context.Context, page int, scale float64, theme string) (image.Image, error) {
	img, err := r.load(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("failed to load page %d: %w", page, err)
	}

	if scale > 0 && scale != 1.0 {
		w := int(float64(img.Bounds().Dx()) * scale)
		if w < 1 {
			w = 1
		}
		img = imaging.Resize(img, w, 0, imaging.Lanczos)
	}

	switch theme {
	case "dark":
		img = imaging.Invert(img)
	case "sepia":
		img = imaging.AdjustSaturation(img, -35)
		img = imaging.AdjustGamma(img, 0.92)
	}
	return img, nil
}

// StoragePageLoader loads page bitmaps stored alongside the book file
// as books/{bookID}/pages/page-{n}.png.
func StoragePageLoader(adapter storage.Adapter, bookID string) PageLoader {
	return func(ctx context.Context, page int) (image.Image, error) {
		path := fmt.Sprintf("books/%s/pages/page-%d.png", bookID, page)
		data, err := storage.ReadAll(ctx, adapter, path)
		if err != nil {
			return nil, err
		}
		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode page bitmap %s: %w", path, err)
		}
		return img, nil
	}
}
