package media

import (
	"context"
	"fmt"

	"github.com/disintegration/imaging"
)

// PosterSpec controls the poster thumbnail dimensions.
type PosterSpec struct {
	Width  int
	Height int
}

// DefaultPosterSpec fits the poster into a 640x360 box.
var DefaultPosterSpec = PosterSpec{Width: 640, Height: 360}

// Poster extracts the final frame of a video and downscales it into a JPEG
// cover image for the assembled artifact.
func (f *FFmpeg) Poster(ctx context.Context, videoPath string, spec PosterSpec) (string, error) {
	framePath, err := f.ExtractLastFrame(ctx, videoPath)
	if err != nil {
		return "", err
	}

	src, err := imaging.Open(framePath)
	if err != nil {
		return "", fmt.Errorf("open poster frame: %w", err)
	}
	thumb := imaging.Fit(src, spec.Width, spec.Height, imaging.Lanczos)

	output := f.scratch("poster_%s.jpg")
	if err := imaging.Save(thumb, output, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("save poster: %w", err)
	}
	return output, nil
}
