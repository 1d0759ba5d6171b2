package ports

import (
	"context"

	"weaver/internal/models"
)

// Composition is the metadata a bundled composition reports about itself.
type Composition struct {
	ID               string  `json:"id"`
	DurationInFrames int     `json:"durationInFrames"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	FPS              float64 `json:"fps"`
}

// EncodingConfig carries the encoder knobs passed to the engine.
type EncodingConfig struct {
	Codec       string `json:"codec"`
	CRF         int    `json:"crf"`
	ImageFormat string `json:"imageFormat"`
	ColorSpace  string `json:"colorSpace"`
	X264Preset  string `json:"x264Preset"`
	JpegQuality int    `json:"jpegQuality"`
}

type SelectCompositionInput struct {
	ServeURL      string
	CompositionID string
	InputProps    models.Params
}

type RenderInput struct {
	ServeURL    string
	Composition Composition
	InputProps  models.Params
	OutputPath  string
	Encoding    EncodingConfig
	TimeoutMs   int64
	// OnProgress receives fractional completion in [0,1]; it may be called
	// from another goroutine and out of order.
	OnProgress func(progress float64)
}

// RenderEngine is the external bundler/renderer.
type RenderEngine interface {
	Bundle(ctx context.Context, entryPoint string) (serveURL string, err error)
	SelectComposition(ctx context.Context, in SelectCompositionInput) (Composition, error)
	Render(ctx context.Context, in RenderInput) error
}
