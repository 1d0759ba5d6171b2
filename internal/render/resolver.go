package render

import (
	"weaver/internal/models"
	"weaver/internal/ports"
)

// Resolve applies caller overrides to the composition's own metadata. Each of
// duration, width and height is taken from params when it holds a positive
// whole number and from comp otherwise; zero, negative or non-numeric values
// count as not supplied.
func Resolve(params models.Params, comp ports.Composition) ports.Composition {
	out := comp
	if v, ok := params.PositiveInt(models.ParamDurationInFrames); ok {
		out.DurationInFrames = v
	}
	if v, ok := params.PositiveInt(models.ParamWidth); ok {
		out.Width = v
	}
	if v, ok := params.PositiveInt(models.ParamHeight); ok {
		out.Height = v
	}
	return out
}
