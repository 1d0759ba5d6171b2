package handlers

import (
	"context"

	"weaver/internal/pkg/logger"
	"weaver/internal/render"
)

// Pinger is any dependency the deep health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Renders *render.Service
	// Renderer is probed by the deep health check when set.
	Renderer Pinger
	Log      *logger.Logger
	Version  string
}

type Handler struct {
	renders  *render.Service
	renderer Pinger
	log      *logger.Logger
	version  string
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Handler{
		renders:  d.Renders,
		renderer: d.Renderer,
		log:      log,
		version:  d.Version,
	}
}
