package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"weaver/internal/httpapi/handlers"
	"weaver/internal/httpkit"
	"weaver/internal/pkg/logger"
	"weaver/internal/pkg/middleware"
	"weaver/internal/render"
)

type Deps struct {
	Renders     *render.Service
	Renderer    handlers.Pinger
	Log         *logger.Logger
	CORSOrigins []string
	Version     string
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		ExposedHeaders: []string{"Location", middleware.RequestIDHeader},
		MaxAgeSeconds:  600,
	}))

	h := handlers.New(handlers.Deps{
		Renders:  d.Renders,
		Renderer: d.Renderer,
		Log:      log,
		Version:  d.Version,
	})
	wrap := func(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(log, fn)
	}

	r.Get("/health", h.Health)

	r.Route("/renders", func(r chi.Router) {
		r.Post("/", wrap(h.PostRender))
		r.Get("/", wrap(h.ListRenders))
		r.Get("/{jobId}", wrap(h.GetRender))
		r.Post("/{jobId}/cancel", wrap(h.CancelRender))
		r.Get("/{jobId}/download", wrap(h.DownloadRender))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpkit.WriteErr(w, http.StatusNotFound, "NOT_FOUND", "route not found", map[string]any{"path": r.URL.Path})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpkit.WriteErr(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	return r
}
