package v1

// Wire contract v1 between the orchestrator and the renderer sidecar.
//
//	POST /bundle               BundleRequest            -> BundleResponse
//	POST /compositions/select  SelectCompositionRequest -> Composition
//	POST /render               RenderRequest            -> NDJSON stream of Event
//
// Non-2xx answers carry ErrorResponse.

const (
	PathBundle            = "/bundle"
	PathSelectComposition = "/compositions/select"
	PathRender            = "/render"
	PathHealth            = "/health"
)

type BundleRequest struct {
	EntryPoint string `json:"entryPoint"`
}

type BundleResponse struct {
	ServeURL string `json:"serveUrl"`
}

type SelectCompositionRequest struct {
	ServeURL   string         `json:"serveUrl"`
	ID         string         `json:"id"`
	InputProps map[string]any `json:"inputProps"`
}

type Composition struct {
	ID               string  `json:"id"`
	DurationInFrames int     `json:"durationInFrames"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	FPS              float64 `json:"fps"`
}

type RenderRequest struct {
	ServeURL              string         `json:"serveUrl"`
	Composition           Composition    `json:"composition"`
	InputProps            map[string]any `json:"inputProps"`
	OutputLocation        string         `json:"outputLocation"`
	Codec                 string         `json:"codec"`
	CRF                   int            `json:"crf"`
	ImageFormat           string         `json:"imageFormat"`
	ColorSpace            string         `json:"colorSpace"`
	X264Preset            string         `json:"x264Preset"`
	JpegQuality           int            `json:"jpegQuality"`
	TimeoutInMilliseconds int64          `json:"timeoutInMilliseconds"`
}

const (
	EventProgress = "progress"
	EventDone     = "done"
	EventError    = "error"
)

// Event is one line of the /render stream. Progress is set on progress
// events, Message on error events.
type Event struct {
	Type     string  `json:"type"`
	Progress float64 `json:"progress,omitempty"`
	Message  string  `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
