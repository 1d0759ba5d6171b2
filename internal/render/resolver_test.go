package render

import (
	"encoding/json"
	"testing"

	"weaver/internal/models"
	"weaver/internal/ports"
)

func TestResolve(t *testing.T) {
	natural := ports.Composition{ID: "intro", DurationInFrames: 90, Width: 1280, Height: 720, FPS: 30}

	tests := []struct {
		name   string
		params models.Params
		want   [3]int
	}{
		{"all overrides", models.Params{"durationInFrames": 150, "width": 1920, "height": 1080}, [3]int{150, 1920, 1080}},
		{"empty bag", models.Params{}, [3]int{90, 1280, 720}},
		{"nil bag", nil, [3]int{90, 1280, 720}},
		{"partial", models.Params{"width": 640.0}, [3]int{90, 640, 720}},
		{"json numbers", models.Params{"durationInFrames": json.Number("30"), "height": json.Number("480")}, [3]int{30, 1280, 480}},
		{"zero is not supplied", models.Params{"durationInFrames": 0, "width": 0}, [3]int{90, 1280, 720}},
		{"negative is not supplied", models.Params{"height": -1}, [3]int{90, 1280, 720}},
		{"strings are not supplied", models.Params{"width": "1920"}, [3]int{90, 1280, 720}},
		{"fractions are not supplied", models.Params{"durationInFrames": 12.5}, [3]int{90, 1280, 720}},
		{"null is not supplied", models.Params{"width": nil}, [3]int{90, 1280, 720}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.params, natural)
			if [3]int{got.DurationInFrames, got.Width, got.Height} != tt.want {
				t.Errorf("got %d/%dx%d, want %d/%dx%d",
					got.DurationInFrames, got.Width, got.Height, tt.want[0], tt.want[1], tt.want[2])
			}
			if got.ID != "intro" || got.FPS != 30 {
				t.Errorf("untouched fields changed: %+v", got)
			}
		})
	}
}
