package render

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"weaver/internal/pkg/errors"
	"weaver/internal/ports"
)

// fakeEngine renders by writing a few bytes to the output path. Hooks
// override individual steps.
type fakeEngine struct {
	mu sync.Mutex

	natural   ports.Composition
	bundleErr error
	selectErr error
	onRender  func(ctx context.Context, in ports.RenderInput) error

	bundled   []string
	selected  []ports.SelectCompositionInput
	rendered  []ports.RenderInput
	active    int
	maxActive int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{natural: ports.Composition{ID: "intro", DurationInFrames: 90, Width: 1280, Height: 720, FPS: 30}}
}

func (f *fakeEngine) Bundle(_ context.Context, entryPoint string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bundled = append(f.bundled, entryPoint)
	if f.bundleErr != nil {
		return "", f.bundleErr
	}
	return "http://engine.test/bundle", nil
}

func (f *fakeEngine) SelectComposition(_ context.Context, in ports.SelectCompositionInput) (ports.Composition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, in)
	if f.selectErr != nil {
		return ports.Composition{}, f.selectErr
	}
	c := f.natural
	c.ID = in.CompositionID
	return c, nil
}

func (f *fakeEngine) Render(ctx context.Context, in ports.RenderInput) error {
	f.mu.Lock()
	f.rendered = append(f.rendered, in)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	hook := f.onRender
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if hook != nil {
		return hook(ctx, in)
	}
	return writeOutput(in, "rendered video")
}

func (f *fakeEngine) lastRender() ports.RenderInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rendered) == 0 {
		return ports.RenderInput{}
	}
	return f.rendered[len(f.rendered)-1]
}

func (f *fakeEngine) renderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rendered)
}

func writeOutput(in ports.RenderInput, body string) error {
	if in.OnProgress != nil {
		in.OnProgress(0.5)
		in.OnProgress(1)
	}
	return os.WriteFile(in.OutputPath, []byte(body), 0o644)
}

// fakeStorage keeps objects in memory.
type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]string
	types   map[string]string
	putErr  error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string]string{}, types: map[string]string{}}
}

func (s *fakeStorage) Provider() string { return "fake" }

func (s *fakeStorage) PutObject(_ context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if s.putErr != nil {
		return ports.PutObjectOutput{}, s.putErr
	}
	b, err := io.ReadAll(in.Reader)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[in.ObjectKey] = string(b)
	s.types[in.ObjectKey] = in.ContentType
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: int64(len(b)), URL: "https://cdn.test/" + in.ObjectKey}, nil
}

func (s *fakeStorage) GetObject(_ context.Context, key string) (io.ReadCloser, string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, "", 0, errors.NotFound("object", key)
	}
	return io.NopCloser(strings.NewReader(b)), s.types[key], int64(len(b)), nil
}
