package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"weaver/internal/pkg/errors"
	"weaver/internal/ports"
)

func TestPutGet(t *testing.T) {
	root := t.TempDir()
	fs := New(root, "https://cdn.test/media/")
	ctx := context.Background()

	out, err := fs.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   "renders/render_1.mp4",
		ContentType: "video/mp4",
		Reader:      strings.NewReader("fake video bytes"),
	})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if out.Size != 16 || out.ObjectKey != "renders/render_1.mp4" {
		t.Errorf("unexpected output %+v", out)
	}
	if out.URL != "https://cdn.test/media/renders/render_1.mp4" {
		t.Errorf("unexpected url %q", out.URL)
	}
	if _, err := os.Stat(filepath.Join(root, "renders", "render_1.mp4")); err != nil {
		t.Errorf("expected object on disk: %v", err)
	}

	rc, ct, size, err := fs.GetObject(ctx, "renders/render_1.mp4")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "fake video bytes" || size != 16 {
		t.Errorf("unexpected object %q size %d", body, size)
	}
	if ct != "video/mp4" {
		t.Errorf("expected video/mp4, got %q", ct)
	}
}

func TestFileURLWithoutBase(t *testing.T) {
	fs := New(t.TempDir(), "")
	out, err := fs.PutObject(context.Background(), ports.PutObjectInput{ObjectKey: "renders/a.webm", Reader: strings.NewReader("x")})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.URL, "file://") || !strings.HasSuffix(out.URL, "/renders/a.webm") {
		t.Errorf("expected a file url, got %q", out.URL)
	}
}

func TestKeyValidation(t *testing.T) {
	fs := New(t.TempDir(), "")
	ctx := context.Background()

	for _, key := range []string{"", "../escape.mp4", "renders/../../escape.mp4"} {
		_, err := fs.PutObject(ctx, ports.PutObjectInput{ObjectKey: key, Reader: strings.NewReader("x")})
		if !errors.IsValidation(err) {
			t.Errorf("key %q: expected VALIDATION_ERROR, got %v", key, err)
		}
	}
}

func TestGetMissing(t *testing.T) {
	fs := New(t.TempDir(), "")
	_, _, _, err := fs.GetObject(context.Background(), "renders/none.mp4")
	if !errors.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}
