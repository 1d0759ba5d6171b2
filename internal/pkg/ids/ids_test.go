package ids

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestNew(t *testing.T) {
	id := New("render")
	if !strings.HasPrefix(id, "render_") {
		t.Fatalf("expected render_ prefix, got %s", id)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "render_")); err != nil {
		t.Errorf("expected a uuid suffix: %v", err)
	}
}

func TestNewIsUniqueUnderConcurrency(t *testing.T) {
	const n = 1000
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := New("render")
			mu.Lock()
			seen[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("expected %d unique ids, got %d", n, len(seen))
	}
}
