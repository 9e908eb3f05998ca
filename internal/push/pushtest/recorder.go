// Package pushtest provides a recording push.Transport for tests.
package pushtest

import (
	"context"
	"encoding/json"
	"sync"
)

type Recorder struct {
	mu    sync.Mutex
	posts map[string][][]byte
	errs  map[string]error
}

func NewRecorder() *Recorder {
	return &Recorder{
		posts: make(map[string][][]byte),
		errs:  make(map[string]error),
	}
}

// FailWith makes every Post to connectionID return err.
func (r *Recorder) FailWith(connectionID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[connectionID] = err
}

func (r *Recorder) Post(_ context.Context, connectionID string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.errs[connectionID]; ok {
		return err
	}
	r.posts[connectionID] = append(r.posts[connectionID], append([]byte(nil), data...))
	return nil
}

// Frames decodes every frame delivered to connectionID.
func (r *Recorder) Frames(connectionID string) []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]map[string]any, 0, len(r.posts[connectionID]))
	for _, raw := range r.posts[connectionID] {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// Types lists the type field of every frame delivered to connectionID.
func (r *Recorder) Types(connectionID string) []string {
	var types []string
	for _, f := range r.Frames(connectionID) {
		if t, ok := f["type"].(string); ok {
			types = append(types, t)
		}
	}
	return types
}

// Total is the number of delivered frames across all connections.
func (r *Recorder) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.posts {
		n += len(p)
	}
	return n
}
