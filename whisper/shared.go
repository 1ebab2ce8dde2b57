package whisper

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"transcriber/metrics"
	"transcriber/pipeline"
)

type loaded struct {
	recognizer pipeline.Recognizer
}

// Shared holds the process-wide recognizer. It is loaded at most once until
// Unload is called; borrowers keep using an instance they already hold.
type Shared struct {
	load func(ctx context.Context) (pipeline.Recognizer, error)
	log  logrus.FieldLogger

	current atomic.Pointer[loaded]
	mu      sync.Mutex // serializes load and unload
	loads   int
}

func NewShared(load func(ctx context.Context) (pipeline.Recognizer, error), log logrus.FieldLogger) *Shared {
	return &Shared{load: load, log: log}
}

// Acquire returns the loaded recognizer, loading it on first use.
func (s *Shared) Acquire(ctx context.Context) (pipeline.Recognizer, error) {
	if l := s.current.Load(); l != nil {
		return l.recognizer, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check: another caller may have loaded it while we waited.
	if l := s.current.Load(); l != nil {
		return l.recognizer, nil
	}

	rec, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.loads++
	s.current.Store(&loaded{recognizer: rec})
	metrics.ModelLoaded.Set(1)
	return rec, nil
}

// Unload drops the shared instance and reports whether one was loaded. The
// next Acquire loads it again.
func (s *Shared) Unload() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.Swap(nil) == nil {
		return false
	}
	metrics.ModelLoaded.Set(0)
	s.log.Info("Speech model unloaded")
	return true
}

func (s *Shared) Loaded() bool {
	return s.current.Load() != nil
}

// Loads reports how many times the model has been loaded.
func (s *Shared) Loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}
