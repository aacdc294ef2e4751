// Package engine connects pana to a local inference server.
//
// The loader validates a downloaded artifact and produces a handle; the
// generator streams completions for that handle from an OpenAI-compatible
// endpoint (llama.cpp server, LM Studio, Ollama) running on this machine.
package engine

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/tutu-network/pana/internal/domain"
)

// ggufMagic starts every GGUF file.
var ggufMagic = []byte("GGUF")

// Handle is a validated, loaded model.
type Handle struct {
	name   string
	path   string
	size   int64
	closed atomic.Bool
}

// Name returns the model name the handle was loaded as.
func (h *Handle) Name() string { return h.name }

// Path returns the artifact path.
func (h *Handle) Path() string { return h.path }

// SizeBytes returns the artifact size.
func (h *Handle) SizeBytes() int64 { return h.size }

// Close releases the handle. Safe to call more than once.
func (h *Handle) Close() error {
	h.closed.Store(true)
	return nil
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool { return h.closed.Load() }

// Loader implements domain.ModelLoader for GGUF artifacts.
type Loader struct{}

// NewLoader creates a Loader.
func NewLoader() *Loader { return &Loader{} }

// Load checks that path is a readable GGUF file and returns a handle.
func (l *Loader) Load(name, path string) (domain.ModelHandle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrModelLoadFailed, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrModelLoadFailed, err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", domain.ErrModelLoadFailed, path)
	}

	magic := make([]byte, len(ggufMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		return nil, fmt.Errorf("%w: %s: read header: %w", domain.ErrModelLoadFailed, path, err)
	}
	if !bytes.Equal(magic, ggufMagic) {
		return nil, fmt.Errorf("%w: %s is not a GGUF file", domain.ErrModelLoadFailed, path)
	}

	return &Handle{name: name, path: path, size: st.Size()}, nil
}
