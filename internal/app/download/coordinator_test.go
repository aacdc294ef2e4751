package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tutu-network/pana/internal/domain"
)

// ─── Fakes ──────────────────────────────────────────────────────────────────

type fakeRegistry struct {
	dir string

	mu     sync.Mutex
	known  map[string]domain.ModelDescriptor
	pulled map[string]int64
}

func newFakeRegistry(t *testing.T, names ...string) *fakeRegistry {
	t.Helper()
	r := &fakeRegistry{
		dir:    t.TempDir(),
		known:  make(map[string]domain.ModelDescriptor),
		pulled: make(map[string]int64),
	}
	for _, n := range names {
		r.known[n] = domain.ModelDescriptor{Name: n, URL: "http://x/" + n, FileName: n + ".gguf", SizeBytes: 100}
	}
	return r
}

func (r *fakeRegistry) Descriptor(name string) (domain.ModelDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.known[name]
	if !ok {
		return domain.ModelDescriptor{}, domain.ErrModelNotFound
	}
	return d, nil
}

func (r *fakeRegistry) ArtifactPath(name string) (string, error) {
	return filepath.Join(r.dir, name+".gguf"), nil
}

func (r *fakeRegistry) TargetDir() string { return r.dir }

func (r *fakeRegistry) MarkPulled(name string, size int64) error {
	r.mu.Lock()
	r.pulled[name] = size
	r.mu.Unlock()
	return nil
}

func (r *fakeRegistry) pulledSize(name string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.pulled[name]
	return n, ok
}

// blockingTransfer reports progress until its context is cancelled.
// With ignoreCancel it keeps reporting for a while after cancellation,
// like a transfer that notices the abort late.
type blockingTransfer struct {
	ignoreCancel time.Duration

	mu        sync.Mutex
	started   map[string]chan struct{}
	cancelled map[string]bool
}

func newBlockingTransfer() *blockingTransfer {
	return &blockingTransfer{
		started:   make(map[string]chan struct{}),
		cancelled: make(map[string]bool),
	}
}

func (b *blockingTransfer) startedCh(name string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.started[name]
	if !ok {
		ch = make(chan struct{})
		b.started[name] = ch
	}
	return ch
}

func (b *blockingTransfer) wasCancelled(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancelled[name]
}

func (b *blockingTransfer) Fetch(ctx context.Context, desc domain.ModelDescriptor, dir string, progress domain.ProgressFunc) (string, error) {
	close(b.startedCh(desc.Name))
	var n int64
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.cancelled[desc.Name] = true
			b.mu.Unlock()
			deadline := time.Now().Add(b.ignoreCancel)
			for time.Now().Before(deadline) {
				n++
				progress(n, desc.SizeBytes)
				time.Sleep(time.Millisecond)
			}
			return "", ctx.Err()
		case <-tick.C:
			if n < desc.SizeBytes-1 {
				n++
			}
			progress(n, desc.SizeBytes)
		}
	}
}

// instantTransfer writes the artifact immediately, or fails with err.
type instantTransfer struct {
	err error
}

func (i instantTransfer) Fetch(ctx context.Context, desc domain.ModelDescriptor, dir string, progress domain.ProgressFunc) (string, error) {
	if i.err != nil {
		return "", i.err
	}
	path := filepath.Join(dir, desc.FileName)
	if err := os.WriteFile(path, []byte("GGUFdata"), 0o644); err != nil {
		return "", err
	}
	progress(8, 8)
	return path, nil
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Notify(ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func (r *recorder) count(kind domain.EventKind) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) has(kind domain.EventKind, substr string) bool {
	for _, ev := range r.snapshot() {
		if ev.Kind == kind && strings.Contains(ev.Message, substr) {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitStarted(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("transfer never started")
	}
}

// ─── Coordinator Tests ──────────────────────────────────────────────────────

func TestStartDownload_UnknownModel(t *testing.T) {
	rec := &recorder{}
	c := New(newFakeRegistry(t), newBlockingTransfer(), rec, zerolog.Nop())
	defer c.Close()

	err := c.StartDownload("missing")
	if !errors.Is(err, domain.ErrModelResolutionFailed) {
		t.Fatalf("StartDownload() error = %v, want ErrModelResolutionFailed", err)
	}
	if !rec.has(domain.EventError, domain.MsgModelNotFound) {
		t.Errorf("events = %+v, want %q error", rec.snapshot(), domain.MsgModelNotFound)
	}
	if _, ok := c.Active(); ok {
		t.Error("no task should be tracked after a failed resolution")
	}
}

func TestStartDownload_SupersedesPrevious(t *testing.T) {
	rec := &recorder{}
	tr := newBlockingTransfer()
	c := New(newFakeRegistry(t, "A", "B"), tr, rec, zerolog.Nop())
	defer c.Close()

	if err := c.StartDownload("A"); err != nil {
		t.Fatalf("StartDownload(A) error: %v", err)
	}
	waitStarted(t, tr.startedCh("A"))
	if err := c.StartDownload("B"); err != nil {
		t.Fatalf("StartDownload(B) error: %v", err)
	}
	waitStarted(t, tr.startedCh("B"))

	if model, ok := c.Active(); !ok || model != "B" {
		t.Fatalf("Active() = %q, %v; want B", model, ok)
	}
	waitFor(t, "A cancelled", func() bool { return tr.wasCancelled("A") })
	if tr.wasCancelled("B") {
		t.Fatal("B cancelled before StopDownload")
	}

	if err := c.StopDownload(); err != nil {
		t.Fatalf("StopDownload() error: %v", err)
	}
	waitFor(t, "B cancelled", func() bool { return tr.wasCancelled("B") })

	if err := c.StopDownload(); err != nil {
		t.Fatalf("second StopDownload() error: %v", err)
	}
	if got := rec.count(domain.EventNotification); got != 1 {
		t.Errorf("stop notifications = %d, want 1", got)
	}
}

func TestStopDownload_NoProgressAfterReturn(t *testing.T) {
	rec := &recorder{}
	tr := newBlockingTransfer()
	tr.ignoreCancel = 30 * time.Millisecond
	c := New(newFakeRegistry(t, "A"), tr, rec, zerolog.Nop())
	defer c.Close()

	if err := c.StartDownload("A"); err != nil {
		t.Fatalf("StartDownload() error: %v", err)
	}
	waitFor(t, "progress", func() bool { return rec.count(domain.EventProgress) > 0 })

	if err := c.StopDownload(); err != nil {
		t.Fatalf("StopDownload() error: %v", err)
	}
	before := rec.count(domain.EventProgress)
	time.Sleep(60 * time.Millisecond)
	if after := rec.count(domain.EventProgress); after != before {
		t.Errorf("progress events after stop: %d -> %d", before, after)
	}
}

func TestStopDownload_Idle(t *testing.T) {
	rec := &recorder{}
	c := New(newFakeRegistry(t), newBlockingTransfer(), rec, zerolog.Nop())
	defer c.Close()

	for i := 0; i < 2; i++ {
		if err := c.StopDownload(); err != nil {
			t.Fatalf("StopDownload() #%d error: %v", i, err)
		}
	}
	if n := len(rec.snapshot()); n != 0 {
		t.Errorf("idle stop pushed %d events", n)
	}
}

func TestDownload_Success(t *testing.T) {
	rec := &recorder{}
	reg := newFakeRegistry(t, "A")
	c := New(reg, instantTransfer{}, rec, zerolog.Nop())

	if err := c.StartDownload("A"); err != nil {
		t.Fatalf("StartDownload() error: %v", err)
	}
	waitFor(t, "downloaded notification", func() bool {
		return rec.has(domain.EventNotification, domain.MsgModelDownloaded)
	})
	c.Close()

	size, ok := reg.pulledSize("A")
	if !ok || size != 8 {
		t.Errorf("pulled = %d, %v; want 8, true", size, ok)
	}
	var sawFull bool
	for _, ev := range rec.snapshot() {
		if ev.Kind == domain.EventProgress && ev.Progress.Percent == 100 {
			sawFull = true
		}
	}
	if !sawFull {
		t.Error("expected a 100% progress event")
	}
}

func TestDownload_SlotKeptAfterCompletion(t *testing.T) {
	rec := &recorder{}
	c := New(newFakeRegistry(t, "A"), instantTransfer{}, rec, zerolog.Nop())
	defer c.Close()

	if err := c.StartDownload("A"); err != nil {
		t.Fatalf("StartDownload() error: %v", err)
	}
	waitFor(t, "downloaded notification", func() bool {
		return rec.has(domain.EventNotification, domain.MsgModelDownloaded)
	})
	if model, ok := c.Active(); !ok || model != "A" {
		t.Errorf("Active() = %q, %v; want A still tracked", model, ok)
	}
}

func TestDownload_FailureNotifies(t *testing.T) {
	rec := &recorder{}
	reg := newFakeRegistry(t, "A")
	c := New(reg, instantTransfer{err: errors.New("connection reset")}, rec, zerolog.Nop())

	if err := c.StartDownload("A"); err != nil {
		t.Fatalf("StartDownload() should accept the task, got %v", err)
	}
	waitFor(t, "error event", func() bool {
		return rec.has(domain.EventError, "Failed to download model")
	})
	c.Close()

	if !rec.has(domain.EventError, "connection reset") {
		t.Errorf("error event should carry the cause: %+v", rec.snapshot())
	}
	if _, ok := reg.pulledSize("A"); ok {
		t.Error("failed download must not be marked pulled")
	}
}
