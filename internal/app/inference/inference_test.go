package inference

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tutu-network/pana/internal/domain"
	"github.com/tutu-network/pana/internal/infra/sqlite"
)

// ─── Fakes ──────────────────────────────────────────────────────────────────

type fakeHandle struct{ name string }

func (h fakeHandle) Name() string { return h.name }
func (h fakeHandle) Path() string { return "/models/" + h.name }
func (h fakeHandle) Close() error { return nil }

type fakeModels struct{ handle domain.ModelHandle }

func (m fakeModels) Active() (domain.ModelHandle, bool) {
	return m.handle, m.handle != nil
}

// scriptGenerator yields a fixed script, then an optional error.
type scriptGenerator struct {
	fragments []string
	err       error

	mu      sync.Mutex
	prompts []string
}

func (g *scriptGenerator) Generate(ctx context.Context, h domain.ModelHandle, prompt string) (<-chan domain.Token, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()

	ch := make(chan domain.Token)
	go func() {
		defer close(ch)
		for _, f := range g.fragments {
			select {
			case ch <- domain.Token{Text: f}:
			case <-ctx.Done():
				return
			}
		}
		if g.err != nil {
			select {
			case ch <- domain.Token{Err: g.err}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

func (g *scriptGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

// endlessGenerator yields fragments until its context is cancelled.
type endlessGenerator struct {
	stopped chan struct{}
}

func (g *endlessGenerator) Generate(ctx context.Context, h domain.ModelHandle, prompt string) (<-chan domain.Token, error) {
	ch := make(chan domain.Token)
	go func() {
		defer close(ch)
		defer close(g.stopped)
		for {
			select {
			case ch <- domain.Token{Text: "la "}:
				time.Sleep(time.Millisecond)
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
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

func (r *recorder) last(kind domain.EventKind) (domain.Event, bool) {
	evs := r.snapshot()
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Kind == kind {
			return evs[i], true
		}
	}
	return domain.Event{}, false
}

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func history(t *testing.T, db *sqlite.DB) []domain.Turn {
	t.Helper()
	tree, err := db.OpenDailyTree()
	if err != nil {
		t.Fatalf("OpenDailyTree() error: %v", err)
	}
	turns, err := tree.History()
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	return turns
}

// ─── Flag & KeyGen Tests ────────────────────────────────────────────────────

func TestFlag(t *testing.T) {
	var f Flag
	if f.IsSet() {
		t.Fatal("zero Flag should be clear")
	}
	f.Set()
	if !f.IsSet() {
		t.Fatal("Set() did not set")
	}
	f.Clear()
	if f.IsSet() {
		t.Fatal("Clear() did not clear")
	}
}

func TestKeyGen_Ordered(t *testing.T) {
	g := NewKeyGen()
	fixed := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	g.now = func() time.Time { return fixed }

	prev := ""
	for i := 0; i < 5; i++ {
		h, a := g.Pair()
		if !(h < a) {
			t.Errorf("pair %d: human %q should sort before assistant %q", i, h, a)
		}
		if !(prev < h) {
			t.Errorf("pair %d: %q should sort after %q", i, h, prev)
		}
		if domain.RoleFromKey(h) != domain.RoleHuman || domain.RoleFromKey(a) != domain.RoleAssistant {
			t.Errorf("pair %d: markers wrong: %q %q", i, h, a)
		}
		if len(h) != keyWidth+1 || len(a) != keyWidth+1 {
			t.Errorf("pair %d: keys not fixed width: %q %q", i, h, a)
		}
		prev = a
	}
}

func TestKeyGen_ClockStepsBack(t *testing.T) {
	g := NewKeyGen()
	times := []time.Time{
		time.Unix(100, 0), time.Unix(100, 0),
		time.Unix(50, 0), time.Unix(50, 0),
	}
	i := 0
	g.now = func() time.Time { tm := times[i%len(times)]; i++; return tm }

	_, a1 := g.Pair()
	h2, _ := g.Pair()
	if !(a1 < h2) {
		t.Errorf("keys went backwards with the clock: %q then %q", a1, h2)
	}
}

// ─── Prompt Tests ───────────────────────────────────────────────────────────

func TestBuildPrompt(t *testing.T) {
	window := []domain.WindowEntry{
		{Label: domain.HumanLabel, Text: "hi"},
		{Label: domain.AssistantLabel, Text: " hello "},
	}
	got := BuildPrompt("Be nice.", window, "how are you?")
	want := "Be nice.\n\n### Human: hi\n### Pana: hello\n### Human: how are you?\n### Pana:"
	if got != want {
		t.Errorf("BuildPrompt() =\n%q\nwant\n%q", got, want)
	}
}

func TestBuildPrompt_NoPersonaNoWindow(t *testing.T) {
	got := BuildPrompt("", nil, "ping")
	if got != "### Human: ping\n### Pana:" {
		t.Errorf("BuildPrompt() = %q", got)
	}
}

// ─── Session Tests ──────────────────────────────────────────────────────────

func TestRun_AppendsPair(t *testing.T) {
	db := newTestDB(t)
	rec := &recorder{}
	gen := &scriptGenerator{fragments: []string{"Hel", "lo", "!"}}
	s := NewSession(db, gen, rec, zerolog.Nop(), "")

	if err := s.Run(context.Background(), "hi", fakeHandle{"X"}, &Flag{}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	turns := history(t, db)
	want := []domain.Turn{{Role: domain.RoleHuman, Text: "hi"}, {Role: domain.RoleAssistant, Text: "Hello!"}}
	if len(turns) != len(want) {
		t.Fatalf("history = %+v, want %+v", turns, want)
	}
	for i := range want {
		if turns[i] != want[i] {
			t.Errorf("turn %d = %+v, want %+v", i, turns[i], want[i])
		}
	}
	if got := rec.count(domain.EventStream); got != 3 {
		t.Errorf("stream events = %d, want 3", got)
	}
	end, ok := rec.last(domain.EventStreamEnd)
	if !ok || end.Cancelled {
		t.Errorf("stream end = %+v, %v; want uncancelled end", end, ok)
	}
}

func TestRun_PromptUsesWindow(t *testing.T) {
	db := newTestDB(t)
	gen := &scriptGenerator{fragments: []string{"first answer"}}
	s := NewSession(db, gen, &recorder{}, zerolog.Nop(), "")

	if err := s.Run(context.Background(), "first question", fakeHandle{"X"}, &Flag{}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if err := s.Run(context.Background(), "second question", fakeHandle{"X"}, &Flag{}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	p := gen.lastPrompt()
	for _, part := range []string{
		"### Human: first question\n",
		"### Pana: first answer\n",
		"### Human: second question\n### Pana:",
	} {
		if !strings.Contains(p, part) {
			t.Errorf("prompt missing %q:\n%s", part, p)
		}
	}
}

func TestRun_NoModel(t *testing.T) {
	db := newTestDB(t)
	rec := &recorder{}
	s := NewSession(db, &scriptGenerator{fragments: []string{"x"}}, rec, zerolog.Nop(), "")

	err := s.Run(context.Background(), "hi", nil, &Flag{})
	if !errors.Is(err, domain.ErrNoModelLoaded) {
		t.Fatalf("Run() error = %v, want ErrNoModelLoaded", err)
	}
	ev, ok := rec.last(domain.EventError)
	if !ok || ev.Message != domain.MsgNoModelLoaded {
		t.Errorf("error event = %+v, %v; want %q", ev, ok, domain.MsgNoModelLoaded)
	}
	if turns := history(t, db); len(turns) != 0 {
		t.Errorf("history = %+v, want empty", turns)
	}
}

func TestRun_GeneratorError(t *testing.T) {
	db := newTestDB(t)
	rec := &recorder{}
	gen := &scriptGenerator{fragments: []string{"par"}, err: errors.New("engine crashed")}
	s := NewSession(db, gen, rec, zerolog.Nop(), "")

	if err := s.Run(context.Background(), "hi", fakeHandle{"X"}, &Flag{}); err == nil {
		t.Fatal("Run() should return the generator error")
	}
	ev, ok := rec.last(domain.EventError)
	if !ok || !strings.Contains(ev.Message, "engine crashed") {
		t.Errorf("error event = %+v, %v", ev, ok)
	}
	if turns := history(t, db); len(turns) != 0 {
		t.Errorf("history = %+v, want empty", turns)
	}
}

func TestRun_CancelledMidStream(t *testing.T) {
	db := newTestDB(t)
	rec := &recorder{}
	gen := &endlessGenerator{stopped: make(chan struct{})}
	s := NewSession(db, gen, rec, zerolog.Nop(), "")
	flag := &Flag{}

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), "sing", fakeHandle{"X"}, flag) }()

	deadline := time.Now().Add(2 * time.Second)
	for rec.count(domain.EventStream) < 5 {
		if time.Now().After(deadline) {
			t.Fatal("no fragments streamed")
		}
		time.Sleep(time.Millisecond)
	}
	flag.Set()
	atSet := rec.count(domain.EventStream)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v, want nil for a cancelled run", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after the flag was set")
	}
	select {
	case <-gen.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("generator was not told to stop")
	}

	if extra := rec.count(domain.EventStream) - atSet; extra > 1 {
		t.Errorf("%d fragments streamed after the flag was set", extra)
	}
	end, ok := rec.last(domain.EventStreamEnd)
	if !ok || !end.Cancelled {
		t.Errorf("stream end = %+v, %v; want cancelled", end, ok)
	}
	if turns := history(t, db); len(turns) != 0 {
		t.Errorf("cancelled run persisted %+v", turns)
	}
}

// ─── Runner Tests ───────────────────────────────────────────────────────────

func TestRunner_NoModel(t *testing.T) {
	db := newTestDB(t)
	rec := &recorder{}
	s := NewSession(db, &scriptGenerator{}, rec, zerolog.Nop(), "")
	r := NewRunner(s, fakeModels{}, rec, zerolog.Nop())
	defer r.Close()

	if err := r.Start("hi"); err != nil {
		t.Fatalf("Start() error = %v, want accepted", err)
	}
	r.Wait()

	ev, ok := rec.last(domain.EventError)
	if !ok || ev.Message != domain.MsgNoModelLoaded {
		t.Errorf("error event = %+v, %v", ev, ok)
	}
	if turns := history(t, db); len(turns) != 0 {
		t.Errorf("history = %+v, want empty", turns)
	}
}

func TestRunner_BusyAndStop(t *testing.T) {
	db := newTestDB(t)
	rec := &recorder{}
	gen := &endlessGenerator{stopped: make(chan struct{})}
	s := NewSession(db, gen, rec, zerolog.Nop(), "")
	r := NewRunner(s, fakeModels{handle: fakeHandle{"X"}}, rec, zerolog.Nop())
	defer r.Close()

	if err := r.Start("one"); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := r.Start("two"); !errors.Is(err, domain.ErrInferenceBusy) {
		t.Fatalf("second Start() error = %v, want ErrInferenceBusy", err)
	}

	r.Stop()
	r.Wait()
	if r.Busy() {
		t.Error("runner still busy after Wait")
	}
	if turns := history(t, db); len(turns) != 0 {
		t.Errorf("stopped run persisted %+v", turns)
	}
}

func TestRunner_SequentialRuns(t *testing.T) {
	db := newTestDB(t)
	rec := &recorder{}
	s := NewSession(db, &scriptGenerator{fragments: []string{"ok"}}, rec, zerolog.Nop(), "")
	r := NewRunner(s, fakeModels{handle: fakeHandle{"X"}}, rec, zerolog.Nop())
	defer r.Close()

	for _, msg := range []string{"a", "b"} {
		if err := r.Start(msg); err != nil {
			t.Fatalf("Start(%q) error: %v", msg, err)
		}
		r.Wait()
	}
	if turns := history(t, db); len(turns) != 4 {
		t.Errorf("history has %d entries, want 4", len(turns))
	}
}
