package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// Observer receives pushed notifications (the UI event sink).
// Implementations must not block for long; Notify is called from
// background goroutines.
type Observer interface {
	Notify(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Notify implements Observer.
func (f ObserverFunc) Notify(ev Event) { f(ev) }

// Observers fans an event out to every member.
type Observers []Observer

// Notify implements Observer.
func (o Observers) Notify(ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Notify(ev)
		}
	}
}

// ModelRegistry resolves model names. It is the catalog boundary of the core.
type ModelRegistry interface {
	// Descriptor returns what is needed to download name.
	Descriptor(name string) (ModelDescriptor, error)
	// ArtifactPath returns the local path of a downloaded model.
	ArtifactPath(name string) (string, error)
	// TargetDir is where downloads are written.
	TargetDir() string
	// MarkPulled records a finished download.
	MarkPulled(name string, sizeBytes int64) error
}

// ProgressFunc is called by a Transfer as bytes arrive.
type ProgressFunc func(downloaded, total int64)

// Transfer streams a model artifact to disk.
// Implementations must stop promptly once ctx is cancelled.
type Transfer interface {
	Fetch(ctx context.Context, desc ModelDescriptor, dir string, progress ProgressFunc) (path string, err error)
}

// ModelHandle is a loaded model. Close releases it; a closed handle
// must refuse further generation.
type ModelHandle interface {
	Name() string
	Path() string
	Close() error
}

// ModelLoader turns an artifact path into a handle.
type ModelLoader interface {
	Load(name, path string) (ModelHandle, error)
}

// Generator is the token-generation engine. The returned channel is
// finite and single-pass; it is closed when generation ends. Cancelling
// ctx asks the engine to stop, which it may only notice between tokens.
type Generator interface {
	Generate(ctx context.Context, handle ModelHandle, prompt string) (<-chan Token, error)
}

// ConversationTree is one day of stored turns.
type ConversationTree interface {
	Name() string
	AppendPair(humanKey, humanText, assistantKey, assistantText string) error
	History() ([]Turn, error)
	LatestWindow() ([]WindowEntry, error)
	Clear() error
}

// ConversationStore hands out day trees.
type ConversationStore interface {
	OpenDailyTree() (ConversationTree, error)
}
