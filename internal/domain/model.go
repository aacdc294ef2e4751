// Package domain contains pure business types with ZERO infrastructure imports.
// It is the innermost ring and imports nothing from infra or app.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// ─── Model Types ────────────────────────────────────────────────────────────

// ModelDescriptor is what the registry knows about a downloadable model.
// The session core only relies on Name; the rest feeds the transfer.
type ModelDescriptor struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	FileName    string `json:"file_name"`
	SizeBytes   int64  `json:"size_bytes"`
	SHA256      string `json:"sha256,omitempty"`
	Format      string `json:"format"`
	ContextSize int    `json:"context_size,omitempty"`
}

// ModelInfo is a catalog entry together with its local state.
type ModelInfo struct {
	ModelDescriptor
	Pulled   bool      `json:"pulled"`
	PulledAt time.Time `json:"pulled_at,omitempty"`
	LastUsed time.Time `json:"last_used,omitempty"`
}

// ─── Conversation Types ─────────────────────────────────────────────────────

// Role identifies who produced a turn.
type Role uint8

const (
	RoleHuman Role = iota
	RoleAssistant
)

// Labels used when turns are rendered into a prompt.
const (
	HumanLabel     = "### Human"
	AssistantLabel = "### Pana"
)

// Marker is the trailing key character that encodes the role.
func (r Role) Marker() byte {
	if r == RoleHuman {
		return '0'
	}
	return '1'
}

// Label returns the prompt label for the role.
func (r Role) Label() string {
	if r == RoleHuman {
		return HumanLabel
	}
	return AssistantLabel
}

// String implements fmt.Stringer.
func (r Role) String() string {
	if r == RoleHuman {
		return "human"
	}
	return "assistant"
}

// RoleFromKey classifies a key by its trailing marker.
// Anything not ending in the human marker is an assistant turn.
func RoleFromKey(key string) Role {
	if strings.HasSuffix(key, string(RoleHuman.Marker())) {
		return RoleHuman
	}
	return RoleAssistant
}

// Turn is one stored conversation entry.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// WindowEntry is a labelled turn used as prompting context.
type WindowEntry struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// WindowSize is the number of raw entries in the adjacency window
// (the last two human/assistant exchanges).
const WindowSize = 4

// DayFormat is the layout of a conversation tree name.
const DayFormat = "2006-01-02"

// ─── Inference Types ────────────────────────────────────────────────────────

// Token is a single fragment produced by the generation engine.
// A token with a non-nil Err terminates the stream.
type Token struct {
	Text string `json:"text"`
	Err  error  `json:"-"`
}

// ─── Utilities ──────────────────────────────────────────────────────────────

// HumanSize formats bytes into human-readable string.
func HumanSize(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)
	switch {
	case b >= TB:
		return fmt.Sprintf("%.1f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
