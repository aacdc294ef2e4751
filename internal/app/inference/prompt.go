package inference

import (
	"strings"

	"github.com/tutu-network/pana/internal/domain"
)

// DefaultPersona opens every prompt unless configured otherwise.
const DefaultPersona = "A chat between a curious human and Pana, a helpful AI assistant. " +
	"Pana gives concise, accurate answers."

// BuildPrompt renders the persona, the adjacency window and the new
// message in the labelled chat format, ending with an open assistant turn.
func BuildPrompt(persona string, window []domain.WindowEntry, message string) string {
	var b strings.Builder
	if persona = strings.TrimSpace(persona); persona != "" {
		b.WriteString(persona)
		b.WriteString("\n\n")
	}
	for _, e := range window {
		b.WriteString(e.Label)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(e.Text))
		b.WriteByte('\n')
	}
	b.WriteString(domain.HumanLabel)
	b.WriteString(": ")
	b.WriteString(strings.TrimSpace(message))
	b.WriteByte('\n')
	b.WriteString(domain.AssistantLabel)
	b.WriteByte(':')
	return b.String()
}
