package inference

import (
	"fmt"
	"sync"
	"time"

	"github.com/tutu-network/pana/internal/domain"
)

// keyWidth fits any int64 nanosecond timestamp.
const keyWidth = 19

// KeyGen issues conversation keys: a zero-padded nanosecond timestamp
// followed by the role marker. Keys sort in issue order, even when the
// clock stalls or steps back.
type KeyGen struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewKeyGen creates a generator on the wall clock.
func NewKeyGen() *KeyGen {
	return &KeyGen{now: time.Now}
}

func (g *KeyGen) next() int64 {
	n := g.now().UnixNano()
	if n <= g.last {
		n = g.last + 1
	}
	g.last = n
	return n
}

// Pair returns the keys for one human/assistant exchange.
// humanKey < assistantKey, and both sort after every earlier pair.
func (g *KeyGen) Pair() (humanKey, assistantKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := g.next()
	a := g.next()
	return formatKey(h, domain.RoleHuman), formatKey(a, domain.RoleAssistant)
}

func formatKey(n int64, r domain.Role) string {
	return fmt.Sprintf("%0*d%c", keyWidth, n, r.Marker())
}
