// Package inference runs one chat turn against the active model.
//
// A Session builds the prompt from the day's adjacency window, streams
// the generator's fragments to the observer and, when the stream ends
// without cancellation, persists the human/assistant pair in one batch.
// A cancelled run keeps what was already streamed on screen but stores
// nothing.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tutu-network/pana/internal/domain"
	"github.com/tutu-network/pana/internal/infra/observability"
)

// Session executes inference runs. It holds no per-run state and may be
// shared; the runner keeps runs from overlapping.
type Session struct {
	store   domain.ConversationStore
	gen     domain.Generator
	keys    *KeyGen
	obs     domain.Observer
	log     zerolog.Logger
	persona string
}

// NewSession creates a Session. An empty persona uses DefaultPersona.
func NewSession(store domain.ConversationStore, gen domain.Generator, obs domain.Observer, log zerolog.Logger, persona string) *Session {
	if persona == "" {
		persona = DefaultPersona
	}
	return &Session{
		store:   store,
		gen:     gen,
		keys:    NewKeyGen(),
		obs:     obs,
		log:     log.With().Str("component", "inference").Logger(),
		persona: persona,
	}
}

// Run answers message with handle, polling flag between fragments.
// Every failure is also pushed to the observer as an Error event.
func (s *Session) Run(ctx context.Context, message string, handle domain.ModelHandle, flag *Flag) error {
	runID := uuid.NewString()
	log := s.log.With().Str("run", runID).Logger()
	start := time.Now()
	defer func() { observability.InferenceDuration.Observe(time.Since(start).Seconds()) }()

	tree, err := s.store.OpenDailyTree()
	if err != nil {
		return s.fail(log, "failed", fmt.Sprintf("Failed to open conversation: %v", err), err)
	}
	window, err := tree.LatestWindow()
	if err != nil {
		return s.fail(log, "failed", fmt.Sprintf("Failed to read conversation: %v", err), err)
	}
	prompt := BuildPrompt(s.persona, window, message)

	if handle == nil {
		return s.fail(log, "no_model", domain.MsgNoModelLoaded, domain.ErrNoModelLoaded)
	}

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tokens, err := s.gen.Generate(genCtx, handle, prompt)
	if err != nil {
		if errors.Is(err, domain.ErrNoModelLoaded) {
			return s.fail(log, "no_model", domain.MsgNoModelLoaded, err)
		}
		return s.fail(log, "failed", fmt.Sprintf("Inference failed: %v", err), err)
	}

	var reply strings.Builder
	cancelled := false
	for tok := range tokens {
		if flag != nil && flag.IsSet() {
			cancelled = true
			break
		}
		if tok.Err != nil {
			s.obs.Notify(domain.StreamEndEvent(runID, false))
			return s.fail(log, "failed", fmt.Sprintf("Inference failed: %v", tok.Err), tok.Err)
		}
		if tok.Text == "" {
			continue
		}
		reply.WriteString(tok.Text)
		observability.InferenceFragments.Inc()
		s.obs.Notify(domain.StreamEvent(runID, tok.Text))
	}
	if !cancelled && (ctx.Err() != nil || (flag != nil && flag.IsSet())) {
		cancelled = true
	}

	if cancelled {
		cancel()
		observability.InferenceRuns.WithLabelValues("cancelled").Inc()
		log.Info().Int("discarded", reply.Len()).Msg("inference cancelled")
		s.obs.Notify(domain.StreamEndEvent(runID, true))
		return nil
	}

	humanKey, assistantKey := s.keys.Pair()
	answer := strings.TrimSpace(reply.String())
	if err := tree.AppendPair(humanKey, message, assistantKey, answer); err != nil {
		s.obs.Notify(domain.StreamEndEvent(runID, false))
		return s.fail(log, "failed", fmt.Sprintf("Failed to save conversation: %v", err), err)
	}
	observability.PairsAppended.Inc()
	observability.InferenceRuns.WithLabelValues("ok").Inc()
	log.Info().Str("tree", tree.Name()).Int("reply_len", len(answer)).
		Dur("elapsed", time.Since(start)).Msg("inference finished")
	s.obs.Notify(domain.StreamEndEvent(runID, false))
	return nil
}

func (s *Session) fail(log zerolog.Logger, outcome, msg string, err error) error {
	observability.InferenceRuns.WithLabelValues(outcome).Inc()
	log.Warn().Err(err).Msg("inference failed")
	s.obs.Notify(domain.ErrorEvent(msg))
	return err
}
