package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/harun/chatrelay/internal/observability"
	"github.com/harun/chatrelay/internal/tracing"
	"github.com/harun/chatrelay/pkg/session"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Submit starts a turn and returns its event channel. Validation failures and
// unknown sessions are returned directly and produce no events.
func (r *Relay) Submit(ctx context.Context, sessionID, text string) (<-chan Event, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := r.lookup(sessionID, text)
	if err != nil {
		return nil, err
	}

	turnID, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate turn id: %w", err)
	}

	events := make(chan Event, r.eventBuffer)
	go r.runTurn(ctx, s, turnID, text, events)

	return events, nil
}

// SubmitSync runs a streaming turn to completion and returns the committed reply
func (r *Relay) SubmitSync(ctx context.Context, sessionID, text string) (string, error) {
	events, err := r.Submit(ctx, sessionID, text)
	if err != nil {
		return "", err
	}

	for ev := range events {
		switch ev.Type {
		case EventDone:
			return ev.Reply, nil
		case EventError:
			return "", ev.Err()
		}
	}
	// The channel only closes without a terminal event when ctx ended first.
	if err := context.Cause(ctx); err != nil {
		return "", err
	}
	return "", ErrNoOutcome
}

// CompleteOnce runs a non-streaming turn with the same commit and rollback rules as Submit
func (r *Relay) CompleteOnce(ctx context.Context, sessionID, text string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := r.lookup(sessionID, text)
	if err != nil {
		return "", err
	}
	turnID, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate turn id: %w", err)
	}

	ctx, t := r.beginTurn(ctx, s, turnID, "relay.complete")
	defer t.end()

	if err := ctx.Err(); err != nil {
		out := t.finish(Outcome{TurnID: turnID, State: StateRolledBack, Err: err})
		return "", out.Err
	}

	mark := s.BeginTurn(text)
	reply, err := r.upstream.Complete(ctx, s.Model(), s.APIView())
	if err == nil && reply == "" {
		err = ErrEmptyResponse
	}
	if err != nil {
		s.RollbackTurn(mark)
		out := t.finish(Outcome{TurnID: turnID, State: StateRolledBack, Err: err})
		return "", out.Err
	}

	if _, err := s.CommitTurn(mark, reply); err != nil {
		out := t.finish(Outcome{TurnID: turnID, State: StateRolledBack, Err: ErrHistoryCleared})
		return "", out.Err
	}
	t.finish(Outcome{TurnID: turnID, State: StateCommitted, Reply: reply})
	return reply, nil
}

func (r *Relay) lookup(sessionID, text string) (*session.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	return r.store.Get(sessionID)
}

// turnScope carries the per-turn tracing, locking and bookkeeping
type turnScope struct {
	r       *Relay
	session *session.Session
	span    trace.Span
	logger  zerolog.Logger
	unlock  func()
	cancel  context.CancelFunc
	turnID  string
	record  func(outcome, kind string)
	started time.Time
}

// beginTurn registers the turn for Abort and waits for the session turn lock.
func (r *Relay) beginTurn(ctx context.Context, s *session.Session, turnID, op string) (context.Context, *turnScope) {
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.WithTurnID(tracing.WithSessionID(ctx, s.ID()), turnID)
	ctx, span := tracing.StartSpan(
		ctx,
		"chatrelay.relay",
		op,
		attribute.String("session_id", s.ID()),
		attribute.String("turn_id", turnID),
	)
	logger := tracing.LoggerFromContext(ctx, r.logger)

	// Registered before waiting on the lock so queued turns can be aborted too.
	ctx, cancel := context.WithCancel(ctx)
	r.trackTurn(turnID, s.ID(), cancel)

	unlock := s.LockTurn()

	span.SetAttributes(attribute.String("model", s.Model()))
	logger.Debug().Str("model", s.Model()).Msg("Turn started")

	return ctx, &turnScope{
		r:       r,
		session: s,
		span:    span,
		logger:  logger,
		unlock:  unlock,
		cancel:  cancel,
		turnID:  turnID,
		record:  observability.TurnStarted(),
		started: time.Now(),
	}
}

// finish logs and counts the outcome. It is called exactly once per turn.
func (t *turnScope) finish(out Outcome) Outcome {
	elapsed := time.Since(t.started)
	kind := ""
	if out.Err != nil {
		kind, _ = Describe(out.Err)
		tracing.FailSpan(t.span, out.Err)
	}
	t.span.SetAttributes(
		attribute.String("outcome", string(out.State)),
		attribute.Int("deltas", out.Deltas),
	)
	t.record(string(out.State), kind)

	meta := map[string]interface{}{"turn_id": t.turnID, "deltas": out.Deltas}
	if kind != "" {
		meta["kind"] = kind
	}
	observability.RecordTurnAudit(context.Background(), t.session.ID(), string(out.State), meta)

	if out.State == StateCommitted {
		t.logger.Info().
			Int("deltas", out.Deltas).
			Int("reply_len", len(out.Reply)).
			Dur("elapsed", elapsed).
			Msg("Turn committed")
	} else {
		t.logger.Warn().
			Err(out.Err).
			Str("kind", kind).
			Int("deltas", out.Deltas).
			Dur("elapsed", elapsed).
			Msg("Turn rolled back")
	}
	return out
}

func (t *turnScope) end() {
	t.r.untrackTurn(t.turnID)
	t.cancel()
	t.unlock()
	t.span.End()
}

// runTurn streams under a turn context that Abort may cancel. The terminal
// event is tied to the caller's ctx instead, so an aborted turn still reports
// its rollback to a caller that is reading.
func (r *Relay) runTurn(ctx context.Context, s *session.Session, turnID, text string, events chan<- Event) {
	defer close(events)

	turnCtx, t := r.beginTurn(ctx, s, turnID, "relay.turn")
	defer t.end()

	out := r.stream(turnCtx, s, turnID, text, events)
	t.finish(out)

	var terminal Event
	if out.State == StateCommitted {
		terminal = Event{Type: EventDone, TurnID: turnID, Reply: out.Reply}
	} else {
		terminal = errorEvent(turnID, out.Err)
	}
	emitTerminal(ctx, events, terminal)
}

// stream drives one turn from UserAppended to Committed or RolledBack and
// applies the matching history mutation before returning.
func (r *Relay) stream(ctx context.Context, s *session.Session, turnID, text string, events chan<- Event) Outcome {
	rolledBack := func(err error, deltas int) Outcome {
		return Outcome{TurnID: turnID, State: StateRolledBack, Deltas: deltas, Err: err}
	}

	// The caller may have left while we waited for the turn lock.
	if err := ctx.Err(); err != nil {
		return rolledBack(err, 0)
	}

	mark := s.BeginTurn(text)

	up, err := r.upstream.Stream(ctx, s.Model(), s.APIView())
	if err != nil {
		s.RollbackTurn(mark)
		return rolledBack(err, 0)
	}
	defer up.Close()

	var reply strings.Builder
	deltas := 0
	for {
		delta, err := up.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.RollbackTurn(mark)
			return rolledBack(err, deltas)
		}
		if delta == "" {
			continue
		}

		reply.WriteString(delta)
		deltas++
		observability.RecordDelta()

		if !emit(ctx, events, Event{Type: EventContent, TurnID: turnID, Content: delta}) {
			s.RollbackTurn(mark)
			return rolledBack(context.Cause(ctx), deltas)
		}
	}

	if deltas == 0 {
		s.RollbackTurn(mark)
		return rolledBack(ErrEmptyResponse, 0)
	}

	if _, err := s.CommitTurn(mark, reply.String()); err != nil {
		return rolledBack(ErrHistoryCleared, deltas)
	}
	return Outcome{TurnID: turnID, State: StateCommitted, Reply: reply.String(), Deltas: deltas}
}

// emit delivers ev unless the caller has gone away
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// emitTerminal delivers the closing event, waiting for room while the caller
// is still there. Once the caller is gone it is only delivered if the buffer
// has room.
func emitTerminal(ctx context.Context, events chan<- Event, ev Event) {
	if ctx.Err() == nil {
		select {
		case events <- ev:
			return
		case <-ctx.Done():
		}
	}
	select {
	case events <- ev:
	default:
	}
}
