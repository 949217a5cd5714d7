package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/chatrelay/internal/observability"
	"github.com/harun/chatrelay/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultTitle = "New chat"
	DefaultModel = "gpt-4o"
)

// ModelValidator reports whether a model id may be assigned to a session
type ModelValidator func(model string) bool

// StoreConfig configures a Store
type StoreConfig struct {
	DefaultTitle string
	DefaultModel string
	// ValidateModel is optional; when set, UpdateModel and Create reject unknown ids
	ValidateModel ModelValidator
	Logger        *zerolog.Logger
	// Now overrides the clock, for tests
	Now func() time.Time
}

// Store is the process-wide set of sessions
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	seq      uint64

	defaultTitle string
	defaultModel string
	validate     ModelValidator
	logger       zerolog.Logger
	now          func() time.Time
}

// NewStore creates an empty Store
func NewStore(cfg StoreConfig) *Store {
	observability.EnsureRegistered()

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	if cfg.DefaultTitle == "" {
		cfg.DefaultTitle = DefaultTitle
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Store{
		sessions:     make(map[string]*Session),
		defaultTitle: cfg.DefaultTitle,
		defaultModel: cfg.DefaultModel,
		validate:     cfg.ValidateModel,
		logger:       logger.With().Str("component", "session_store").Logger(),
		now:          cfg.Now,
	}
}

// SetModelValidator replaces the model validator, e.g. after a catalog reload
func (st *Store) SetModelValidator(v ModelValidator) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.validate = v
}

func (st *Store) checkModel(model string) error {
	st.mu.RLock()
	v := st.validate
	st.mu.RUnlock()

	if v != nil && !v(model) {
		return fmt.Errorf("%w: unknown model %q", ErrInvalidInput, model)
	}
	return nil
}

// Create creates a session; empty title or model fall back to the store defaults
func (st *Store) Create(title, model string) (*Session, error) {
	return st.CreateWithContext(context.Background(), title, model)
}

// CreateWithContext creates a session with tracing context.
func (st *Store) CreateWithContext(ctx context.Context, title, model string) (*Session, error) {
	ctx, span := tracing.StartSpan(ctx, "chatrelay.session", "session.create")
	defer span.End()

	title = strings.TrimSpace(title)
	if title == "" {
		title = st.defaultTitle
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = st.defaultModel
	} else if err := st.checkModel(model); err != nil {
		tracing.FailSpan(span, err)
		observability.RecordSessionOp("create", err)
		return nil, err
	}

	id := uuid.New().String()

	st.mu.Lock()
	st.seq++
	s := newSession(id, st.seq, title, model, st.now)
	st.sessions[id] = s
	count := len(st.sessions)
	st.mu.Unlock()

	span.SetAttributes(attribute.String("session_id", id), attribute.String("model", model))
	observability.SetActiveSessions(count)
	observability.RecordSessionOp("create", nil)
	observability.RecordSessionAudit(ctx, "session.create", id, map[string]interface{}{"model": model})

	logger := tracing.LoggerFromContext(tracing.WithSessionID(ctx, id), st.logger)
	logger.Info().Str("title", title).Str("model", model).Msg("Session created")

	return s, nil
}

// Get returns the session with the given id
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Len returns the number of sessions
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// List returns session summaries, most recently updated first.
// Ties are broken by creation order, newest first.
func (st *Store) List() []Summary {
	st.mu.RLock()
	all := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		all = append(all, s)
	}
	st.mu.RUnlock()

	type entry struct {
		summary Summary
		seq     uint64
	}
	entries := make([]entry, len(all))
	for i, s := range all {
		entries[i] = entry{summary: s.summary(), seq: s.seq}
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.summary.UpdatedAt.Equal(b.summary.UpdatedAt) {
			return a.summary.UpdatedAt.After(b.summary.UpdatedAt)
		}
		return a.seq > b.seq
	})

	out := make([]Summary, len(entries))
	for i, e := range entries {
		out[i] = e.summary
	}
	return out
}

// Delete removes a session
func (st *Store) Delete(id string) error {
	return st.DeleteWithContext(context.Background(), id)
}

// DeleteWithContext removes a session with tracing context.
func (st *Store) DeleteWithContext(ctx context.Context, id string) error {
	ctx = tracing.WithSessionID(ctx, id)
	ctx, span := tracing.StartSpan(ctx, "chatrelay.session", "session.delete", attribute.String("session_id", id))
	defer span.End()

	st.mu.Lock()
	_, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	count := len(st.sessions)
	st.mu.Unlock()

	if !ok {
		err := fmt.Errorf("%w: %s", ErrNotFound, id)
		tracing.FailSpan(span, err)
		observability.RecordSessionOp("delete", err)
		return err
	}

	observability.SetActiveSessions(count)
	observability.RecordSessionOp("delete", nil)
	observability.RecordSessionAudit(ctx, "session.delete", id, nil)
	logger := tracing.LoggerFromContext(ctx, st.logger)
	logger.Info().Msg("Session deleted")

	return nil
}

// UpdateTitle renames a session
func (st *Store) UpdateTitle(id, title string) error {
	return st.UpdateTitleWithContext(context.Background(), id, title)
}

// UpdateTitleWithContext renames a session with tracing context.
func (st *Store) UpdateTitleWithContext(ctx context.Context, id, title string) error {
	return st.mutate(ctx, "update_title", id, func(s *Session) error {
		title = strings.TrimSpace(title)
		if title == "" {
			return fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
		}
		s.setTitle(title)
		return nil
	})
}

// UpdateModel changes the upstream model of a session
func (st *Store) UpdateModel(id, model string) error {
	return st.UpdateModelWithContext(context.Background(), id, model)
}

// UpdateModelWithContext changes the upstream model of a session with tracing context.
func (st *Store) UpdateModelWithContext(ctx context.Context, id, model string) error {
	return st.mutate(ctx, "update_model", id, func(s *Session) error {
		model = strings.TrimSpace(model)
		if model == "" {
			return fmt.Errorf("%w: model cannot be empty", ErrInvalidInput)
		}
		if err := st.checkModel(model); err != nil {
			return err
		}
		s.setModel(model)
		return nil
	})
}

// ClearHistory empties the history of a session; title and model are kept
func (st *Store) ClearHistory(id string) error {
	return st.ClearHistoryWithContext(context.Background(), id)
}

// ClearHistoryWithContext empties the history of a session with tracing context.
func (st *Store) ClearHistoryWithContext(ctx context.Context, id string) error {
	return st.mutate(ctx, "clear", id, func(s *Session) error {
		s.clear()
		return nil
	})
}

func (st *Store) mutate(ctx context.Context, op, id string, fn func(*Session) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionID(ctx, id)
	ctx, span := tracing.StartSpan(ctx, "chatrelay.session", "session."+op, attribute.String("session_id", id))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, st.logger)

	s, err := st.Get(id)
	if err == nil {
		err = fn(s)
	}
	observability.RecordSessionOp(op, err)
	if err != nil {
		tracing.FailSpan(span, err)
		logger.Debug().Err(err).Str("op", op).Msg("Session update rejected")
		return err
	}

	observability.RecordSessionAudit(ctx, "session."+op, id, nil)
	logger.Debug().Str("op", op).Msg("Session updated")
	return nil
}
