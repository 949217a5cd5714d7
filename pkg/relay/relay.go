package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/harun/chatrelay/internal/observability"
	"github.com/harun/chatrelay/pkg/catalog"
	"github.com/harun/chatrelay/pkg/session"
	"github.com/harun/chatrelay/pkg/upstream"
	"github.com/rs/zerolog"
)

const DefaultEventBuffer = 32

// Upstream is the chat completion backend used by the relay
type Upstream interface {
	Stream(ctx context.Context, model string, messages []session.APIMessage) (*upstream.Stream, error)
	Complete(ctx context.Context, model string, messages []session.APIMessage) (string, error)
}

// Relay is the transport-agnostic surface over the session store and the upstream client
type Relay struct {
	store       *session.Store
	upstream    Upstream
	catalog     *catalog.Catalog
	logger      zerolog.Logger
	eventBuffer int

	// in-flight turns, for Abort
	activeTurns map[string]activeTurn
	turnsMu     sync.Mutex
}

type activeTurn struct {
	sessionID string
	cancel    context.CancelFunc
}

// Config holds relay configuration
type Config struct {
	Store    *session.Store
	Upstream Upstream
	// Catalog defaults to catalog.Defaults()
	Catalog *catalog.Catalog
	Logger  zerolog.Logger
	// EventBuffer is the capacity of each turn's event channel
	EventBuffer int
	// ValidateModels restricts session models to catalog ids
	ValidateModels bool
}

// CreateParams are the optional fields of a new session
type CreateParams struct {
	Title string `json:"title"`
	Model string `json:"model"`
}

// New creates a new Relay
func New(cfg Config) (*Relay, error) {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Upstream == nil {
		return nil, fmt.Errorf("upstream client is required")
	}

	cat := cfg.Catalog
	if cat == nil {
		var err error
		cat, err = catalog.New(catalog.Defaults())
		if err != nil {
			return nil, fmt.Errorf("failed to build default catalog: %w", err)
		}
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if cfg.ValidateModels {
		cfg.Store.SetModelValidator(cat.Contains)
	}

	return &Relay{
		store:       cfg.Store,
		upstream:    cfg.Upstream,
		catalog:     cat,
		logger:      cfg.Logger.With().Str("component", "relay").Logger(),
		eventBuffer: cfg.EventBuffer,
		activeTurns: make(map[string]activeTurn),
	}, nil
}

// Catalog returns the model catalog served by ListModels
func (r *Relay) Catalog() *catalog.Catalog {
	return r.catalog
}

// ListModels returns the configured model catalog
func (r *Relay) ListModels() []catalog.Model {
	return r.catalog.List()
}

// ListSessions returns session summaries, most recently updated first
func (r *Relay) ListSessions() []session.Summary {
	return r.store.List()
}

// CreateSession creates a session and returns its full view
func (r *Relay) CreateSession(ctx context.Context, params CreateParams) (session.View, error) {
	s, err := r.store.CreateWithContext(ctx, params.Title, params.Model)
	if err != nil {
		return session.View{}, err
	}
	return s.Snapshot(), nil
}

// GetSession returns the full view of a session
func (r *Relay) GetSession(id string) (session.View, error) {
	s, err := r.store.Get(id)
	if err != nil {
		return session.View{}, err
	}
	return s.Snapshot(), nil
}

// DeleteSession removes a session and cancels any turn still running on it
func (r *Relay) DeleteSession(ctx context.Context, id string) error {
	if err := r.store.DeleteWithContext(ctx, id); err != nil {
		return err
	}
	if n := r.Abort(id); n > 0 {
		r.logger.Info().Str("session_id", id).Int("turns", n).Msg("Aborted turns of deleted session")
	}
	return nil
}

// SetTitle renames a session
func (r *Relay) SetTitle(ctx context.Context, id, title string) error {
	return r.store.UpdateTitleWithContext(ctx, id, title)
}

// SetModel changes the model used for the next turns of a session
func (r *Relay) SetModel(ctx context.Context, id, model string) error {
	return r.store.UpdateModelWithContext(ctx, id, model)
}

// ClearHistory empties a session's history
func (r *Relay) ClearHistory(ctx context.Context, id string) error {
	return r.store.ClearHistoryWithContext(ctx, id)
}

// Abort cancels every in-flight turn of a session and returns how many were cancelled
func (r *Relay) Abort(sessionID string) int {
	r.turnsMu.Lock()
	defer r.turnsMu.Unlock()

	n := 0
	for _, t := range r.activeTurns {
		if t.sessionID == sessionID {
			t.cancel()
			n++
		}
	}
	return n
}

func (r *Relay) trackTurn(turnID, sessionID string, cancel context.CancelFunc) {
	r.turnsMu.Lock()
	defer r.turnsMu.Unlock()
	r.activeTurns[turnID] = activeTurn{sessionID: sessionID, cancel: cancel}
}

func (r *Relay) untrackTurn(turnID string) {
	r.turnsMu.Lock()
	defer r.turnsMu.Unlock()
	delete(r.activeTurns, turnID)
}

// InFlight returns the number of turns currently running
func (r *Relay) InFlight() int {
	r.turnsMu.Lock()
	defer r.turnsMu.Unlock()
	return len(r.activeTurns)
}
