package session

import (
	"fmt"
	"sync"
	"time"
)

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a role the upstream API accepts in history
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message represents a single conversation turn
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// APIMessage is the upstream wire shape of a message; timestamps are never sent
type APIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// View is an immutable copy of a session, used as the session resource by transports
type View struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary is the listing view of a session
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Session is one conversation. Field access is guarded by mu; whole turns are
// serialized by turnMu so reads never wait on an in-flight upstream call.
type Session struct {
	id        string
	seq       uint64
	createdAt time.Time
	now       func() time.Time

	mu        sync.RWMutex
	title     string
	model     string
	history   []Message
	updatedAt time.Time
	// gen changes whenever history is cleared; open turns compare against it
	gen uint64

	turnMu sync.Mutex
}

func newSession(id string, seq uint64, title, model string, now func() time.Time) *Session {
	ts := now()
	return &Session{
		id:        id,
		seq:       seq,
		createdAt: ts,
		now:       now,
		title:     title,
		model:     model,
		history:   make([]Message, 0),
		updatedAt: ts,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.title
}

func (s *Session) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// Len returns the number of messages in history
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// touch must be called with mu held for writing. UpdatedAt never moves backwards.
func (s *Session) touch() {
	ts := s.now()
	if ts.Before(s.updatedAt) {
		ts = s.updatedAt
	}
	s.updatedAt = ts
}

// Append adds a message with a fresh timestamp and returns it
func (s *Session) Append(role Role, content string) (Message, error) {
	if !role.Valid() {
		return Message{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := Message{
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	}
	s.history = append(s.history, msg)
	s.touch()

	return msg, nil
}

// PopLast removes and returns the last message. Used to roll back a failed turn.
func (s *Session) PopLast() (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) == 0 {
		return Message{}, fmt.Errorf("%w: history is empty", ErrInvalidState)
	}

	last := s.history[len(s.history)-1]
	s.history[len(s.history)-1] = Message{}
	s.history = s.history[:len(s.history)-1]
	s.touch()

	return last, nil
}

// Last returns the last message, if any
func (s *Session) Last() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return Message{}, false
	}
	return s.history[len(s.history)-1], true
}

// APIView returns the history in upstream wire shape, oldest first
func (s *Session) APIView() []APIMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]APIMessage, len(s.history))
	for i, m := range s.history {
		out[i] = APIMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

// Messages returns a copy of the history
func (s *Session) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Snapshot returns a deep copy of the session
func (s *Session) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]Message, len(s.history))
	copy(msgs, s.history)

	return View{
		ID:        s.id,
		Title:     s.title,
		Model:     s.model,
		Messages:  msgs,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
}

func (s *Session) summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Summary{
		ID:           s.id,
		Title:        s.title,
		Model:        s.model,
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
		MessageCount: len(s.history),
	}
}

func (s *Session) setTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = title
	s.touch()
}

func (s *Session) setModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
	s.touch()
}

func (s *Session) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = make([]Message, 0)
	s.gen++
	s.touch()
}

// LockTurn acquires the turn lock and returns its release func.
func (s *Session) LockTurn() func() {
	s.turnMu.Lock()
	return s.turnMu.Unlock
}
