package session

import "fmt"

// TurnMark identifies the user message appended by BeginTurn.
type TurnMark struct {
	gen   uint64
	index int
	user  Message
}

// User returns the user message the turn appended
func (m TurnMark) User() Message {
	return m.user
}

// BeginTurn appends the user message of a new turn.
// The caller must hold the turn lock until CommitTurn or RollbackTurn.
func (s *Session) BeginTurn(content string) TurnMark {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := Message{
		Role:      RoleUser,
		Content:   content,
		Timestamp: s.now(),
	}
	s.history = append(s.history, msg)
	s.touch()

	return TurnMark{gen: s.gen, index: len(s.history) - 1, user: msg}
}

// CommitTurn appends the assistant reply for the turn identified by mark.
// If history was cleared while the turn was open the reply is dropped and
// ErrInvalidState is returned.
func (s *Session) CommitTurn(mark TurnMark, reply string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ownsTail(mark) {
		return Message{}, fmt.Errorf("%w: history changed during turn", ErrInvalidState)
	}

	msg := Message{
		Role:      RoleAssistant,
		Content:   reply,
		Timestamp: s.now(),
	}
	s.history = append(s.history, msg)
	s.touch()

	return msg, nil
}

// RollbackTurn removes the user message appended for mark.
// Returns false when history was cleared in the meantime and there is nothing to undo.
func (s *Session) RollbackTurn(mark TurnMark) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ownsTail(mark) {
		return false
	}

	s.history[mark.index] = Message{}
	s.history = s.history[:mark.index]
	s.touch()

	return true
}

// ownsTail must be called with mu held.
func (s *Session) ownsTail(mark TurnMark) bool {
	if s.gen != mark.gen || len(s.history) != mark.index+1 {
		return false
	}
	last := s.history[mark.index]
	return last.Role == RoleUser && last.Content == mark.user.Content && last.Timestamp.Equal(mark.user.Timestamp)
}
