package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Seat identifies which side of the board a participant plays.
type Seat string

const (
	SeatWhite Seat = "white"
	SeatBlack Seat = "black"
	SeatNone  Seat = ""
)

// MaxSeats is the number of seated players in a chess game. Joiners beyond
// this are still recorded as participants but stay unseated.
const MaxSeats = 2

// Phase is the coarse lifecycle of a game, kept separate from the move relay.
type Phase string

const (
	PhaseWaitingForPlayers Phase = "waiting_for_players"
	PhaseActive            Phase = "active"
)

// Participant is a connection that joined a session.
type Participant struct {
	ConnectionID string     `json:"connection_id"`
	Seat         Seat       `json:"seat,omitempty"`
	Active       bool       `json:"active"`
	JoinedAt     time.Time  `json:"joined_at"`
	LeftAt       *time.Time `json:"left_at,omitempty"`
}

// Move is one entry of the append-only move log. Payload is relayed as-is.
type Move struct {
	Index        int             `json:"index"`
	ConnectionID string          `json:"connection_id"`
	Payload      json.RawMessage `json:"payload"`
	RecordedAt   time.Time       `json:"recorded_at"`
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID             string            `json:"id"`
	Phase          Phase             `json:"phase"`
	Participants   []Participant     `json:"participants"`
	Moves          []json.RawMessage `json:"moves"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
}

// Session is the shared state of one game. All mutations go through mu so
// that appends to the move log are linearized.
type Session struct {
	id string

	mu             sync.Mutex
	participants   []Participant
	moves          []Move
	createdAt      time.Time
	lastActivityAt time.Time

	now func() time.Time
}

func newSession(id string, now func() time.Time) *Session {
	t := now()
	return &Session{
		id:             id,
		participants:   []Participant{},
		moves:          []Move{},
		createdAt:      t,
		lastActivityAt: t,
		now:            now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// AddParticipant appends connID to the participant list and returns the
// recorded entry.
func (s *Session) AddParticipant(connID string) Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addParticipantLocked(connID)
}

// RecordMove appends payload to the move log.
func (s *Session) RecordMove(connID string, payload json.RawMessage) Move {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordMoveLocked(connID, payload)
}

// Join adds connID as a participant and calls publish with the resulting
// snapshot before releasing the session lock, so the snapshot is ordered
// with respect to every move published for this session.
func (s *Session) Join(connID string, publish func(Snapshot)) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addParticipantLocked(connID)
	snap := s.snapshotLocked()
	if publish != nil {
		publish(snap)
	}
	return snap
}

// Move records a move from connID and calls publish while still holding the
// session lock. It fails with ErrSessionNotFound when connID never joined
// or has since left.
func (s *Session) Move(connID string, payload json.RawMessage, publish func(Move)) (Move, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isActiveLocked(connID) {
		return Move{}, fmt.Errorf("%w: connection %s has not joined %s", ErrSessionNotFound, connID, s.id)
	}

	m := s.recordMoveLocked(connID, payload)
	if publish != nil {
		publish(m)
	}
	return m, nil
}

// MarkInactive flags every entry of connID as inactive. The participant list
// itself is never compacted. Reports whether anything changed.
func (s *Session) MarkInactive(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, changed := s.markInactiveLocked(connID)
	return changed
}

// Leave marks connID inactive and, if it was still active, calls publish
// with the updated entry before releasing the lock.
func (s *Session) Leave(connID string, publish func(Participant)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, changed := s.markInactiveLocked(connID)
	if changed && publish != nil {
		publish(p)
	}
	return changed
}

// HasParticipant reports whether connID ever joined this session.
func (s *Session) HasParticipant(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasParticipantLocked(connID)
}

// Snapshot returns a deep copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// MoveCount returns the length of the move log.
func (s *Session) MoveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.moves)
}

// History returns a copy of the full move log including metadata.
func (s *Session) History() []Move {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Move, len(s.moves))
	for i, m := range s.moves {
		m.Payload = cloneRaw(m.Payload)
		out[i] = m
	}
	return out
}

// LastActivity returns the time of the last join, move or disconnect.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

func (s *Session) addParticipantLocked(connID string) Participant {
	t := s.now()
	p := Participant{
		ConnectionID: connID,
		Seat:         s.nextSeatLocked(),
		Active:       true,
		JoinedAt:     t,
	}
	s.participants = append(s.participants, p)
	s.lastActivityAt = t
	return p
}

func (s *Session) markInactiveLocked(connID string) (Participant, bool) {
	var last Participant
	changed := false
	t := s.now()
	for i := range s.participants {
		p := &s.participants[i]
		if p.ConnectionID == connID && p.Active {
			p.Active = false
			left := t
			p.LeftAt = &left
			last = *p
			changed = true
		}
	}
	if changed {
		s.lastActivityAt = t
	}
	return last, changed
}

func (s *Session) recordMoveLocked(connID string, payload json.RawMessage) Move {
	t := s.now()
	m := Move{
		Index:        len(s.moves),
		ConnectionID: connID,
		Payload:      cloneRaw(payload),
		RecordedAt:   t,
	}
	s.moves = append(s.moves, m)
	s.lastActivityAt = t
	return m
}

func (s *Session) nextSeatLocked() Seat {
	seated := lo.CountBy(s.participants, func(p Participant) bool {
		return p.Seat != SeatNone
	})
	switch seated {
	case 0:
		return SeatWhite
	case 1:
		return SeatBlack
	default:
		return SeatNone
	}
}

func (s *Session) phaseLocked() Phase {
	seated := lo.CountBy(s.participants, func(p Participant) bool {
		return p.Seat != SeatNone
	})
	if seated >= MaxSeats {
		return PhaseActive
	}
	return PhaseWaitingForPlayers
}

func (s *Session) hasParticipantLocked(connID string) bool {
	return lo.ContainsBy(s.participants, func(p Participant) bool {
		return p.ConnectionID == connID
	})
}

func (s *Session) isActiveLocked(connID string) bool {
	return lo.ContainsBy(s.participants, func(p Participant) bool {
		return p.ConnectionID == connID && p.Active
	})
}

func (s *Session) snapshotLocked() Snapshot {
	participants := make([]Participant, len(s.participants))
	for i, p := range s.participants {
		if p.LeftAt != nil {
			left := *p.LeftAt
			p.LeftAt = &left
		}
		participants[i] = p
	}

	moves := lo.Map(s.moves, func(m Move, _ int) json.RawMessage {
		return cloneRaw(m.Payload)
	})

	return Snapshot{
		ID:             s.id,
		Phase:          s.phaseLocked(),
		Participants:   participants,
		Moves:          moves,
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivityAt,
	}
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

// ConnectionIDs returns the participant connection ids in join order.
func (snap Snapshot) ConnectionIDs() []string {
	return lo.Map(snap.Participants, func(p Participant, _ int) string {
		return p.ConnectionID
	})
}
