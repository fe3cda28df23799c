package service

import (
	"encoding/json"
	"time"

	"github.com/wricardo/mcp-training/chesslive/game/session"
)

// SessionInfo provides information about a live session
type SessionInfo struct {
	ID             string                `json:"id"`
	Phase          session.Phase         `json:"phase"`
	Participants   []session.Participant `json:"participants"`
	Moves          []json.RawMessage     `json:"moves"`
	MoveCount      int                   `json:"move_count"`
	Subscribers    int                   `json:"subscribers"`
	CreatedAt      time.Time             `json:"created_at"`
	LastActivityAt time.Time             `json:"last_activity_at"`
}

// ErrorPayload is the data of an error event and the body of failed HTTP calls.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newSessionInfo(snap session.Snapshot, subscribers int) *SessionInfo {
	return &SessionInfo{
		ID:             snap.ID,
		Phase:          snap.Phase,
		Participants:   snap.Participants,
		Moves:          snap.Moves,
		MoveCount:      len(snap.Moves),
		Subscribers:    subscribers,
		CreatedAt:      snap.CreatedAt,
		LastActivityAt: snap.LastActivityAt,
	}
}
