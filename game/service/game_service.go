package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wricardo/mcp-training/chesslive/game/engine"
	"github.com/wricardo/mcp-training/chesslive/game/payment"
	"github.com/wricardo/mcp-training/chesslive/game/session"
)

// Outbound event names.
const (
	EventGameState       = "gameState"
	EventMove            = "move"
	EventParticipantLeft = "participantLeft"
	EventError           = "error"
)

// GameService defines all coordinator operations
type GameService interface {
	// Live sessions
	JoinSession(ctx context.Context, sessionID, connID string) (*session.Snapshot, error)
	RecordMove(ctx context.Context, sessionID, connID string, move json.RawMessage) (*session.Move, error)
	Disconnect(ctx context.Context, sessionID, connID string) error

	// Session queries
	GetSession(ctx context.Context, sessionID string) (*SessionInfo, error)
	ListSessions(ctx context.Context) ([]*SessionInfo, error)
	SweepIdleSessions(ctx context.Context, maxIdle time.Duration) []string

	// External collaborators
	SuggestMove(ctx context.Context, position string) (*engine.Suggestion, error)
	PlaceBet(ctx context.Context, amount float64, playerID string) (*payment.Intent, error)
}

// SessionManager defines session registry operations
type SessionManager interface {
	GetOrCreate(id string) (*session.Session, bool, error)
	Get(id string) (*session.Session, error)
	List() []*session.Session
	EvictIdle(maxIdle time.Duration, hasSubscribers func(id string) bool) []string
}

// Publisher fans an event out to every subscriber of a session.
type Publisher interface {
	Publish(sessionID, event string, data any) int
	SubscriberCount(sessionID string) int
}
