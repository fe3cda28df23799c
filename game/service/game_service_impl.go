package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/wricardo/mcp-training/chesslive/game/engine"
	"github.com/wricardo/mcp-training/chesslive/game/payment"
	"github.com/wricardo/mcp-training/chesslive/game/session"
)

// gameServiceImpl implements the GameService interface
type gameServiceImpl struct {
	sessions  SessionManager
	publisher Publisher
	engine    engine.Suggester
	payments  payment.Gateway
	logger    *zap.Logger
}

// Option customizes the service.
type Option func(*gameServiceImpl)

// WithEngine sets the move-suggestion engine.
func WithEngine(e engine.Suggester) Option {
	return func(s *gameServiceImpl) { s.engine = e }
}

// WithPaymentGateway sets the payment gateway.
func WithPaymentGateway(g payment.Gateway) Option {
	return func(s *gameServiceImpl) { s.payments = g }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *gameServiceImpl) { s.logger = l }
}

// NewGameService creates a new game service instance
func NewGameService(sessions SessionManager, publisher Publisher, opts ...Option) GameService {
	s := &gameServiceImpl{
		sessions:  sessions,
		publisher: publisher,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("service")
	return s
}

// JoinSession adds connID to the session, creating it on first join, and
// sends the full state to every subscriber of the session.
func (s *gameServiceImpl) JoinSession(ctx context.Context, sessionID, connID string) (*session.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sess, created, err := s.sessions.GetOrCreate(sessionID)
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info("session created", zap.String("session_id", sessionID))
	}

	snap := sess.Join(connID, func(snap session.Snapshot) {
		s.publisher.Publish(sessionID, EventGameState, snap)
	})

	s.logger.Info("player joined",
		zap.String("session_id", sessionID),
		zap.String("connection_id", connID),
		zap.Int("participants", len(snap.Participants)),
		zap.Int("moves", len(snap.Moves)))

	return &snap, nil
}

// RecordMove appends move to the session log and relays it to all
// subscribers, the sender included.
func (s *gameServiceImpl) RecordMove(ctx context.Context, sessionID, connID string, move json.RawMessage) (*session.Move, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(move) == 0 {
		return nil, fmt.Errorf("%w: move is required", ErrInvalidRequest)
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, sessionID)
	}

	m, err := sess.Move(connID, move, func(m session.Move) {
		s.publisher.Publish(sessionID, EventMove, m.Payload)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("move recorded",
		zap.String("session_id", sessionID),
		zap.String("connection_id", connID),
		zap.Int("index", m.Index))

	return &m, nil
}

// Disconnect marks connID inactive in its session. Participants and moves
// are kept; remaining subscribers are told who left.
func (s *gameServiceImpl) Disconnect(ctx context.Context, sessionID, connID string) error {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}

	sess.Leave(connID, func(p session.Participant) {
		s.publisher.Publish(sessionID, EventParticipantLeft, p)
	})

	s.logger.Info("player left",
		zap.String("session_id", sessionID),
		zap.String("connection_id", connID))
	return nil
}

// GetSession retrieves session information
func (s *gameServiceImpl) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, sessionID)
	}
	return newSessionInfo(sess.Snapshot(), s.publisher.SubscriberCount(sessionID)), nil
}

// ListSessions returns all live sessions
func (s *gameServiceImpl) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	return lo.Map(s.sessions.List(), func(sess *session.Session, _ int) *SessionInfo {
		return newSessionInfo(sess.Snapshot(), s.publisher.SubscriberCount(sess.ID()))
	}), nil
}

// SweepIdleSessions evicts sessions without subscribers that saw no activity
// for maxIdle.
func (s *gameServiceImpl) SweepIdleSessions(ctx context.Context, maxIdle time.Duration) []string {
	evicted := s.sessions.EvictIdle(maxIdle, func(id string) bool {
		return s.publisher.SubscriberCount(id) > 0
	})
	if len(evicted) > 0 {
		s.logger.Info("evicted idle sessions",
			zap.Strings("session_ids", evicted),
			zap.Duration("max_idle", maxIdle))
	}
	return evicted
}

// SuggestMove asks the engine for the best move in a FEN position.
func (s *gameServiceImpl) SuggestMove(ctx context.Context, position string) (*engine.Suggestion, error) {
	if s.engine == nil {
		return nil, fmt.Errorf("%w: no engine configured", engine.ErrEngineUnavailable)
	}

	suggestion, err := s.engine.Suggest(ctx, position)
	if err != nil {
		s.logger.Warn("move suggestion failed",
			zap.String("code", ErrorCode(err)),
			zap.Error(err))
		return nil, err
	}
	return suggestion, nil
}

// PlaceBet creates a payment intent for a player's bet.
func (s *gameServiceImpl) PlaceBet(ctx context.Context, amount float64, playerID string) (*payment.Intent, error) {
	if s.payments == nil {
		return nil, &payment.RejectedError{Message: "payment gateway not configured"}
	}
	return s.payments.CreateIntent(ctx, payment.Charge{Amount: amount, PlayerID: playerID})
}
