package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/notnil/chess"
	"github.com/notnil/chess/uci"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var (
	ErrEngineTimeout     = errors.New("engine timed out")
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrInvalidPosition   = errors.New("invalid position")
)

const (
	DefaultDepth   = 10
	DefaultTimeout = 10 * time.Second
	DefaultWorkers = 4
	DefaultPath    = "stockfish"
)

// Suggester recommends a move for a board position.
type Suggester interface {
	Suggest(ctx context.Context, position string) (*Suggestion, error)
}

// Suggestion is the engine's answer for one position.
type Suggestion struct {
	Position string `json:"position"`
	BestMove string `json:"suggestion"`
	Ponder   string `json:"ponder,omitempty"`
	Depth    int    `json:"depth"`
	ScoreCP  int    `json:"score_cp"`
	Mate     int    `json:"mate,omitempty"`
}

// Config controls how the UCI engine is launched.
type Config struct {
	Path    string
	Depth   int
	Timeout time.Duration
	Workers int
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.Depth <= 0 {
		c.Depth = DefaultDepth
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	return c
}

type analyzeFunc func(ctx context.Context, pos *chess.Position, depth int) (*Suggestion, error)

// UCIEngine runs one short-lived UCI process per request on a bounded pool.
// A saturated pool is reported as ErrEngineUnavailable instead of queueing,
// so a burst of slow analyses cannot pile up behind the connection handlers.
type UCIEngine struct {
	cfg     Config
	pool    *ants.Pool
	logger  *zap.Logger
	analyze analyzeFunc
}

// NewUCIEngine creates an engine client backed by the binary at cfg.Path.
func NewUCIEngine(cfg Config, logger *zap.Logger) (*UCIEngine, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := ants.NewPool(cfg.Workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			logger.Error("engine worker panic", zap.Any("panic", p))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine pool: %w", err)
	}

	e := &UCIEngine{
		cfg:    cfg,
		pool:   pool,
		logger: logger.Named("engine"),
	}
	e.analyze = e.runUCI
	return e, nil
}

type analysis struct {
	suggestion *Suggestion
	err        error
}

// Suggest analyses a FEN position and returns the best move. It never waits
// longer than the configured timeout.
func (e *UCIEngine) Suggest(ctx context.Context, position string) (*Suggestion, error) {
	position = strings.TrimSpace(position)
	if position == "" {
		return nil, fmt.Errorf("%w: empty position", ErrInvalidPosition)
	}
	fen, err := chess.FEN(position)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	pos := chess.NewGame(fen).Position()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	results := make(chan analysis, 1)
	err = e.pool.Submit(func() {
		s, err := e.analyze(ctx, pos, e.cfg.Depth)
		results <- analysis{suggestion: s, err: err}
	})
	if err != nil {
		e.logger.Warn("engine pool rejected request",
			zap.Int("running", e.pool.Running()),
			zap.Int("capacity", e.pool.Cap()),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	select {
	case r := <-results:
		if r.err != nil {
			if ctx.Err() != nil {
				return nil, e.contextError(ctx)
			}
			return nil, r.err
		}
		r.suggestion.Position = position
		return r.suggestion, nil
	case <-ctx.Done():
		return nil, e.contextError(ctx)
	}
}

func (e *UCIEngine) contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		e.logger.Warn("engine analysis timed out", zap.Duration("timeout", e.cfg.Timeout))
		return fmt.Errorf("%w after %s", ErrEngineTimeout, e.cfg.Timeout)
	}
	return ctx.Err()
}

// Close releases the worker pool. In-flight analyses are cancelled by their
// own contexts.
func (e *UCIEngine) Close() {
	e.pool.Release()
}

// runUCI drives a fresh engine process: uci, isready, ucinewgame,
// position fen, go depth N. The process is killed as soon as ctx ends.
func (e *UCIEngine) runUCI(ctx context.Context, pos *chess.Position, depth int) (*Suggestion, error) {
	eng, err := uci.New(e.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	var once sync.Once
	closeEngine := func() {
		once.Do(func() {
			if err := eng.Close(); err != nil {
				e.logger.Debug("engine close failed", zap.Error(err))
			}
		})
	}
	stop := context.AfterFunc(ctx, closeEngine)
	defer stop()
	defer closeEngine()

	cmds := []uci.Cmd{
		uci.CmdUCI,
		uci.CmdIsReady,
		uci.CmdUCINewGame,
		uci.CmdPosition{Position: pos},
		uci.CmdGo{Depth: depth},
	}
	if err := eng.Run(cmds...); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	results := eng.SearchResults()
	s := &Suggestion{
		Depth:   results.Info.Depth,
		ScoreCP: results.Info.Score.CP,
		Mate:    results.Info.Score.Mate,
	}
	if results.BestMove != nil {
		s.BestMove = results.BestMove.String()
	}
	if results.Ponder != nil {
		s.Ponder = results.Ponder.String()
	}
	return s, nil
}
