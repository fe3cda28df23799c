package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/wricardo/mcp-training/chesslive/game/engine"
	"github.com/wricardo/mcp-training/chesslive/transport/websocket"
)

// Defaults for settings not covered by the engine and websocket packages.
const (
	DefaultHost          = "localhost"
	DefaultPort          = 8080
	DefaultSweepInterval = time.Minute
)

// Config holds the server settings resolved from flags and environment.
type Config struct {
	Host    string `validate:"required"`
	Port    int    `validate:"min=0,max=65535"`
	Debug   bool
	LogFile string

	Engine EngineConfig

	StripeSecretKey string

	// SessionIdleTimeout of zero disables the idle sweep.
	SessionIdleTimeout time.Duration `validate:"min=0"`
	SweepInterval      time.Duration `validate:"required_with=SessionIdleTimeout,min=0"`

	SendBuffer   int     `validate:"min=1"`
	InboundRate  float64 `validate:"min=0"`
	InboundBurst int     `validate:"min=1"`

	Ngrok NgrokConfig
}

// EngineConfig configures the move-suggestion engine.
type EngineConfig struct {
	Path    string        `validate:"required"`
	Depth   int           `validate:"min=1,max=64"`
	Timeout time.Duration `validate:"gt=0"`
	Workers int           `validate:"min=1"`
}

// NgrokConfig configures the optional public tunnel.
type NgrokConfig struct {
	Enabled   bool
	AuthToken string `validate:"required_if=Enabled true"`
	Domain    string
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Host: DefaultHost,
		Port: DefaultPort,
		Engine: EngineConfig{
			Path:    engine.DefaultPath,
			Depth:   engine.DefaultDepth,
			Timeout: engine.DefaultTimeout,
			Workers: engine.DefaultWorkers,
		},
		SweepInterval: DefaultSweepInterval,
		SendBuffer:    websocket.DefaultSendBuffer,
		InboundRate:   websocket.DefaultInboundRate,
		InboundBurst:  websocket.DefaultInboundBurst,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field and reports all violations at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Addr returns host:port.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EngineSettings converts the engine section for engine.NewUCIEngine.
func (c Config) EngineSettings() engine.Config {
	return engine.Config{
		Path:    c.Engine.Path,
		Depth:   c.Engine.Depth,
		Timeout: c.Engine.Timeout,
		Workers: c.Engine.Workers,
	}
}

// IdleSweepEnabled reports whether idle sessions should be evicted.
func (c Config) IdleSweepEnabled() bool {
	return c.SessionIdleTimeout > 0 && c.SweepInterval > 0
}
