// Command chesslive starts the live chess session server.
//
// It supports two modes:
//  1. "server" (default) – runs the HTTP server exposing the REST API, the WebSocket gateway, and an /mcp endpoint
//  2. "stdio-mcp" – runs an MCP stdio server and spins up an internal HTTP API if none is available
//
// Every flag can also be set through the environment, and a .env file in the
// working directory is loaded before flags are parsed.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wricardo/mcp-training/chesslive/api"
	"github.com/wricardo/mcp-training/chesslive/game/config"
	"github.com/wricardo/mcp-training/chesslive/game/engine"
	"github.com/wricardo/mcp-training/chesslive/game/payment"
	"github.com/wricardo/mcp-training/chesslive/game/service"
	"github.com/wricardo/mcp-training/chesslive/game/session"
	"github.com/wricardo/mcp-training/chesslive/transport/mcp"
	"github.com/wricardo/mcp-training/chesslive/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Chess Live Server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load .env file if it exists; flags read the environment while parsing.
	envErr := godotenv.Load()

	if err := newCommand(envErr).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

// newCommand builds the root command. The root runs the HTTP server; the
// stdio-mcp subcommand serves MCP over stdin/stdout.
func newCommand(envErr error) *cli.Command {
	serve := func(ctx context.Context, cmd *cli.Command) error {
		a, err := setup(cmd, envErr)
		if err != nil {
			return err
		}
		defer a.close()
		return a.runHTTPServer(ctx)
	}

	return &cli.Command{
		Name:    "chesslive",
		Usage:   "Live multi-party chess session server",
		Version: Version,
		Flags:   serverFlags(),
		Action:  serve,
		Commands: []*cli.Command{
			{
				Name:    "server",
				Aliases: []string{"http"},
				Usage:   "Run HTTP server with API, WebSocket, and MCP endpoint (default)",
				Action:  serve,
			},
			{
				Name:    "stdio-mcp",
				Aliases: []string{"mcp-stdio", "mcp"},
				Usage:   "Run MCP stdio server with internal HTTP server",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := setup(cmd, envErr)
					if err != nil {
						return err
					}
					defer a.close()
					return a.runStdioMCP(ctx)
				},
			},
		},
	}
}

// serverFlags returns the flags shared by every mode.
func serverFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "host", Value: config.DefaultHost, Usage: "HTTP server host", Sources: cli.EnvVars("HOST")},
		&cli.IntFlag{Name: "port", Value: config.DefaultPort, Usage: "HTTP server port", Sources: cli.EnvVars("PORT")},
		&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging", Sources: cli.EnvVars("DEBUG")},
		&cli.StringFlag{Name: "log-file", Usage: "Also write JSON logs to this file, rotated", Sources: cli.EnvVars("LOG_FILE")},

		&cli.StringFlag{Name: "stockfish-path", Value: engine.DefaultPath, Usage: "UCI engine binary", Sources: cli.EnvVars("STOCKFISH_PATH")},
		&cli.DurationFlag{Name: "engine-timeout", Value: engine.DefaultTimeout, Usage: "Maximum time per move suggestion", Sources: cli.EnvVars("ENGINE_TIMEOUT")},
		&cli.IntFlag{Name: "engine-depth", Value: engine.DefaultDepth, Usage: "Search depth for move suggestions", Sources: cli.EnvVars("ENGINE_DEPTH")},
		&cli.IntFlag{Name: "engine-workers", Value: engine.DefaultWorkers, Usage: "Concurrent engine processes", Sources: cli.EnvVars("ENGINE_WORKERS")},

		&cli.StringFlag{Name: "stripe-secret-key", Usage: "Payment gateway secret key", Sources: cli.EnvVars("STRIPE_SECRET_KEY")},

		&cli.DurationFlag{Name: "session-idle-timeout", Usage: "Evict sessions idle this long with no subscribers (0 disables)", Sources: cli.EnvVars("SESSION_IDLE_TIMEOUT")},
		&cli.DurationFlag{Name: "sweep-interval", Value: config.DefaultSweepInterval, Usage: "How often to look for idle sessions", Sources: cli.EnvVars("SWEEP_INTERVAL")},
		&cli.IntFlag{Name: "send-buffer", Value: websocket.DefaultSendBuffer, Usage: "Outbound messages queued per connection", Sources: cli.EnvVars("SEND_BUFFER")},
		&cli.FloatFlag{Name: "inbound-rate", Value: websocket.DefaultInboundRate, Usage: "Inbound messages per second per connection (0 disables)", Sources: cli.EnvVars("INBOUND_RATE")},
		&cli.IntFlag{Name: "inbound-burst", Value: websocket.DefaultInboundBurst, Usage: "Inbound burst per connection", Sources: cli.EnvVars("INBOUND_BURST")},

		&cli.BoolFlag{Name: "ngrok", Usage: "Enable ngrok tunnel", Sources: cli.EnvVars("NGROK_ENABLED")},
		&cli.StringFlag{Name: "ngrok-auth", Usage: "Ngrok auth token", Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN")},
		&cli.StringFlag{Name: "ngrok-domain", Usage: "Custom ngrok domain (optional)", Sources: cli.EnvVars("NGROK_DOMAIN")},
	}
}

// configFromCommand resolves flags into a validated config.
func configFromCommand(cmd *cli.Command) (config.Config, error) {
	cfg := config.Default()
	cfg.Host = cmd.String("host")
	cfg.Port = int(cmd.Int("port"))
	cfg.Debug = cmd.Bool("debug")
	cfg.LogFile = cmd.String("log-file")

	cfg.Engine.Path = cmd.String("stockfish-path")
	cfg.Engine.Timeout = cmd.Duration("engine-timeout")
	cfg.Engine.Depth = int(cmd.Int("engine-depth"))
	cfg.Engine.Workers = int(cmd.Int("engine-workers"))

	cfg.StripeSecretKey = cmd.String("stripe-secret-key")

	cfg.SessionIdleTimeout = cmd.Duration("session-idle-timeout")
	cfg.SweepInterval = cmd.Duration("sweep-interval")
	cfg.SendBuffer = int(cmd.Int("send-buffer"))
	cfg.InboundRate = cmd.Float("inbound-rate")
	cfg.InboundBurst = int(cmd.Int("inbound-burst"))

	cfg.Ngrok.Enabled = cmd.Bool("ngrok")
	cfg.Ngrok.AuthToken = cmd.String("ngrok-auth")
	cfg.Ngrok.Domain = cmd.String("ngrok-domain")

	return cfg, cfg.Validate()
}

// newLogger builds a production JSON logger, or a development console logger
// when debug is set. A log file, if given, receives a rotated JSON copy.
func newLogger(debug bool, logFile string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if debug {
		zcfg = zap.NewDevelopmentConfig()
	}
	// stdout belongs to the MCP stdio transport.
	zcfg.OutputPaths = []string{"stderr"}

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	if logFile == "" {
		return logger, nil
	}

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		}),
		zcfg.Level,
	)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}

// application wires the registry, dispatcher, collaborators and transports.
// One application owns exactly one session registry.
type application struct {
	cfg     config.Config
	logger  *zap.Logger
	engine  *engine.UCIEngine
	hub     *websocket.Hub
	gateway *websocket.Gateway
	service service.GameService
	api     *api.Server
}

func setup(cmd *cli.Command, envErr error) (*application, error) {
	cfg, err := configFromCommand(cmd)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Debug, cfg.LogFile)
	if err != nil {
		return nil, err
	}

	switch {
	case envErr == nil:
		logger.Info("loaded environment variables from .env file")
	case !os.IsNotExist(envErr):
		logger.Warn("error loading .env file", zap.Error(envErr))
	}

	a, err := newApplication(cfg, logger)
	if err != nil {
		logger.Sync()
		return nil, err
	}

	logger.Info("starting",
		zap.String("app", AppName),
		zap.String("version", Version),
		zap.String("command", cmd.Name))
	return a, nil
}

func newApplication(cfg config.Config, logger *zap.Logger) (*application, error) {
	eng, err := engine.NewUCIEngine(cfg.EngineSettings(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}

	if cfg.StripeSecretKey == "" {
		logger.Warn("no payment gateway key configured, bets will be rejected")
	}

	hub := websocket.NewHub(logger, websocket.WithSendBuffer(cfg.SendBuffer))
	gameService := service.NewGameService(session.NewManager(), hub,
		service.WithEngine(eng),
		service.WithPaymentGateway(payment.NewStripeGateway(cfg.StripeSecretKey, logger)),
		service.WithLogger(logger),
	)
	gateway := websocket.NewGateway(hub, gameService, logger,
		websocket.WithInboundRate(cfg.InboundRate, cfg.InboundBurst))

	return &application{
		cfg:     cfg,
		logger:  logger,
		engine:  eng,
		hub:     hub,
		gateway: gateway,
		service: gameService,
		api:     api.NewServer(gameService, gateway, logger),
	}, nil
}

func (a *application) close() {
	a.engine.Close()
	a.logger.Sync()
}

// handler combines the API server with the /mcp endpoint. baseURL is where
// the MCP tools send their REST calls.
func (a *application) handler(baseURL string) http.Handler {
	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", a.api)
	mainRouter.HandleFunc("/mcp", mcpHandler(mcp.NewClient(baseURL)))
	return mainRouter
}

// mcpHandler serves single JSON-RPC MCP messages over HTTP POST.
func mcpHandler(client *mcp.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := client.GetMCPServer().HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	}
}

// runHTTPServer serves until SIGINT/SIGTERM or a fatal server error. The idle
// sweeper and the ngrok tunnel run alongside in the same group.
func (a *application) runHTTPServer(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := a.cfg.Addr()
	handler := a.handler("http://" + addr)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server listening",
			zap.String("addr", addr),
			zap.String("api", fmt.Sprintf("http://%s/api", addr)),
			zap.String("websocket", fmt.Sprintf("ws://%s/ws?session_id=<session_id>", addr)),
			zap.String("mcp", fmt.Sprintf("http://%s/mcp", addr)))

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		a.gateway.Shutdown()
		return err
	})

	if a.cfg.IdleSweepEnabled() {
		g.Go(func() error {
			a.sweepIdleSessions(gctx)
			return nil
		})
	}

	if a.cfg.Ngrok.Enabled {
		g.Go(func() error {
			a.runNgrok(gctx, handler)
			return nil
		})
	}

	err := g.Wait()
	a.logger.Info("server stopped")
	return err
}

// sweepIdleSessions evicts idle sessions every SweepInterval until ctx ends.
func (a *application) sweepIdleSessions(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.service.SweepIdleSessions(ctx, a.cfg.SessionIdleTimeout)
		}
	}
}

// runNgrok exposes handler through an ngrok tunnel. Tunnel failures are
// logged and do not stop the local server.
func (a *application) runNgrok(ctx context.Context, handler http.Handler) {
	log := a.logger.Named("ngrok")
	log.Info("starting ngrok tunnel")

	var tunnel ngrokConfig.Tunnel
	if a.cfg.Ngrok.Domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(a.cfg.Ngrok.Domain))
		log.Info("using custom ngrok domain", zap.String("domain", a.cfg.Ngrok.Domain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(a.cfg.Ngrok.AuthToken))
	if err != nil {
		log.Error("failed to start ngrok tunnel", zap.Error(err))
		return
	}

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			log.Warn("failed to close ngrok tunnel", zap.Error(err))
		}
	}()

	ngrokURL := tun.URL()
	log.Info("ngrok tunnel established",
		zap.String("url", ngrokURL),
		zap.String("api", ngrokURL+"/api"),
		zap.String("websocket", ngrokURL+"/ws?session_id=<session_id>"),
		zap.String("mcp", ngrokURL+"/mcp"))

	if err := http.Serve(tun, handler); err != nil && ctx.Err() == nil {
		log.Warn("ngrok server error", zap.Error(err))
	}
	log.Info("ngrok tunnel closed")
}

// runStdioMCP runs an MCP stdio server. It reuses an API already listening
// on the configured address; otherwise it starts an internal HTTP server on
// a random loopback port and targets that.
func (a *application) runStdioMCP(ctx context.Context) error {
	baseURL := "http://" + a.cfg.Addr()
	a.logger.Info("checking for external API server", zap.String("url", baseURL))

	probe := &http.Client{Timeout: 2 * time.Second}
	resp, err := probe.Get(baseURL + "/healthz")
	if resp != nil {
		resp.Body.Close()
	}

	if err == nil && resp.StatusCode == http.StatusOK {
		a.logger.Info("external API server found, using it for MCP", zap.String("url", baseURL))
	} else {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		baseURL = "http://" + listener.Addr().String()

		httpServer := &http.Server{Handler: a.handler(baseURL)}
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("internal HTTP server error", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
			a.gateway.Shutdown()
		}()

		a.logger.Info("started internal HTTP server for MCP stdio", zap.String("url", baseURL))
	}

	mcpClient := mcp.NewClient(baseURL)
	a.logger.Info("MCP stdio server ready")

	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}
