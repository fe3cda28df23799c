// Package service provides the coordinator logic for live chess sessions.
//
// The service package implements:
//   - Joining sessions and broadcasting the full game state to all subscribers
//   - Recording moves and relaying each one to every subscriber
//   - Marking disconnected players inactive
//   - Session queries and the idle sweep
//   - Move suggestions and bet payments through external collaborators
//
// Core Interfaces:
//
// GameService is the main service interface used by the websocket gateway,
// the REST API and the MCP tools. SessionManager is the session registry and
// Publisher is the broadcast dispatcher; both are injected, so a server owns
// exactly one registry for its lifetime.
//
// Architecture:
//
// The service sits between the transports and the session state. Every
// broadcast is issued from inside the session's mutation (see
// session.Session.Join and Move), which keeps the order subscribers observe
// equal to the order of the move log.
//
// Usage:
//
//	hub := websocket.NewHub(logger)
//	gameService := service.NewGameService(session.NewManager(), hub,
//		service.WithEngine(eng),
//		service.WithPaymentGateway(gateway),
//		service.WithLogger(logger),
//	)
//
//	snap, err := gameService.JoinSession(ctx, "g1", connID)
//	move, err := gameService.RecordMove(ctx, "g1", connID, json.RawMessage(`"e2e4"`))
//
// Errors:
//
// ErrorCode maps errors to the codes sent to clients: session_not_found,
// engine_timeout, engine_unavailable, gateway_rejected, invalid_request and
// internal. All of them are scoped to the request that caused them.
package service
