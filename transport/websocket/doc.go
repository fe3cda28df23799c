// Package websocket provides the WebSocket transport for live chess sessions.
//
// The package has two parts:
//   - Hub, the broadcast dispatcher. It keeps one topic per session and fans
//     each published event out to every subscriber of that topic.
//   - Gateway, which accepts connections, decodes inbound events and calls
//     the game service.
//
// Message Protocol:
//
// Inbound messages are JSON objects:
//
//	{"event": "joinGame", "session_id": "g1"}
//	{"event": "move", "session_id": "g1", "move": "e2e4"}
//	{"event": "leave"}
//
// "join" is accepted as an alias of "joinGame" and "gameId" as an alias of
// "session_id". The move value is any JSON and is relayed untouched.
//
// Outbound messages share one envelope:
//
//	{"event": "gameState", "session_id": "g1", "data": {...snapshot...}}
//	{"event": "move", "session_id": "g1", "data": "e2e4"}
//	{"event": "participantLeft", "session_id": "g1", "data": {...}}
//	{"event": "error", "session_id": "ghost", "data": {"code": "session_not_found", "message": "..."}}
//
// Error events go only to the connection that caused them.
//
// Backpressure:
//
// Every subscriber has a bounded queue drained by its own write pump.
// Publish never waits: a subscriber whose queue is full is closed and
// removed, and the client has to rejoin to get a fresh gameState.
//
// Usage:
//
//	hub := websocket.NewHub(logger, websocket.WithSendBuffer(256))
//	svc := service.NewGameService(session.NewManager(), hub)
//	gw := websocket.NewGateway(hub, svc, logger)
//	router.HandleFunc("/ws", gw.ServeWS)
//
// Connection Lifecycle:
//
// 1. Client connects, optionally with ?session_id=g1
// 2. joinGame subscribes the connection and records it as a participant
// 3. Moves are recorded and relayed to the whole session, sender included
// 4. Closing the link marks the participant inactive
package websocket
