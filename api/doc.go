// Package api provides the HTTP surface of the chess session server.
//
// Endpoints:
//
// Sessions:
//   - GET /api/sessions - List live sessions (?sort=id|created|activity&order=asc|desc&limit=N)
//   - GET /api/sessions/{id} - Get one session snapshot
//
// Training:
//   - POST /api/train - Ask the engine for the best move
//
//	{"position": "<FEN>"} -> {"suggestion": "e2e4", "ponder": "e7e5", ...}
//
// Betting:
//   - POST /api/bet - Create a payment intent for a bet
//
//	{"amount": 10, "player_id": "p1"} -> {"client_secret": "..."}
//
// Realtime:
//   - GET /ws - WebSocket upgrade handled by the connection gateway
//
// Health:
//   - GET /healthz
//
// All responses carry permissive CORS headers.
//
// Error Handling:
//
// Errors are returned as JSON:
//
//	{
//	  "error": "error message",
//	  "code": "session_not_found"
//	}
//
// Status codes: 400 invalid_request, 404 session_not_found, 503
// engine_unavailable, 504 engine_timeout, 500 gateway_rejected and internal.
package api
