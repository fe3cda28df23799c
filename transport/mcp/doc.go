// Package mcp provides a Model Context Protocol server for the chess session
// server.
//
// The server is a thin proxy: every tool calls the REST API, so the same
// tools work against an in-process server or a remote one.
//
// MCP Tools:
//   - list_sessions: List live sessions with player and move counts
//   - get_session: Participants and move log of one session
//   - suggest_move: Best move for a FEN position
//   - place_bet: Create a payment intent for a bet
//
// Transport Modes:
//   - Stdio: Direct stdio communication for local MCP clients
//   - HTTP: POST /mcp on the main server
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	server.ServeStdio(client.GetMCPServer())
package mcp
