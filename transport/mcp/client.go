package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/mcp-training/chesslive/game/service"
	"github.com/wricardo/mcp-training/chesslive/game/session"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Chess Live",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Chess Live - MCP Interface

This is a thin client that proxies all requests to the REST API server.
Players join sessions and exchange moves over the WebSocket endpoint (/ws);
these tools let you inspect sessions, get engine advice and place bets.

AVAILABLE TOOLS:
- list_sessions: List live game sessions
- get_session: Participants and move log of one session
- suggest_move: Best move for a FEN position from the chess engine
- place_bet: Create a payment intent for a bet`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List all live game sessions",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_session",
		Description: "Get participants and the move log of a session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Session ID to retrieve",
				},
			},
			Required: []string{"session_id"},
		},
	}, c.handleGetSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "suggest_move",
		Description: "Ask the chess engine for the best move in a position",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"position": map[string]interface{}{
					"type":        "string",
					"description": "Position in FEN notation",
				},
			},
			Required: []string{"position"},
		},
	}, c.handleSuggestMove)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "place_bet",
		Description: "Create a payment intent for a player's bet, in US dollars",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"amount": map[string]interface{}{
					"type":        "number",
					"description": "Bet amount in dollars",
				},
				"player_id": map[string]interface{}{
					"type":        "string",
					"description": "Player placing the bet",
				},
			},
			Required: []string{"amount", "player_id"},
		},
	}, c.handlePlaceBet)
}

// GetMCPServer returns the underlying MCP server
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// apiCall makes an HTTP request to the REST API
func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			if code := errResp["code"]; code != "" {
				return fmt.Errorf("%s (%s)", msg, code)
			}
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

// Tool handlers

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var resp struct {
		Count    int                    `json:"count"`
		Sessions []*service.SessionInfo `json:"sessions"`
	}
	if err := c.apiCall(ctx, "GET", "/api/sessions", nil, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if len(resp.Sessions) == 0 {
		return mcp.NewToolResultText("No live sessions"), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Live sessions (%d):\n", resp.Count))
	for _, s := range resp.Sessions {
		result.WriteString(fmt.Sprintf("- %s: %s, %d players, %d moves, %d watching\n",
			s.ID, s.Phase, activePlayers(s.Participants), s.MoveCount, s.Subscribers))
	}
	return mcp.NewToolResultText(result.String()), nil
}

func (c *Client) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var info service.SessionInfo
	if err := c.apiCall(ctx, "GET", "/api/sessions/"+url.PathEscape(sessionID), nil, &info); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatSessionInfo(&info)), nil
}

func (c *Client) handleSuggestMove(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	position, err := request.RequireString("position")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var resp struct {
		Suggestion string `json:"suggestion"`
		Ponder     string `json:"ponder"`
		Depth      int    `json:"depth"`
		ScoreCP    int    `json:"score_cp"`
		Mate       int    `json:"mate"`
	}
	if err := c.apiCall(ctx, "POST", "/api/train", map[string]string{"position": position}, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Best move: %s\n", resp.Suggestion))
	if resp.Ponder != "" {
		result.WriteString(fmt.Sprintf("Expected reply: %s\n", resp.Ponder))
	}
	if resp.Mate != 0 {
		result.WriteString(fmt.Sprintf("Mate in %d\n", resp.Mate))
	} else {
		result.WriteString(fmt.Sprintf("Evaluation: %+.2f\n", float64(resp.ScoreCP)/100))
	}
	if resp.Depth > 0 {
		result.WriteString(fmt.Sprintf("Depth: %d\n", resp.Depth))
	}
	return mcp.NewToolResultText(result.String()), nil
}

func (c *Client) handlePlaceBet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	amount, err := request.RequireFloat("amount")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	playerID, err := request.RequireString("player_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var resp struct {
		ClientSecret string `json:"client_secret"`
	}
	body := map[string]interface{}{"amount": amount, "player_id": playerID}
	if err := c.apiCall(ctx, "POST", "/api/bet", body, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Bet of $%.2f for %s created.\nClient secret: %s",
		amount, playerID, resp.ClientSecret)), nil
}

// Formatting helpers

func activePlayers(participants []session.Participant) int {
	n := 0
	for _, p := range participants {
		if p.Active {
			n++
		}
	}
	return n
}

func formatSessionInfo(info *service.SessionInfo) string {
	var result strings.Builder
	result.WriteString(fmt.Sprintf("Session: %s\nPhase: %s\nCreated: %s\nWatching: %d\n",
		info.ID, info.Phase,
		info.CreatedAt.Format("2006-01-02 15:04:05"),
		info.Subscribers))

	result.WriteString("\nParticipants:\n")
	for _, p := range info.Participants {
		seat := string(p.Seat)
		if seat == "" {
			seat = "spectator"
		}
		status := "connected"
		if !p.Active {
			status = "left"
		}
		result.WriteString(fmt.Sprintf("  %s (%s, %s)\n", p.ConnectionID, seat, status))
	}

	result.WriteString(fmt.Sprintf("\nMoves (%d):\n", len(info.Moves)))
	for i, m := range info.Moves {
		result.WriteString(fmt.Sprintf("  %d. %s\n", i+1, formatMove(m)))
	}
	return result.String()
}

// formatMove prints string payloads bare and anything else as JSON.
func formatMove(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
