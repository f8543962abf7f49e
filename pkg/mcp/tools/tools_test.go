package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mesa-hq/mesa-engine/pkg/auth"
)

// newTestServer builds a bare MCP server for registering tools under test.
func newTestServer() *server.MCPServer {
	return server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
}

// authedContext returns a context carrying verified claims for the user,
// the way the auth middleware does on the request path.
func authedContext(userID uuid.UUID, email, role string) context.Context {
	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID.String()},
		Email:            email,
		Role:             role,
	}
	return context.WithValue(context.Background(), auth.ClaimsKey, claims)
}

// callTool dispatches a tools/call message and returns the text of the
// first content block plus the result's isError flag.
func callTool(t *testing.T, s *server.MCPServer, ctx context.Context, name string, args map[string]any) (string, bool) {
	t.Helper()

	params := map[string]any{"name": name}
	if args != nil {
		params["arguments"] = args
	}
	request, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "tools/call",
		"params":  params,
		"id":      1,
	})
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	result := s.HandleMessage(ctx, request)
	resultBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("failed to marshal result: %v", err)
	}

	var response struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Result struct {
			IsError bool `json:"isError"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resultBytes, &response); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if response.Error != nil {
		t.Fatalf("tool call failed: %s", response.Error.Message)
	}
	if len(response.Result.Content) == 0 {
		t.Fatal("expected content in response")
	}
	return response.Result.Content[0].Text, response.Result.IsError
}

// decodeErrorResponse parses a structured tool error from content text.
func decodeErrorResponse(t *testing.T, text string) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("failed to unmarshal error response: %v", err)
	}
	return resp
}
