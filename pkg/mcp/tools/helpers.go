package tools

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// getOptionalString extracts an optional string argument, falling back to
// defaultVal when absent or not a string.
func getOptionalString(req mcp.CallToolRequest, key, defaultVal string) string {
	if args, ok := req.Params.Arguments.(map[string]any); ok {
		if val, ok := args[key].(string); ok && val != "" {
			return val
		}
	}
	return defaultVal
}

// getOptionalBool extracts an optional boolean argument, defaulting to false.
func getOptionalBool(req mcp.CallToolRequest, key string) bool {
	if args, ok := req.Params.Arguments.(map[string]any); ok {
		if val, ok := args[key].(bool); ok {
			return val
		}
	}
	return false
}
