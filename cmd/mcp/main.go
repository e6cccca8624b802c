// Closedesk MCP Server - Exposes Closedesk CRM capabilities as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/closedesk/closedesk/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:   envOrDefault("CLOSEDESK_API_URL", "http://localhost:8080"),
		TenantID: os.Getenv("CLOSEDESK_TENANT_ID"),
		UserID:   os.Getenv("CLOSEDESK_USER_ID"),
	}

	if cfg.TenantID == "" {
		fmt.Fprintln(os.Stderr, "CLOSEDESK_TENANT_ID is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
