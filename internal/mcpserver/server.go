package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Closedesk tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("closedesk", "1.0.0")
	client := NewClosedeskClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolSearchContacts, h.HandleSearchContacts)
	s.AddTool(ToolGetDeal, h.HandleGetDeal)
	s.AddTool(ToolListDeals, h.HandleListDeals)
	s.AddTool(ToolListTasks, h.HandleListTasks)
	s.AddTool(ToolCreateTask, h.HandleCreateTask)
	s.AddTool(ToolGetPipeline, h.HandleGetPipeline)
	s.AddTool(ToolTenantInfo, h.HandleTenantInfo)

	return s
}
