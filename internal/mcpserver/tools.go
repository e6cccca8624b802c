package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Closedesk MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolSearchContacts = mcp.NewTool("search_contacts",
	mcp.WithDescription(
		"Search the CRM's contacts by name, email, or company. "+
			"Returns matching contacts with their details. "+
			"Use this to look people up before creating deals or tasks."),
	mcp.WithString("query",
		mcp.Description("Free-text search over contact name, email, and company")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of contacts to return (default 25)")),
)

var ToolGetDeal = mcp.NewTool("get_deal",
	mcp.WithDescription(
		"Fetch a single deal by id, including its pipeline stage, value, and owner."),
	mcp.WithString("deal_id",
		mcp.Required(),
		mcp.Description("The deal's id (e.g. 'deal_...')")),
)

var ToolListDeals = mcp.NewTool("list_deals",
	mcp.WithDescription(
		"Browse the CRM's deals, newest first. "+
			"Optionally filter by pipeline stage to see where revenue sits."),
	mcp.WithString("stage",
		mcp.Description("Filter by pipeline stage"),
		mcp.Enum("lead", "qualified", "proposal", "negotiation", "closed_won", "closed_lost")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of deals to return (default 25)")),
)

var ToolListTasks = mcp.NewTool("list_tasks",
	mcp.WithDescription(
		"List follow-up tasks. "+
			"Shows due dates and completion status; filter to open tasks to see what needs doing."),
	mcp.WithBoolean("open_only",
		mcp.Description("Only return tasks that are not done yet")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of tasks to return (default 25)")),
)

var ToolCreateTask = mcp.NewTool("create_task",
	mcp.WithDescription(
		"Create a follow-up task, optionally attached to a deal or contact."),
	mcp.WithString("title",
		mcp.Required(),
		mcp.Description("What needs to be done (e.g. 'Send proposal to Acme')")),
	mcp.WithString("deal_id",
		mcp.Description("Attach the task to this deal")),
	mcp.WithString("contact_id",
		mcp.Description("Attach the task to this contact")),
	mcp.WithString("due_at",
		mcp.Description("Due date in RFC 3339 format (e.g. '2026-09-15T09:00:00Z')")),
)

var ToolGetPipeline = mcp.NewTool("get_pipeline",
	mcp.WithDescription(
		"Get pipeline statistics: deal counts and values per stage, open pipeline "+
			"value, and total won revenue. Use this for a sales overview."),
)

var ToolTenantInfo = mcp.NewTool("tenant_info",
	mcp.WithDescription(
		"Get the current workspace (tenant): name, status, type, and enabled feature flags."),
)
