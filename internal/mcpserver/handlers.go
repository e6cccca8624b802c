package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *ClosedeskClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *ClosedeskClient) *Handlers {
	return &Handlers{client: client}
}

// HandleSearchContacts searches the tenant's contacts.
func (h *Handlers) HandleSearchContacts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	limit := req.GetInt("limit", 25)

	raw, err := h.client.SearchContacts(ctx, query, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to search contacts: %v", err)), nil
	}

	text, err := formatContactList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse contacts: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetDeal fetches one deal.
func (h *Handlers) HandleGetDeal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dealID := req.GetString("deal_id", "")
	if dealID == "" {
		return mcp.NewToolResultError("deal_id is required"), nil
	}

	raw, err := h.client.GetDeal(ctx, dealID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get deal: %v", err)), nil
	}

	var resp struct {
		Deal map[string]any `json:"deal"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Deal == nil {
		return mcp.NewToolResultError("unexpected deal response format"), nil
	}

	return mcp.NewToolResultText(formatDeal(resp.Deal)), nil
}

// HandleListDeals lists deals, optionally by stage.
func (h *Handlers) HandleListDeals(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stage := req.GetString("stage", "")
	limit := req.GetInt("limit", 25)

	raw, err := h.client.ListDeals(ctx, stage, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list deals: %v", err)), nil
	}

	var resp struct {
		Deals   []map[string]any `json:"deals"`
		HasMore bool             `json:"hasMore"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError("unexpected deals response format"), nil
	}
	if len(resp.Deals) == 0 {
		return mcp.NewToolResultText("No deals found."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d deal(s):\n\n", len(resp.Deals))
	for i, d := range resp.Deals {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, formatDealLine(d))
	}
	if resp.HasMore {
		sb.WriteString("\n(more deals available; raise limit to see them)")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListTasks lists follow-up tasks.
func (h *Handlers) HandleListTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	openOnly := req.GetBool("open_only", false)
	limit := req.GetInt("limit", 25)

	raw, err := h.client.ListTasks(ctx, openOnly, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list tasks: %v", err)), nil
	}

	var resp struct {
		Tasks []map[string]any `json:"tasks"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError("unexpected tasks response format"), nil
	}
	if len(resp.Tasks) == 0 {
		return mcp.NewToolResultText("No tasks found."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d task(s):\n\n", len(resp.Tasks))
	for i, t := range resp.Tasks {
		status := "open"
		if done, ok := t["done"].(bool); ok && done {
			status = "done"
		}
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, status, getString(t, "title"))
		if due := getString(t, "dueAt"); due != "" {
			fmt.Fprintf(&sb, "   Due: %s\n", due)
		}
		if dealID := getString(t, "dealId"); dealID != "" {
			fmt.Fprintf(&sb, "   Deal: %s\n", dealID)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleCreateTask creates a follow-up task.
func (h *Handlers) HandleCreateTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title := req.GetString("title", "")
	if title == "" {
		return mcp.NewToolResultError("title is required"), nil
	}
	dueAt := req.GetString("due_at", "")
	if dueAt != "" {
		if _, err := time.Parse(time.RFC3339, dueAt); err != nil {
			return mcp.NewToolResultError("due_at must be RFC 3339 (e.g. '2026-09-15T09:00:00Z')"), nil
		}
	}

	raw, err := h.client.CreateTask(ctx, title,
		req.GetString("deal_id", ""), req.GetString("contact_id", ""), dueAt)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create task: %v", err)), nil
	}

	var resp struct {
		Task map[string]any `json:"task"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Task == nil {
		return mcp.NewToolResultError("unexpected task response format"), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Task created: %s\nID: %s", getString(resp.Task, "title"), getString(resp.Task, "id"))), nil
}

// HandleGetPipeline returns pipeline statistics.
func (h *Handlers) HandleGetPipeline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetPipeline(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get pipeline: %v", err)), nil
	}

	text, err := formatPipeline(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse pipeline: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleTenantInfo returns the current workspace.
func (h *Handlers) HandleTenantInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetTenant(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get workspace: %v", err)), nil
	}

	var resp struct {
		Tenant map[string]any `json:"tenant"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Tenant == nil {
		return mcp.NewToolResultError("unexpected tenant response format"), nil
	}
	t := resp.Tenant

	var sb strings.Builder
	sb.WriteString("Workspace:\n")
	fmt.Fprintf(&sb, "  Name: %s\n", getString(t, "name"))
	fmt.Fprintf(&sb, "  ID: %s\n", getString(t, "id"))
	fmt.Fprintf(&sb, "  Type: %s | Status: %s\n", getString(t, "type"), getString(t, "status"))
	if sub := getString(t, "subdomain"); sub != "" {
		fmt.Fprintf(&sb, "  Subdomain: %s\n", sub)
	}
	if flags, ok := t["featureFlags"].(map[string]any); ok && len(flags) > 0 {
		sb.WriteString("  Feature flags:\n")
		for name, v := range flags {
			fmt.Fprintf(&sb, "    %s: %v\n", name, v)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// --- Formatting helpers ---

func formatContactList(raw json.RawMessage) (string, error) {
	var resp struct {
		Contacts []map[string]any `json:"contacts"`
		HasMore  bool             `json:"hasMore"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected contacts response format")
	}
	if len(resp.Contacts) == 0 {
		return "No contacts found matching your criteria.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d contact(s):\n\n", len(resp.Contacts))
	for i, ct := range resp.Contacts {
		fmt.Fprintf(&sb, "%d. %s", i+1, getString(ct, "name"))
		if company := getString(ct, "company"); company != "" {
			fmt.Fprintf(&sb, " (%s)", company)
		}
		sb.WriteString("\n")
		if email := getString(ct, "email"); email != "" {
			fmt.Fprintf(&sb, "   Email: %s\n", email)
		}
		if phone := getString(ct, "phone"); phone != "" {
			fmt.Fprintf(&sb, "   Phone: %s\n", phone)
		}
		fmt.Fprintf(&sb, "   ID: %s\n", getString(ct, "id"))
	}
	if resp.HasMore {
		sb.WriteString("\n(more contacts available; raise limit to see them)")
	}
	return sb.String(), nil
}

func formatDeal(d map[string]any) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Deal: %s\n", getString(d, "title"))
	fmt.Fprintf(&sb, "  ID: %s\n", getString(d, "id"))
	fmt.Fprintf(&sb, "  Stage: %s\n", getString(d, "stage"))
	if v, ok := d["valueCents"].(float64); ok {
		fmt.Fprintf(&sb, "  Value: %s\n", formatCents(int64(v)))
	}
	if owner := getString(d, "ownerId"); owner != "" {
		fmt.Fprintf(&sb, "  Owner: %s\n", owner)
	}
	if contact := getString(d, "contactId"); contact != "" {
		fmt.Fprintf(&sb, "  Contact: %s\n", contact)
	}
	if closed := getString(d, "closedAt"); closed != "" {
		fmt.Fprintf(&sb, "  Closed: %s\n", closed)
	}
	return sb.String()
}

func formatDealLine(d map[string]any) string {
	line := fmt.Sprintf("%s [%s]", getString(d, "title"), getString(d, "stage"))
	if v, ok := d["valueCents"].(float64); ok && v > 0 {
		line += " " + formatCents(int64(v))
	}
	return line + " (" + getString(d, "id") + ")"
}

func formatPipeline(raw json.RawMessage) (string, error) {
	var resp struct {
		Pipeline struct {
			TotalDeals int              `json:"totalDeals"`
			OpenValue  int64            `json:"openValueCents"`
			WonValue   int64            `json:"wonValueCents"`
			ByStage    map[string]int   `json:"byStage"`
			ValueStage map[string]int64 `json:"valueCentsByStage"`
		} `json:"pipeline"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected pipeline response format")
	}
	p := resp.Pipeline

	var sb strings.Builder
	sb.WriteString("Pipeline:\n")
	fmt.Fprintf(&sb, "  Total deals: %d\n", p.TotalDeals)
	fmt.Fprintf(&sb, "  Open value: %s\n", formatCents(p.OpenValue))
	fmt.Fprintf(&sb, "  Won value: %s\n", formatCents(p.WonValue))

	// Stable stage order for readable output.
	order := []string{"lead", "qualified", "proposal", "negotiation", "closed_won", "closed_lost"}
	listed := false
	for _, stage := range order {
		count, ok := p.ByStage[stage]
		if !ok || count == 0 {
			continue
		}
		if !listed {
			sb.WriteString("  By stage:\n")
			listed = true
		}
		fmt.Fprintf(&sb, "    %s: %d deal(s), %s\n", stage, count, formatCents(p.ValueStage[stage]))
	}
	return sb.String(), nil
}

func formatCents(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}
