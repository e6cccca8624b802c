package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	cfg := Config{
		APIURL:   ts.URL,
		TenantID: "ten_test",
		UserID:   "usr_test",
	}
	client := NewClosedeskClient(cfg)
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_TenantHeaders(t *testing.T) {
	var gotTenant, gotUser string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = r.Header.Get("X-Tenant-ID")
		gotUser = r.Header.Get("X-User-ID")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClosedeskClient(Config{APIURL: ts.URL, TenantID: "ten_abc", UserID: "usr_1"})
	_, err := client.GetPipeline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ten_abc", gotTenant)
	assert.Equal(t, "usr_1", gotUser)
}

func TestClient_DoRequest_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "feature_disabled",
			"message": "Feature 'crm' is not enabled for this tenant.",
		})
	}))
	defer ts.Close()

	client := NewClosedeskClient(Config{APIURL: ts.URL, TenantID: "ten_abc"})
	_, err := client.SearchContacts(context.Background(), "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "not enabled for this tenant")
}

func TestClient_DoRequest_ConnectionRefused(t *testing.T) {
	client := NewClosedeskClient(Config{APIURL: "http://127.0.0.1:1", TenantID: "ten_abc"})
	_, err := client.GetPipeline(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleSearchContacts(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/contacts", r.URL.Path)
		assert.Equal(t, "jane", r.URL.Query().Get("q"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"contacts": []map[string]any{
				{"id": "con_1", "name": "Jane Doe", "email": "jane@acme.test", "company": "Acme"},
			},
			"count":   1,
			"hasMore": false,
		})
	}))
	defer closeFn()

	result, err := h.HandleSearchContacts(context.Background(),
		makeRequest(map[string]any{"query": "jane"}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Jane Doe")
	assert.Contains(t, text, "Acme")
	assert.Contains(t, text, "con_1")
}

func TestHandleSearchContactsEmpty(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"contacts": []map[string]any{}, "count": 0})
	}))
	defer closeFn()

	result, err := h.HandleSearchContacts(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "No contacts found")
}

func TestHandleGetDeal(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/deals/deal_42", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"deal": map[string]any{
				"id": "deal_42", "title": "Acme renewal", "stage": "proposal",
				"valueCents": 250000,
			},
		})
	}))
	defer closeFn()

	result, err := h.HandleGetDeal(context.Background(),
		makeRequest(map[string]any{"deal_id": "deal_42"}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Acme renewal")
	assert.Contains(t, text, "proposal")
	assert.Contains(t, text, "$2500.00")
}

func TestHandleGetDealRequiresID(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer closeFn()

	result, err := h.HandleGetDeal(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleListDealsByStage(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "negotiation", r.URL.Query().Get("stage"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"deals": []map[string]any{
				{"id": "deal_1", "title": "Big one", "stage": "negotiation", "valueCents": 900000},
			},
			"hasMore": true,
		})
	}))
	defer closeFn()

	result, err := h.HandleListDeals(context.Background(),
		makeRequest(map[string]any{"stage": "negotiation"}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Big one")
	assert.Contains(t, text, "$9000.00")
	assert.Contains(t, text, "more deals available")
}

func TestHandleListTasksOpenOnly(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("open"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tasks": []map[string]any{
				{"id": "task_1", "title": "Send proposal", "done": false, "dueAt": "2026-09-15T09:00:00Z"},
			},
		})
	}))
	defer closeFn()

	result, err := h.HandleListTasks(context.Background(),
		makeRequest(map[string]any{"open_only": true}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "[open] Send proposal")
	assert.Contains(t, text, "2026-09-15")
}

func TestHandleCreateTask(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Call Jane", body["title"])
		assert.Equal(t, "deal_42", body["dealId"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"task": map[string]any{"id": "task_9", "title": "Call Jane"},
		})
	}))
	defer closeFn()

	result, err := h.HandleCreateTask(context.Background(),
		makeRequest(map[string]any{"title": "Call Jane", "deal_id": "deal_42"}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Task created: Call Jane")
	assert.Contains(t, text, "task_9")
}

func TestHandleCreateTaskRejectsBadDueDate(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer closeFn()

	result, err := h.HandleCreateTask(context.Background(),
		makeRequest(map[string]any{"title": "Call", "due_at": "tomorrow"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleGetPipeline(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/pipeline", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"pipeline": map[string]any{
				"totalDeals":     3,
				"openValueCents": 500000,
				"wonValueCents":  250000,
				"byStage":        map[string]int{"lead": 2, "closed_won": 1},
				"valueCentsByStage": map[string]int64{
					"lead": 500000, "closed_won": 250000,
				},
			},
		})
	}))
	defer closeFn()

	result, err := h.HandleGetPipeline(context.Background(), makeRequest(nil))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Total deals: 3")
	assert.Contains(t, text, "Open value: $5000.00")
	assert.Contains(t, text, "lead: 2 deal(s)")
}

func TestHandleTenantInfo(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tenant": map[string]any{
				"id": "ten_test", "name": "Acme", "type": "customer", "status": "active",
				"subdomain":    "acme",
				"featureFlags": map[string]bool{"aiTools": false},
			},
		})
	}))
	defer closeFn()

	result, err := h.HandleTenantInfo(context.Background(), makeRequest(nil))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Name: Acme")
	assert.Contains(t, text, "Status: active")
	assert.Contains(t, text, "aiTools: false")
}

func TestHandlerSurfacesAPIError(t *testing.T) {
	h, closeFn := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": "tenant_inactive", "message": "Tenant is suspended.",
		})
	}))
	defer closeFn()

	result, err := h.HandleGetPipeline(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Tenant is suspended")
}
