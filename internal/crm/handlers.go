package crm

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/closedesk/closedesk/internal/idgen"
	"github.com/closedesk/closedesk/internal/pagination"
	"github.com/closedesk/closedesk/internal/realtime"
	"github.com/closedesk/closedesk/internal/tenant"
	"github.com/closedesk/closedesk/internal/traces"
	"github.com/closedesk/closedesk/internal/validation"
	"github.com/closedesk/closedesk/internal/webhooks"
)

// Handler provides tenant-scoped CRM endpoints. All routes assume the
// tenant middleware and RequireActiveTenant ran first.
type Handler struct {
	store   Store
	hub     *realtime.Hub     // nil disables event publishing
	emitter *webhooks.Emitter // nil disables webhook delivery
}

// NewHandler creates a new CRM handler.
func NewHandler(store Store, hub *realtime.Hub, emitter *webhooks.Emitter) *Handler {
	return &Handler{store: store, hub: hub, emitter: emitter}
}

// webhookEvents maps real-time event types onto their webhook equivalents.
var webhookEvents = map[realtime.EventType]webhooks.EventType{
	realtime.EventContactCreated:   webhooks.EventContactCreated,
	realtime.EventContactUpdated:   webhooks.EventContactUpdated,
	realtime.EventDealCreated:      webhooks.EventDealCreated,
	realtime.EventDealUpdated:      webhooks.EventDealUpdated,
	realtime.EventDealStageChanged: webhooks.EventDealStageChanged,
	realtime.EventTaskCreated:      webhooks.EventTaskCreated,
	realtime.EventTaskCompleted:    webhooks.EventTaskCompleted,
}

// RegisterRoutes mounts the CRM surface on a tenant-scoped group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/contacts", h.CreateContact)
	r.GET("/contacts", h.ListContacts)
	r.GET("/contacts/:id", h.GetContact)
	r.PATCH("/contacts/:id", h.UpdateContact)
	r.DELETE("/contacts/:id", h.DeleteContact)

	r.POST("/deals", h.CreateDeal)
	r.GET("/deals", h.ListDeals)
	r.GET("/deals/:id", h.GetDeal)
	r.PATCH("/deals/:id", h.UpdateDeal)

	r.POST("/tasks", h.CreateTask)
	r.GET("/tasks", h.ListTasks)
	r.PATCH("/tasks/:id", h.UpdateTask)
}

// RegisterAnalyticsRoutes mounts the pipeline analytics surface; the server
// gates this group on the pipelineAnalytics feature.
func (h *Handler) RegisterAnalyticsRoutes(r *gin.RouterGroup) {
	r.GET("/pipeline", h.GetPipeline)
}

func (h *Handler) publish(c *gin.Context, typ realtime.EventType, data map[string]interface{}) {
	tenantID := tenant.IDFromContext(c)
	if h.hub != nil {
		h.hub.Publish(tenantID, typ, data)
	}
	if wt, ok := webhookEvents[typ]; ok {
		h.emitter.Emit(tenantID, wt, data)
	}
}

// listOpts reads cursor pagination parameters off the query string.
func listOpts(c *gin.Context) (ListOptions, int, bool) {
	limit := DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit", "message": "limit must be a positive integer"})
			return ListOptions{}, 0, false
		}
		if n > MaxLimit {
			n = MaxLimit
		}
		limit = n
	}

	opts := ListOptions{Limit: limit + 1}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": "cursor is not valid"})
		return ListOptions{}, 0, false
	}
	if cursor != nil {
		opts.After = cursor.CreatedAt
		opts.AfterID = cursor.ID
	}
	return opts, limit, true
}

// ---------------------------------------------------------------------------
// Contacts
// ---------------------------------------------------------------------------

// CreateContact handles POST /contacts.
func (h *Handler) CreateContact(c *gin.Context) {
	var req struct {
		Name    string `json:"name" binding:"required"`
		Email   string `json:"email"`
		Phone   string `json:"phone"`
		Company string `json:"company"`
		OwnerID string `json:"ownerId"`
		Notes   string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name required"})
		return
	}
	if req.Email != "" && !validation.IsValidEmail(req.Email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email", "message": "email must be a valid address"})
		return
	}

	now := time.Now().UTC()
	contact := &Contact{
		ID:        idgen.WithPrefix("con_"),
		TenantID:  tenant.IDFromContext(c),
		Name:      validation.SanitizeString(req.Name, 200),
		Email:     req.Email,
		Phone:     validation.SanitizeString(req.Phone, 50),
		Company:   validation.SanitizeString(req.Company, 200),
		OwnerID:   req.OwnerID,
		Notes:     validation.SanitizeString(req.Notes, 5000),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateContact(c.Request.Context(), contact); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create contact"})
		return
	}

	h.publish(c, realtime.EventContactCreated, map[string]interface{}{
		"id": contact.ID, "name": contact.Name, "ownerId": contact.OwnerID,
	})
	c.JSON(http.StatusCreated, gin.H{"contact": contact})
}

// ListContacts handles GET /contacts with cursor pagination and search.
func (h *Handler) ListContacts(c *gin.Context) {
	opts, limit, ok := listOpts(c)
	if !ok {
		return
	}
	opts.Search = c.Query("q")

	contacts, err := h.store.ListContacts(c.Request.Context(), tenant.IDFromContext(c), opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list contacts"})
		return
	}

	page, next, more := pagination.ComputePage(contacts, limit, func(ct *Contact) (time.Time, string) {
		return ct.CreatedAt, ct.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"contacts":   page,
		"count":      len(page),
		"nextCursor": next,
		"hasMore":    more,
	})
}

// GetContact handles GET /contacts/:id.
func (h *Handler) GetContact(c *gin.Context) {
	contact, err := h.store.GetContact(c.Request.Context(), tenant.IDFromContext(c), c.Param("id"))
	if err != nil {
		h.notFoundOr500(c, err, ErrContactNotFound, "contact not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"contact": contact})
}

// UpdateContact handles PATCH /contacts/:id.
func (h *Handler) UpdateContact(c *gin.Context) {
	ctx, span := traces.StartSpan(c.Request.Context(), "crm.UpdateContact",
		traces.TenantID(tenant.IDFromContext(c)), traces.ContactID(c.Param("id")))
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	contact, err := h.store.GetContact(c.Request.Context(), tenant.IDFromContext(c), c.Param("id"))
	if err != nil {
		h.notFoundOr500(c, err, ErrContactNotFound, "contact not found")
		return
	}

	var req struct {
		Name    *string `json:"name"`
		Email   *string `json:"email"`
		Phone   *string `json:"phone"`
		Company *string `json:"company"`
		OwnerID *string `json:"ownerId"`
		Notes   *string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid body"})
		return
	}

	if req.Name != nil {
		contact.Name = validation.SanitizeString(*req.Name, 200)
	}
	if req.Email != nil {
		if *req.Email != "" && !validation.IsValidEmail(*req.Email) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email", "message": "email must be a valid address"})
			return
		}
		contact.Email = *req.Email
	}
	if req.Phone != nil {
		contact.Phone = validation.SanitizeString(*req.Phone, 50)
	}
	if req.Company != nil {
		contact.Company = validation.SanitizeString(*req.Company, 200)
	}
	if req.OwnerID != nil {
		contact.OwnerID = *req.OwnerID
	}
	if req.Notes != nil {
		contact.Notes = validation.SanitizeString(*req.Notes, 5000)
	}
	contact.UpdatedAt = time.Now().UTC()

	if err := h.store.UpdateContact(c.Request.Context(), contact); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update contact"})
		return
	}

	h.publish(c, realtime.EventContactUpdated, map[string]interface{}{
		"id": contact.ID, "name": contact.Name, "ownerId": contact.OwnerID,
	})
	c.JSON(http.StatusOK, gin.H{"contact": contact})
}

// DeleteContact handles DELETE /contacts/:id.
func (h *Handler) DeleteContact(c *gin.Context) {
	err := h.store.DeleteContact(c.Request.Context(), tenant.IDFromContext(c), c.Param("id"))
	if err != nil {
		h.notFoundOr500(c, err, ErrContactNotFound, "contact not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ---------------------------------------------------------------------------
// Deals
// ---------------------------------------------------------------------------

// CreateDeal handles POST /deals.
func (h *Handler) CreateDeal(c *gin.Context) {
	var req struct {
		Title      string `json:"title" binding:"required"`
		ContactID  string `json:"contactId"`
		Stage      Stage  `json:"stage"`
		ValueCents int64  `json:"valueCents"`
		OwnerID    string `json:"ownerId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "title required"})
		return
	}
	if req.Stage == "" {
		req.Stage = StageLead
	}
	if !ValidStage(req.Stage) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_stage", "message": "unknown pipeline stage"})
		return
	}
	if req.ValueCents < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_value", "message": "valueCents must not be negative"})
		return
	}

	tenantID := tenant.IDFromContext(c)
	if req.ContactID != "" {
		if _, err := h.store.GetContact(c.Request.Context(), tenantID, req.ContactID); err != nil {
			h.notFoundOr500(c, err, ErrContactNotFound, "contact not found")
			return
		}
	}

	now := time.Now().UTC()
	deal := &Deal{
		ID:         idgen.WithPrefix("deal_"),
		TenantID:   tenantID,
		ContactID:  req.ContactID,
		Title:      validation.SanitizeString(req.Title, 200),
		Stage:      req.Stage,
		ValueCents: req.ValueCents,
		OwnerID:    req.OwnerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if deal.Stage.Closed() {
		deal.ClosedAt = &now
	}
	if err := h.store.CreateDeal(c.Request.Context(), deal); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create deal"})
		return
	}

	h.publish(c, realtime.EventDealCreated, map[string]interface{}{
		"id": deal.ID, "title": deal.Title, "stage": string(deal.Stage),
		"valueCents": float64(deal.ValueCents), "ownerId": deal.OwnerID,
	})
	c.JSON(http.StatusCreated, gin.H{"deal": deal})
}

// ListDeals handles GET /deals, optionally filtered by stage.
func (h *Handler) ListDeals(c *gin.Context) {
	opts, limit, ok := listOpts(c)
	if !ok {
		return
	}
	if raw := c.Query("stage"); raw != "" {
		if !ValidStage(Stage(raw)) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_stage", "message": "unknown pipeline stage"})
			return
		}
		opts.Stage = Stage(raw)
	}

	deals, err := h.store.ListDeals(c.Request.Context(), tenant.IDFromContext(c), opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list deals"})
		return
	}

	page, next, more := pagination.ComputePage(deals, limit, func(d *Deal) (time.Time, string) {
		return d.CreatedAt, d.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"deals":      page,
		"count":      len(page),
		"nextCursor": next,
		"hasMore":    more,
	})
}

// GetDeal handles GET /deals/:id.
func (h *Handler) GetDeal(c *gin.Context) {
	deal, err := h.store.GetDeal(c.Request.Context(), tenant.IDFromContext(c), c.Param("id"))
	if err != nil {
		h.notFoundOr500(c, err, ErrDealNotFound, "deal not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deal": deal})
}

// UpdateDeal handles PATCH /deals/:id. Stage changes publish a dedicated
// event so pipeline boards can move cards live.
func (h *Handler) UpdateDeal(c *gin.Context) {
	ctx, span := traces.StartSpan(c.Request.Context(), "crm.UpdateDeal",
		traces.TenantID(tenant.IDFromContext(c)), traces.DealID(c.Param("id")))
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	deal, err := h.store.GetDeal(c.Request.Context(), tenant.IDFromContext(c), c.Param("id"))
	if err != nil {
		h.notFoundOr500(c, err, ErrDealNotFound, "deal not found")
		return
	}

	var req struct {
		Title      *string `json:"title"`
		Stage      *Stage  `json:"stage"`
		ValueCents *int64  `json:"valueCents"`
		OwnerID    *string `json:"ownerId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid body"})
		return
	}

	prevStage := deal.Stage
	if req.Title != nil {
		deal.Title = validation.SanitizeString(*req.Title, 200)
	}
	if req.Stage != nil {
		if !ValidStage(*req.Stage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_stage", "message": "unknown pipeline stage"})
			return
		}
		deal.Stage = *req.Stage
	}
	if req.ValueCents != nil {
		if *req.ValueCents < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_value", "message": "valueCents must not be negative"})
			return
		}
		deal.ValueCents = *req.ValueCents
	}
	if req.OwnerID != nil {
		deal.OwnerID = *req.OwnerID
	}

	now := time.Now().UTC()
	deal.UpdatedAt = now
	if deal.Stage.Closed() && deal.ClosedAt == nil {
		deal.ClosedAt = &now
	}
	if !deal.Stage.Closed() {
		deal.ClosedAt = nil
	}

	if err := h.store.UpdateDeal(c.Request.Context(), deal); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update deal"})
		return
	}

	payload := map[string]interface{}{
		"id": deal.ID, "title": deal.Title, "stage": string(deal.Stage),
		"valueCents": float64(deal.ValueCents), "ownerId": deal.OwnerID,
	}
	if deal.Stage != prevStage {
		payload["previousStage"] = string(prevStage)
		h.publish(c, realtime.EventDealStageChanged, payload)
	} else {
		h.publish(c, realtime.EventDealUpdated, payload)
	}
	c.JSON(http.StatusOK, gin.H{"deal": deal})
}

// GetPipeline handles GET /pipeline.
func (h *Handler) GetPipeline(c *gin.Context) {
	stats, err := h.store.PipelineStats(c.Request.Context(), tenant.IDFromContext(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to compute pipeline stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pipeline": stats})
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

// CreateTask handles POST /tasks.
func (h *Handler) CreateTask(c *gin.Context) {
	var req struct {
		Title     string     `json:"title" binding:"required"`
		DealID    string     `json:"dealId"`
		ContactID string     `json:"contactId"`
		DueAt     *time.Time `json:"dueAt"`
		OwnerID   string     `json:"ownerId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "title required"})
		return
	}

	tenantID := tenant.IDFromContext(c)
	if req.DealID != "" {
		if _, err := h.store.GetDeal(c.Request.Context(), tenantID, req.DealID); err != nil {
			h.notFoundOr500(c, err, ErrDealNotFound, "deal not found")
			return
		}
	}

	now := time.Now().UTC()
	task := &Task{
		ID:        idgen.WithPrefix("task_"),
		TenantID:  tenantID,
		DealID:    req.DealID,
		ContactID: req.ContactID,
		Title:     validation.SanitizeString(req.Title, 200),
		DueAt:     req.DueAt,
		OwnerID:   req.OwnerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateTask(c.Request.Context(), task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create task"})
		return
	}

	h.publish(c, realtime.EventTaskCreated, map[string]interface{}{
		"id": task.ID, "title": task.Title, "ownerId": task.OwnerID,
	})
	c.JSON(http.StatusCreated, gin.H{"task": task})
}

// ListTasks handles GET /tasks. ?open=true filters to unfinished tasks.
func (h *Handler) ListTasks(c *gin.Context) {
	opts, limit, ok := listOpts(c)
	if !ok {
		return
	}
	opts.Open = c.Query("open") == "true"

	tasks, err := h.store.ListTasks(c.Request.Context(), tenant.IDFromContext(c), opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list tasks"})
		return
	}

	page, next, more := pagination.ComputePage(tasks, limit, func(t *Task) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"tasks":      page,
		"count":      len(page),
		"nextCursor": next,
		"hasMore":    more,
	})
}

// UpdateTask handles PATCH /tasks/:id. Completing a task publishes an event.
func (h *Handler) UpdateTask(c *gin.Context) {
	task, err := h.store.GetTask(c.Request.Context(), tenant.IDFromContext(c), c.Param("id"))
	if err != nil {
		h.notFoundOr500(c, err, ErrTaskNotFound, "task not found")
		return
	}

	var req struct {
		Title   *string    `json:"title"`
		DueAt   *time.Time `json:"dueAt"`
		Done    *bool      `json:"done"`
		OwnerID *string    `json:"ownerId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid body"})
		return
	}

	wasDone := task.Done
	if req.Title != nil {
		task.Title = validation.SanitizeString(*req.Title, 200)
	}
	if req.DueAt != nil {
		task.DueAt = req.DueAt
	}
	if req.Done != nil {
		task.Done = *req.Done
	}
	if req.OwnerID != nil {
		task.OwnerID = *req.OwnerID
	}
	task.UpdatedAt = time.Now().UTC()

	if err := h.store.UpdateTask(c.Request.Context(), task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update task"})
		return
	}

	if task.Done && !wasDone {
		h.publish(c, realtime.EventTaskCompleted, map[string]interface{}{
			"id": task.ID, "title": task.Title, "ownerId": task.OwnerID,
		})
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

func (h *Handler) notFoundOr500(c *gin.Context, err, sentinel error, msg string) {
	if errors.Is(err, sentinel) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": msg})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "storage failure"})
}
