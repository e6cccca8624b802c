package crm

import (
	"context"
	"time"
)

// ListOptions controls cursor pagination and filtering for list calls.
// Lists are ordered newest-first; After/AfterID point at the last record of
// the previous page. Handlers fetch limit+1 to detect whether more exist.
type ListOptions struct {
	Limit   int
	After   time.Time // cursor position; zero means start
	AfterID string
	Search  string // contacts: substring on name/email/company
	Stage   Stage  // deals: filter by stage, empty means all
	Open    bool   // tasks: only unfinished
}

// DefaultLimit bounds list responses when the caller asks for nothing.
const DefaultLimit = 25

// MaxLimit bounds list responses regardless of what the caller asks for.
const MaxLimit = 100

// Store persists CRM records. Every method is scoped by tenantID; lookups
// of records belonging to another tenant behave as not-found.
type Store interface {
	CreateContact(ctx context.Context, c *Contact) error
	GetContact(ctx context.Context, tenantID, id string) (*Contact, error)
	UpdateContact(ctx context.Context, c *Contact) error
	DeleteContact(ctx context.Context, tenantID, id string) error
	ListContacts(ctx context.Context, tenantID string, opts ListOptions) ([]*Contact, error)

	CreateDeal(ctx context.Context, d *Deal) error
	GetDeal(ctx context.Context, tenantID, id string) (*Deal, error)
	UpdateDeal(ctx context.Context, d *Deal) error
	ListDeals(ctx context.Context, tenantID string, opts ListOptions) ([]*Deal, error)
	PipelineStats(ctx context.Context, tenantID string) (*PipelineStats, error)

	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, tenantID, id string) (*Task, error)
	UpdateTask(ctx context.Context, t *Task) error
	ListTasks(ctx context.Context, tenantID string, opts ListOptions) ([]*Task, error)
}

// clampLimit bounds a requested page size. The +1 headroom lets handlers
// over-fetch one record to compute the has-more flag.
func clampLimit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	if n > MaxLimit+1 {
		return MaxLimit + 1
	}
	return n
}
