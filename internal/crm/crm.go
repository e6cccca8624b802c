// Package crm holds the sales objects: contacts, deals, and tasks.
//
// Every record belongs to exactly one tenant and every store operation is
// tenant-scoped; there is no way to read or write across tenants through
// this package.
package crm

import (
	"errors"
	"time"
)

// Errors
var (
	ErrContactNotFound = errors.New("crm: contact not found")
	ErrDealNotFound    = errors.New("crm: deal not found")
	ErrTaskNotFound    = errors.New("crm: task not found")
	ErrBadStage        = errors.New("crm: unknown deal stage")
)

// Stage is a deal's position in the sales pipeline.
type Stage string

const (
	StageLead        Stage = "lead"
	StageQualified   Stage = "qualified"
	StageProposal    Stage = "proposal"
	StageNegotiation Stage = "negotiation"
	StageClosedWon   Stage = "closed_won"
	StageClosedLost  Stage = "closed_lost"
)

// Stages lists all pipeline stages in order.
var Stages = []Stage{
	StageLead, StageQualified, StageProposal,
	StageNegotiation, StageClosedWon, StageClosedLost,
}

// ValidStage reports whether s is a known pipeline stage.
func ValidStage(s Stage) bool {
	for _, v := range Stages {
		if v == s {
			return true
		}
	}
	return false
}

// Closed reports whether the stage is terminal.
func (s Stage) Closed() bool {
	return s == StageClosedWon || s == StageClosedLost
}

// Contact is a person or company the tenant sells to.
type Contact struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Company   string    `json:"company,omitempty"`
	OwnerID   string    `json:"ownerId,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Deal is a sales opportunity moving through the pipeline.
type Deal struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenantId"`
	ContactID  string     `json:"contactId,omitempty"`
	Title      string     `json:"title"`
	Stage      Stage      `json:"stage"`
	ValueCents int64      `json:"valueCents"`
	OwnerID    string     `json:"ownerId,omitempty"`
	ClosedAt   *time.Time `json:"closedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Task is a follow-up item, optionally attached to a deal or contact.
type Task struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenantId"`
	DealID    string     `json:"dealId,omitempty"`
	ContactID string     `json:"contactId,omitempty"`
	Title     string     `json:"title"`
	DueAt     *time.Time `json:"dueAt,omitempty"`
	Done      bool       `json:"done"`
	OwnerID   string     `json:"ownerId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// PipelineStats aggregates a tenant's deals per stage.
type PipelineStats struct {
	TenantID   string          `json:"tenantId"`
	TotalDeals int             `json:"totalDeals"`
	OpenValue  int64           `json:"openValueCents"`
	WonValue   int64           `json:"wonValueCents"`
	ByStage    map[Stage]int   `json:"byStage"`
	ValueStage map[Stage]int64 `json:"valueCentsByStage"`
}
