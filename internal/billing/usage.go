package billing

import "time"

// UsageRecord counts uses of a feature by a tenant within one calendar
// month. Identity is (tenantId, feature, periodStart); the count is bumped
// by an atomic storage-level upsert so concurrent requests in the same
// period never lose increments.
type UsageRecord struct {
	TenantID    string    `json:"tenantId"`
	Feature     string    `json:"feature"`
	PeriodStart time.Time `json:"periodStart"` // first day of the month, UTC midnight
	PeriodEnd   time.Time `json:"periodEnd"`   // last day of the month, UTC midnight
	UsageCount  int64     `json:"usageCount"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PeriodBounds returns the usage period containing the given instant:
// the first and last calendar day of its month, at UTC midnight.
func PeriodBounds(at time.Time) (start, end time.Time) {
	at = at.UTC()
	start = time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, -1)
	return start, end
}
