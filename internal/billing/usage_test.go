package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodBounds(t *testing.T) {
	at := time.Date(2026, time.February, 14, 23, 59, 0, 0, time.UTC)
	start, end := PeriodBounds(at)
	assert.Equal(t, time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, time.February, 28, 0, 0, 0, 0, time.UTC), end)

	// Leap year.
	start, end = PeriodBounds(time.Date(2028, time.February, 5, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, 1, start.Day())
	assert.Equal(t, 29, end.Day())

	// Non-UTC input is normalised.
	loc := time.FixedZone("UTC+13", 13*3600)
	start, _ = PeriodBounds(time.Date(2026, time.March, 1, 0, 30, 0, 0, loc))
	assert.Equal(t, time.February, start.Month())
}

func TestTrackFeatureUsageIncrementsWithinPeriod(t *testing.T) {
	svc, _, _ := seedGate(t)
	ctx := context.Background()
	at := time.Date(2026, time.May, 10, 9, 0, 0, 0, time.UTC)

	for want := int64(1); want <= 3; want++ {
		n, err := svc.TrackFeatureUsage(ctx, "ten_pro", FeatureAITools, at)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	// A different feature in the same period counts separately.
	n, err := svc.TrackFeatureUsage(ctx, "ten_pro", FeatureCRM, at)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTrackFeatureUsageNewMonthNewRecord(t *testing.T) {
	svc, _, store := seedGate(t)
	ctx := context.Background()

	may := time.Date(2026, time.May, 30, 0, 0, 0, 0, time.UTC)
	june := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.TrackFeatureUsage(ctx, "ten_pro", FeatureAITools, may)
	require.NoError(t, err)
	n, err := svc.TrackFeatureUsage(ctx, "ten_pro", FeatureAITools, june)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "a new month starts a fresh counter")

	mayStart, _ := PeriodBounds(may)
	rec, err := store.GetUsage(ctx, "ten_pro", FeatureAITools, mayStart)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(1), rec.UsageCount, "the old period is untouched")
}

func TestIncrementUsageConcurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	start, end := PeriodBounds(time.Now())

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := store.IncrementUsage(ctx, "ten_pro", FeatureCRM, start, end)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := store.GetUsage(ctx, "ten_pro", FeatureCRM, start)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(n), rec.UsageCount)
}
