package presence

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"

	"github.com/chisme-chat/chisme/store"
	"github.com/chisme-chat/chisme/types"
)

// countingStore wraps a real store and counts round-trips.
type countingStore struct {
	store.Store
	bulkGets int
}

func (c *countingStore) BulkGet(ctx context.Context, keys []string) ([]store.Result, error) {
	c.bulkGets++
	return c.Store.BulkGet(ctx, keys)
}

func newTestService(t *testing.T, ttl time.Duration) (*Service, *countingStore) {
	t.Helper()
	st, err := store.NewBuntStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	counting := &countingStore{Store: st}
	return NewService(counting, "test", ttl, hclog.NewNullLogger()), counting
}

func TestStatusLifecycle(t *testing.T) {
	svc, _ := newTestService(t, time.Minute)
	ctx := context.Background()

	assert.Equal(t, types.StatusOffline, svc.GetStatus(ctx, 1))

	svc.SetStatus(ctx, 1, types.StatusOnline)
	assert.Equal(t, types.StatusOnline, svc.GetStatus(ctx, 1))

	svc.SetStatus(ctx, 1, types.StatusDnd)
	assert.Equal(t, types.StatusDnd, svc.GetStatus(ctx, 1))

	svc.SetOffline(ctx, 1)
	assert.Equal(t, types.StatusOffline, svc.GetStatus(ctx, 1))
}

func TestInvalidStatusIgnored(t *testing.T) {
	svc, _ := newTestService(t, time.Minute)
	ctx := context.Background()

	svc.SetStatus(ctx, 1, types.StatusOnline)
	svc.SetStatus(ctx, 1, types.Status("invisible"))
	assert.Equal(t, types.StatusOnline, svc.GetStatus(ctx, 1))

	// offline is never stored, only derived from absence
	svc.SetStatus(ctx, 1, types.StatusOffline)
	assert.Equal(t, types.StatusOnline, svc.GetStatus(ctx, 1))
}

func TestExpiryWithoutHeartbeat(t *testing.T) {
	svc, _ := newTestService(t, 60*time.Millisecond)
	ctx := context.Background()

	svc.SetStatus(ctx, 1, types.StatusAway)
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, types.StatusOffline, svc.GetStatus(ctx, 1))
}

func TestHeartbeatExtendsTTL(t *testing.T) {
	svc, _ := newTestService(t, 80*time.Millisecond)
	ctx := context.Background()

	svc.SetStatus(ctx, 1, types.StatusOnline)
	for i := 0; i < 3; i++ {
		time.Sleep(50 * time.Millisecond)
		svc.Heartbeat(ctx, 1)
	}
	assert.Equal(t, types.StatusOnline, svc.GetStatus(ctx, 1))

	// heartbeat on an expired record does not resurrect it
	time.Sleep(150 * time.Millisecond)
	svc.Heartbeat(ctx, 1)
	assert.Equal(t, types.StatusOffline, svc.GetStatus(ctx, 1))
}

func TestBulkStatus(t *testing.T) {
	svc, counting := newTestService(t, time.Minute)
	ctx := context.Background()

	svc.SetStatus(ctx, 1, types.StatusOnline)
	svc.SetStatus(ctx, 3, types.StatusAway)

	statuses := svc.GetBulkStatus(ctx, []int64{1, 2, 3})
	assert.Equal(t, map[int64]types.Status{
		1: types.StatusOnline,
		2: types.StatusOffline,
		3: types.StatusAway,
	}, statuses)
	assert.Equal(t, 1, counting.bulkGets)

	// empty input short-circuits without a store round-trip
	statuses = svc.GetBulkStatus(ctx, nil)
	assert.Empty(t, statuses)
	assert.Equal(t, 1, counting.bulkGets)
}

func TestNilStoreDegradesToOffline(t *testing.T) {
	svc := NewService(nil, "test", time.Minute, hclog.NewNullLogger())
	ctx := context.Background()

	svc.SetStatus(ctx, 1, types.StatusOnline)
	svc.Heartbeat(ctx, 1)
	assert.Equal(t, types.StatusOffline, svc.GetStatus(ctx, 1))
	assert.Equal(t, map[int64]types.Status{1: types.StatusOffline}, svc.GetBulkStatus(ctx, []int64{1}))
}
