package reward

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ecorewards-engine/pkg/config"
	"ecorewards-engine/pkg/db/option"
	"ecorewards-engine/pkg/db/pagination"
	"ecorewards-engine/pkg/errutil"
	"ecorewards-engine/pkg/repository"
	"ecorewards-engine/services/leaderboard"
	"ecorewards-engine/services/ledger"
	"ecorewards-engine/services/notification"
	"ecorewards-engine/services/testutil"
	"ecorewards-engine/services/user"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const period = "2026-03-01"

type fakeNotifier struct {
	mu      sync.Mutex
	notices []notification.RewardNotice
	err     error
}

func (f *fakeNotifier) NotifyReward(ctx context.Context, n notification.RewardNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, n)
	return f.err
}

type fakeCodes struct {
	n   atomic.Int64
	err error
}

func (f *fakeCodes) NextDistributionCode(ctx context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("RWD-260301-%03d", f.n.Add(1)), nil
}

// missOnce hides the first lookup, as if a concurrent run had not
// committed yet.
type missOnce struct {
	repository.Repository[Distribution]
	missed atomic.Bool
}

func (m *missOnce) FindOne(ctx context.Context, query *Distribution, opts ...option.QueryOption) (*Distribution, error) {
	if m.missed.CompareAndSwap(false, true) {
		return nil, nil
	}
	return m.Repository.FindOne(ctx, query, opts...)
}

type fixture struct {
	svc      *Service
	db       *gorm.DB
	notifier *fakeNotifier
}

func newFixture(t *testing.T, points map[string]int64) *fixture {
	db := testutil.NewTestDB(t, &user.User{}, &ledger.LedgerEntry{}, &Distribution{})
	node := testutil.NewNode(t)

	joined := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	i := 0
	for _, id := range []string{"alice", "bob", "carol", "dave"} {
		p, ok := points[id]
		if !ok {
			continue
		}
		i++
		require.NoError(t, db.Create(&user.User{
			ID:        id,
			Email:     id + "@example.com",
			Role:      user.RoleUser,
			IsActive:  true,
			Points:    p,
			CreatedAt: joined.Add(time.Duration(i) * time.Minute),
		}).Error)
	}

	cfg := &config.Config{}
	notifier := &fakeNotifier{}
	svc := NewService(ServiceParams{
		DB:          db,
		Node:        node,
		Config:      cfg,
		Leaderboard: leaderboard.NewService(leaderboard.ServiceParams{DB: db}),
		Ledger:      ledger.NewService(ledger.ServiceParams{DB: db, Node: node}),
		Sequence:    &fakeCodes{},
		Notifier:    notifier,
	})
	return &fixture{svc: svc, db: db, notifier: notifier}
}

func (f *fixture) points(t *testing.T, id string) int64 {
	t.Helper()
	var u user.User
	require.NoError(t, f.db.First(&u, "id = ?", id).Error)
	return u.Points
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func TestDistributeCreditsTopThree(t *testing.T) {
	f := newFixture(t, map[string]int64{"alice": 120, "bob": 90, "carol": 60, "dave": 30})

	res, err := f.svc.Distribute(context.Background(), period)
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, res.Outcome)

	d := res.Distribution
	require.Equal(t, period, d.PeriodKey)
	require.Equal(t, "RWD-260301-001", d.Code)
	require.Equal(t, int64(30), d.TotalBonus)
	require.Equal(t, []Winner{
		{UserID: "alice", Rank: 1, Bonus: 15, NewTotal: 135},
		{UserID: "bob", Rank: 2, Bonus: 10, NewTotal: 100},
		{UserID: "carol", Rank: 3, Bonus: 5, NewTotal: 65},
	}, []Winner(d.Winners))

	require.Equal(t, int64(135), f.points(t, "alice"))
	require.Equal(t, int64(30), f.points(t, "dave"))
	require.Equal(t, int64(3), f.count(t, &ledger.LedgerEntry{}))
	require.Len(t, f.notifier.notices, 3)
}

func TestDistributeIsIdempotent(t *testing.T) {
	f := newFixture(t, map[string]int64{"alice": 120, "bob": 90})
	ctx := context.Background()

	first, err := f.svc.Distribute(ctx, period)
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, first.Outcome)

	second, err := f.svc.Distribute(ctx, period)
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyDistributed, second.Outcome)
	require.Equal(t, first.Distribution.ID, second.Distribution.ID)

	require.Equal(t, int64(135), f.points(t, "alice"))
	require.Equal(t, int64(100), f.points(t, "bob"))
	require.Equal(t, int64(1), f.count(t, &Distribution{}))
	require.Len(t, f.notifier.notices, 2)
}

func TestDistributeSkipsWithoutEligibleUsers(t *testing.T) {
	f := newFixture(t, map[string]int64{"alice": 0})

	res, err := f.svc.Distribute(context.Background(), period)
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, res.Outcome)
	require.Nil(t, res.Distribution)
	require.Zero(t, f.count(t, &Distribution{}))
	require.Empty(t, f.notifier.notices)

	require.NoError(t, f.db.Model(&user.User{}).Where("id = ?", "alice").Update("points", 10).Error)
	res, err = f.svc.Distribute(context.Background(), period)
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, res.Outcome)
}

func TestDistributeConflictRollsBack(t *testing.T) {
	f := newFixture(t, map[string]int64{"alice": 120, "bob": 90})
	ctx := context.Background()

	recorded := &Distribution{ID: "d-1", PeriodKey: period, Code: "RWD-WIN", Winners: []Winner{}, DistributedAt: time.Now().UTC()}
	require.NoError(t, f.db.Create(recorded).Error)

	f.svc.distributions = &missOnce{Repository: f.svc.distributions}

	res, err := f.svc.Distribute(ctx, period)
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyDistributed, res.Outcome)
	require.Equal(t, "d-1", res.Distribution.ID)

	require.Equal(t, int64(120), f.points(t, "alice"))
	require.Equal(t, int64(90), f.points(t, "bob"))
	require.Zero(t, f.count(t, &ledger.LedgerEntry{}))
	require.Empty(t, f.notifier.notices)
}

func TestDistributeConcurrentCallsCreditOnce(t *testing.T) {
	f := newFixture(t, map[string]int64{"alice": 120, "bob": 90, "carol": 60})
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan *Result, 6)
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Distribute(ctx, period)
			errs <- err
			results <- res
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	completed := 0
	for res := range results {
		if res.Outcome == OutcomeCompleted {
			completed++
			continue
		}
		require.Equal(t, OutcomeAlreadyDistributed, res.Outcome)
	}
	require.Equal(t, 1, completed)
	require.Equal(t, int64(135), f.points(t, "alice"))
	require.Equal(t, int64(1), f.count(t, &Distribution{}))
}

func TestDistributeSurvivesNotificationFailure(t *testing.T) {
	f := newFixture(t, map[string]int64{"alice": 120})
	f.notifier.err = errors.New("queue down")

	res, err := f.svc.Distribute(context.Background(), period)
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, res.Outcome)
	require.Equal(t, int64(135), f.points(t, "alice"))
}

func TestDistributeFallsBackToPeriodCode(t *testing.T) {
	f := newFixture(t, map[string]int64{"alice": 120})
	f.svc.codes = &fakeCodes{err: errors.New("redis down")}

	res, err := f.svc.Distribute(context.Background(), period)
	require.NoError(t, err)
	require.Equal(t, "RWD-20260301", res.Distribution.Code)
}

func TestDistributeRejectsBadPeriod(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Distribute(context.Background(), "March 1st")
	require.True(t, errutil.Is(err, errutil.StatusBadRequest))
}

func TestCurrentPeriodUsesRewardTimezone(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)

	require.Equal(t, "2026-03-01", f.svc.CurrentPeriod(now))

	jakarta, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	f.svc.location = jakarta
	require.Equal(t, "2026-03-02", f.svc.CurrentPeriod(now))
}

func TestGetAndList(t *testing.T) {
	f := newFixture(t, map[string]int64{"alice": 120})
	ctx := context.Background()

	_, err := f.svc.Get(ctx, period)
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	for _, p := range []string{"2026-03-01", "2026-03-02", "2026-03-03"} {
		_, err := f.svc.Distribute(ctx, p)
		require.NoError(t, err)
	}

	d, err := f.svc.Get(ctx, "2026-03-02")
	require.NoError(t, err)
	require.Equal(t, "2026-03-02", d.PeriodKey)

	page, info, err := f.svc.List(ctx, pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "2026-03-03", page[0].PeriodKey)
	require.True(t, info.HasMore)

	rest, info, err := f.svc.List(ctx, pagination.Pagination{Limit: 2, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, "2026-03-01", rest[0].PeriodKey)
	require.False(t, info.HasMore)
}
