package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"ecorewards-engine/pkg/db/pagination"
	"ecorewards-engine/pkg/errutil"
	"ecorewards-engine/services/category"
	"ecorewards-engine/services/ledger"
	"ecorewards-engine/services/media"
	"ecorewards-engine/services/oracle"
	"ecorewards-engine/services/testutil"
	"ecorewards-engine/services/user"
	"ecorewards-engine/services/verification"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type oracleFunc func(ctx context.Context, req oracle.Request) (*oracle.Analysis, error)

func (f oracleFunc) Analyze(ctx context.Context, req oracle.Request) (*oracle.Analysis, error) {
	return f(ctx, req)
}

func scoring(score int) oracleFunc {
	return func(ctx context.Context, req oracle.Request) (*oracle.Analysis, error) {
		return &oracle.Analysis{
			Score:         score,
			Labels:        []string{"evidence"},
			CategoryMatch: true,
			Feedback:      "looks good",
			Raw:           `{"score":"ok"}`,
		}, nil
	}
}

func failing() oracleFunc {
	return func(ctx context.Context, req oracle.Request) (*oracle.Analysis, error) {
		return nil, &oracle.Failure{Kind: oracle.KindTimeout, Reason: "deadline exceeded"}
	}
}

type failingLedger struct{}

func (failingLedger) Credit(ctx context.Context, tx *gorm.DB, e ledger.Entry) (*ledger.Result, error) {
	return nil, errors.New("ledger unavailable")
}

func (failingLedger) Debit(ctx context.Context, tx *gorm.DB, e ledger.Entry) (*ledger.Result, error) {
	return nil, errors.New("ledger unavailable")
}

type fixture struct {
	svc   *Service
	db    *gorm.DB
	store *media.MemoryStore
}

func newFixture(t *testing.T, o oracle.Oracle) *fixture {
	db := testutil.NewTestDB(t, &user.User{}, &Action{}, &ledger.LedgerEntry{})
	node := testutil.NewNode(t)
	store := media.NewMemoryStore()

	svc := NewService(ServiceParams{
		DB:     db,
		Node:   node,
		Table:  category.NewTable(),
		Oracle: o,
		Ledger: ledger.NewService(ledger.ServiceParams{DB: db, Node: node}),
		Media:  store,
	})
	return &fixture{svc: svc, db: db, store: store}
}

func (f *fixture) seedUser(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.db.Create(&user.User{
		ID:       id,
		Email:    id + "@example.com",
		Role:     user.RoleUser,
		IsActive: true,
	}).Error)
}

func (f *fixture) points(t *testing.T, id string) int64 {
	t.Helper()
	var u user.User
	require.NoError(t, f.db.First(&u, "id = ?", id).Error)
	return u.Points
}

func submission(userID string) SubmitParams {
	return SubmitParams{
		UserID:      userID,
		Category:    "TREE_PLANTING",
		Subcategory: "Sapling",
		Note:        "planted behind the school",
		Media:       []byte("jpeg bytes"),
		MimeType:    "image/jpeg",
	}
}

func TestSubmitVerifiedCreditsUser(t *testing.T) {
	f := newFixture(t, scoring(90))
	f.seedUser(t, "u1")
	ctx := context.Background()

	a, err := f.svc.Submit(ctx, submission("u1"))
	require.NoError(t, err)
	require.Equal(t, verification.StatusVerified, a.Status)
	require.Equal(t, int64(50), a.Points)
	require.Equal(t, "sapling", a.Subcategory)
	require.NotNil(t, a.AIScore)
	require.Equal(t, 90, *a.AIScore)
	require.Equal(t, []string{"evidence"}, []string(a.Labels))
	require.Contains(t, a.MediaRef, "actions/u1/"+a.ID+".jpg")
	require.Equal(t, 1, f.store.Len())

	require.Equal(t, int64(50), f.points(t, "u1"))

	var entries []ledger.LedgerEntry
	require.NoError(t, f.db.Where("reference_id = ?", a.ID).Find(&entries).Error)
	require.Len(t, entries, 1)
	require.Equal(t, ledger.EntryTypeCredit, entries[0].Type)
	require.Equal(t, int64(50), entries[0].Amount)
}

func TestSubmitDecisionLadder(t *testing.T) {
	cases := []struct {
		name   string
		score  int
		points int64
		status verification.Status
	}{
		{name: "full", score: 80, points: 50, status: verification.StatusVerified},
		{name: "partial", score: 65, points: 30, status: verification.StatusVerified},
		{name: "reconsider", score: 40, points: 0, status: verification.StatusNeedsImprovement},
		{name: "rejected", score: 39, points: 0, status: verification.StatusRejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, scoring(tc.score))
			f.seedUser(t, "u1")

			a, err := f.svc.Submit(context.Background(), submission("u1"))
			require.NoError(t, err)
			require.Equal(t, tc.status, a.Status)
			require.Equal(t, tc.points, a.Points)
			require.Equal(t, tc.points, f.points(t, "u1"))
		})
	}
}

func TestSubmitOracleFailureIsAbsorbed(t *testing.T) {
	f := newFixture(t, failing())
	f.seedUser(t, "u1")
	ctx := context.Background()

	for _, c := range category.All {
		p := submission("u1")
		p.Category = string(c)

		a, err := f.svc.Submit(ctx, p)
		require.NoError(t, err, c)
		require.Equal(t, verification.StatusNeedsImprovement, a.Status, c)
		require.Zero(t, a.Points, c)
		require.Nil(t, a.AIScore, c)
	}

	require.Zero(t, f.points(t, "u1"))
}

func TestSubmitUnknownSubcategoryUsesDefaultRule(t *testing.T) {
	f := newFixture(t, scoring(95))
	f.seedUser(t, "u1")

	p := submission("u1")
	p.Category = "recycling"
	p.Subcategory = "Space Junk"

	a, err := f.svc.Submit(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, category.Recycling, a.Category)
	require.Equal(t, "space-junk", a.Subcategory)
	require.Equal(t, category.DefaultRule.BasePoints, a.Points)
}

func TestSubmitValidation(t *testing.T) {
	called := false
	f := newFixture(t, oracleFunc(func(ctx context.Context, req oracle.Request) (*oracle.Analysis, error) {
		called = true
		return nil, errors.New("unexpected call")
	}))
	f.seedUser(t, "u1")
	ctx := context.Background()

	badCategory := submission("u1")
	badCategory.Category = "GARDENING"

	noMedia := submission("u1")
	noMedia.Media = nil

	badMime := submission("u1")
	badMime.MimeType = "application/pdf"

	noUser := submission("")

	for _, p := range []SubmitParams{badCategory, noMedia, badMime, noUser} {
		_, err := f.svc.Submit(ctx, p)
		require.True(t, errutil.Is(err, errutil.StatusBadRequest), err)
	}

	require.False(t, called)
	require.Zero(t, f.store.Len())
}

func TestSubmitUnknownUser(t *testing.T) {
	f := newFixture(t, scoring(90))

	_, err := f.svc.Submit(context.Background(), submission("ghost"))
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestSubmitRollsBackWhenCreditFails(t *testing.T) {
	f := newFixture(t, scoring(90))
	f.seedUser(t, "u1")
	f.svc.ledger = failingLedger{}

	_, err := f.svc.Submit(context.Background(), submission("u1"))
	require.Error(t, err)

	var count int64
	require.NoError(t, f.db.Model(&Action{}).Count(&count).Error)
	require.Zero(t, count)
	require.Zero(t, f.points(t, "u1"))
	require.Zero(t, f.store.Len())
}

func TestDeleteReversesPoints(t *testing.T) {
	f := newFixture(t, scoring(90))
	f.seedUser(t, "u1")
	ctx := context.Background()

	a, err := f.svc.Submit(ctx, submission("u1"))
	require.NoError(t, err)
	require.Equal(t, int64(50), f.points(t, "u1"))

	res, err := f.svc.Delete(ctx, a.ID, Requester{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, int64(50), res.PointsReversed)
	require.False(t, res.Clamped)
	require.Zero(t, f.points(t, "u1"))
	require.Zero(t, f.store.Len())

	_, err = f.svc.Get(ctx, a.ID, Requester{UserID: "u1"})
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	_, err = f.svc.Delete(ctx, a.ID, Requester{UserID: "u1"})
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestDeleteZeroPointActionLeavesBalance(t *testing.T) {
	f := newFixture(t, scoring(90))
	f.seedUser(t, "u1")
	ctx := context.Background()

	kept, err := f.svc.Submit(ctx, submission("u1"))
	require.NoError(t, err)

	f.svc.oracle = scoring(10)
	rejected, err := f.svc.Submit(ctx, submission("u1"))
	require.NoError(t, err)
	require.Equal(t, verification.StatusRejected, rejected.Status)

	res, err := f.svc.Delete(ctx, rejected.ID, Requester{UserID: "u1"})
	require.NoError(t, err)
	require.Zero(t, res.PointsReversed)
	require.Equal(t, kept.Points, f.points(t, "u1"))
}

func TestDeleteClampsShortBalance(t *testing.T) {
	f := newFixture(t, scoring(90))
	f.seedUser(t, "u1")
	ctx := context.Background()

	a, err := f.svc.Submit(ctx, submission("u1"))
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&user.User{}).Where("id = ?", "u1").Update("points", 10).Error)

	res, err := f.svc.Delete(ctx, a.ID, Requester{UserID: "u1"})
	require.NoError(t, err)
	require.True(t, res.Clamped)
	require.Equal(t, int64(10), res.PointsReversed)
	require.Zero(t, res.Balance)
	require.Zero(t, f.points(t, "u1"))
}

func TestDeleteAuthorization(t *testing.T) {
	f := newFixture(t, scoring(90))
	f.seedUser(t, "u1")
	f.seedUser(t, "u2")
	ctx := context.Background()

	a, err := f.svc.Submit(ctx, submission("u1"))
	require.NoError(t, err)

	_, err = f.svc.Delete(ctx, a.ID, Requester{UserID: "u2"})
	require.True(t, errutil.Is(err, errutil.StatusForbidden))
	require.Equal(t, int64(50), f.points(t, "u1"))

	res, err := f.svc.Delete(ctx, a.ID, Requester{UserID: "admin", Admin: true})
	require.NoError(t, err)
	require.Equal(t, int64(50), res.PointsReversed)
	require.Zero(t, f.points(t, "u1"))
}

func TestDeleteRollsBackWhenDebitFails(t *testing.T) {
	f := newFixture(t, scoring(90))
	f.seedUser(t, "u1")
	ctx := context.Background()

	a, err := f.svc.Submit(ctx, submission("u1"))
	require.NoError(t, err)

	f.svc.ledger = failingLedger{}
	_, err = f.svc.Delete(ctx, a.ID, Requester{UserID: "u1"})
	require.Error(t, err)

	got, err := f.svc.Get(ctx, a.ID, Requester{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)
	require.Equal(t, int64(50), f.points(t, "u1"))
}

func TestRetry(t *testing.T) {
	f := newFixture(t, scoring(90))
	f.seedUser(t, "u1")
	f.seedUser(t, "u2")
	ctx := context.Background()

	verified, err := f.svc.Submit(ctx, submission("u1"))
	require.NoError(t, err)

	_, err = f.svc.Retry(ctx, verified.ID, Requester{UserID: "u1"})
	require.True(t, errutil.Is(err, errutil.StatusUnprocessableEntity))

	f.svc.oracle = scoring(45)
	pending, err := f.svc.Submit(ctx, submission("u1"))
	require.NoError(t, err)

	_, err = f.svc.Retry(ctx, pending.ID, Requester{UserID: "u2"})
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	_, err = f.svc.Retry(ctx, pending.ID, Requester{UserID: "admin", Admin: true})
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	got, err := f.svc.Retry(ctx, pending.ID, Requester{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, verification.StatusNeedsImprovement, got.Status)
	require.Zero(t, got.Points)

	_, err = f.svc.Retry(ctx, "missing", Requester{UserID: "u1"})
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestGetAuthorization(t *testing.T) {
	f := newFixture(t, scoring(90))
	f.seedUser(t, "u1")
	ctx := context.Background()

	a, err := f.svc.Submit(ctx, submission("u1"))
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, a.ID, Requester{UserID: "u2"})
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	got, err := f.svc.Get(ctx, a.ID, Requester{UserID: "u2", Admin: true})
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)
}

func TestListPagesNewestFirst(t *testing.T) {
	f := newFixture(t, scoring(90))
	f.seedUser(t, "u1")
	f.seedUser(t, "u2")
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	f.svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	var ids []string
	for i := 0; i < 3; i++ {
		a, err := f.svc.Submit(ctx, submission("u1"))
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}
	_, err := f.svc.Submit(ctx, submission("u2"))
	require.NoError(t, err)

	first, info, err := f.svc.List(ctx, ListParams{UserID: "u1", Pagination: pagination.Pagination{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.True(t, info.HasMore)
	require.Equal(t, ids[2], first[0].ID)
	require.Equal(t, ids[1], first[1].ID)

	second, info, err := f.svc.List(ctx, ListParams{UserID: "u1", Pagination: pagination.Pagination{Limit: 2, Cursor: info.NextCursor}})
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.False(t, info.HasMore)
	require.Equal(t, ids[0], second[0].ID)

	_, _, err = f.svc.List(ctx, ListParams{UserID: "u1", Pagination: pagination.Pagination{Cursor: "%%%"}})
	require.True(t, errutil.Is(err, errutil.StatusBadRequest))

	rejected, _, err := f.svc.List(ctx, ListParams{UserID: "u1", Status: verification.StatusRejected})
	require.NoError(t, err)
	require.Empty(t, rejected)
}
