package user

import (
	"context"
	"testing"

	"ecorewards-engine/pkg/errutil"
	"ecorewards-engine/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	db := testutil.NewTestDB(t, &User{})
	return NewService(ServiceParams{DB: db, Node: testutil.NewNode(t)})
}

func TestCreateAndGet(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, err := svc.Create(ctx, CreateParams{Email: " Ada@Example.com ", Name: "Ada"})
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", u.Email)
	require.Equal(t, RoleUser, u.Role)
	require.True(t, u.IsActive)
	require.Zero(t, u.Points)

	got, err := svc.Get(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
}

func TestCreateDuplicateEmail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateParams{Email: "dup@example.com"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateParams{Email: "DUP@example.com"})
	require.True(t, errutil.Is(err, errutil.StatusConflict))
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Create(context.Background(), CreateParams{})
	require.True(t, errutil.Is(err, errutil.StatusBadRequest))

	_, err = svc.Create(context.Background(), CreateParams{Email: "x@example.com", Role: "root"})
	require.True(t, errutil.Is(err, errutil.StatusBadRequest))
}

func TestGetNotFound(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Get(context.Background(), "missing")
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestSetActiveAndEligibility(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, err := svc.Create(ctx, CreateParams{Email: "e@example.com"})
	require.NoError(t, err)

	u.Points = 10
	require.True(t, u.Eligible())

	require.NoError(t, svc.SetActive(ctx, u.ID, false))
	got, err := svc.Get(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)

	require.True(t, errutil.Is(svc.SetActive(ctx, "missing", true), errutil.StatusNotFound))

	admin := &User{Role: RoleAdmin, IsActive: true, Points: 100}
	require.False(t, admin.Eligible())
}
