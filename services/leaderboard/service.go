package leaderboard

import (
	"context"
	"fmt"
	"math"
	"time"

	"ecorewards-engine/pkg/db/option"
	"ecorewards-engine/pkg/db/pagination"
	"ecorewards-engine/pkg/errutil"
	"ecorewards-engine/pkg/repository"
	"ecorewards-engine/services/user"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var Module = fx.Module("leaderboard.service",
	fx.Provide(NewService),
)

// ranking is points DESC, created_at ASC, id ASC.
var ranking = option.WithSortBy(
	option.QuerySortBy{SortBy: "points", OrderBy: "desc"},
	option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"},
	option.QuerySortBy{SortBy: "id", OrderBy: "asc"},
)

func eligible() option.QueryOption {
	return option.WithWhere("role = ? AND is_active = ? AND points > 0", user.RoleUser, true)
}

// ahead matches users ordered before (points, createdAt, id).
func ahead(points int64, createdAt time.Time, id string) option.QueryOption {
	return option.WithWhere(
		"(points > ? OR (points = ? AND created_at < ?) OR (points = ? AND created_at = ? AND id < ?))",
		points, points, createdAt, points, createdAt, id,
	)
}

// behind matches users ordered after (points, createdAt, id).
func behind(points int64, createdAt time.Time, id string) option.QueryOption {
	return option.WithWhere(
		"(points < ? OR (points = ? AND created_at > ?) OR (points = ? AND created_at = ? AND id > ?))",
		points, points, createdAt, points, createdAt, id,
	)
}

const sharedQueryTimeout = 10 * time.Second

type Service struct {
	users repository.Repository[user.User]
	group singleflight.Group
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		users: repository.ProvideStore[user.User](p.DB),
	}
}

func clampTop(n int) int {
	if n <= 0 {
		return DefaultTop
	}
	if n > MaxTop {
		return MaxTop
	}
	return n
}

// Top returns the n highest ranked users. Concurrent calls for the same n
// share one query; the returned slice is shared and must not be modified.
// A caller that gives up stops waiting but does not cancel the shared query.
func (s *Service) Top(ctx context.Context, n int) ([]*Standing, error) {
	n = clampTop(n)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := s.group.DoChan(fmt.Sprintf("top:%d", n), func() (any, error) {
		return s.sharedTop(ctx, n)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]*Standing), nil
	}
}

// sharedTop runs detached from the first caller's cancellation, bounded by
// sharedQueryTimeout.
func (s *Service) sharedTop(ctx context.Context, n int) ([]*Standing, error) {
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedQueryTimeout)
	defer cancel()
	return s.Ranked(qctx, nil, n)
}

// Ranked reads the top n eligible users, inside tx when given.
func (s *Service) Ranked(ctx context.Context, tx *gorm.DB, n int) ([]*Standing, error) {
	users, err := s.users.WithTrx(tx).Find(ctx, nil, eligible(), ranking, option.WithLimit(n))
	if err != nil {
		zap.L().Error("failed to query ranking", zap.Int("limit", n), zap.Error(err))
		return nil, err
	}
	return standings(users, 0), nil
}

// Page walks the full ranking with a keyset cursor.
func (s *Service) Page(ctx context.Context, page pagination.Pagination) ([]*Standing, *pagination.PageInfo, error) {
	page = page.Normalize()

	opts := []option.QueryOption{eligible(), ranking, option.WithLimit(page.Limit + 1)}
	offset := 0

	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil || cursor.ID == "" || cursor.Rank <= 0 {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, behind(cursor.Points, createdAt, cursor.ID))
		offset = cursor.Rank
	}

	users, err := s.users.Find(ctx, nil, opts...)
	if err != nil {
		zap.L().Error("failed to page ranking", zap.Error(err))
		return nil, nil, err
	}

	out := standings(users, offset)
	out, info := pagination.BuildCursorPageInfo(out, page.Limit, func(st *Standing) pagination.Cursor {
		return pagination.Cursor{
			Points:    st.Points,
			CreatedAt: st.CreatedAt.UTC().Format(time.RFC3339Nano),
			ID:        st.UserID,
			Rank:      st.Rank,
		}
	})
	return out, info, nil
}

// UserRank places one user in the ranking.
func (s *Service) UserRank(ctx context.Context, userID string) (*Rank, error) {
	u, err := s.users.FindOne(ctx, &user.User{ID: userID})
	if err != nil {
		zap.L().Error("failed to query user", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	if u == nil {
		return nil, errutil.NotFound("user not found", nil)
	}

	total, err := s.users.Count(ctx, nil, eligible())
	if err != nil {
		return nil, err
	}

	r := &Rank{UserID: u.ID, Points: u.Points, Total: total, Eligible: u.Eligible()}
	if !r.Eligible {
		return r, nil
	}

	before, err := s.users.Count(ctx, nil, eligible(), ahead(u.Points, u.CreatedAt, u.ID))
	if err != nil {
		return nil, err
	}

	r.Rank = int(before) + 1
	if total > 0 {
		below := float64(total - int64(r.Rank))
		r.Percentile = math.Round(below/float64(total)*10000) / 100
	}
	return r, nil
}

func standings(users []*user.User, offset int) []*Standing {
	out := make([]*Standing, 0, len(users))
	for i, u := range users {
		out = append(out, &Standing{
			Rank:      offset + i + 1,
			UserID:    u.ID,
			Name:      u.Name,
			Points:    u.Points,
			CreatedAt: u.CreatedAt,
		})
	}
	return out
}
