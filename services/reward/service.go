package reward

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ecorewards-engine/pkg/config"
	"ecorewards-engine/pkg/db"
	"ecorewards-engine/pkg/db/option"
	"ecorewards-engine/pkg/db/pagination"
	"ecorewards-engine/pkg/errutil"
	"ecorewards-engine/pkg/repository"
	"ecorewards-engine/pkg/sequence"
	"ecorewards-engine/services/leaderboard"
	"ecorewards-engine/services/ledger"
	"ecorewards-engine/services/notification"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var Module = fx.Module("reward.service",
	fx.Provide(NewService),
)

var distributionRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "ecorewards_reward_distributions_total",
	Help: "Distribution attempts by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(distributionRuns)
}

var defaultBonuses = []int64{15, 10, 5}

type ranker interface {
	Ranked(ctx context.Context, tx *gorm.DB, n int) ([]*leaderboard.Standing, error)
}

type crediter interface {
	Credit(ctx context.Context, tx *gorm.DB, e ledger.Entry) (*ledger.Result, error)
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	now      func() time.Time
	location *time.Location
	bonuses  []int64

	ranking  ranker
	ledger   crediter
	codes    sequence.Generator
	notifier notification.Notifier

	distributions repository.Repository[Distribution]
}

type ServiceParams struct {
	fx.In
	DB          *gorm.DB
	Node        *snowflake.Node
	Config      *config.Config
	Leaderboard *leaderboard.Service
	Ledger      *ledger.Service
	Sequence    sequence.Generator    `optional:"true"`
	Notifier    notification.Notifier `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	bonuses := p.Config.Reward.Bonuses
	if len(bonuses) == 0 {
		bonuses = defaultBonuses
	}

	loc, err := time.LoadLocation(p.Config.Reward.Timezone)
	if err != nil {
		zap.L().Warn("invalid reward timezone, using UTC", zap.String("timezone", p.Config.Reward.Timezone), zap.Error(err))
		loc = time.UTC
	}

	return &Service{
		db:       p.DB,
		node:     p.Node,
		now:      time.Now,
		location: loc,
		bonuses:  bonuses,

		ranking:  p.Leaderboard,
		ledger:   p.Ledger,
		codes:    p.Sequence,
		notifier: p.Notifier,

		distributions: repository.ProvideStore[Distribution](p.DB),
	}
}

// CurrentPeriod is the period key of now in the reward timezone.
func (s *Service) CurrentPeriod(now time.Time) string {
	return now.In(s.location).Format(PeriodLayout)
}

func ValidatePeriod(periodKey string) error {
	if _, err := time.Parse(PeriodLayout, periodKey); err != nil {
		return errutil.BadRequest(fmt.Sprintf("invalid period %q, expected YYYY-MM-DD", periodKey), err)
	}
	return nil
}

// Distribute pays the period's leaderboard bonuses at most once. Crediting
// the winners and recording the distribution share one transaction. A
// period that was already recorded, by an earlier call or a concurrent one,
// comes back as ALREADY_DISTRIBUTED with the stored record.
func (s *Service) Distribute(ctx context.Context, periodKey string) (*Result, error) {
	if err := ValidatePeriod(periodKey); err != nil {
		return nil, err
	}

	existing, err := s.distributions.FindOne(ctx, &Distribution{PeriodKey: periodKey})
	if err != nil {
		zap.L().Error("failed to query distribution", zap.String("period_key", periodKey), zap.Error(err))
		return nil, err
	}
	if existing != nil {
		distributionRuns.WithLabelValues(string(OutcomeAlreadyDistributed)).Inc()
		return &Result{Outcome: OutcomeAlreadyDistributed, Distribution: existing}, nil
	}

	code := s.nextCode(ctx, periodKey)

	var record *Distribution
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		standings, err := s.ranking.Ranked(ctx, tx, len(s.bonuses))
		if err != nil {
			return err
		}
		if len(standings) == 0 {
			return nil
		}

		now := s.now().UTC()
		d := &Distribution{
			ID:            s.node.Generate().String(),
			PeriodKey:     periodKey,
			Code:          code,
			Winners:       make([]Winner, 0, len(standings)),
			DistributedAt: now,
			CreatedAt:     now,
		}

		for i, st := range standings {
			bonus := s.bonuses[i]
			if bonus <= 0 {
				continue
			}
			res, err := s.ledger.Credit(ctx, tx, ledger.Entry{
				UserID:      st.UserID,
				Amount:      bonus,
				Reason:      ledger.ReasonLeaderboardBonus,
				ReferenceID: fmt.Sprintf("%s:%d", periodKey, st.Rank),
				Description: fmt.Sprintf("rank %d bonus for %s", st.Rank, periodKey),
				Metadata:    map[string]any{"code": code},
			})
			if err != nil {
				return err
			}
			d.Winners = append(d.Winners, Winner{UserID: st.UserID, Rank: st.Rank, Bonus: bonus, NewTotal: res.Balance})
			d.TotalBonus += bonus
		}

		if err := s.distributions.WithTrx(tx).Create(ctx, d); err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("period %s: %w", periodKey, ErrDistributionConflict)
			}
			return err
		}

		record = d
		return nil
	})

	if errors.Is(err, ErrDistributionConflict) {
		zap.L().Warn("distribution lost the race, returning recorded one", zap.String("period_key", periodKey))
		winner, ferr := s.distributions.FindOne(ctx, &Distribution{PeriodKey: periodKey})
		if ferr != nil {
			return nil, ferr
		}
		if winner == nil {
			return nil, err
		}
		distributionRuns.WithLabelValues(string(OutcomeAlreadyDistributed)).Inc()
		return &Result{Outcome: OutcomeAlreadyDistributed, Distribution: winner}, nil
	}
	if err != nil {
		distributionRuns.WithLabelValues("failed").Inc()
		zap.L().Error("distribution failed", zap.String("period_key", periodKey), zap.Error(err))
		return nil, err
	}

	if record == nil {
		distributionRuns.WithLabelValues(string(OutcomeSkipped)).Inc()
		zap.L().Info("no eligible users, distribution skipped", zap.String("period_key", periodKey))
		return &Result{Outcome: OutcomeSkipped}, nil
	}

	distributionRuns.WithLabelValues(string(OutcomeCompleted)).Inc()
	zap.L().Info("distribution completed",
		zap.String("period_key", periodKey),
		zap.String("code", record.Code),
		zap.Int("winners", len(record.Winners)),
		zap.Int64("total_bonus", record.TotalBonus),
	)

	s.notifyWinners(ctx, record)
	return &Result{Outcome: OutcomeCompleted, Distribution: record}, nil
}

func (s *Service) nextCode(ctx context.Context, periodKey string) string {
	if s.codes != nil {
		code, err := s.codes.NextDistributionCode(ctx)
		if err == nil {
			return code
		}
		zap.L().Warn("sequence unavailable, using period code", zap.Error(err))
	}
	return sequence.PrefixDistribution + "-" + strings.ReplaceAll(periodKey, "-", "")
}

// notifyWinners is best effort; the distribution is already committed.
func (s *Service) notifyWinners(ctx context.Context, d *Distribution) {
	if s.notifier == nil {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, w := range d.Winners {
		g.Go(func() error {
			err := s.notifier.NotifyReward(gctx, notification.RewardNotice{
				UserID:    w.UserID,
				PeriodKey: d.PeriodKey,
				Code:      d.Code,
				Rank:      w.Rank,
				Bonus:     w.Bonus,
				NewTotal:  w.NewTotal,
			})
			if err != nil {
				zap.L().Warn("failed to queue reward notice",
					zap.String("user_id", w.UserID),
					zap.String("period_key", d.PeriodKey),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) Get(ctx context.Context, periodKey string) (*Distribution, error) {
	if err := ValidatePeriod(periodKey); err != nil {
		return nil, err
	}
	d, err := s.distributions.FindOne(ctx, &Distribution{PeriodKey: periodKey})
	if err != nil {
		zap.L().Error("failed to query distribution", zap.String("period_key", periodKey), zap.Error(err))
		return nil, err
	}
	if d == nil {
		return nil, errutil.NotFound("distribution not found", nil)
	}
	return d, nil
}

// List pages distributions, latest period first.
func (s *Service) List(ctx context.Context, page pagination.Pagination) ([]*Distribution, *pagination.PageInfo, error) {
	page = page.Normalize()

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "period_key", OrderBy: "desc"}),
		option.WithLimit(page.Limit + 1),
	}
	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil || ValidatePeriod(cursor.ID) != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "period_key", Operator: option.LT, Value: cursor.ID}))
	}

	items, err := s.distributions.Find(ctx, nil, opts...)
	if err != nil {
		zap.L().Error("failed to list distributions", zap.Error(err))
		return nil, nil, err
	}

	items, info := pagination.BuildCursorPageInfo(items, page.Limit, func(d *Distribution) pagination.Cursor {
		return pagination.Cursor{ID: d.PeriodKey}
	})
	return items, info, nil
}
