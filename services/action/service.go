package action

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ecorewards-engine/pkg/db/option"
	"ecorewards-engine/pkg/db/pagination"
	"ecorewards-engine/pkg/errutil"
	"ecorewards-engine/pkg/repository"
	"ecorewards-engine/services/category"
	"ecorewards-engine/services/ledger"
	"ecorewards-engine/services/media"
	"ecorewards-engine/services/oracle"
	"ecorewards-engine/services/user"
	"ecorewards-engine/services/verification"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("action.service",
	fx.Provide(NewService),
)

var actionsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "ecorewards_actions_submitted_total",
	Help: "Submitted actions by category and resulting status.",
}, []string{"category", "status"})

func init() {
	prometheus.MustRegister(actionsSubmitted)
}

// balanceLedger is the part of the ledger the action service writes through.
type balanceLedger interface {
	Credit(ctx context.Context, tx *gorm.DB, e ledger.Entry) (*ledger.Result, error)
	Debit(ctx context.Context, tx *gorm.DB, e ledger.Entry) (*ledger.Result, error)
}

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	now    func() time.Time
	table  *category.Table
	oracle oracle.Oracle
	ledger balanceLedger
	media  media.Store

	actions repository.Repository[Action]
	users   repository.Repository[user.User]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Table  *category.Table
	Oracle oracle.Oracle
	Ledger *ledger.Service
	Media  media.Store `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		now:    time.Now,
		table:  p.Table,
		oracle: p.Oracle,
		ledger: p.Ledger,
		media:  p.Media,

		actions: repository.ProvideStore[Action](p.DB),
		users:   repository.ProvideStore[user.User](p.DB),
	}
}

func (s *Service) validate(p SubmitParams) (category.Category, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return "", errutil.BadRequest("user is required", nil)
	}
	c, ok := category.Parse(p.Category)
	if !ok {
		return "", errutil.BadRequest(fmt.Sprintf("invalid category %q", p.Category), nil, errutil.Field("category", "unknown category"))
	}
	if len(p.Media) == 0 {
		return "", errutil.BadRequest("media is required", nil, errutil.Field("media", "required"))
	}
	if !oracle.IsSupportedMimeType(p.MimeType) {
		return "", errutil.BadRequest(fmt.Sprintf("unsupported media type %q", p.MimeType), nil, errutil.Field("media", "unsupported type"))
	}
	if len(p.Note) > maxNoteLength {
		return "", errutil.BadRequest(fmt.Sprintf("note exceeds %d characters", maxNoteLength), nil, errutil.Field("note", "too long"))
	}
	return c, nil
}

// Submit scores the evidence and records the action at its final status.
// The oracle call runs outside any transaction. An oracle failure is not an
// error: the action is stored as NEEDS_IMPROVEMENT with no score. The action
// row and, when verified, the credit commit together.
func (s *Service) Submit(ctx context.Context, p SubmitParams) (*Action, error) {
	c, err := s.validate(p)
	if err != nil {
		return nil, err
	}
	subcategory := category.NormalizeSubcategory(p.Subcategory)
	note := strings.TrimSpace(p.Note)

	submitter, err := s.users.FindOne(ctx, &user.User{ID: p.UserID})
	if err != nil {
		zap.L().Error("failed to query submitter", zap.String("user_id", p.UserID), zap.Error(err))
		return nil, err
	}
	if submitter == nil {
		return nil, errutil.NotFound("user not found", nil)
	}
	if !submitter.IsActive {
		return nil, errutil.Forbidden("user is inactive", nil)
	}

	id := s.node.Generate().String()

	mediaRef, uploaded := p.MediaRef, false
	if mediaRef == "" && s.media != nil {
		mediaRef, err = s.media.Put(ctx, media.ObjectKey(p.UserID, id, p.MimeType), p.Media, p.MimeType)
		if err != nil {
			zap.L().Error("failed to store media", zap.String("action_id", id), zap.Error(err))
			return nil, errutil.ServiceUnavailable("media store unavailable", err)
		}
		uploaded = true
	}

	score := verification.OracleFailed
	analysis, err := s.oracle.Analyze(ctx, oracle.Request{
		Media:       p.Media,
		MimeType:    p.MimeType,
		Category:    c,
		Subcategory: subcategory,
		Note:        note,
	})
	switch {
	case err == nil:
		score = verification.ScoreOf(analysis.Score)
	case errors.Is(err, oracle.ErrOracleFailure):
		zap.L().Warn("oracle failed, action needs improvement",
			zap.String("action_id", id),
			zap.String("category", c.String()),
			zap.Error(err),
		)
	default:
		s.discardMedia(ctx, uploaded, mediaRef)
		return nil, err
	}

	decision := verification.Decide(s.table, score, c, subcategory)
	if !decision.KnownRule {
		zap.L().Warn("unknown subcategory, default rule applied",
			zap.String("category", c.String()),
			zap.String("subcategory", subcategory),
		)
	}

	// microseconds survive every supported driver, keeping list cursors exact
	now := s.now().UTC().Truncate(time.Microsecond)
	a := &Action{
		ID:          id,
		UserID:      p.UserID,
		Category:    c,
		Subcategory: subcategory,
		Points:      decision.Points,
		Status:      decision.Status,
		Labels:      []string{},
		MediaRef:    mediaRef,
		MediaType:   p.MimeType,
		Note:        note,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if analysis != nil && !score.Failed {
		v := analysis.Score
		a.AIScore = &v
		a.Labels = analysis.Labels
		a.Feedback = analysis.Feedback
		a.CategoryMatch = analysis.CategoryMatch
		a.RawResponse = analysis.Raw
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.actions.WithTrx(tx).Create(ctx, a); err != nil {
			return err
		}
		if a.Status != verification.StatusVerified || a.Points <= 0 {
			return nil
		}
		_, err := s.ledger.Credit(ctx, tx, ledger.Entry{
			UserID:      a.UserID,
			Amount:      a.Points,
			Reason:      ledger.ReasonActionVerified,
			ReferenceID: a.ID,
			Description: fmt.Sprintf("%s/%s verified", a.Category, a.Subcategory),
		})
		return err
	})
	if err != nil {
		zap.L().Error("failed to record action",
			zap.String("action_id", id),
			zap.String("user_id", p.UserID),
			zap.Error(err),
		)
		s.discardMedia(ctx, uploaded, mediaRef)
		return nil, err
	}

	actionsSubmitted.WithLabelValues(c.String(), string(a.Status)).Inc()
	zap.L().Info("action recorded",
		zap.String("action_id", a.ID),
		zap.String("user_id", a.UserID),
		zap.String("status", string(a.Status)),
		zap.Int64("points", a.Points),
	)

	return a, nil
}

// discardMedia drops media this service uploaded for a submission that was
// not recorded.
func (s *Service) discardMedia(ctx context.Context, uploaded bool, ref string) {
	if !uploaded {
		return
	}
	if err := s.media.Remove(ctx, ref); err != nil {
		zap.L().Warn("failed to discard media", zap.String("media_ref", ref), zap.Error(err))
	}
}

func (s *Service) find(ctx context.Context, id string) (*Action, error) {
	a, err := s.actions.FindOne(ctx, &Action{ID: id})
	if err != nil {
		zap.L().Error("failed to query action", zap.String("action_id", id), zap.Error(err))
		return nil, err
	}
	if a == nil {
		return nil, errutil.NotFound("action not found", nil)
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, id string, r Requester) (*Action, error) {
	a, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.owns(a) && !r.Admin {
		return nil, errutil.Forbidden("not allowed to view this action", nil)
	}
	return a, nil
}

// List pages a user's actions newest first.
func (s *Service) List(ctx context.Context, p ListParams) ([]*Action, *pagination.PageInfo, error) {
	page := p.Pagination.Normalize()

	query := &Action{UserID: p.UserID}
	if p.Status != "" {
		if !p.Status.IsValid() {
			return nil, nil, errutil.BadRequest(fmt.Sprintf("invalid status %q", p.Status), nil)
		}
		query.Status = p.Status
	}
	if p.Category != "" {
		if !p.Category.IsValid() {
			return nil, nil, errutil.BadRequest(fmt.Sprintf("invalid category %q", p.Category), nil)
		}
		query.Category = p.Category
	}

	opts := []option.QueryOption{
		option.WithSortBy(
			option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"},
			option.QuerySortBy{SortBy: "id", OrderBy: "desc"},
		),
		option.WithLimit(page.Limit + 1),
	}

	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.WithWhere("(created_at < ? OR (created_at = ? AND id < ?))", createdAt, createdAt, cursor.ID))
	}

	actions, err := s.actions.Find(ctx, query, opts...)
	if err != nil {
		zap.L().Error("failed to list actions", zap.String("user_id", p.UserID), zap.Error(err))
		return nil, nil, err
	}

	actions, info := pagination.BuildCursorPageInfo(actions, page.Limit, func(a *Action) pagination.Cursor {
		return pagination.Cursor{CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339Nano), ID: a.ID}
	})
	return actions, info, nil
}

// Delete removes the action. Points it credited are debited in the same
// transaction; a short balance is clamped by the ledger and reported.
func (s *Service) Delete(ctx context.Context, id string, r Requester) (*DeleteResult, error) {
	var (
		res      = &DeleteResult{ActionID: id}
		mediaRef string
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a, err := s.actions.WithTrx(tx).FindOne(ctx, &Action{ID: id}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if a == nil {
			return errutil.NotFound("action not found", nil)
		}
		if !r.owns(a) && !r.Admin {
			return errutil.Forbidden("not allowed to delete this action", nil)
		}

		n, err := s.actions.WithTrx(tx).Delete(ctx, a.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			return errutil.NotFound("action not found", nil)
		}
		mediaRef = a.MediaRef

		if a.Status != verification.StatusVerified || a.Points <= 0 {
			return nil
		}

		debit, err := s.ledger.Debit(ctx, tx, ledger.Entry{
			UserID:      a.UserID,
			Amount:      a.Points,
			Reason:      ledger.ReasonActionDeleted,
			ReferenceID: a.ID,
			Description: fmt.Sprintf("%s/%s deleted", a.Category, a.Subcategory),
		})
		if err != nil {
			return err
		}
		res.PointsReversed = debit.Applied
		res.Clamped = debit.Clamped
		res.Balance = debit.Balance
		return nil
	})
	if err != nil {
		if errutil.StatusOf(err) == errutil.StatusInternal {
			zap.L().Error("failed to delete action", zap.String("action_id", id), zap.Error(err))
		}
		return nil, err
	}

	if mediaRef != "" && s.media != nil {
		if err := s.media.Remove(ctx, mediaRef); err != nil {
			zap.L().Warn("failed to remove action media", zap.String("action_id", id), zap.Error(err))
		}
	}

	zap.L().Info("action deleted",
		zap.String("action_id", id),
		zap.Int64("points_reversed", res.PointsReversed),
		zap.Bool("clamped", res.Clamped),
	)
	return res, nil
}

// Retry is accepted for actions that did not verify and returns them as
// they are. Re-scoring needs the original media and is not done here.
func (s *Service) Retry(ctx context.Context, id string, r Requester) (*Action, error) {
	a, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.owns(a) {
		return nil, errutil.Forbidden("only the owner may retry an action", nil)
	}
	if a.Status == verification.StatusVerified {
		return nil, errutil.InvalidState("action is already verified", nil)
	}
	return a, nil
}
