package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ecorewards-engine/pkg/db/option"
	"ecorewards-engine/pkg/db/pagination"
	"ecorewards-engine/pkg/errutil"
	"ecorewards-engine/pkg/repository"
	"ecorewards-engine/services/user"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var Module = fx.Module("ledger.service",
	fx.Provide(NewService),
)

var ledgerAnomalies = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "ecorewards_ledger_anomalies_total",
	Help: "Debits that found an insufficient balance and were clamped at zero.",
})

func init() {
	prometheus.MustRegister(ledgerAnomalies)
}

// Service owns every mutation of a user's point balance. Credit and Debit
// accept the caller's transaction so the balance change commits together
// with the caller's own writes.
type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	now  func() time.Time

	users  repository.Repository[user.User]
	ledger repository.Repository[LedgerEntry]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		now:  time.Now,

		users:  repository.ProvideStore[user.User](p.DB),
		ledger: repository.ProvideStore[LedgerEntry](p.DB),
	}
}

// inTx runs fn in tx when given, otherwise in a new transaction.
func (s *Service) inTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// Credit adds e.Amount to the user's balance with a single atomic increment.
func (s *Service) Credit(ctx context.Context, tx *gorm.DB, e Entry) (*Result, error) {
	if e.Amount <= 0 {
		return nil, errutil.BadRequest("credit amount must be positive", nil)
	}

	var res *Result
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		err := s.users.WithTrx(tx).Update(ctx, e.UserID, map[string]any{
			"points": gorm.Expr("points + ?", e.Amount),
		})
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.NotFound("user not found", nil)
		}
		if err != nil {
			return err
		}

		balance, err := s.currentPoints(ctx, tx, e.UserID)
		if err != nil {
			return err
		}

		entry, err := s.appendEntry(ctx, tx, EntryTypeCredit, e, e.Amount, balance)
		if err != nil {
			return err
		}

		res = &Result{EntryID: entry.ID, Applied: e.Amount, Balance: balance}
		return nil
	})
	if err != nil {
		zap.L().Error("failed to credit points",
			zap.String("user_id", e.UserID),
			zap.Int64("amount", e.Amount),
			zap.String("reason", string(e.Reason)),
			zap.Error(err),
		)
		return nil, err
	}

	return res, nil
}

// Debit subtracts e.Amount. When the balance is short the debit is clamped
// at zero, the anomaly is logged and counted, and the call still succeeds.
func (s *Service) Debit(ctx context.Context, tx *gorm.DB, e Entry) (*Result, error) {
	if e.Amount <= 0 {
		return nil, errutil.BadRequest("debit amount must be positive", nil)
	}

	var res *Result
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		applied := e.Amount
		clamped := false

		rs := tx.WithContext(ctx).Model(&user.User{}).
			Where("id = ? AND points >= ?", e.UserID, e.Amount).
			Updates(map[string]any{"points": gorm.Expr("points - ?", e.Amount)})
		if rs.Error != nil {
			return rs.Error
		}

		if rs.RowsAffected == 0 {
			var before struct{ Points int64 }
			q := tx.WithContext(ctx).Model(&user.User{}).Select("points").Where("id = ?", e.UserID)
			found := option.LockingUpdate(q).Take(&before)
			if errors.Is(found.Error, gorm.ErrRecordNotFound) {
				return errutil.NotFound("user not found", nil)
			}
			if found.Error != nil {
				return found.Error
			}

			if before.Points < e.Amount {
				applied = before.Points
				clamped = true
			}

			rs = tx.WithContext(ctx).Model(&user.User{}).
				Where("id = ?", e.UserID).
				Updates(map[string]any{
					"points": gorm.Expr("CASE WHEN points >= ? THEN points - ? ELSE 0 END", e.Amount, e.Amount),
				})
			if rs.Error != nil {
				return rs.Error
			}
		}

		balance, err := s.currentPoints(ctx, tx, e.UserID)
		if err != nil {
			return err
		}

		if clamped {
			ledgerAnomalies.Inc()
			zap.L().Error("debit exceeded balance, clamped at zero",
				zap.String("user_id", e.UserID),
				zap.Int64("requested", e.Amount),
				zap.Int64("applied", applied),
				zap.String("reason", string(e.Reason)),
				zap.String("reference_id", e.ReferenceID),
				zap.Error(ErrConsistencyViolation),
			)
			meta := make(map[string]any, len(e.Metadata)+2)
			for k, v := range e.Metadata {
				meta[k] = v
			}
			meta["requested"] = e.Amount
			meta["clamped"] = true
			e.Metadata = meta
		}

		entry, err := s.appendEntry(ctx, tx, EntryTypeDebit, e, applied, balance)
		if err != nil {
			return err
		}

		res = &Result{EntryID: entry.ID, Applied: applied, Balance: balance, Clamped: clamped}
		return nil
	})
	if err != nil {
		zap.L().Error("failed to debit points",
			zap.String("user_id", e.UserID),
			zap.Int64("amount", e.Amount),
			zap.Error(err),
		)
		return nil, err
	}

	return res, nil
}

func (s *Service) currentPoints(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	var row struct{ Points int64 }
	if err := tx.WithContext(ctx).Model(&user.User{}).Select("points").Where("id = ?", userID).Take(&row).Error; err != nil {
		return 0, err
	}
	return row.Points, nil
}

// appendEntry links a new entry to the user's chain. The preceding balance
// update holds the user's row lock, so chain appends for one user are
// serialized.
func (s *Service) appendEntry(ctx context.Context, tx *gorm.DB, typ EntryType, e Entry, amount, balance int64) (*LedgerEntry, error) {
	last, err := s.ledger.WithTrx(tx).FindOne(ctx, &LedgerEntry{UserID: e.UserID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "sequence",
		OrderBy: "desc",
		Allow:   map[string]bool{"sequence": true},
	}))
	if err != nil {
		return nil, err
	}

	previousHash, sequence := GenesisHash, int64(1)
	if last != nil {
		previousHash, sequence = last.Hash, last.Sequence+1
	}

	var meta datatypes.JSON
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal ledger metadata: %w", err)
		}
		meta = datatypes.JSON(b)
	}

	entry := &LedgerEntry{
		ID:           s.node.Generate().String(),
		UserID:       e.UserID,
		Sequence:     sequence,
		Type:         typ,
		Amount:       amount,
		Reason:       e.Reason,
		ReferenceID:  e.ReferenceID,
		Description:  e.Description,
		BalanceAfter: balance,
		PreviousHash: previousHash,
		Metadata:     meta,
		// millisecond precision survives a round trip through every supported driver
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	entry.Hash = entry.GenerateHash()

	if err := s.ledger.WithTrx(tx).Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) Balance(ctx context.Context, userID string) (*Balance, error) {
	u, err := s.users.FindOne(ctx, &user.User{ID: userID})
	if err != nil {
		zap.L().Error("failed to query balance", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	if u == nil {
		return nil, errutil.NotFound("user not found", nil)
	}
	return &Balance{UserID: u.ID, Points: u.Points, UpdatedAt: u.UpdatedAt}, nil
}

// ListEntries pages a user's entries newest first.
func (s *Service) ListEntries(ctx context.Context, userID string, page pagination.Pagination) ([]*LedgerEntry, *pagination.PageInfo, error) {
	page = page.Normalize()

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "sequence",
			OrderBy: "desc",
			Allow:   map[string]bool{"sequence": true},
		}),
		option.WithLimit(page.Limit + 1),
	}

	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		seq, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field:    "sequence",
			Operator: option.LT,
			Value:    seq,
		}))
	}

	entries, err := s.ledger.Find(ctx, &LedgerEntry{UserID: userID}, opts...)
	if err != nil {
		zap.L().Error("failed to list ledger entries", zap.String("user_id", userID), zap.Error(err))
		return nil, nil, err
	}

	entries, info := pagination.BuildCursorPageInfo(entries, page.Limit, func(e *LedgerEntry) pagination.Cursor {
		return pagination.Cursor{ID: strconv.FormatInt(e.Sequence, 10)}
	})
	return entries, info, nil
}

// VerifyChain recomputes every hash of the user's chain in order.
func (s *Service) VerifyChain(ctx context.Context, userID string) (*ChainReport, error) {
	entries, err := s.ledger.Find(ctx, &LedgerEntry{UserID: userID}, option.WithSortBy(option.QuerySortBy{
		SortBy:  "sequence",
		OrderBy: "asc",
		Allow:   map[string]bool{"sequence": true},
	}))
	if err != nil {
		return nil, err
	}

	report := &ChainReport{UserID: userID, Entries: len(entries), Valid: true}
	prev := GenesisHash
	for _, e := range entries {
		if e.PreviousHash != prev || e.GenerateHash() != e.Hash {
			report.Valid = false
			report.BrokenAt = e.ID
			zap.L().Error("ledger chain broken",
				zap.String("user_id", userID),
				zap.String("entry_id", e.ID),
				zap.Error(ErrConsistencyViolation),
			)
			break
		}
		prev = e.Hash
	}

	return report, nil
}

// Reconcile compares the stored balance with the sum of the user's entries.
func (s *Service) Reconcile(ctx context.Context, userID string) (*Reconciliation, error) {
	bal, err := s.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}

	var computed struct{ Total int64 }
	err = s.db.WithContext(ctx).Model(&LedgerEntry{}).
		Select("COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE -amount END), 0) AS total", EntryTypeCredit).
		Where("user_id = ?", userID).
		Scan(&computed).Error
	if err != nil {
		return nil, err
	}

	r := &Reconciliation{
		UserID:   userID,
		Stored:   bal.Points,
		Computed: computed.Total,
		Drift:    bal.Points - computed.Total,
	}
	r.Consistent = r.Drift == 0
	if !r.Consistent {
		zap.L().Error("balance drift detected",
			zap.String("user_id", userID),
			zap.Int64("stored", r.Stored),
			zap.Int64("computed", r.Computed),
			zap.Error(ErrConsistencyViolation),
		)
	}
	return r, nil
}
