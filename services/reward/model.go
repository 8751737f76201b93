package reward

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

// ErrDistributionConflict means another run recorded the same period
// first. Distribute reports it as ALREADY_DISTRIBUTED.
var ErrDistributionConflict = errors.New("distribution conflict")

type Outcome string

const (
	OutcomeCompleted          Outcome = "COMPLETED"
	OutcomeAlreadyDistributed Outcome = "ALREADY_DISTRIBUTED"
	OutcomeSkipped            Outcome = "SKIPPED"
)

// PeriodLayout is the period key format.
const PeriodLayout = "2006-01-02"

type Winner struct {
	UserID   string `json:"user_id"`
	Rank     int    `json:"rank"`
	Bonus    int64  `json:"bonus"`
	NewTotal int64  `json:"new_total"`
}

// Distribution is the proof that a period's bonuses were paid. There is at
// most one per period and it is never updated.
type Distribution struct {
	ID            string                      `gorm:"column:id;primaryKey" json:"id"`
	PeriodKey     string                      `gorm:"column:period_key;size:10;uniqueIndex" json:"period_key"`
	Code          string                      `gorm:"column:code;size:32" json:"code"`
	Winners       datatypes.JSONSlice[Winner] `gorm:"column:winners" json:"winners"`
	TotalBonus    int64                       `gorm:"column:total_bonus" json:"total_bonus"`
	DistributedAt time.Time                   `gorm:"column:distributed_at" json:"distributed_at"`
	CreatedAt     time.Time                   `gorm:"column:created_at" json:"created_at"`
}

func (Distribution) TableName() string {
	return "reward_distributions"
}

type Result struct {
	Outcome      Outcome       `json:"status"`
	Distribution *Distribution `json:"distribution"`
}
