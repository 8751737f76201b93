package action

import (
	"time"

	"ecorewards-engine/pkg/db/pagination"
	"ecorewards-engine/services/category"
	"ecorewards-engine/services/verification"

	"gorm.io/datatypes"
)

const maxNoteLength = 1000

// Action is one submitted piece of evidence and its verification outcome.
// Points is non-zero only for VERIFIED actions, and (Status, Points) are
// written together.
type Action struct {
	ID            string                      `gorm:"column:id;primaryKey" json:"id"`
	UserID        string                      `gorm:"column:user_id;index:idx_actions_user_created,priority:1" json:"user_id"`
	Category      category.Category           `gorm:"column:category;size:32" json:"category"`
	Subcategory   string                      `gorm:"column:subcategory;size:64" json:"subcategory"`
	AIScore       *int                        `gorm:"column:ai_score" json:"ai_score"`
	Points        int64                       `gorm:"column:points;not null;default:0" json:"points"`
	Status        verification.Status         `gorm:"column:status;size:24;index" json:"status"`
	Labels        datatypes.JSONSlice[string] `gorm:"column:labels" json:"labels"`
	Feedback      string                      `gorm:"column:feedback" json:"feedback"`
	CategoryMatch bool                        `gorm:"column:category_match" json:"category_match"`
	MediaRef      string                      `gorm:"column:media_ref" json:"media_ref"`
	MediaType     string                      `gorm:"column:media_type;size:64" json:"media_type"`
	Note          string                      `gorm:"column:note" json:"note"`
	RawResponse   string                      `gorm:"column:raw_response" json:"-"`
	CreatedAt     time.Time                   `gorm:"column:created_at;index:idx_actions_user_created,priority:2" json:"created_at"`
	UpdatedAt     time.Time                   `gorm:"column:updated_at" json:"updated_at"`
}

func (Action) TableName() string {
	return "actions"
}

type SubmitParams struct {
	UserID      string
	Category    string
	Subcategory string
	Note        string
	Media       []byte
	MimeType    string
	// MediaRef is set when the media was already stored by the caller.
	MediaRef string
}

// Requester is the authenticated caller of an action operation.
type Requester struct {
	UserID string
	Admin  bool
}

func (r Requester) owns(a *Action) bool {
	return r.UserID != "" && r.UserID == a.UserID
}

type ListParams struct {
	UserID   string
	Status   verification.Status
	Category category.Category
	pagination.Pagination
}

type DeleteResult struct {
	ActionID       string `json:"action_id"`
	PointsReversed int64  `json:"points_reversed"`
	Clamped        bool   `json:"clamped"`
	Balance        int64  `json:"balance"`
}
