package user

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

// User carries the aggregate point balance. Points is only ever changed by
// the ledger through atomic column expressions.
type User struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	Email     string    `gorm:"column:email;uniqueIndex;size:255" json:"email"`
	Name      string    `gorm:"column:name" json:"name"`
	Role      Role      `gorm:"column:role;size:16;default:user" json:"role"`
	IsActive  bool      `gorm:"column:is_active;default:true" json:"is_active"`
	Points    int64     `gorm:"column:points;not null;default:0;index:idx_users_ranking,priority:1,sort:desc" json:"points"`
	CreatedAt time.Time `gorm:"column:created_at;index:idx_users_ranking,priority:2" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// Eligible reports whether the user may appear on the leaderboard and win
// rewards.
func (u *User) Eligible() bool {
	return u.Role == RoleUser && u.IsActive && u.Points > 0
}

type CreateParams struct {
	Email string
	Name  string
	Role  Role
}
