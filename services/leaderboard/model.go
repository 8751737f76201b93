package leaderboard

import "time"

const (
	DefaultTop = 10
	MaxTop     = 100
)

// Standing is one ranked user. Ranks are dense positions in the stable
// ordering, so tied points still get distinct ranks.
type Standing struct {
	Rank      int       `json:"rank"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Points    int64     `json:"points"`
	CreatedAt time.Time `json:"created_at"`
}

type Rank struct {
	UserID   string `json:"user_id"`
	Eligible bool   `json:"eligible"`
	// Rank is zero when the user is not eligible.
	Rank   int   `json:"rank"`
	Points int64 `json:"points"`
	Total  int64 `json:"total"`
	// Percentile is the share of eligible users ranked below this one.
	Percentile float64 `json:"percentile"`
}
