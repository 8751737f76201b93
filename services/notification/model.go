package notification

// TemplateRewardWon is the mailer template for leaderboard winners.
const TemplateRewardWon = "reward_won"

// RewardNotice tells one winner about a distributed bonus.
type RewardNotice struct {
	UserID    string `json:"user_id"`
	PeriodKey string `json:"period_key"`
	Code      string `json:"code"`
	Rank      int    `json:"rank"`
	Bonus     int64  `json:"bonus"`
	NewTotal  int64  `json:"new_total"`
}

// Message is what the external mailer consumes from the broker.
type Message struct {
	Recipient string         `json:"recipient"`
	Template  string         `json:"template"`
	Data      map[string]any `json:"data"`
}
