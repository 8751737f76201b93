package taskname

const (
	// Reward tasks
	RewardDistribute = "reward:distribute"

	// Notification tasks
	NotificationReward = "notification:reward"
)

// Queues
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)
