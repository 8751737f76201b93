package rediskey

import "fmt"

const (
	RateLimitPrefix = "ratelimit"
	SequencePrefix  = "seq"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildRateLimitKey returns "ratelimit:{scope}:{subject}"
func BuildRateLimitKey(scope, subject string) string {
	return NamespaceKey(RateLimitPrefix, fmt.Sprintf("%s:%s", scope, subject))
}

// BuildSequenceKey returns "seq:{prefix}:{day}"
func BuildSequenceKey(prefix, day string) string {
	return NamespaceKey(SequencePrefix, fmt.Sprintf("%s:%s", prefix, day))
}
