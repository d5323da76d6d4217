package cache

import "fmt"

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

// PollLeaseKey guards the single poll session allowed per provider handle.
func PollLeaseKey(handle string) string {
	return fmt.Sprintf("poll:lease:%s", handle)
}
