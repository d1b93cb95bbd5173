package cache

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const keyspace = "vc"

// DefaultSnapshotTTL applies when a caller passes no TTL.
const DefaultSnapshotTTL = 24 * time.Hour

func TaskSnapshotKey(taskID uuid.UUID) string {
	return fmt.Sprintf("%s:task:%s:snapshot", keyspace, taskID)
}

// RateLimitKey names the counter of one key prefix for the fixed window
// starting at windowStart.
func RateLimitKey(keyPrefix string, windowStart time.Time) string {
	return fmt.Sprintf("%s:ratelimit:%s:%d", keyspace, keyPrefix, windowStart.Unix())
}
