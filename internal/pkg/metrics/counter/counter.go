package counter

import (
	"context"
	"strconv"

	"github.com/memberloop/memberpay/internal/pkg/cache"
)

const renewalCountersKey = "renewal:counters"

const (
	FieldRenewed        = "renewed"
	FieldFailed         = "failed"
	FieldRetryScheduled = "retry_scheduled"
	FieldSuspended      = "suspended"
)

// Add increments a renewal outcome counter in Redis. Metrics are best
// effort: without a cache connection (unit tests, degraded mode) the call
// is a no-op.
func Add(field string, n int64) error {
	rdb := cache.ClientOrNil()
	if rdb == nil || n == 0 {
		return nil
	}
	return rdb.HIncrBy(context.Background(), renewalCountersKey, field, n).Err()
}

// Snapshot returns all outcome counters accumulated so far.
func Snapshot() (map[string]int64, error) {
	rdb := cache.ClientOrNil()
	if rdb == nil {
		return map[string]int64{}, nil
	}
	data, err := rdb.HGetAll(context.Background(), renewalCountersKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

// Reset drops all outcome counters.
func Reset() error {
	rdb := cache.ClientOrNil()
	if rdb == nil {
		return nil
	}
	return rdb.Del(context.Background(), renewalCountersKey).Err()
}
