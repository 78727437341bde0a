package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dejavuplus/engine/internal/common/redis"
)

const usageKeyPrefix = "ledger:usage:"

func usageKey(caller string) string {
	if caller == "" {
		caller = "default"
	}
	return usageKeyPrefix + caller
}

// usageDelta is the counter movement one ledger transition applies. Deltas
// are written by the ledger's settle script in the same Redis call as the
// entry flags, so flags and counters can never diverge.
type usageDelta struct {
	today   int64
	month   int64
	pending int64
	total   int64
	lastAt  time.Time
}

// reserveDelta debits one unit from today's and this month's usage and marks
// a report pending.
func reserveDelta() usageDelta {
	return usageDelta{today: 1, month: 1, pending: 1}
}

// commitDelta settles the pending reservation and records a delivered report.
func commitDelta(at time.Time) usageDelta {
	return usageDelta{pending: -1, total: 1, lastAt: at}
}

// refundDelta returns the reserved unit. Floored at zero in the script.
func refundDelta() usageDelta {
	return usageDelta{today: -1, month: -1, pending: -1}
}

// Usage is a caller's counter snapshot.
type Usage struct {
	Day          string
	TodayUsed    int64
	Month        string
	MonthUsed    int64
	Pending      int64
	Total        int64
	LastReportAt time.Time
}

// Counters is the read side of per-caller usage tracking with daily and
// monthly rollover. All writes go through the ledger's settle script.
type Counters struct {
	rdb    *redis.Client
	logger *zap.Logger

	now func() time.Time
}

func NewCounters(rdb *redis.Client, logger *zap.Logger) *Counters {
	return &Counters{
		rdb:    rdb,
		logger: logger,
		now:    time.Now,
	}
}

// Get returns the caller's current usage. Counters for a period that has
// rolled over read as zero even before the next write resets them.
func (c *Counters) Get(ctx context.Context, caller string) (*Usage, error) {
	fields, err := c.rdb.HGetAll(ctx, usageKey(caller))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	now := c.now().UTC()
	u := &Usage{
		Day:     fields["day"],
		Month:   fields["month"],
		Pending: parseCounter(fields["pending_reports"]),
		Total:   parseCounter(fields["total_reports"]),
	}

	if u.Day == now.Format("2006-01-02") {
		u.TodayUsed = parseCounter(fields["today_used"])
	}
	if u.Month == now.Format("2006-01") {
		u.MonthUsed = parseCounter(fields["month_used"])
	}

	if ts := parseCounter(fields["last_report_ts"]); ts > 0 {
		u.LastReportAt = time.Unix(ts, 0)
	}

	return u, nil
}

func parseCounter(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
