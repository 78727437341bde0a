// Package ledger implements the idempotent credit ledger.
//
// Every billable request carries a caller-supplied request ID. The first
// Reserve for an ID debits the caller's usage counters; Commit and Refund move
// the entry to a terminal state exactly once. Replays of any operation are
// harmless no-ops, so delivery retries and crash/retry cycles never double
// charge or double refund.
//
// Entry lifecycle: reserved -> committed | refunded. The first terminal state
// wins; a Refund after Commit (or vice versa) is ignored.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dejavuplus/engine/internal/common/redis"
)

// ErrUnreachable wraps backing-store failures. The caller treats this as
// transient and must not guess whether the operation took effect.
var ErrUnreachable = errors.New("ledger store unreachable")

// ErrEmptyRequestID is returned when an operation is attempted without a
// request ID. There is no non-idempotent fallback path.
var ErrEmptyRequestID = errors.New("request id is required")

// MetaCallerKey is the metadata key holding the caller identity used for
// usage counter accounting.
const MetaCallerKey = "caller"

// Meta is free-form metadata merged into the entry on every operation.
type Meta map[string]string

// Entry is the persisted state for one request ID.
type Entry struct {
	RequestID string
	Reserved  bool
	Committed bool
	Refunded  bool
	Meta      Meta
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the entry reached a final state.
func (e *Entry) Terminal() bool {
	return e.Committed || e.Refunded
}

const (
	entryKeyPrefix = "ledger:entry:"
	indexKey       = "ledger:index"
	lockStripes    = 64
)

// Ledger stores entries in Redis hashes with an index sorted set for pruning.
// Operations on the same request ID are serialized in-process; different IDs
// never contend.
type Ledger struct {
	rdb        *redis.Client
	counters   *Counters
	logger     *zap.Logger
	maxEntries int
	entryTTL   time.Duration
	locks      [lockStripes]sync.Mutex

	now func() time.Time
}

// New creates a ledger. maxEntries bounds the index; once exceeded, entries
// with the oldest update time are pruned best-effort.
func New(rdb *redis.Client, maxEntries int, entryTTL time.Duration, logger *zap.Logger) *Ledger {
	return &Ledger{
		rdb:        rdb,
		counters:   NewCounters(rdb, logger),
		logger:     logger,
		maxEntries: maxEntries,
		entryTTL:   entryTTL,
		now:        time.Now,
	}
}

// Counters exposes the usage counter store sharing this ledger's connection.
func (l *Ledger) Counters() *Counters {
	return l.counters
}

// Reserve records a reservation for requestID and debits the caller's usage
// counters. Returns changed=true only on the first reservation; replays merge
// metadata and bump the update time without touching counters.
func (l *Ledger) Reserve(ctx context.Context, requestID string, meta Meta) (bool, error) {
	return l.mutate(ctx, requestID, meta, func(e *Entry) bool {
		if e.Reserved || e.Terminal() {
			return false
		}
		e.Reserved = true
		return true
	}, reserveDelta())
}

// Commit marks the entry delivered. Returns changed=true exactly once; a
// commit after refund is ignored (first terminal state wins), as is a commit
// replay. Commit never re-debits counters: it settles the pending reservation
// and bumps the caller's delivered total.
func (l *Ledger) Commit(ctx context.Context, requestID string, meta Meta) (bool, error) {
	return l.mutate(ctx, requestID, meta, func(e *Entry) bool {
		if !e.Reserved || e.Terminal() {
			return false
		}
		e.Committed = true
		return true
	}, commitDelta(l.now()))
}

// Refund reverses the reservation's debit, floored at zero. Returns
// changed=true exactly once; refunds after commit or refund replays are
// ignored.
func (l *Ledger) Refund(ctx context.Context, requestID string, meta Meta) (bool, error) {
	return l.mutate(ctx, requestID, meta, func(e *Entry) bool {
		if !e.Reserved || e.Terminal() {
			return false
		}
		e.Refunded = true
		return true
	}, refundDelta())
}

// Entry loads the persisted state for requestID, or nil if absent.
func (l *Ledger) Entry(ctx context.Context, requestID string) (*Entry, error) {
	if requestID == "" {
		return nil, ErrEmptyRequestID
	}

	fields, err := l.rdb.HGetAll(ctx, entryKeyPrefix+requestID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	return decodeEntry(requestID, fields), nil
}

// mutate loads (or creates) the entry, applies the transition under the
// request ID's lock, and persists. A transition that changed state persists
// its flags and the counter delta in one script, so a store failure leaves
// either both applied or neither; the retry then replays cleanly.
func (l *Ledger) mutate(
	ctx context.Context,
	requestID string,
	meta Meta,
	transition func(*Entry) bool,
	d usageDelta,
) (bool, error) {
	if requestID == "" {
		return false, ErrEmptyRequestID
	}

	lock := &l.locks[stripe(requestID)]
	lock.Lock()
	defer lock.Unlock()

	key := entryKeyPrefix + requestID

	fields, err := l.rdb.HGetAll(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	now := l.now()
	var e *Entry
	if len(fields) == 0 {
		e = &Entry{
			RequestID: requestID,
			Meta:      Meta{},
			CreatedAt: now,
		}
	} else {
		e = decodeEntry(requestID, fields)
	}

	// Meta merges on every call, replay or not
	for k, v := range meta {
		e.Meta[k] = v
	}
	e.UpdatedAt = now

	changed := transition(e)

	if changed {
		if err := l.persistWithUsage(ctx, e, d); err != nil {
			return false, err
		}
	} else if err := l.persist(ctx, e); err != nil {
		return false, err
	}

	l.pruneIfNeeded(ctx)

	return changed, nil
}

// settleScript persists the entry flags, refreshes the index, and applies the
// usage counter delta in one atomic step. Rollover resets a stale day or month
// before the delta lands, and every counter is floored at zero so refund
// replays or restarts can never drive usage negative.
//
// KEYS[1] entry hash, KEYS[2] entry index, KEYS[3] usage hash
// ARGV[1] entry TTL millis, ARGV[2] request id, ARGV[3] index score,
// ARGV[4] today, ARGV[5] month,
// ARGV[6..9] deltas today/month/pending/total, ARGV[10] lastTs
// (lastTs of 0 leaves last_report_ts untouched),
// ARGV[11..] entry field/value pairs
const settleScript = `
for i = 11, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
if tonumber(ARGV[1]) > 0 then
  redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[1]))
end
redis.call('ZADD', KEYS[2], tonumber(ARGV[3]), ARGV[2])

local usage = KEYS[3]
if redis.call('HGET', usage, 'day') ~= ARGV[4] then
  redis.call('HSET', usage, 'day', ARGV[4], 'today_used', 0)
end
if redis.call('HGET', usage, 'month') ~= ARGV[5] then
  redis.call('HSET', usage, 'month', ARGV[5], 'month_used', 0)
end

local function bump(field, delta)
  if delta ~= 0 and redis.call('HINCRBY', usage, field, delta) < 0 then
    redis.call('HSET', usage, field, 0)
  end
end

bump('today_used', tonumber(ARGV[6]))
bump('month_used', tonumber(ARGV[7]))
bump('pending_reports', tonumber(ARGV[8]))
bump('total_reports', tonumber(ARGV[9]))

if tonumber(ARGV[10]) > 0 then
  redis.call('HSET', usage, 'last_report_ts', ARGV[10])
end

return 1
`

func (l *Ledger) persistWithUsage(ctx context.Context, e *Entry, d usageDelta) error {
	now := l.now().UTC()
	var lastTs int64
	if !d.lastAt.IsZero() {
		lastTs = d.lastAt.Unix()
	}

	args := []interface{}{
		l.entryTTL.Milliseconds(),
		e.RequestID,
		e.UpdatedAt.Unix(),
		now.Format("2006-01-02"),
		now.Format("2006-01"),
		d.today, d.month, d.pending, d.total, lastTs,
		"reserved", boolField(e.Reserved),
		"committed", boolField(e.Committed),
		"refunded", boolField(e.Refunded),
		"created_ts", strconv.FormatInt(e.CreatedAt.Unix(), 10),
		"updated_ts", strconv.FormatInt(e.UpdatedAt.Unix(), 10),
	}
	for k, v := range e.Meta {
		args = append(args, "meta:"+k, v)
	}

	keys := []string{entryKeyPrefix + e.RequestID, indexKey, usageKey(e.Meta[MetaCallerKey])}
	if _, err := l.rdb.Eval(ctx, settleScript, keys, args...); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}

func (l *Ledger) persist(ctx context.Context, e *Entry) error {
	values := []interface{}{
		"reserved", boolField(e.Reserved),
		"committed", boolField(e.Committed),
		"refunded", boolField(e.Refunded),
		"created_ts", strconv.FormatInt(e.CreatedAt.Unix(), 10),
		"updated_ts", strconv.FormatInt(e.UpdatedAt.Unix(), 10),
	}
	for k, v := range e.Meta {
		values = append(values, "meta:"+k, v)
	}

	key := entryKeyPrefix + e.RequestID
	if err := l.rdb.HSetWithExpire(ctx, key, l.entryTTL, values...); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if err := l.rdb.ZAdd(ctx, indexKey, float64(e.UpdatedAt.Unix()), e.RequestID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return nil
}

// pruneIfNeeded drops the oldest entries once the index exceeds maxEntries.
// Best-effort: failures are logged, never surfaced.
func (l *Ledger) pruneIfNeeded(ctx context.Context) {
	card, err := l.rdb.ZCard(ctx, indexKey)
	if err != nil || card <= int64(l.maxEntries) {
		return
	}

	excess := card - int64(l.maxEntries)
	victims, err := l.rdb.ZPopMin(ctx, indexKey, excess)
	if err != nil {
		return
	}

	keys := make([]string, 0, len(victims))
	for _, v := range victims {
		if id, ok := v.Member.(string); ok {
			keys = append(keys, entryKeyPrefix+id)
		}
	}
	if len(keys) == 0 {
		return
	}

	if err := l.rdb.Del(ctx, keys...); err != nil {
		l.logger.Warn("Ledger prune failed", zap.Int("entries", len(keys)), zap.Error(err))
		return
	}

	l.logger.Debug("Pruned ledger entries", zap.Int("entries", len(keys)))
}

func decodeEntry(requestID string, fields map[string]string) *Entry {
	e := &Entry{
		RequestID: requestID,
		Reserved:  fields["reserved"] == "1",
		Committed: fields["committed"] == "1",
		Refunded:  fields["refunded"] == "1",
		Meta:      Meta{},
	}

	if ts, err := strconv.ParseInt(fields["created_ts"], 10, 64); err == nil {
		e.CreatedAt = time.Unix(ts, 0)
	}
	if ts, err := strconv.ParseInt(fields["updated_ts"], 10, 64); err == nil {
		e.UpdatedAt = time.Unix(ts, 0)
	}

	for k, v := range fields {
		if len(k) > 5 && k[:5] == "meta:" {
			e.Meta[k[5:]] = v
		}
	}

	return e
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func stripe(requestID string) int {
	h := 0
	for i := 0; i < len(requestID); i++ {
		h = h*31 + int(requestID[i])
	}
	if h < 0 {
		h = -h
	}
	return h % lockStripes
}
