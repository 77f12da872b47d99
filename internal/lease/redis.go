package lease

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-seating/internal/logger"

	"github.com/go-redis/redis/v8"
)

const (
	seatKeyPrefix    = "seat:hold:"
	sessionKeyPrefix = "seat:session:"
)

// SeatKey is the lease key for one seat of one event. The event id is a hash
// tag so that a seat key and its session index always live in the same slot.
func SeatKey(eventID, seatID string) string {
	return fmt.Sprintf("%s{%s}:%s", seatKeyPrefix, eventID, seatID)
}

// SessionKey is the set of seat ids a session has leased for an event.
func SessionKey(eventID, sessionID string) string {
	return fmt.Sprintf("%s{%s}:%s", sessionKeyPrefix, eventID, sessionID)
}

// ParseSeatKey is the inverse of SeatKey.
func ParseSeatKey(key string) (eventID, seatID string, ok bool) {
	rest, found := strings.CutPrefix(key, seatKeyPrefix+"{")
	if !found {
		return "", "", false
	}
	end := strings.Index(rest, "}:")
	if end <= 0 || end+2 >= len(rest) {
		return "", "", false
	}
	return rest[:end], rest[end+2:], true
}

// KEYS[1] seat key, KEYS[2] session index
// ARGV[1] owner, ARGV[2] ttl in ms, ARGV[3] seat id
var acquireScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
	redis.call('SADD', KEYS[2], ARGV[3])
	if redis.call('PTTL', KEYS[2]) < tonumber(ARGV[2]) then
		redis.call('PEXPIRE', KEYS[2], ARGV[2])
	end
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
redis.call('SREM', KEYS[2], ARGV[2])
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	if redis.call('PTTL', KEYS[2]) < tonumber(ARGV[2]) then
		redis.call('PEXPIRE', KEYS[2], ARGV[2])
	end
	return 1
end
redis.call('SREM', KEYS[2], ARGV[3])
return 0
`)

// Info describes the live lease on a seat.
type Info struct {
	EventID string        `json:"event_id"`
	SeatID  string        `json:"seat_id"`
	Held    bool          `json:"held"`
	Owner   string        `json:"owner,omitempty"`
	TTL     time.Duration `json:"-"`
	TTLSecs int64         `json:"ttl_seconds"`
}

// Result is the outcome of a multi-seat lease operation. Every requested seat
// appears in exactly one of the two slices.
type Result struct {
	Succeeded []string
	Failed    []string
}

type RedisStore struct {
	Client *redis.Client
	Logger *logger.Logger
}

func NewRedisStore(client *redis.Client, log *logger.Logger) *RedisStore {
	if log == nil {
		log = logger.NewConsoleLogger(nil)
	}
	return &RedisStore{
		Client: client,
		Logger: log,
	}
}

// Acquire leases one seat to owner if nobody holds it.
func (r *RedisStore) Acquire(ctx context.Context, eventID, seatID, owner string, ttl time.Duration) (bool, error) {
	res, err := r.AcquireMany(ctx, eventID, []string{seatID}, owner, ttl)
	if err != nil {
		return false, err
	}
	return len(res.Succeeded) == 1, nil
}

// Release deletes the lease only if owner still holds it.
func (r *RedisStore) Release(ctx context.Context, eventID, seatID, owner string) (bool, error) {
	res, err := r.ReleaseMany(ctx, eventID, []string{seatID}, owner)
	if err != nil {
		return false, err
	}
	return len(res.Succeeded) == 1, nil
}

// Extend resets the lease TTL only if owner still holds it.
func (r *RedisStore) Extend(ctx context.Context, eventID, seatID, owner string, ttl time.Duration) (bool, error) {
	res, err := r.ExtendMany(ctx, eventID, []string{seatID}, owner, ttl)
	if err != nil {
		return false, err
	}
	return len(res.Succeeded) == 1, nil
}

// AcquireMany runs one conditional set per seat in a single round trip. It
// does not roll anything back; callers decide what a partial result means.
func (r *RedisStore) AcquireMany(ctx context.Context, eventID string, seatIDs []string, owner string, ttl time.Duration) (Result, error) {
	return r.runPerSeat(ctx, "ACQUIRE", acquireScript, eventID, seatIDs, owner, ttl.Milliseconds())
}

func (r *RedisStore) ReleaseMany(ctx context.Context, eventID string, seatIDs []string, owner string) (Result, error) {
	return r.runPerSeat(ctx, "RELEASE", releaseScript, eventID, seatIDs, owner, 0)
}

func (r *RedisStore) ExtendMany(ctx context.Context, eventID string, seatIDs []string, owner string, ttl time.Duration) (Result, error) {
	return r.runPerSeat(ctx, "EXTEND", extendScript, eventID, seatIDs, owner, ttl.Milliseconds())
}

func (r *RedisStore) runPerSeat(ctx context.Context, action string, script *redis.Script, eventID string, seatIDs []string, owner string, ttlMs int64) (Result, error) {
	var res Result
	if len(seatIDs) == 0 {
		return res, nil
	}
	if action != "RELEASE" && ttlMs <= 0 {
		return res, fmt.Errorf("lease ttl must be positive, got %dms", ttlMs)
	}

	sessionKey := SessionKey(eventID, owner)
	pipe := r.Client.Pipeline()
	cmds := make([]*redis.Cmd, len(seatIDs))
	for i, seatID := range seatIDs {
		keys := []string{SeatKey(eventID, seatID), sessionKey}
		if action == "RELEASE" {
			cmds[i] = script.Eval(ctx, pipe, keys, owner, seatID)
		} else {
			cmds[i] = script.Eval(ctx, pipe, keys, owner, ttlMs, seatID)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("lease %s pipeline for event %s: %w", strings.ToLower(action), eventID, err)
	}

	for i, cmd := range cmds {
		n, err := cmd.Int64()
		if err != nil {
			return Result{}, fmt.Errorf("lease %s for seat %s: %w", strings.ToLower(action), seatIDs[i], err)
		}
		if n == 1 {
			res.Succeeded = append(res.Succeeded, seatIDs[i])
		} else {
			res.Failed = append(res.Failed, seatIDs[i])
		}
	}

	r.Logger.LogLease(action, SessionKey(eventID, owner), fmt.Sprintf("ok=%d failed=%d", len(res.Succeeded), len(res.Failed)))
	return res, nil
}

func (r *RedisStore) Exists(ctx context.Context, eventID, seatID string) (bool, error) {
	n, err := r.Client.Exists(ctx, SeatKey(eventID, seatID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking lease for seat %s: %w", seatID, err)
	}
	return n == 1, nil
}

// ExistsMany reports lease presence for every seat in one round trip.
func (r *RedisStore) ExistsMany(ctx context.Context, eventID string, seatIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(seatIDs))
	if len(seatIDs) == 0 {
		return out, nil
	}

	pipe := r.Client.Pipeline()
	cmds := make([]*redis.IntCmd, len(seatIDs))
	for i, seatID := range seatIDs {
		cmds[i] = pipe.Exists(ctx, SeatKey(eventID, seatID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("checking leases for event %s: %w", eventID, err)
	}
	for i, cmd := range cmds {
		out[seatIDs[i]] = cmd.Val() == 1
	}
	return out, nil
}

// OwnerOf returns the session holding the seat; ok is false when no lease exists.
func (r *RedisStore) OwnerOf(ctx context.Context, eventID, seatID string) (owner string, ok bool, err error) {
	owner, err = r.Client.Get(ctx, SeatKey(eventID, seatID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading lease owner for seat %s: %w", seatID, err)
	}
	return owner, true, nil
}

// TTLOf returns the time left on the lease, or 0 if there is none.
func (r *RedisStore) TTLOf(ctx context.Context, eventID, seatID string) (time.Duration, error) {
	d, err := r.Client.PTTL(ctx, SeatKey(eventID, seatID)).Result()
	if err != nil {
		return 0, fmt.Errorf("reading lease ttl for seat %s: %w", seatID, err)
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (r *RedisStore) Inspect(ctx context.Context, eventID, seatID string) (Info, error) {
	info := Info{EventID: eventID, SeatID: seatID}

	pipe := r.Client.Pipeline()
	get := pipe.Get(ctx, SeatKey(eventID, seatID))
	ttl := pipe.PTTL(ctx, SeatKey(eventID, seatID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return info, fmt.Errorf("inspecting lease for seat %s: %w", seatID, err)
	}

	owner, err := get.Result()
	if errors.Is(err, redis.Nil) {
		return info, nil
	}
	if err != nil {
		return info, fmt.Errorf("inspecting lease for seat %s: %w", seatID, err)
	}
	info.Held = true
	info.Owner = owner
	if d := ttl.Val(); d > 0 {
		info.TTL = d
		info.TTLSecs = int64(d.Round(time.Second) / time.Second)
	}
	return info, nil
}

// HeldBy returns the seats the session still owns for the event. Index
// members whose lease expired or moved to another session are pruned.
func (r *RedisStore) HeldBy(ctx context.Context, eventID, sessionID string) ([]string, error) {
	sessionKey := SessionKey(eventID, sessionID)
	members, err := r.Client.SMembers(ctx, sessionKey).Result()
	if err != nil {
		return nil, fmt.Errorf("reading session index %s: %w", sessionKey, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := r.Client.Pipeline()
	gets := make([]*redis.StringCmd, len(members))
	for i, seatID := range members {
		gets[i] = pipe.Get(ctx, SeatKey(eventID, seatID))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("resolving session index %s: %w", sessionKey, err)
	}

	var held, stale []string
	for i, cmd := range gets {
		owner, err := cmd.Result()
		switch {
		case err == nil && owner == sessionID:
			held = append(held, members[i])
		case err == nil || errors.Is(err, redis.Nil):
			stale = append(stale, members[i])
		default:
			return nil, fmt.Errorf("resolving seat %s: %w", members[i], err)
		}
	}

	if len(stale) > 0 {
		args := make([]interface{}, len(stale))
		for i, s := range stale {
			args[i] = s
		}
		if err := r.Client.SRem(ctx, sessionKey, args...).Err(); err != nil {
			r.Logger.Warn("LEASE", fmt.Sprintf("Failed to prune %d stale members from %s: %v", len(stale), sessionKey, err))
		} else {
			r.Logger.LogLease("PRUNE", sessionKey, fmt.Sprintf("removed %d stale seats", len(stale)))
		}
	}
	return held, nil
}
