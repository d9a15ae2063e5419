package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ownerTTL bounds how long a crashed process keeps a job claimed. A live
// store refreshes its claim every ownerTTL/3.
const ownerTTL = 30 * time.Second

var (
	refreshOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)
)

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// RedisStore keeps a job in a list of JSON entries and a state hash. The
// job is claimed through an owner key that expires unless refreshed. Each
// flush checks the claim and runs one MULTI/EXEC transaction guarded by
// WATCH on the state key.
type RedisStore struct {
	redis  *redis.Client
	job    string
	owner  string
	owned  bool
	logger zerolog.Logger

	stop   context.CancelFunc
	done   chan struct{}
	closed bool
}

// OpenRedis connects to addr, verifies the server is reachable and claims job.
func OpenRedis(ctx context.Context, addr string, db int, job string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect checkpoint redis %s: %w", addr, err)
	}
	s, err := NewRedisStore(ctx, client, job)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewRedisStore claims job on an existing client. It returns ErrLocked when
// another store holds the job. Close releases the claim but leaves the
// client open.
func NewRedisStore(ctx context.Context, client *redis.Client, job string) (*RedisStore, error) {
	if client == nil {
		panic("redis client cannot be nil")
	}
	s := &RedisStore{
		redis:  client,
		job:    job,
		owner:  uuid.NewString(),
		logger: log.With().Str("component", "checkpoint").Str("backend", BackendRedis).Str("job", job).Logger(),
	}

	ok, err := client.SetNX(ctx, s.ownerKey(), s.owner, ownerTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("claim checkpoint job: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: job %q", ErrLocked, job)
	}

	refreshCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stop = cancel
	s.done = make(chan struct{})
	go s.keepClaim(refreshCtx)

	return s, nil
}

func (s *RedisStore) keepClaim(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(ownerTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := refreshOwner.Run(ctx, s.redis, []string{s.ownerKey()}, s.owner, ownerTTL.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn().Err(err).Msg("Failed to refresh checkpoint claim")
				}
				continue
			}
			if n == 0 {
				s.logger.Error().Msg("Checkpoint claim lost to another process")
				return
			}
		}
	}
}

func (s *RedisStore) entriesKey() string {
	return "epigraph:checkpoint:" + s.job + ":entries"
}

func (s *RedisStore) stateKey() string {
	return "epigraph:checkpoint:" + s.job + ":state"
}

func (s *RedisStore) ownerKey() string {
	return "epigraph:checkpoint:" + s.job + ":owner"
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context) (State, error) {
	return s.loadWith(ctx, s.redis)
}

func (s *RedisStore) loadWith(ctx context.Context, c hashReader) (State, error) {
	fields, err := c.HGetAll(ctx, s.stateKey()).Result()
	if err != nil {
		return State{}, fmt.Errorf("redis hgetall: %w", err)
	}

	st := State{Job: s.job}
	if len(fields) == 0 {
		return st, nil
	}

	if st.Cursor, err = strconv.Atoi(fields["cursor"]); err != nil {
		return State{}, fmt.Errorf("decode checkpoint cursor: %w", err)
	}
	st.RunID = fields["run_id"]
	if raw := fields["updated_at"]; raw != "" {
		if st.UpdatedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return State{}, fmt.Errorf("decode checkpoint timestamp: %w", err)
		}
	}
	return st, nil
}

// Flush implements Store.
func (s *RedisStore) Flush(ctx context.Context, st State, batch []Entry) error {
	start := time.Now()
	defer func() {
		checkpointFlushDuration.WithLabelValues(BackendRedis).Observe(time.Since(start).Seconds())
	}()

	payloads := make([]any, 0, len(batch))
	for _, e := range batch {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode checkpoint entry %d: %w", e.Index, err)
		}
		payloads = append(payloads, data)
	}

	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}

	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		owner, err := tx.Get(ctx, s.ownerKey()).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis get owner: %w", err)
		}
		if owner != s.owner {
			return fmt.Errorf("%w: job %q is no longer claimed by this store", ErrLocked, s.job)
		}

		current, err := s.loadWith(ctx, tx)
		if err != nil {
			return err
		}
		if err := checkCursor(current.Cursor, st.Cursor); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(payloads) > 0 {
				pipe.RPush(ctx, s.entriesKey(), payloads...)
			}
			pipe.HSet(ctx, s.stateKey(),
				"cursor", st.Cursor,
				"run_id", st.RunID,
				"updated_at", st.UpdatedAt.Format(time.RFC3339Nano),
			)
			pipe.PExpire(ctx, s.ownerKey(), ownerTTL)
			return nil
		})
		return err
	}, s.stateKey())
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("%w: concurrent flush on job %q", ErrLocked, s.job)
		}
		if errors.Is(err, ErrCursorRegression) || errors.Is(err, ErrLocked) {
			return err
		}
		return fmt.Errorf("redis checkpoint flush: %w", err)
	}

	checkpointFlushes.WithLabelValues(BackendRedis).Inc()
	checkpointEntries.WithLabelValues(BackendRedis).Add(float64(len(batch)))
	checkpointCursor.WithLabelValues(s.job).Set(float64(st.Cursor))

	s.logger.Debug().
		Int("cursor", st.Cursor).
		Int("entries", len(batch)).
		Msg("Checkpoint flushed")
	return nil
}

// Entries implements Store.
func (s *RedisStore) Entries(ctx context.Context) ([]Entry, error) {
	raws, err := s.redis.LRange(ctx, s.entriesKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}

	entries := make([]Entry, 0, len(raws))
	for i, raw := range raws {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			s.logger.Warn().Err(err).Int("position", i).Msg("Skipping unreadable checkpoint entry")
			continue
		}
		entries = append(entries, e)
	}
	return dedupe(entries), nil
}

// Reset deletes the job's entries and state. The claim is kept.
func (s *RedisStore) Reset(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.entriesKey(), s.stateKey()).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close releases the job claim, and closes the client when the store
// opened it.
func (s *RedisStore) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	if s.stop != nil {
		s.stop()
		<-s.done
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	if relErr := releaseOwner.Run(ctx, s.redis, []string{s.ownerKey()}, s.owner).Err(); relErr != nil {
		err = fmt.Errorf("release checkpoint claim: %w", relErr)
	}

	if s.owned {
		if closeErr := s.redis.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
