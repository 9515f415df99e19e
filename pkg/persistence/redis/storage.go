package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/osvaldoandrade/fpilot/pkg/domain"
	"github.com/osvaldoandrade/fpilot/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

const pruneBatch = 100

var runStatuses = []domain.RunStatus{domain.RunPending, domain.RunRunning, domain.RunSucceeded, domain.RunFailed}

func keyStrategiesHash() string { return "fpilot:strategies" }
func keyOwnerStrategies(owner string) string {
	return fmt.Sprintf("fpilot:strategies:owner:%s", owner)
}
func keyProfilesHash() string { return "fpilot:profiles" }
func keyRunsHash() string     { return "fpilot:runs" }
func keyOwnerRuns(owner string) string {
	return fmt.Sprintf("fpilot:runs:owner:%s", owner)
}
func keyRunStatus(status domain.RunStatus) string {
	return fmt.Sprintf("fpilot:runs:status:%s", status)
}
func keyRunsTTL() string { return "fpilot:runs:ttl" }

// strategyStorage keeps strategies as JSON in one hash with a per-owner
// index ordered by creation time.
type strategyStorage struct {
	rdb *redis.Client
}

func (s *strategyStorage) Create(ctx context.Context, st *domain.Strategy) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal strategy: %w", err)
	}
	ok, err := s.rdb.HSetNX(ctx, keyStrategiesHash(), st.ID, string(b)).Result()
	if err != nil {
		return fmt.Errorf("redis HSETNX strategy: %w", err)
	}
	if !ok {
		return persistence.ErrAlreadyExists
	}
	if err := s.rdb.ZAdd(ctx, keyOwnerStrategies(st.Owner), &redis.Z{Score: float64(st.CreatedAt.UnixMilli()), Member: st.ID}).Err(); err != nil {
		return fmt.Errorf("redis ZADD owner index: %w", err)
	}
	return nil
}

func (s *strategyStorage) Update(ctx context.Context, st *domain.Strategy) error {
	if _, err := s.Get(ctx, st.Owner, st.ID); err != nil {
		return err
	}
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal strategy: %w", err)
	}
	if err := s.rdb.HSet(ctx, keyStrategiesHash(), st.ID, string(b)).Err(); err != nil {
		return fmt.Errorf("redis HSET strategy: %w", err)
	}
	return nil
}

func (s *strategyStorage) Get(ctx context.Context, owner, id string) (*domain.Strategy, error) {
	js, err := s.rdb.HGet(ctx, keyStrategiesHash(), id).Result()
	if err == redis.Nil || (err == nil && js == "") {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis HGET strategy: %w", err)
	}
	var st domain.Strategy
	if err := json.Unmarshal([]byte(js), &st); err != nil {
		return nil, fmt.Errorf("unmarshal strategy: %w", err)
	}
	if st.Owner != owner {
		return nil, persistence.ErrNotFound
	}
	return &st, nil
}

func (s *strategyStorage) List(ctx context.Context, owner string) ([]*domain.Strategy, error) {
	ids, err := s.rdb.ZRevRange(ctx, keyOwnerStrategies(owner), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis ZREVRANGE owner index: %w", err)
	}
	out := make([]*domain.Strategy, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	vals, err := s.rdb.HMGet(ctx, keyStrategiesHash(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HMGET strategies: %w", err)
	}
	for _, v := range vals {
		js, ok := v.(string)
		if !ok || js == "" {
			continue
		}
		var st domain.Strategy
		if err := json.Unmarshal([]byte(js), &st); err != nil {
			return nil, fmt.Errorf("unmarshal strategy: %w", err)
		}
		if st.Owner == owner {
			out = append(out, &st)
		}
	}
	return out, nil
}

func (s *strategyStorage) Delete(ctx context.Context, owner, id string) error {
	if _, err := s.Get(ctx, owner, id); err != nil {
		return err
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, keyStrategiesHash(), id)
		pipe.ZRem(ctx, keyOwnerStrategies(owner), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete strategy: %w", err)
	}
	return nil
}

type profileStorage struct {
	rdb *redis.Client
}

func (s *profileStorage) GetRiskSettings(ctx context.Context, owner string) (*domain.RiskSettings, error) {
	js, err := s.rdb.HGet(ctx, keyProfilesHash(), owner).Result()
	if err == redis.Nil || (err == nil && js == "") {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis HGET profile: %w", err)
	}
	var settings domain.RiskSettings
	if err := json.Unmarshal([]byte(js), &settings); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	return &settings, nil
}

func (s *profileStorage) SaveRiskSettings(ctx context.Context, owner string, settings domain.RiskSettings) error {
	b, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := s.rdb.HSet(ctx, keyProfilesHash(), owner, string(b)).Err(); err != nil {
		return fmt.Errorf("redis HSET profile: %w", err)
	}
	return nil
}

// runStorage keeps run records in one hash, indexed per owner by creation
// time and per status for the metrics collector. Expired runs are pruned
// lazily on write through a TTL index, like queue cleanup.
type runStorage struct {
	rdb       *redis.Client
	tz        *time.Location
	retention time.Duration
}

func (s *runStorage) now() time.Time { return time.Now().In(s.tz) }

func (s *runStorage) SaveRun(ctx context.Context, rec *domain.RunRecord) error {
	prev, err := s.load(ctx, rec.ID)
	if err != nil && err != persistence.ErrNotFound {
		return err
	}
	if prev != nil && prev.Owner != rec.Owner {
		return persistence.ErrAlreadyExists
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, keyRunsHash(), rec.ID, string(b))
		pipe.ZAdd(ctx, keyOwnerRuns(rec.Owner), &redis.Z{Score: float64(rec.CreatedAt.UnixMilli()), Member: rec.ID})
		for _, st := range runStatuses {
			if st != rec.Status {
				pipe.SRem(ctx, keyRunStatus(st), rec.ID)
			}
		}
		pipe.SAdd(ctx, keyRunStatus(rec.Status), rec.ID)
		if s.retention > 0 {
			pipe.ZAdd(ctx, keyRunsTTL(), &redis.Z{Score: float64(rec.CreatedAt.Add(s.retention).Unix()), Member: rec.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save run: %w", err)
	}
	if s.retention > 0 {
		if _, err := s.prune(ctx, pruneBatch); err != nil {
			return err
		}
	}
	return nil
}

func (s *runStorage) GetRun(ctx context.Context, owner, id string) (*domain.RunRecord, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Owner != owner || s.expired(rec) {
		return nil, persistence.ErrNotFound
	}
	return rec, nil
}

func (s *runStorage) ListRuns(ctx context.Context, owner string, limit int) ([]*domain.RunRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.rdb.ZRevRange(ctx, keyOwnerRuns(owner), 0, stop).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis ZREVRANGE runs: %w", err)
	}
	out := make([]*domain.RunRecord, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	vals, err := s.rdb.HMGet(ctx, keyRunsHash(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HMGET runs: %w", err)
	}
	for _, v := range vals {
		js, ok := v.(string)
		if !ok || js == "" {
			continue
		}
		var rec domain.RunRecord
		if err := json.Unmarshal([]byte(js), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal run: %w", err)
		}
		if rec.Owner == owner && !s.expired(&rec) {
			out = append(out, &rec)
		}
	}
	return out, nil
}

func (s *runStorage) load(ctx context.Context, id string) (*domain.RunRecord, error) {
	js, err := s.rdb.HGet(ctx, keyRunsHash(), id).Result()
	if err == redis.Nil || (err == nil && js == "") {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis HGET run: %w", err)
	}
	var rec domain.RunRecord
	if err := json.Unmarshal([]byte(js), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &rec, nil
}

func (s *runStorage) expired(rec *domain.RunRecord) bool {
	return s.retention > 0 && rec.CreatedAt.Before(s.now().Add(-s.retention))
}

// prune removes up to limit runs whose retention has passed.
func (s *runStorage) prune(ctx context.Context, limit int) (int, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, keyRunsTTL(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(s.now().Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("redis ZRANGEBYSCORE runs ttl: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	vals, err := s.rdb.HMGet(ctx, keyRunsHash(), ids...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis HMGET runs: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			if js, ok := vals[i].(string); ok && js != "" {
				var rec domain.RunRecord
				if json.Unmarshal([]byte(js), &rec) == nil {
					pipe.ZRem(ctx, keyOwnerRuns(rec.Owner), id)
				}
			}
			pipe.HDel(ctx, keyRunsHash(), id)
			for _, st := range runStatuses {
				pipe.SRem(ctx, keyRunStatus(st), id)
			}
			pipe.ZRem(ctx, keyRunsTTL(), id)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis prune runs: %w", err)
	}
	return len(ids), nil
}
