package session

import (
	"context"
	"time"

	"github.com/phuslu/log"
	"github.com/redis/go-redis/v9"
)

const (
	keyActive    = "location_sharing_active"
	keyStartedAt = "location_sharing_started_at"
)

// RedisStore keeps the session in two redis keys, for deployments where the
// agent host is ephemeral but a redis instance survives restarts.
type RedisStore struct {
	rdb     *redis.Client
	log     log.Logger
	timeout time.Duration
}

func NewRedisStore(rdb *redis.Client, logger log.Logger) *RedisStore {
	o := &RedisStore{rdb: rdb, timeout: 2 * time.Second}
	o.log = logger
	o.log.Context = log.NewContext(nil).Str("module", "session-redis").Value()
	return o
}

func (r *RedisStore) Save(s Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	active := "0"
	if s.Active {
		active = "1"
	}
	err := r.rdb.Set(ctx, keyActive, active, 0).Err()
	if err != nil {
		return err
	}
	if s.Active && s.StartedAt != nil {
		return r.rdb.Set(ctx, keyStartedAt, s.StartedAt.UTC().Format(time.RFC3339), 0).Err()
	}
	// started_at is absent while inactive
	return r.rdb.Del(ctx, keyStartedAt).Err()
}

func (r *RedisStore) Load() (Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	active, err := r.rdb.Get(ctx, keyActive).Result()
	if err == redis.Nil {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, err
	}
	s := Session{Active: active == "1"}
	if !s.Active {
		return s, nil
	}
	raw, err := r.rdb.Get(ctx, keyStartedAt).Result()
	if err == redis.Nil {
		return s, nil
	}
	if err != nil {
		return Session{}, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		r.log.Error().Err(err).Str("started_at", raw).Msg("discarding unparseable session start")
		return Session{Active: false}, nil
	}
	s.StartedAt = &t
	return s, nil
}
