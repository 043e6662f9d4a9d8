package conversation

import (
    "context"
    "errors"
    "strconv"
    "time"

    json "github.com/goccy/go-json"
    "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "moneytree:conversation:"

// RedisStore keeps sessions in Redis so that several bot processes share
// dialog state. Expiry is delegated to the key TTL.
type RedisStore struct {
    client redis.UniversalClient
    ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
    return &RedisStore{client: client, ttl: ttl}
}

func redisKey(accountID int64) string {
    return redisKeyPrefix + strconv.FormatInt(accountID, 10)
}

func (r *RedisStore) Load(ctx context.Context, accountID int64) (Session, error) {
    return r.load(ctx, r.client, accountID)
}

type getter interface {
    Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisStore) load(ctx context.Context, c getter, accountID int64) (Session, error) {
    data, err := c.Get(ctx, redisKey(accountID)).Bytes()
    if err != nil {
        if errors.Is(err, redis.Nil) {
            return Session{State: Idle}, nil
        }
        return Session{}, err
    }
    var s Session
    if err := json.Unmarshal(data, &s); err != nil {
        return Session{}, err
    }
    if s.State == "" {
        s.State = Idle
    }
    return s, nil
}

func (r *RedisStore) Save(ctx context.Context, accountID int64, s Session) error {
    if !s.Active() {
        return r.Clear(ctx, accountID)
    }
    s.UpdatedAt = time.Now().UTC()
    data, err := json.Marshal(s)
    if err != nil {
        return err
    }
    return r.client.Set(ctx, redisKey(accountID), data, r.ttl).Err()
}

func (r *RedisStore) Clear(ctx context.Context, accountID int64) error {
    return r.client.Del(ctx, redisKey(accountID)).Err()
}

// Take deletes the key inside a WATCH transaction. A writer that touches the
// key between the read and the delete aborts the transaction, and the caller
// loses the claim.
func (r *RedisStore) Take(ctx context.Context, accountID int64, want State) (Session, bool, error) {
    key := redisKey(accountID)
    var (
        taken Session
        ok    bool
    )
    err := r.client.Watch(ctx, func(tx *redis.Tx) error {
        s, err := r.load(ctx, tx, accountID)
        if err != nil {
            return err
        }
        if !s.Active() || s.State != want {
            return nil
        }
        _, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
            pipe.Del(ctx, key)
            return nil
        })
        if err != nil {
            return err
        }
        taken, ok = s, true
        return nil
    }, key)
    if errors.Is(err, redis.TxFailedErr) {
        return Session{}, false, nil
    }
    if err != nil {
        return Session{}, false, err
    }
    return taken, ok, nil
}
