package conversation

import (
    "context"
    "sync"
    "testing"
    "time"

    "github.com/alicebob/miniredis/v2"
    "github.com/redis/go-redis/v9"
    "github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
    t.Helper()
    mr := miniredis.RunT(t)
    client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    t.Cleanup(func() { _ = client.Close() })
    return NewRedisStore(client, ttl), mr
}

func testStoreRoundTrip(t *testing.T, s Store) {
    ctx := context.Background()

    sess, err := s.Load(ctx, 7)
    require.NoError(t, err)
    require.Equal(t, Idle, sess.State)

    require.NoError(t, s.Save(ctx, 7, Session{State: AwaitingAccount, Amount: 250, Method: "bKash"}))
    sess, err = s.Load(ctx, 7)
    require.NoError(t, err)
    require.Equal(t, AwaitingAccount, sess.State)
    require.Equal(t, int64(250), sess.Amount)
    require.Equal(t, "bKash", sess.Method)
    require.False(t, sess.UpdatedAt.IsZero())

    other, err := s.Load(ctx, 8)
    require.NoError(t, err)
    require.Equal(t, Idle, other.State)

    require.NoError(t, s.Clear(ctx, 7))
    sess, err = s.Load(ctx, 7)
    require.NoError(t, err)
    require.Equal(t, Idle, sess.State)

    require.NoError(t, s.Save(ctx, 7, Session{State: AwaitingAmount}))
    require.NoError(t, s.Save(ctx, 7, Session{State: Idle}))
    sess, err = s.Load(ctx, 7)
    require.NoError(t, err)
    require.Equal(t, Idle, sess.State)
    require.False(t, sess.Active())
}

func testStoreTake(t *testing.T, s Store) {
    ctx := context.Background()

    _, ok, err := s.Take(ctx, 7, AwaitingAccount)
    require.NoError(t, err)
    require.False(t, ok)

    require.NoError(t, s.Save(ctx, 7, Session{State: AwaitingMethod, Amount: 250}))
    _, ok, err = s.Take(ctx, 7, AwaitingAccount)
    require.NoError(t, err)
    require.False(t, ok)
    sess, err := s.Load(ctx, 7)
    require.NoError(t, err)
    require.Equal(t, AwaitingMethod, sess.State)

    require.NoError(t, s.Save(ctx, 7, Session{State: AwaitingAccount, Amount: 250, Method: "nagad"}))
    taken, ok, err := s.Take(ctx, 7, AwaitingAccount)
    require.NoError(t, err)
    require.True(t, ok)
    require.Equal(t, int64(250), taken.Amount)
    require.Equal(t, "nagad", taken.Method)

    sess, err = s.Load(ctx, 7)
    require.NoError(t, err)
    require.Equal(t, Idle, sess.State)
    _, ok, err = s.Take(ctx, 7, AwaitingAccount)
    require.NoError(t, err)
    require.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
    testStoreRoundTrip(t, NewMemoryStore(0))
    testStoreTake(t, NewMemoryStore(0))
}

func TestRedisStore(t *testing.T) {
    s, _ := newRedisStore(t, 0)
    testStoreRoundTrip(t, s)
    testStoreTake(t, s)
}

func TestRedisTakeIsExclusiveAcrossClients(t *testing.T) {
    mr := miniredis.RunT(t)
    ctx := context.Background()

    stores := make([]*RedisStore, 4)
    for i := range stores {
        client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
        t.Cleanup(func() { _ = client.Close() })
        stores[i] = NewRedisStore(client, time.Hour)
    }

    for round := 0; round < 20; round++ {
        require.NoError(t, stores[0].Save(ctx, 5, Session{State: AwaitingAccount, Amount: 200, Method: "bkash"}))

        var wg sync.WaitGroup
        results := make(chan bool, len(stores))
        for _, s := range stores {
            wg.Add(1)
            go func(s *RedisStore) {
                defer wg.Done()
                _, ok, err := s.Take(ctx, 5, AwaitingAccount)
                results <- ok && err == nil
            }(s)
        }
        wg.Wait()
        close(results)

        won := 0
        for ok := range results {
            if ok {
                won++
            }
        }
        require.Equal(t, 1, won, "round %d", round)
    }
}

func TestMemoryStoreExpires(t *testing.T) {
    now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
    m := NewMemoryStore(10 * time.Minute)
    m.now = func() time.Time { return now }
    ctx := context.Background()

    require.NoError(t, m.Save(ctx, 1, Session{State: AwaitingMethod, Amount: 300}))

    now = now.Add(9 * time.Minute)
    sess, err := m.Load(ctx, 1)
    require.NoError(t, err)
    require.Equal(t, AwaitingMethod, sess.State)

    now = now.Add(time.Minute)
    sess, err = m.Load(ctx, 1)
    require.NoError(t, err)
    require.Equal(t, Idle, sess.State)
}

func TestRedisStoreExpires(t *testing.T) {
    s, mr := newRedisStore(t, 10*time.Minute)
    ctx := context.Background()

    require.NoError(t, s.Save(ctx, 1, Session{State: AwaitingAmount}))
    require.Equal(t, 10*time.Minute, mr.TTL(redisKey(1)))

    mr.FastForward(11 * time.Minute)
    sess, err := s.Load(ctx, 1)
    require.NoError(t, err)
    require.Equal(t, Idle, sess.State)
}

func TestRedisStoreRejectsCorruptPayload(t *testing.T) {
    s, mr := newRedisStore(t, 0)
    require.NoError(t, mr.Set(redisKey(3), "{not json"))

    _, err := s.Load(context.Background(), 3)
    require.Error(t, err)
}
