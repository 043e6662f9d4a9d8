package conversation

import (
    "context"
    "sync"
    "time"
)

type MemoryStore struct {
    mu       sync.Mutex
    sessions map[int64]Session
    ttl      time.Duration
    now      func() time.Time
}

// NewMemoryStore keeps sessions until cleared when ttl is zero.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
    return &MemoryStore{
        sessions: make(map[int64]Session),
        ttl:      ttl,
        now:      time.Now,
    }
}

func (m *MemoryStore) Load(_ context.Context, accountID int64) (Session, error) {
    m.mu.Lock()
    defer m.mu.Unlock()

    return m.load(accountID), nil
}

func (m *MemoryStore) load(accountID int64) Session {
    s, ok := m.sessions[accountID]
    if !ok {
        return Session{State: Idle}
    }
    if m.ttl > 0 && m.now().Sub(s.UpdatedAt) >= m.ttl {
        delete(m.sessions, accountID)
        return Session{State: Idle}
    }
    return s
}

func (m *MemoryStore) Take(_ context.Context, accountID int64, want State) (Session, bool, error) {
    m.mu.Lock()
    defer m.mu.Unlock()

    s := m.load(accountID)
    if !s.Active() || s.State != want {
        return Session{}, false, nil
    }
    delete(m.sessions, accountID)
    return s, true, nil
}

func (m *MemoryStore) Save(_ context.Context, accountID int64, s Session) error {
    m.mu.Lock()
    defer m.mu.Unlock()

    if !s.Active() {
        delete(m.sessions, accountID)
        return nil
    }
    s.UpdatedAt = m.now()
    m.sessions[accountID] = s
    return nil
}

func (m *MemoryStore) Clear(_ context.Context, accountID int64) error {
    m.mu.Lock()
    defer m.mu.Unlock()

    delete(m.sessions, accountID)
    return nil
}
