package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/models"
)

// Fetcher is the REST surface the tracker polls.
type Fetcher interface {
	OnlineUsers(ctx context.Context, token string) ([]models.User, error)
}

// Tracker maintains the set of currently online users. The set is stored once,
// keyed by user id, with a username index kept alongside so both lookup forms
// read the same data. Each refresh replaces the whole set; the set is exactly
// as fresh as the last successful refresh.
type Tracker struct {
	fetcher Fetcher
	logger  zerolog.Logger

	mu        sync.RWMutex
	byID      map[int64]struct{}
	idByName  map[string]int64
	refreshed time.Time

	onChange func()
}

func NewTracker(fetcher Fetcher) *Tracker {
	return &Tracker{
		fetcher:  fetcher,
		logger:   log.With().Str("component", "presence").Logger(),
		byID:     make(map[int64]struct{}),
		idByName: make(map[string]int64),
	}
}

// OnChange registers a single callback fired after each successful refresh.
func (t *Tracker) OnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Refresh fetches the online set and replaces the tracked one in full. On
// fetch failure the previous set is left unchanged and the error is returned.
func (t *Tracker) Refresh(ctx context.Context, token string) error {
	users, err := t.fetcher.OnlineUsers(ctx, token)
	if err != nil {
		t.logger.Warn().Err(err).Msg("online-users refresh failed, keeping previous set")
		return err
	}

	byID := make(map[int64]struct{}, len(users))
	idByName := make(map[string]int64, len(users))
	for _, u := range users {
		byID[u.ID] = struct{}{}
		idByName[u.Username] = u.ID
	}

	t.mu.Lock()
	t.byID = byID
	t.idByName = idByName
	t.refreshed = time.Now()
	onChange := t.onChange
	t.mu.Unlock()

	t.logger.Debug().Int("online", len(users)).Msg("presence refreshed")
	if onChange != nil {
		onChange()
	}
	return nil
}

// Run polls at the given interval until the context is cancelled. An
// immediate first refresh brings the set up before the first tick.
func (t *Tracker) Run(ctx context.Context, token string, interval time.Duration) {
	t.Refresh(ctx, token)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Refresh(ctx, token)
		}
	}
}

// IsOnline reports whether the user id is in the online set.
func (t *Tracker) IsOnline(userID int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byID[userID]
	return ok
}

// IsOnlineUsername reports whether the username is in the online set.
func (t *Tracker) IsOnlineUsername(username string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.idByName[username]
	return ok
}

// LastRefreshed returns when the set was last replaced, zero if never.
func (t *Tracker) LastRefreshed() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.refreshed
}
