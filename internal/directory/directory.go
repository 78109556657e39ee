package directory

import (
	"context"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/models"
)

// Fetcher is the REST surface the directory reads user lists from.
type Fetcher interface {
	Users(ctx context.Context, token string) ([]models.User, error)
	ChatUsers(ctx context.Context, token string, userID int64) ([]models.User, error)
}

// Presence answers online lookups for display ordering.
type Presence interface {
	IsOnline(userID int64) bool
}

// Directory fetches the known users and derives the groupings the contact
// list renders: counterparts with existing history and the remainder.
type Directory struct {
	fetcher Fetcher
	logger  zerolog.Logger
}

func New(fetcher Fetcher) *Directory {
	return &Directory{
		fetcher: fetcher,
		logger:  log.With().Str("component", "directory").Logger(),
	}
}

// ListAll returns every registered user except the caller.
func (d *Directory) ListAll(ctx context.Context, token string, selfID int64) ([]models.User, error) {
	users, err := d.fetcher.Users(ctx, token)
	if err != nil {
		d.logger.Warn().Err(err).Msg("user list fetch failed")
		return nil, err
	}
	return excludeSelf(users, selfID), nil
}

// ListWithHistory returns the users the caller already has a conversation
// with, excluding the caller.
func (d *Directory) ListWithHistory(ctx context.Context, token string, selfID int64) ([]models.User, error) {
	users, err := d.fetcher.ChatUsers(ctx, token, selfID)
	if err != nil {
		d.logger.Warn().Err(err).Msg("chat user list fetch failed")
		return nil, err
	}
	return excludeSelf(users, selfID), nil
}

// Display is the two-group contact list the sidebar renders.
type Display struct {
	WithHistory []models.User
	Others      []models.User
}

// MergeForDisplay partitions all into the has-history group and the rest
// (all minus withHistory), each independently sorted online-first. The sort
// is stable: users with equal online status keep their relative order.
func MergeForDisplay(all, withHistory []models.User, presence Presence) Display {
	seen := make(map[int64]struct{}, len(withHistory))
	for _, u := range withHistory {
		seen[u.ID] = struct{}{}
	}

	others := make([]models.User, 0, len(all))
	for _, u := range all {
		if _, ok := seen[u.ID]; !ok {
			others = append(others, u)
		}
	}

	display := Display{
		WithHistory: append([]models.User(nil), withHistory...),
		Others:      others,
	}
	sortOnlineFirst(display.WithHistory, presence)
	sortOnlineFirst(display.Others, presence)
	return display
}

func sortOnlineFirst(users []models.User, presence Presence) {
	sort.SliceStable(users, func(i, j int) bool {
		return presence.IsOnline(users[i].ID) && !presence.IsOnline(users[j].ID)
	})
}

func excludeSelf(users []models.User, selfID int64) []models.User {
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.ID != selfID {
			out = append(out, u)
		}
	}
	return out
}
