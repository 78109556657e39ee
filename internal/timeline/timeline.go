package timeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/models"
)

// ErrSelectionChanged is returned by LoadHistory when the fetch resolved after
// the active conversation switched; the result is discarded.
var ErrSelectionChanged = errors.New("selection changed while fetching history")

// Fetcher is the REST surface history is loaded from.
type Fetcher interface {
	Messages(ctx context.Context, token string, userID, targetUserID int64) ([]models.Message, error)
}

// Selection captures the active counterpart at the moment a fetch starts, so
// a late-arriving result can be matched against the selection it was made for.
type Selection struct {
	Counterpart models.User
	gen         uint64
}

// Store keeps one ordered message log per counterpart user and merges the
// three asynchronous origins (fetched history, live inbound frames, and
// optimistic outbound appends) into it. Messages keep arrival/creation
// order; ids from the two origins are never compared for ordering. Only the
// selected counterpart's log is rendered; inbound frames for other
// counterparts accumulate in their own logs.
type Store struct {
	fetcher Fetcher
	logger  zerolog.Logger

	mu       sync.Mutex
	selfID   int64
	logs     map[int64][]models.Message
	unread   map[int64]int
	selected models.User
	active   bool
	gen      uint64

	onUpdate func(counterpartID int64)

	localID int64
}

func NewStore(fetcher Fetcher) *Store {
	return &Store{
		fetcher: fetcher,
		logger:  log.With().Str("component", "timeline").Logger(),
		logs:    make(map[int64][]models.Message),
		unread:  make(map[int64]int),
		// Seeded from the clock so local ids stay distinguishable in logs,
		// then strictly incremented so rapid sends cannot collide.
		localID: time.Now().UnixMilli(),
	}
}

// Bind sets the session's own user id used for routing and outbound appends.
func (s *Store) Bind(selfID int64) {
	s.mu.Lock()
	s.selfID = selfID
	s.mu.Unlock()
}

// OnUpdate registers a single callback fired after any log changes, with the
// counterpart id the change landed in.
func (s *Store) OnUpdate(fn func(counterpartID int64)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// Select makes the given user the active counterpart and returns the
// selection token a subsequent LoadHistory must carry. Switching clears the
// counterpart's unread count.
func (s *Store) Select(counterpart models.User) Selection {
	s.mu.Lock()
	s.selected = counterpart
	s.active = true
	s.gen++
	delete(s.unread, counterpart.ID)
	sel := Selection{Counterpart: counterpart, gen: s.gen}
	s.mu.Unlock()
	return sel
}

// Selected returns the active counterpart, if any.
func (s *Store) Selected() (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.active
}

// LoadHistory fetches the persisted history for the selection and replaces
// that counterpart's log in full. If the selection changed while the fetch
// was in flight the result is dropped and ErrSelectionChanged returned; the
// newer selection's log is left untouched. Interleaved live appends that
// landed before the fetch resolved are kept after the fetched prefix.
func (s *Store) LoadHistory(ctx context.Context, token string, sel Selection) ([]models.Message, error) {
	s.mu.Lock()
	selfID := s.selfID
	liveMark := len(s.logs[sel.Counterpart.ID])
	s.mu.Unlock()

	history, err := s.fetcher.Messages(ctx, token, selfID, sel.Counterpart.ID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("counterpart", sel.Counterpart.ID).Msg("history fetch failed, keeping current log")
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sel.gen != s.gen {
		s.logger.Debug().Int64("counterpart", sel.Counterpart.ID).Msg("discarding stale history fetch")
		return nil, ErrSelectionChanged
	}

	// Messages delivered live while the fetch was in flight stay, appended
	// after the fetched history in their arrival order.
	live := s.logs[sel.Counterpart.ID][liveMark:]
	merged := make([]models.Message, 0, len(history)+len(live))
	merged = append(merged, history...)
	merged = append(merged, live...)
	s.logs[sel.Counterpart.ID] = merged

	s.notifyLocked(sel.Counterpart.ID)
	return copyMessages(merged), nil
}

// AppendIncoming routes one connection-delivered frame into the log of the
// counterpart it belongs to: the sender for messages addressed to us, the
// recipient for echoes of our own. Frames for a non-selected counterpart
// raise its unread count instead of touching the visible log.
func (s *Store) AppendIncoming(msg models.Message) {
	s.mu.Lock()
	counterpart := msg.SenderID
	if msg.SenderID == s.selfID {
		counterpart = msg.RecipientID
	}
	s.logs[counterpart] = append(s.logs[counterpart], msg)
	if !s.active || s.selected.ID != counterpart {
		s.unread[counterpart]++
	}
	s.notifyLocked(counterpart)
	s.mu.Unlock()
}

// AppendOutgoing builds a message from us to the counterpart with a locally
// unique id, appends it optimistically, and returns it for the caller to pass
// to the connection manager.
func (s *Store) AppendOutgoing(content string, counterpartID int64) models.Message {
	msg := models.Message{
		ID:          atomic.AddInt64(&s.localID, 1),
		SenderID:    s.selfIDSnapshot(),
		RecipientID: counterpartID,
		Content:     content,
	}

	s.mu.Lock()
	s.logs[counterpartID] = append(s.logs[counterpartID], msg)
	s.notifyLocked(counterpartID)
	s.mu.Unlock()
	return msg
}

// Visible returns a copy of the selected counterpart's log, nil when no
// conversation is active.
func (s *Store) Visible() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil
	}
	return copyMessages(s.logs[s.selected.ID])
}

// Messages returns a copy of the given counterpart's log.
func (s *Store) Messages(counterpartID int64) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMessages(s.logs[counterpartID])
}

// Unread returns the pending message count for a non-selected counterpart.
func (s *Store) Unread(counterpartID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[counterpartID]
}

// Reset drops all logs and the selection; used on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	s.logs = make(map[int64][]models.Message)
	s.unread = make(map[int64]int)
	s.selected = models.User{}
	s.active = false
	s.gen++
	s.selfID = 0
	s.mu.Unlock()
}

func (s *Store) selfIDSnapshot() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

func (s *Store) notifyLocked(counterpartID int64) {
	if s.onUpdate != nil {
		fn := s.onUpdate
		go fn(counterpartID)
	}
}

func copyMessages(msgs []models.Message) []models.Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}

// Classification of a message under a given session: "sent" when the sender
// is the session's own user, "received" otherwise. Pure function of the
// message and the identity, recomputed at render time, never stored.
func Classification(msg models.Message, sessionUserID int64) string {
	if msg.SenderID == sessionUserID {
		return "sent"
	}
	return "received"
}
