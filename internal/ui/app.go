package ui

import (
	"context"
	"sync"

	"github.com/rivo/tview"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/api"
	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/config"
	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/connection"
	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/directory"
	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/models"
	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/presence"
	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/session"
	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/timeline"
)

// App is the terminal client: login/register forms, the two-group contact
// sidebar, and the message pane for the active conversation.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	app   *tview.Application
	pages *tview.Pages

	apiClient *api.Client
	sessions  *session.Store
	conn      *connection.Manager
	presence  *presence.Tracker
	timelines *timeline.Store
	dir       *directory.Directory

	mu          sync.RWMutex
	allUsers    []models.User
	chatUsers   []models.User
	sessionStop context.CancelFunc

	contactsList   *tview.List
	contactEntries []models.User // parallel to selectable list items
	chatView       *tview.TextView
	messageInput   *tview.InputField
	connectionView *tview.TextView
	statusBar      *tview.TextView
}

func NewApp(cfg *config.Config) *App {
	apiClient := api.NewClient(cfg.ServerURL, cfg.HTTPTimeout)

	a := &App{
		cfg:       cfg,
		logger:    log.With().Str("component", "ui").Logger(),
		apiClient: apiClient,
		sessions:  session.NewStore(),
		timelines: timeline.NewStore(apiClient),
		presence:  presence.NewTracker(apiClient),
		dir:       directory.New(apiClient),
		conn: connection.NewManager(cfg.WebSocketURL, cfg.DialTimeout, connection.Backoff{
			Base:       cfg.ReconnectBase,
			Cap:        cfg.ReconnectCap,
			MaxRetries: cfg.ReconnectTries,
		}),
	}

	a.conn.OnMessage(a.timelines.AppendIncoming)
	a.conn.OnStateChange(func(s connection.State) {
		a.queueDraw(func() { a.updateConnectionStatus(s) })
	})
	a.timelines.OnUpdate(func(counterpartID int64) {
		a.queueDraw(func() {
			a.refreshMessages()
			a.refreshContacts()
		})
	})
	a.presence.OnChange(func() {
		a.queueDraw(func() { a.refreshContacts() })
	})
	return a
}

// Run starts the terminal application on the login page.
func (a *App) Run() error {
	a.app = tview.NewApplication()
	a.pages = tview.NewPages()

	a.pages.AddPage("login", a.createLoginPage(), true, true)
	a.pages.AddPage("register", a.createRegisterPage(), true, false)

	return a.app.SetRoot(a.pages, true).EnableMouse(false).Run()
}

// queueDraw schedules work on the UI goroutine; safe before Run as well.
func (a *App) queueDraw(fn func()) {
	if a.app == nil {
		return
	}
	go a.app.QueueUpdateDraw(fn)
}

// startSession wires everything up after a successful login: websocket,
// presence polling, directory fetches.
func (a *App) startSession(identity models.Identity) {
	a.sessions.Begin(identity)
	a.timelines.Bind(identity.UserID)

	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.sessionStop = cancel
	a.mu.Unlock()

	go func() {
		if err := a.conn.Open(ctx, identity); err != nil {
			a.logger.Error().Err(err).Msg("websocket open failed")
		}
	}()
	go a.presence.Run(ctx, identity.Token, a.cfg.PresencePoll)
	go a.loadDirectory(ctx)
}

// endSession is the logout path: connection teardown plus explicit clearing of
// the client-held state (credential, own id, own username).
func (a *App) endSession() {
	a.mu.Lock()
	if a.sessionStop != nil {
		a.sessionStop()
		a.sessionStop = nil
	}
	a.allUsers = nil
	a.chatUsers = nil
	a.contactEntries = nil
	a.mu.Unlock()

	a.conn.Close()
	a.timelines.Reset()
	a.sessions.Clear()
}

// loadDirectory fetches both user lists. On failure the previous lists stay
// and the status bar reports it.
func (a *App) loadDirectory(ctx context.Context) {
	identity, err := a.sessions.Identity()
	if err != nil {
		return
	}

	all, err := a.dir.ListAll(ctx, identity.Token, identity.UserID)
	if err != nil {
		a.queueDraw(func() { a.setStatus("User list unavailable, showing last known") })
		return
	}
	withHistory, err := a.dir.ListWithHistory(ctx, identity.Token, identity.UserID)
	if err != nil {
		a.queueDraw(func() { a.setStatus("Conversation list unavailable, showing last known") })
		return
	}

	a.mu.Lock()
	a.allUsers = all
	a.chatUsers = withHistory
	a.mu.Unlock()

	a.queueDraw(func() { a.refreshContacts() })
}

func (a *App) quit() {
	a.endSession()
	a.app.Stop()
}
