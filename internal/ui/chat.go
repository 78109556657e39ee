package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/connection"
	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/directory"
	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/models"
	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/timeline"
)

func (a *App) showChatPage() {
	a.pages.AddPage("chat", a.createChatPage(), true, true)
	a.pages.SwitchToPage("chat")
	a.refreshContacts()
	a.updateConnectionStatus(a.conn.State())
	a.app.SetFocus(a.contactsList)
}

func (a *App) createChatPage() tview.Primitive {
	a.contactsList = tview.NewList()
	a.contactsList.SetBorder(true)
	a.contactsList.ShowSecondaryText(false)
	a.contactsList.SetHighlightFullLine(true)
	if identity, err := a.sessions.Identity(); err == nil {
		a.contactsList.SetTitle(fmt.Sprintf(" Users [%s] ", identity.Username))
	} else {
		a.contactsList.SetTitle(" Users ")
	}
	a.contactsList.SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		a.mu.RLock()
		var user models.User
		if index >= 0 && index < len(a.contactEntries) {
			user = a.contactEntries[index]
		}
		a.mu.RUnlock()
		if user.ID != 0 {
			a.selectUser(user)
		}
	})

	a.chatView = tview.NewTextView()
	a.chatView.SetBorder(true)
	a.chatView.SetTitle(" Select a user to start messaging ")
	a.chatView.SetDynamicColors(true)
	a.chatView.SetScrollable(true)

	a.messageInput = tview.NewInputField()
	a.messageInput.SetLabel("> ")
	a.messageInput.SetFieldWidth(0)
	a.messageInput.SetBorder(true)
	a.messageInput.SetTitle(" Message ")
	a.messageInput.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			text := a.messageInput.GetText()
			if text != "" {
				a.sendMessage(text)
				a.messageInput.SetText("")
			}
		}
	})

	a.connectionView = tview.NewTextView()
	a.connectionView.SetBorder(true)
	a.connectionView.SetTitle(" Connection ")
	a.connectionView.SetDynamicColors(true)
	a.connectionView.SetTextAlign(tview.AlignCenter)

	a.statusBar = tview.NewTextView()
	a.statusBar.SetTextAlign(tview.AlignCenter)
	a.statusBar.SetText(" Enter:Open/Send | Tab:Switch pane | F5:Refresh lists | F6:Reconnect | F10:Logout ")

	sidebar := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.contactsList, 0, 1, true).
		AddItem(a.connectionView, 3, 0, false)

	messagePane := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.chatView, 0, 1, false).
		AddItem(a.messageInput, 3, 0, false)

	content := tview.NewFlex().
		AddItem(sidebar, 32, 0, true).
		AddItem(messagePane, 0, 1, false)

	page := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(content, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	page.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyTab:
			if a.app.GetFocus() == a.contactsList {
				a.app.SetFocus(a.messageInput)
			} else {
				a.app.SetFocus(a.contactsList)
			}
			return nil
		case tcell.KeyF5:
			a.mu.RLock()
			stop := a.sessionStop
			a.mu.RUnlock()
			if stop != nil {
				go a.loadDirectory(context.Background())
				go a.presence.Refresh(context.Background(), a.sessions.Token())
			}
			return nil
		case tcell.KeyF6:
			a.manualReconnect()
			return nil
		case tcell.KeyF10:
			a.logout()
			return nil
		}
		return event
	})

	return page
}

// refreshContacts rebuilds the sidebar: the has-history group first, then
// everyone else, each online-first. Entries parallel the list items so
// selection maps back to a user; group headers get a zero user. The title
// carries the time of the last presence refresh, since the online markers are
// exactly that stale.
func (a *App) refreshContacts() {
	if a.contactsList == nil {
		return
	}

	title := " Users "
	if identity, err := a.sessions.Identity(); err == nil {
		title = fmt.Sprintf(" Users [%s] ", identity.Username)
	}
	if last := a.presence.LastRefreshed(); !last.IsZero() {
		title = strings.TrimSuffix(title, " ") + fmt.Sprintf(" @%s ", last.Format("15:04:05"))
	}
	a.contactsList.SetTitle(title)

	if a.sessions.Expired() {
		a.setStatus("Session token expired, log out (F10) and log in again")
	}

	a.mu.Lock()
	display := directory.MergeForDisplay(a.allUsers, a.chatUsers, a.presence)
	entries := make([]models.User, 0, len(display.WithHistory)+len(display.Others)+2)
	currentIdx := a.contactsList.GetCurrentItem()
	a.contactsList.Clear()

	addGroup := func(title string, users []models.User) {
		a.contactsList.AddItem(fmt.Sprintf("[::b]%s[-:-:-]", title), "", 0, nil)
		entries = append(entries, models.User{})
		for _, u := range users {
			marker := "[gray]○[-]"
			if a.presence.IsOnline(u.ID) {
				marker = "[green]●[-]"
			}
			label := fmt.Sprintf(" %s %s", marker, u.Username)
			if unread := a.timelines.Unread(u.ID); unread > 0 {
				label += fmt.Sprintf(" [red](%d)[-]", unread)
			}
			a.contactsList.AddItem(label, "", 0, nil)
			entries = append(entries, u)
		}
	}
	addGroup("Recent Messages", display.WithHistory)
	addGroup("All Users", display.Others)

	a.contactEntries = entries
	a.mu.Unlock()

	if currentIdx >= 0 && currentIdx < a.contactsList.GetItemCount() {
		a.contactsList.SetCurrentItem(currentIdx)
	}
}

// selectUser switches the active conversation and fetches its history. A
// result arriving after another switch is discarded by the timeline store.
func (a *App) selectUser(user models.User) {
	sel := a.timelines.Select(user)
	a.updateChatTitle(user)
	a.refreshMessages()
	a.refreshContacts()
	a.app.SetFocus(a.messageInput)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTPTimeout)
		defer cancel()

		_, err := a.timelines.LoadHistory(ctx, a.sessions.Token(), sel)
		if err != nil && !errors.Is(err, timeline.ErrSelectionChanged) {
			a.queueDraw(func() { a.setStatus("History unavailable for " + user.Username) })
		}
	}()
}

func (a *App) updateChatTitle(user models.User) {
	status := "offline"
	if a.presence.IsOnline(user.ID) {
		status = "online"
	}
	a.chatView.SetTitle(fmt.Sprintf(" Message to %s (%s) ", user.Username, status))
}

// refreshMessages re-renders the visible timeline. The sent/received split is
// recomputed from the session identity each time, never stored on messages.
func (a *App) refreshMessages() {
	if a.chatView == nil {
		return
	}
	identity, err := a.sessions.Identity()
	if err != nil {
		return
	}
	selected, ok := a.timelines.Selected()
	if !ok {
		return
	}

	var sb strings.Builder
	for _, msg := range a.timelines.Visible() {
		if timeline.Classification(msg, identity.UserID) == "sent" {
			sb.WriteString(fmt.Sprintf("[white]Me:[-] %s\n", tview.Escape(msg.Content)))
		} else {
			sb.WriteString(fmt.Sprintf("[yellow]%s:[-] %s\n", selected.Username, tview.Escape(msg.Content)))
		}
	}
	if sb.Len() == 0 {
		sb.WriteString("[gray]No message history[-]\n")
	}
	a.chatView.SetText(sb.String())
	a.chatView.ScrollToEnd()
}

// sendMessage optimistically appends and then transmits. A send attempted
// while the connection is not open leaves the visible log untouched; a
// refused send is reported but not retried automatically.
func (a *App) sendMessage(text string) {
	selected, ok := a.timelines.Selected()
	if !ok {
		a.setStatus("Select a user first")
		return
	}
	if a.conn.State() != connection.StateOpen {
		a.setStatus("Not connected, message not sent")
		return
	}

	msg := a.timelines.AppendOutgoing(text, selected.ID)
	if err := a.conn.Send(msg); err != nil {
		a.logger.Warn().Err(err).Msg("send failed")
		a.setStatus("Cannot send: " + err.Error())
	}
}

func (a *App) manualReconnect() {
	identity, err := a.sessions.Identity()
	if err != nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.DialTimeout)
		defer cancel()
		a.conn.Open(ctx, identity)
	}()
}

func (a *App) updateConnectionStatus(state connection.State) {
	if a.connectionView == nil {
		return
	}
	switch state {
	case connection.StateOpen:
		a.connectionView.SetText("[green]● connected[-]")
	case connection.StateConnecting:
		a.connectionView.SetText("[yellow]… connecting[-]")
	case connection.StateErroring:
		a.connectionView.SetText("[red]✗ connection error, F6 to retry[-]")
	default:
		a.connectionView.SetText("[gray]○ disconnected[-]")
	}
}

func (a *App) setStatus(text string) {
	if a.statusBar != nil {
		a.statusBar.SetText(" " + text + " ")
	}
}

func (a *App) logout() {
	a.endSession()
	a.pages.RemovePage("chat")
	a.contactsList = nil
	a.chatView = nil
	a.messageInput = nil
	a.connectionView = nil
	a.statusBar = nil
	a.pages.SwitchToPage("login")
}
