package ui

import (
	"context"
	"errors"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/api"
	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/models"
)

func (a *App) createLoginPage() tview.Primitive {
	form := tview.NewForm()
	form.SetBorder(true)
	form.SetTitle(" Login to Secure Messaging ")

	errorText := tview.NewTextView()
	errorText.SetTextColor(tcell.ColorRed)
	errorText.SetTextAlign(tview.AlignCenter)

	usernameField := tview.NewInputField().SetLabel("Username: ").SetFieldWidth(30)
	passwordField := tview.NewInputField().SetLabel("Password: ").SetFieldWidth(30).SetMaskCharacter('*')
	form.AddFormItem(usernameField)
	form.AddFormItem(passwordField)

	form.AddButton("Login", func() {
		username := usernameField.GetText()
		password := passwordField.GetText()
		if username == "" || password == "" {
			errorText.SetText("Please enter username and password")
			return
		}
		errorText.SetText("")
		a.doLogin(username, password, errorText)
	})
	form.AddButton("Register", func() {
		errorText.SetText("")
		a.pages.SwitchToPage("register")
	})
	form.AddButton("Quit", func() {
		a.quit()
	})

	return centered(stack(form, errorText), 56, 13)
}

func (a *App) createRegisterPage() tview.Primitive {
	form := tview.NewForm()
	form.SetBorder(true)
	form.SetTitle(" Register for Secure Messaging ")

	errorText := tview.NewTextView()
	errorText.SetTextColor(tcell.ColorRed)
	errorText.SetTextAlign(tview.AlignCenter)

	usernameField := tview.NewInputField().SetLabel("Username: ").SetFieldWidth(30)
	passwordField := tview.NewInputField().SetLabel("Password: ").SetFieldWidth(30).SetMaskCharacter('*')
	form.AddFormItem(usernameField)
	form.AddFormItem(passwordField)

	form.AddButton("Register", func() {
		username := usernameField.GetText()
		password := passwordField.GetText()
		if username == "" || password == "" {
			errorText.SetText("Please enter username and password")
			return
		}
		errorText.SetText("")
		a.doRegister(username, password, errorText)
	})
	form.AddButton("Back to Login", func() {
		errorText.SetText("")
		a.pages.SwitchToPage("login")
	})

	return centered(stack(form, errorText), 56, 12)
}

func (a *App) doLogin(username, password string, errorText *tview.TextView) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTPTimeout)
		defer cancel()

		login, err := a.apiClient.Login(ctx, username, password)
		if err != nil {
			a.queueDraw(func() {
				if errors.Is(err, api.ErrUnauthorized) {
					errorText.SetText("Invalid username or password")
				} else {
					errorText.SetText("Login failed: " + err.Error())
				}
			})
			return
		}

		identity := models.Identity{
			UserID:   login.UserID,
			Username: login.Username,
			Token:    login.AccessToken,
		}
		a.startSession(identity)
		a.queueDraw(func() { a.showChatPage() })
	}()
}

// doRegister surfaces the server's detail string verbatim on failure and
// stays on the form; success returns to the login page.
func (a *App) doRegister(username, password string, errorText *tview.TextView) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTPTimeout)
		defer cancel()

		if err := a.apiClient.Register(ctx, username, password); err != nil {
			a.queueDraw(func() { errorText.SetText(err.Error()) })
			return
		}
		a.queueDraw(func() { a.pages.SwitchToPage("login") })
	}()
}

func stack(form *tview.Form, errorText *tview.TextView) tview.Primitive {
	return tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(form, 0, 1, true).
		AddItem(errorText, 1, 0, false)
}

func centered(p tview.Primitive, width, height int) tview.Primitive {
	return tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(p, width, 0, true).
			AddItem(nil, 0, 1, false), height, 0, true).
		AddItem(nil, 0, 1, false)
}
