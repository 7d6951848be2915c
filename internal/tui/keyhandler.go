package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pders01/triage/internal/backend"
	"github.com/pders01/triage/internal/config"
)

type keyMap struct {
	Quit      key.Binding
	ForceQuit key.Binding
	Back      key.Binding
	NextView  key.Binding
	PrevView  key.Binding
	Focus     key.Binding
	Open      key.Binding
	Submit    key.Binding
	ClearFile key.Binding
	Copy      key.Binding
	Refresh   key.Binding
	Delete    key.Binding
	NextField key.Binding
}

func newKeyMap(modifier string) keyMap {
	return keyMap{
		Quit:      key.NewBinding(key.WithKeys("q"), key.WithHelp("q", "quit")),
		ForceQuit: key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
		Back:      key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		NextView:  key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next view")),
		PrevView:  key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "prev view")),
		Focus:     key.NewBinding(key.WithKeys("i", "/"), key.WithHelp("i", "edit")),
		Open:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
		Submit:    key.NewBinding(key.WithKeys(modifier+"s"), key.WithHelp(modifier+"s", "classify")),
		ClearFile: key.NewBinding(key.WithKeys(modifier+"l"), key.WithHelp(modifier+"l", "clear file")),
		Copy:      key.NewBinding(key.WithKeys(modifier+"y"), key.WithHelp(modifier+"y", "copy reply")),
		Refresh:   key.NewBinding(key.WithKeys(modifier+"r"), key.WithHelp(modifier+"r", "refresh")),
		Delete:    key.NewBinding(key.WithKeys(modifier+"x"), key.WithHelp(modifier+"x", "delete")),
		NextField: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next field")),
	}
}

type KeyHandler struct {
	app         *App
	config      *config.Config
	modifierKey string
	keys        keyMap
}

func NewKeyHandler(app *App, cfg *config.Config) *KeyHandler {
	modifierKey := cfg.Keys.Modifier + "+"
	return &KeyHandler{app: app, config: cfg, modifierKey: modifierKey, keys: newKeyMap(modifierKey)}
}

func (kh *KeyHandler) HandleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if model, cmd, handled := kh.handleActionKeys(msg); handled {
		return model, cmd
	}

	if kh.isInTextInputMode() {
		return kh.handleTextInputMode(msg)
	}

	if model, cmd, handled := kh.handleCustomKeys(msg); handled {
		return model, cmd
	}

	return kh.delegateToCharm(msg)
}

// handleActionKeys handles the modifier shortcuts, which work whether or not
// an input has focus.
func (kh *KeyHandler) handleActionKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	a := kh.app
	switch {
	case key.Matches(msg, kh.keys.ForceQuit):
		model, cmd := a.quit()
		return model, cmd, true
	case key.Matches(msg, kh.keys.Submit):
		if a.view != ViewClassify {
			return a, nil, false
		}
		return a, kh.submitClassify(), true
	case key.Matches(msg, kh.keys.ClearFile):
		if a.view != ViewClassify {
			return a, nil, false
		}
		a.fileInput.Reset()
		return a, a.flash(MsgFileCleared, StatusSuccess, kh.config.UI.FileClearedFlash), true
	case key.Matches(msg, kh.keys.Copy):
		return a, kh.copyReply(), true
	}
	return a, nil, false
}

func (kh *KeyHandler) isInTextInputMode() bool {
	switch kh.app.view {
	case ViewClassify:
		return kh.app.emailInput.Focused() || kh.app.fileInput.Focused()
	case ViewResult:
		return kh.app.replyInput.Focused()
	case ViewClients:
		return kh.app.clientInput.Focused()
	default:
		return false
	}
}

func (kh *KeyHandler) handleTextInputMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	a := kh.app

	switch {
	case key.Matches(msg, kh.keys.Back):
		a.blurAll()
		return a, nil
	case key.Matches(msg, kh.keys.NextField):
		return kh.nextField()
	}

	switch a.view {
	case ViewClassify:
		if msg.String() == "enter" && a.fileInput.Focused() {
			return a, kh.submitClassify()
		}
	case ViewClients:
		switch msg.String() {
		case "down":
			if len(a.clientList.Items()) > 0 {
				a.clientInput.Blur()
				a.clientList.Select(0)
			}
			return a, nil
		case "enter":
			if items := a.clientList.Items(); a.clientsVisible && len(items) > 0 {
				if i, ok := items[0].(clientItem); ok {
					a.openClient(i.client)
				}
			}
			return a, nil
		}
	}

	return kh.delegateToTextInput(msg)
}

// nextField moves focus forward inside the current view. Past the last
// field focus is dropped, so the next tab changes views.
func (kh *KeyHandler) nextField() (tea.Model, tea.Cmd) {
	a := kh.app
	switch a.view {
	case ViewClassify:
		if a.emailInput.Focused() {
			a.emailInput.Blur()
			return a, a.fileInput.Focus()
		}
		a.fileInput.Blur()
	case ViewClients:
		a.clientInput.Blur()
		if len(a.clientList.Items()) > 0 {
			a.clientList.Select(0)
		}
	default:
		a.blurAll()
	}
	return a, nil
}

// delegateToTextInput passes the key to the focused input. Client search
// input is forwarded to the search controller whenever it changes.
func (kh *KeyHandler) delegateToTextInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	a := kh.app
	var cmd tea.Cmd

	switch a.view {
	case ViewClassify:
		if a.fileInput.Focused() {
			a.fileInput, cmd = a.fileInput.Update(msg)
			return a, cmd
		}
		a.emailInput, cmd = a.emailInput.Update(msg)
		return a, cmd

	case ViewResult:
		a.replyInput, cmd = a.replyInput.Update(msg)
		return a, cmd

	case ViewClients:
		prev := a.clientInput.Value()
		a.clientInput, cmd = a.clientInput.Update(msg)
		if value := a.clientInput.Value(); value != prev {
			a.clients.Input(value)
		}
		return a, cmd

	default:
		return a, nil
	}
}

// handleCustomKeys handles navigation keys while no input has focus.
func (kh *KeyHandler) handleCustomKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	a := kh.app

	// The history list owns "/" and every key while its filter is typed.
	if a.view == ViewHistory && (a.historyList.SettingFilter() || msg.String() == "/") {
		return a, nil, false
	}

	switch {
	case key.Matches(msg, kh.keys.Quit):
		model, cmd := a.quit()
		return model, cmd, true
	case key.Matches(msg, kh.keys.Back):
		model, cmd := kh.navigateBack()
		return model, cmd, true
	case key.Matches(msg, kh.keys.NextView):
		return a, a.switchView(kh.cycle(1)), true
	case key.Matches(msg, kh.keys.PrevView):
		return a, a.switchView(kh.cycle(-1)), true
	case key.Matches(msg, kh.keys.Focus):
		return a, kh.focusPrimary(), true
	}

	switch a.view {
	case ViewClassify:
		if key.Matches(msg, kh.keys.Open) {
			return a, a.emailInput.Focus(), true
		}
	case ViewHistory:
		return kh.handleHistoryCustomKeys(msg)
	case ViewClientDetail:
		if key.Matches(msg, kh.keys.Refresh) && a.currentClient != nil {
			return a, tea.Batch(a.startSpinner(MsgLoadingClient), a.refreshClient(a.currentClient.ID)), true
		}
	}
	return a, nil, false
}

func (kh *KeyHandler) handleHistoryCustomKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	a := kh.app
	i, ok := a.historyList.SelectedItem().(historyItem)
	if !ok {
		return a, nil, false
	}
	switch {
	case key.Matches(msg, kh.keys.Delete):
		return a, kh.app.deleteRecord(i.record.ID), true
	case key.Matches(msg, kh.keys.Refresh):
		return a, a.loadHistory(), true
	}
	return a, nil, false
}

// cycle returns the view dir steps away in tab order, skipping the result
// view while there is nothing to show.
func (kh *KeyHandler) cycle(dir int) View {
	a := kh.app
	current := a.view
	if current == ViewClientDetail {
		current = ViewClients
	}
	idx := 0
	for i, v := range tabOrder {
		if v == current {
			idx = i
			break
		}
	}
	n := len(tabOrder)
	for step := 1; step <= n; step++ {
		v := tabOrder[((idx+dir*step)%n+n)%n]
		if v == ViewResult && a.result == nil {
			continue
		}
		return v
	}
	return a.view
}

func (kh *KeyHandler) focusPrimary() tea.Cmd {
	a := kh.app
	switch a.view {
	case ViewClassify:
		return a.emailInput.Focus()
	case ViewResult:
		return a.replyInput.Focus()
	case ViewClients, ViewClientDetail:
		a.view = ViewClients
		return a.clientInput.Focus()
	}
	return nil
}

// delegateToCharm lets the bubbles components handle keys we don't intercept.
func (kh *KeyHandler) delegateToCharm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	a := kh.app
	var cmd tea.Cmd

	switch a.view {
	case ViewResult:
		a.viewport, cmd = a.viewport.Update(msg)
		return a, cmd

	case ViewClients:
		if msg.String() == "up" && a.clientList.Index() == 0 {
			return a, a.clientInput.Focus()
		}
		a.clientList, cmd = a.clientList.Update(msg)
		if key.Matches(msg, kh.keys.Open) {
			if i, ok := a.clientList.SelectedItem().(clientItem); ok {
				a.openClient(i.client)
			}
		}
		return a, cmd

	case ViewClientDetail:
		a.detail, cmd = a.detail.Update(msg)
		return a, cmd

	case ViewHistory:
		filtering := a.historyList.FilterState() == list.Filtering
		a.historyList, cmd = a.historyList.Update(msg)
		if !filtering && key.Matches(msg, kh.keys.Open) {
			if i, ok := a.historyList.SelectedItem().(historyItem); ok {
				return kh.openRecord(i)
			}
		}
		return a, cmd

	default:
		return a, nil
	}
}

func (kh *KeyHandler) openRecord(i historyItem) (tea.Model, tea.Cmd) {
	r := i.record
	kh.app.showResult(&backend.Classification{
		Category:       r.Category,
		Reason:         r.Reason,
		SuggestedReply: r.SuggestedReply,
	}, r)
	return kh.app, nil
}

// navigateBack implements smart back navigation
func (kh *KeyHandler) navigateBack() (tea.Model, tea.Cmd) {
	a := kh.app
	switch a.view {
	case ViewClientDetail:
		a.view = ViewClients
		return a, nil
	case ViewResult, ViewHistory:
		a.switchView(ViewClassify)
		return a, nil
	case ViewClients:
		a.switchView(a.previousViewOr(ViewClassify))
		return a, nil
	default:
		return a.quit()
	}
}

func (a *App) previousViewOr(fallback View) View {
	if a.previousView == ViewClients || a.previousView == ViewClientDetail {
		return fallback
	}
	if a.previousView == ViewResult && a.result == nil {
		return fallback
	}
	return a.previousView
}

// submitClassify checks the classify form the way the web form does and
// starts a classification.
func (kh *KeyHandler) submitClassify() tea.Cmd {
	a := kh.app
	if a.classifying {
		return nil
	}
	text := strings.TrimSpace(a.emailInput.Value())
	path := strings.TrimSpace(a.fileInput.Value())
	if text == "" && path == "" {
		a.setStatus(MsgNeedInput, StatusError)
		return nil
	}
	a.classifying = true
	return tea.Batch(a.startSpinner(MsgClassifying), a.classify(text, path))
}

func (kh *KeyHandler) copyReply() tea.Cmd {
	a := kh.app
	reply := a.replyInput.Value()
	if strings.TrimSpace(reply) == "" {
		a.setStatus(MsgNothingToCopy, StatusWarn)
		return nil
	}
	if err := a.copier.WriteAll(reply); err != nil {
		log.Warnf("copying reply: %v", err)
		a.setStatus(MsgCopyFailed, StatusError)
		return nil
	}
	return a.flash(MsgCopied, StatusSuccess, kh.config.UI.ReplyCopiedFlash)
}

// GetHelpForCurrentView returns the bindings shown in the status bar.
func (kh *KeyHandler) GetHelpForCurrentView() []key.Binding {
	k := kh.keys
	if kh.isInTextInputMode() {
		switch kh.app.view {
		case ViewClassify:
			return []key.Binding{k.Submit, k.NextField, k.ClearFile, k.Back}
		case ViewResult:
			return []key.Binding{k.Copy, k.Back}
		case ViewClients:
			return []key.Binding{k.Open, k.NextField, k.Back}
		}
	}

	switch kh.app.view {
	case ViewClassify:
		return []key.Binding{k.Submit, k.Focus, k.NextView, k.Quit}
	case ViewResult:
		return []key.Binding{k.Copy, k.Focus, k.NextView, k.Back}
	case ViewClients:
		return []key.Binding{k.Open, k.Focus, k.NextView, k.Back}
	case ViewClientDetail:
		return []key.Binding{k.Refresh, k.Back}
	case ViewHistory:
		return []key.Binding{k.Open, k.Delete, k.NextView, k.Back}
	default:
		return nil
	}
}
