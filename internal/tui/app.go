package tui

import (
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/triage/internal/backend"
	"github.com/pders01/triage/internal/config"
	"github.com/pders01/triage/internal/debuglog"
	"github.com/pders01/triage/internal/search"
	"github.com/pders01/triage/internal/searchctl"
	"github.com/pders01/triage/internal/storage"
)

var log = debuglog.Component("tui")

// Copier puts text on the system clipboard.
type Copier interface {
	WriteAll(text string) error
}

type systemClipboard struct{}

func (systemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

type Option func(*App)

// WithSearcher sets the local engine used offline and as the fallback when
// the backend is unreachable.
func WithSearcher(s search.Searcher, listeners ...search.UpdateListener) Option {
	return func(a *App) {
		a.localSearch = s
		a.listeners = listeners
	}
}

// WithClientSearch replaces the whole client search pipeline.
func WithClientSearch(fn search.ClientSearch) Option {
	return func(a *App) { a.searchFn = fn }
}

func WithCopier(c Copier) Option {
	return func(a *App) { a.copier = c }
}

type App struct {
	config     *config.Config
	store      *storage.Store
	api        *backend.API
	keyHandler *KeyHandler
	copier     Copier

	localSearch search.Searcher
	listeners   []search.UpdateListener
	searchFn    search.ClientSearch
	clients     *searchctl.Controller[[]*backend.Client]
	dispatch    chan func()
	done        chan struct{}

	emailInput  textarea.Model
	fileInput   textinput.Model
	replyInput  textarea.Model
	clientInput textinput.Model
	clientList  list.Model
	historyList list.Model
	viewport    viewport.Model
	detail      viewport.Model
	spinner     spinner.Model
	help        help.Model

	view         View
	previousView View

	classifying    bool
	result         *backend.Classification
	resultRecord   *storage.ClassificationRecord
	clientsVisible bool
	clientNotice   string
	clientFailed   bool
	currentClient  *backend.Client
	history        []*storage.ClassificationRecord

	status     string
	statusKind StatusKind
	statusSeq  int
	loading    bool

	width           int
	height          int
	glamourRenderer *glamour.TermRenderer
	rendererWidth   int
}

func NewApp(store *storage.Store, api *backend.API, cfg *config.Config, opts ...Option) *App {
	email := textarea.New()
	email.Placeholder = "Paste the email body here…"
	email.ShowLineNumbers = false
	email.CharLimit = 0
	email.Focus()

	file := textinput.New()
	file.Placeholder = "Optional: path to a .txt or .pdf file"
	file.Prompt = "file › "

	reply := textarea.New()
	reply.Placeholder = "The suggested reply shows up here. Edit it before copying."
	reply.ShowLineNumbers = false
	reply.CharLimit = 0

	ci := textinput.New()
	ci.Placeholder = "Name, CPF, client number or email…"
	ci.Prompt = "› "

	clientList := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	clientList.Title = "› clients"
	clientList.SetShowStatusBar(false)
	clientList.SetShowHelp(false)
	clientList.SetFilteringEnabled(false)

	historyList := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	historyList.Title = "› history"
	historyList.SetShowStatusBar(false)
	historyList.SetFilteringEnabled(true)
	historyList.SetShowHelp(false)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(AccentColor)

	app := &App{
		config:       cfg,
		store:        store,
		api:          api,
		copier:       systemClipboard{},
		dispatch:     make(chan func(), 16),
		done:         make(chan struct{}),
		emailInput:   email,
		fileInput:    file,
		replyInput:   reply,
		clientInput:  ci,
		clientList:   clientList,
		historyList:  historyList,
		viewport:     viewport.New(0, 0),
		detail:       viewport.New(0, 0),
		spinner:      sp,
		help:         help.New(),
		view:         ViewClassify,
		previousView: ViewClassify,
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.localSearch == nil && store != nil {
		app.localSearch = search.NewEngine(store)
	}
	if app.searchFn == nil {
		app.searchFn = app.clientSearch()
	}

	ctlOpts := []searchctl.Option{
		searchctl.WithDebounce(cfg.Search.Debounce),
		searchctl.WithMinLength(cfg.Search.MinQueryLength),
		searchctl.WithDispatcher(app.post),
		searchctl.WithLogger(debuglog.Component("searchctl")),
	}
	if cfg.Search.AbortSuperseded {
		ctlOpts = append(ctlOpts, searchctl.WithAbortSuperseded())
	}
	app.clients = searchctl.New(app.searchFn, searchctl.Handlers[[]*backend.Client]{
		OnResult: app.showClients,
		OnError:  app.clientSearchFailed,
		OnClear:  app.hideClients,
	}, ctlOpts...)

	app.keyHandler = NewKeyHandler(app, cfg)

	return app
}

// clientSearch builds the search pipeline: the backend first, cached
// locally, falling back to the local engine. Offline mode skips the
// backend entirely.
func (a *App) clientSearch() search.ClientSearch {
	var remote search.RemoteSearcher
	if a.api != nil {
		remote = a.api
	}
	var saver search.ClientSaver
	if a.store != nil {
		saver = a.store
	}
	return search.Pipeline(remote, saver, a.localSearch, a.config.Search.ResultLimit, a.config.Search.Offline, a.listeners...)
}

// post hands fn to the event loop. It gives up once the app has shut down
// so timer goroutines never block forever.
func (a *App) post(fn func()) {
	select {
	case a.dispatch <- fn:
	case <-a.done:
	}
}

// waitForDispatch delivers the next posted function as a dispatchMsg.
func (a *App) waitForDispatch() tea.Cmd {
	return func() tea.Msg {
		select {
		case fn := <-a.dispatch:
			return dispatchMsg{fn: fn}
		case <-a.done:
			return nil
		}
	}
}

// Close stops pending searches and releases the dispatcher.
func (a *App) Close() {
	a.clients.Cancel()
	select {
	case <-a.done:
	default:
		close(a.done)
	}
}

func (a *App) quit() (tea.Model, tea.Cmd) {
	a.Close()
	return a, tea.Quit
}

func (a *App) getRenderer() (*glamour.TermRenderer, error) {
	wordWrapWidth := (a.width * 9) / 10
	if wordWrapWidth > 120 {
		wordWrapWidth = 120
	}
	if wordWrapWidth < 40 {
		wordWrapWidth = 40
	}
	if a.width < 50 {
		wordWrapWidth = a.width - 4
		if wordWrapWidth < 20 {
			wordWrapWidth = 20
		}
	}

	if a.glamourRenderer == nil || abs(a.rendererWidth-wordWrapWidth) > 10 {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(wordWrapWidth),
		)
		if err != nil {
			return nil, err
		}
		a.glamourRenderer = r
		a.rendererWidth = wordWrapWidth
	}

	return a.glamourRenderer, nil
}

// renderMarkdown renders md for the viewports, falling back to the raw
// text when glamour fails.
func (a *App) renderMarkdown(md string) string {
	r, err := a.getRenderer()
	if err != nil {
		log.Warnf("initializing renderer: %v", err)
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		log.Warnf("rendering markdown: %v", err)
		return md
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(
		a.waitForDispatch(),
		a.loadHistory(),
		textarea.Blink,
		tea.EnterAltScreen,
	)
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.resize(msg.Width, msg.Height)
		return a, nil

	case tea.KeyMsg:
		return a.keyHandler.HandleKey(msg)

	case dispatchMsg:
		// Searchctl deliveries run here, on the event loop.
		if msg.fn != nil {
			msg.fn()
		}
		return a, a.waitForDispatch()

	case spinner.TickMsg:
		if !a.loading {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case clearStatusMsg:
		if msg.seq == a.statusSeq {
			a.status = ""
			a.statusKind = StatusInfo
		}
		return a, nil

	case classifiedMsg:
		a.classifying = false
		a.stopSpinner()
		if msg.err != nil {
			log.Warnf("classification failed: %v", msg.err)
			a.setStatus(classifyErrorText(msg.err), StatusError)
			return a, nil
		}
		a.showResult(msg.result, msg.record)
		a.setStatus(MsgClassified(msg.result.Category), StatusSuccess)
		return a, a.loadHistory()

	case historyLoadedMsg:
		a.history = msg.records
		items := make([]list.Item, len(msg.records))
		for i, rec := range msg.records {
			items[i] = historyItem{record: rec}
		}
		return a, a.historyList.SetItems(items)

	case recordDeletedMsg:
		if msg.err != nil {
			a.setStatus(msg.err.Error(), StatusError)
			return a, nil
		}
		a.setStatus(MsgRecordDeleted, StatusSuccess)
		return a, a.loadHistory()

	case clientLoadedMsg:
		a.stopSpinner()
		if msg.err != nil {
			a.setStatus(msg.err.Error(), StatusError)
			return a, nil
		}
		a.openClient(msg.client)
		return a, nil

	case errorMsg:
		a.setStatus(msg.err.Error(), StatusError)
		return a, nil
	}

	return a, nil
}

func (a *App) resize(width, height int) {
	a.width = width
	a.height = height

	inputWidth := width - 8
	if inputWidth < 20 {
		inputWidth = width
	}
	a.emailInput.SetWidth(inputWidth)
	a.emailInput.SetHeight(max(3, height/2-4))
	a.fileInput.Width = inputWidth - len(a.fileInput.Prompt)
	a.clientInput.Width = inputWidth - len(a.clientInput.Prompt)

	a.replyInput.SetWidth(inputWidth)
	a.replyInput.SetHeight(6)
	a.viewport.Width = width
	a.viewport.Height = max(3, height-3-2-a.replyInput.Height()-2)

	a.clientList.SetSize(width, max(5, height-10))
	a.historyList.SetSize(width, max(5, height-3))
	a.detail.Width = width
	a.detail.Height = max(3, height-3)
}

// Status handling.

func (a *App) setStatus(text string, kind StatusKind) {
	a.statusSeq++
	a.status = text
	a.statusKind = kind
}

// flash shows text for d, then clears it unless something newer replaced it.
func (a *App) flash(text string, kind StatusKind, d time.Duration) tea.Cmd {
	a.setStatus(text, kind)
	seq := a.statusSeq
	return tea.Tick(d, func(time.Time) tea.Msg { return clearStatusMsg{seq: seq} })
}

func (a *App) startSpinner(text string) tea.Cmd {
	a.loading = true
	a.setStatus(text, StatusInfo)
	return a.spinner.Tick
}

func (a *App) stopSpinner() {
	a.loading = false
}

// Searchctl handlers. They run on the event loop: OnClear from Input,
// the others from a dispatchMsg.

func (a *App) showClients(clients []*backend.Client) {
	a.clientsVisible = true
	a.clientFailed = false
	items := make([]list.Item, len(clients))
	for i, c := range clients {
		items[i] = clientItem{client: c}
	}
	a.clientList.SetItems(items)
	a.clientList.Select(0)
	if len(clients) == 0 {
		a.clientNotice = MsgNoClients
		return
	}
	a.clientNotice = MsgClientsCount(len(clients))
}

func (a *App) clientSearchFailed(err error) {
	log.Warnf("client search failed: %v", err)
	a.clientsVisible = true
	a.clientFailed = true
	a.clientList.SetItems([]list.Item{})
	a.clientNotice = MsgClientSearchFailed
}

func (a *App) hideClients() {
	a.clientsVisible = false
	a.clientFailed = false
	a.clientNotice = ""
	a.clientList.SetItems([]list.Item{})
}

// showResult fills the result view and syncs the suggested reply into the
// editable reply area.
func (a *App) showResult(res *backend.Classification, rec *storage.ClassificationRecord) {
	a.result = res
	a.resultRecord = rec
	a.viewport.SetContent(a.renderMarkdown(classificationMarkdown(res, rec)))
	a.viewport.GotoTop()
	a.replyInput.SetValue(res.SuggestedReply)
	a.replyInput.Blur()
	a.switchView(ViewResult)
}

func (a *App) openClient(c *backend.Client) {
	a.currentClient = c
	a.detail.SetContent(a.renderMarkdown(clientMarkdown(c)))
	a.detail.GotoTop()
	a.previousView = a.view
	a.view = ViewClientDetail
}

// switchView moves to v and puts focus where typing is expected there.
func (a *App) switchView(v View) tea.Cmd {
	if v != a.view {
		a.previousView = a.view
	}
	a.view = v
	a.blurAll()
	if v == ViewClients {
		return a.clientInput.Focus()
	}
	return nil
}

func (a *App) blurAll() {
	a.emailInput.Blur()
	a.fileInput.Blur()
	a.replyInput.Blur()
	a.clientInput.Blur()
}

func (a *App) View() string {
	contentHeight := a.height - 3
	var content string

	switch a.view {
	case ViewClassify:
		content = a.classifyView()
	case ViewResult:
		content = a.resultView()
	case ViewClients:
		content = a.clientsView()
	case ViewClientDetail:
		content = a.detail.View()
	case ViewHistory:
		if len(a.history) == 0 {
			content = renderCentered(a.width, contentHeight, GetCompactBanner(MsgHistoryEmpty))
		} else {
			content = a.historyList.View()
		}
	}

	content = lipgloss.NewStyle().
		Width(a.width).
		Height(contentHeight).
		MaxHeight(contentHeight).
		Render(content)

	separatorWidth := a.width - 2
	if separatorWidth < 0 {
		separatorWidth = 0
	}
	separator := SeparatorStyle.Render("─" + strings.Repeat("─", separatorWidth))

	return lipgloss.JoinVertical(lipgloss.Top, content, separator, a.statusBar())
}

func (a *App) classifyView() string {
	if a.width == 0 {
		return GetWelcomeMessage()
	}
	inputWidth := a.emailInput.Width()
	file := a.fileInput.View()
	if !a.fileInput.Focused() && a.fileInput.Value() != "" {
		file = a.fileInput.Prompt + truncateMiddle(a.fileInput.Value(), inputWidth-len(a.fileInput.Prompt))
	}
	subtitle := "Paste the email text, point at a file, or both"
	if a.classifying {
		subtitle = a.spinner.View() + " " + MsgClassifying
	}
	return lipgloss.JoinVertical(
		lipgloss.Top,
		TitleStyle.Render(CompactLogo+" classify"),
		"",
		renderHeader("› email", subtitle, a.width),
		renderInputFrame(a.emailInput.View(), a.emailInput.Focused(), inputWidth),
		renderInputFrame(file, a.fileInput.Focused(), inputWidth),
	)
}

func (a *App) resultView() string {
	subtitle := ""
	if a.resultRecord != nil {
		subtitle = TimeStyle.Render(a.resultRecord.CreatedAt.Format("Jan 2, 15:04"))
	}
	return lipgloss.JoinVertical(
		lipgloss.Top,
		renderHeader("› result", subtitle, a.width),
		a.viewport.View(),
		HeaderStyle.Render("› reply"),
		renderInputFrame(a.replyInput.View(), a.replyInput.Focused(), a.replyInput.Width()),
	)
}

func (a *App) clientsView() string {
	notice := renderMuted(MsgSearchHint(a.config.Search.MinQueryLength))
	switch state := a.clients.State(); {
	case state == searchctl.StatePending || state == searchctl.StateInFlight:
		notice = renderMuted(MsgSearching)
	case a.clientFailed:
		notice = StatusErrorStyle.Render(a.clientNotice)
	case a.clientNotice != "":
		notice = renderMuted(a.clientNotice)
	}

	rows := []string{
		renderHeader("› client search", "", a.width),
		"",
		renderInputFrame(a.clientInput.View(), a.clientInput.Focused(), a.clientInput.Width+len(a.clientInput.Prompt)),
		notice,
	}
	if a.clientsVisible && len(a.clientList.Items()) > 0 {
		rows = append(rows, "", a.clientList.View())
	}
	return lipgloss.JoinVertical(lipgloss.Top, rows...)
}

func (a *App) statusBar() string {
	bindings := a.keyHandler.GetHelpForCurrentView()
	helpText := a.help.ShortHelpView(bindings)

	if a.status == "" {
		return StatusBarStyle.Width(a.width).Render(helpText)
	}

	text := a.statusKind.icon() + a.status
	if a.loading {
		text = a.spinner.View() + " " + a.status
	}
	left := a.statusKind.style().Render(text)
	return StatusBarStyle.Width(a.width).Render(lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", helpText))
}

// Reply returns the current contents of the editable reply area.
func (a *App) Reply() string {
	return a.replyInput.Value()
}

type clientItem struct {
	client *backend.Client
}

func (i clientItem) Title() string {
	c := i.client
	return ClientNameStyle.Render(c.Name) + " " + renderBadge(c.ContractStatus(), c.ContractUpToDate)
}

func (i clientItem) Description() string {
	c := i.client
	parts := []string{"CPF " + c.CPF, c.Number, c.Email}
	if c.InvestorProfile != "" {
		parts = append(parts, c.InvestorProfile)
	}
	if birth := c.Birth(); !birth.IsZero() {
		parts = append(parts, "born "+birth.Format("02/01/2006"))
	}
	if assets := c.Assets(); assets != "" {
		parts = append(parts, "assets: "+oneLine(assets))
	}
	return renderMuted(truncateEnd(strings.Join(parts, " • "), 160))
}

func (i clientItem) FilterValue() string { return i.client.Name }

type historyItem struct {
	record *storage.ClassificationRecord
}

func (i historyItem) Title() string {
	r := i.record
	category := r.Category
	if category == "" {
		category = "—"
	}
	productive := (&backend.Classification{Category: r.Category}).Productive()
	return renderBadge(category, productive) + TimeStyle.Render(" • "+r.CreatedAt.Format("Jan 2, 15:04"))
}

func (i historyItem) Description() string {
	r := i.record
	desc := r.Excerpt
	if r.Source == storage.SourceFile && r.FileName != "" {
		desc = truncateMiddle(r.FileName, 40) + " • " + desc
	}
	return renderMuted(truncateEnd(desc, 120))
}

func (i historyItem) FilterValue() string {
	return i.record.Category + " " + i.record.Excerpt + " " + i.record.FileName
}

type dispatchMsg struct {
	fn func()
}

type clearStatusMsg struct {
	seq int
}

type classifiedMsg struct {
	result *backend.Classification
	record *storage.ClassificationRecord
	err    error
}

type historyLoadedMsg struct {
	records []*storage.ClassificationRecord
}

type recordDeletedMsg struct {
	err error
}

type clientLoadedMsg struct {
	client *backend.Client
	err    error
}

type errorMsg struct {
	err error
}
