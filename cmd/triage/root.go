package main

import (
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/pders01/triage/internal/backend"
	"github.com/pders01/triage/internal/config"
	"github.com/pders01/triage/internal/debuglog"
	"github.com/pders01/triage/internal/search"
	"github.com/pders01/triage/internal/storage"
	"github.com/pders01/triage/internal/tui"
	"github.com/pders01/triage/internal/validation"
)

// rootOptions carries the persistent flags.
type rootOptions struct {
	configPath string
	dbPath     string
	backendURL string
	logLevel   string
	offline    bool
	quiet      bool
}

// clientIndex is what the bleve engine offers beyond plain search.
type clientIndex interface {
	search.Searcher
	search.UpdateListener
	search.DebugStatser
	Reindex() error
	Close() error
}

// env is everything a command needs once flags and config are resolved.
type env struct {
	cfg   *config.Config
	store *storage.Store
	api   *backend.API
	index clientIndex
}

func (e *env) Close() {
	if e.index != nil {
		if err := e.index.Close(); err != nil {
			debuglog.Warnf("closing search index: %v", err)
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			debuglog.Warnf("closing store: %v", err)
		}
	}
	_ = debuglog.Close()
}

// searcher returns the local engine: the bleve index when it opened, the
// scanning engine otherwise.
func (e *env) searcher() search.Searcher {
	if e.index != nil {
		return e.index
	}
	return search.NewEngine(e.store)
}

// remote returns the backend as a search source, or nil when there is none.
func (e *env) remote() search.RemoteSearcher {
	if e.api == nil {
		return nil
	}
	return e.api
}

// cache stores fetched clients locally and feeds them to the index.
func (e *env) cache(clients []*backend.Client) {
	if len(clients) == 0 {
		return
	}
	if err := e.store.SaveClients(clients); err != nil {
		debuglog.Warnf("caching %d clients: %v", len(clients), err)
		return
	}
	for _, l := range e.listeners() {
		l.OnClientsUpdated(clients)
	}
}

func (e *env) listeners() []search.UpdateListener {
	if e.index == nil {
		return nil
	}
	return []search.UpdateListener{e.index}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "triage",
		Short: "Classify incoming emails and look up clients",
		Long: `triage classifies emails as productive or unproductive through the
classifier backend, suggests a reply, and searches the client base as you
type.

Environment variables:
  TRIAGE_BACKEND_BASE_URL   classifier backend (default http://localhost:8000)
  TRIAGE_SEARCH_DEBOUNCE    live search settle interval (default 500ms)
  TRIAGE_LOG_LEVEL          debug, info, warn, error or off`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd, opts)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	pf.StringVar(&opts.dbPath, "db", "", "Path to database file (overrides config)")
	pf.StringVar(&opts.backendURL, "backend", "", "Classifier backend URL (overrides config)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error, off")
	pf.BoolVar(&opts.offline, "offline", false, "Search the local client cache only")
	pf.BoolVar(&opts.quiet, "quiet", false, "Skip startup banner")

	root.AddCommand(
		newSearchCmd(opts),
		newClientsCmd(opts),
		newClientCmd(opts),
		newClassifyCmd(opts),
		newHistoryCmd(opts),
		newSyncCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the configuration and applies flag overrides.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if opts.dbPath != "" {
		cfg.Database.Path = config.ExpandPath(opts.dbPath)
	}
	if opts.backendURL != "" {
		cfg.Backend.BaseURL = opts.backendURL
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.offline {
		cfg.Search.Offline = true
	}

	base, err := validation.NewBackendURLValidator().ValidateAndNormalize(cfg.Backend.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	cfg.Backend.BaseURL = base
	return cfg, nil
}

// openEnv loads config, sets up logging and opens the local store and
// search index. With a non-nil logOut and an explicit --log-level, the log
// goes to logOut instead of the log file.
func openEnv(opts *rootOptions, logOut io.Writer) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	paths := validation.NewPermissivePathHandler()

	level := debuglog.ParseLogLevel(cfg.Log.Level)
	switch {
	case level == debuglog.LevelOff:
	case logOut != nil && opts.logLevel != "":
		debuglog.SetupWriter(level, logOut)
	default:
		logPath, err := paths.LogPath(cfg.Log.File)
		if err != nil {
			return nil, fmt.Errorf("invalid log path: %w", err)
		}
		if err := debuglog.Setup(level, logPath); err != nil {
			return nil, fmt.Errorf("setting up log: %w", err)
		}
	}

	dbPath, err := paths.DBPath(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}
	store, err := storage.NewStore(dbPath, cfg.Database.Timeout)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	e := &env{cfg: cfg, store: store, api: backend.New(cfg.Backend)}

	indexPath := ""
	if cfg.Database.SearchIndex != "" {
		indexPath, err = paths.IndexPath(cfg.Database.SearchIndex)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("invalid search index path: %w", err)
		}
	}
	idx, err := search.NewBleveEngine(store, indexPath)
	if err != nil {
		// The scanning engine answers the same queries, just slower.
		debuglog.Warnf("opening search index %s: %v", indexPath, err)
	} else {
		e.index = idx
	}

	debuglog.Infof("triage %s: backend %s, db %s, offline %v", Version, cfg.Backend.BaseURL, dbPath, cfg.Search.Offline)
	return e, nil
}

func runTUI(cmd *cobra.Command, opts *rootOptions) error {
	e, err := openEnv(opts, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	if !opts.quiet {
		tui.WriteBanner(cmd.OutOrStdout(), Version)
	}

	tui.ApplyTheme(e.cfg.UI.Colors)
	app := tui.NewApp(e.store, e.api, e.cfg, tui.WithSearcher(e.searcher(), e.listeners()...))
	defer app.Close()

	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

