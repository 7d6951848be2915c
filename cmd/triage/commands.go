package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/pders01/triage/internal/backend"
	"github.com/pders01/triage/internal/config"
	"github.com/pders01/triage/internal/search"
	"github.com/pders01/triage/internal/storage"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	labelStyle  = lipgloss.NewStyle().Bold(true)
)

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		limit      int
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Search clients by name, CPF, number or email",
		Long: `Searches the backend for clients and caches the hits locally.
With --offline, or when the backend cannot be reached, the local cache is
searched instead.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			query := strings.TrimSpace(strings.Join(args, " "))
			if len([]rune(query)) < e.cfg.Search.MinQueryLength {
				return fmt.Errorf("query must be at least %d characters", e.cfg.Search.MinQueryLength)
			}
			if limit <= 0 {
				limit = e.cfg.Search.ResultLimit
			}

			fn := search.Pipeline(e.remote(), e.store, e.searcher(), limit, e.cfg.Search.Offline, e.listeners()...)

			ctx, cancel := context.WithTimeout(cmd.Context(), e.cfg.Backend.RequestTimeout())
			defer cancel()

			clients, err := fn(ctx, query)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			return printClients(cmd.OutOrStdout(), clients, outputJSON)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print results as JSON")
	return cmd
}

func newClientsCmd(opts *rootOptions) *cobra.Command {
	var (
		limit      int
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "clients",
		Short: "List clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			var clients []*backend.Client
			if e.cfg.Search.Offline {
				clients, err = e.store.AllClients()
				if err != nil {
					return fmt.Errorf("reading client cache: %w", err)
				}
				if n := backend.ClampLimit(limit); len(clients) > n {
					clients = clients[:n]
				}
			} else {
				ctx, cancel := context.WithTimeout(cmd.Context(), e.cfg.Backend.RequestTimeout())
				defer cancel()

				resp, err := e.api.ListClients(ctx, limit)
				if err != nil {
					return err
				}
				clients = resp.Clients
				e.cache(clients)
			}
			return printClients(cmd.OutOrStdout(), clients, outputJSON)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", backend.DefaultListLimit, fmt.Sprintf("Maximum number of clients (at most %d)", backend.MaxListLimit))
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print clients as JSON")
	return cmd
}

func newClientCmd(opts *rootOptions) *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "client <id>",
		Short: "Show one client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid client id %q", args[0])
			}

			e, err := openEnv(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			var c *backend.Client
			if e.cfg.Search.Offline {
				c, err = e.store.GetClient(id)
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("client %d is not in the local cache", id)
				}
			} else {
				ctx, cancel := context.WithTimeout(cmd.Context(), e.cfg.Backend.RequestTimeout())
				defer cancel()

				c, err = e.api.GetClient(ctx, id)
				if errors.Is(err, backend.ErrNotFound) {
					return fmt.Errorf("client %d not found", id)
				}
				if err == nil {
					e.cache([]*backend.Client{c})
				}
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				return writeJSON(out, c)
			}
			printClient(out, c)
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print the client as JSON")
	return cmd
}

func newClassifyCmd(opts *rootOptions) *cobra.Command {
	var (
		text       string
		file       string
		noSave     bool
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify an email as productive or unproductive",
		Long: `Sends the email text and/or a .txt or .pdf file to the classifier and
prints the category, the reason and a suggested reply. Use --text - to read
the text from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if text == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				text = string(data)
			}

			req := backend.ClassifyRequest{Text: text}
			source := storage.SourceText
			if file != "" {
				fileReq, err := backend.FileRequest(file, text)
				if err != nil {
					return err
				}
				req = fileReq
				source = storage.SourceFile
			}
			if err := backend.ValidateClassify(req); err != nil {
				return err
			}

			e, err := openEnv(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), e.cfg.Backend.RequestTimeout())
			defer cancel()

			res, err := e.api.Classify(ctx, req)
			if err != nil {
				return fmt.Errorf("classification failed: %w", err)
			}

			if !noSave {
				rec := &storage.ClassificationRecord{
					Source:         source,
					FileName:       req.FileName,
					Excerpt:        strings.TrimSpace(text),
					Category:       res.Category,
					Reason:         res.Reason,
					SuggestedReply: res.SuggestedReply,
					BackendURL:     e.api.BaseURL(),
				}
				if err := e.store.SaveClassification(rec); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: could not save to history: %v\n", err)
				}
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				return writeJSON(out, res)
			}
			fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Category:"), res.Category)
			fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Reason:"), res.Reason)
			fmt.Fprintf(out, "\n%s\n%s\n", labelStyle.Render("Suggested reply:"), res.SuggestedReply)
			return nil
		},
	}

	cmd.Flags().StringVarP(&text, "text", "t", "", "Email text, or - to read stdin")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Email file (.txt or .pdf)")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "Do not record the result in history")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print the result as JSON")
	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		limit      int
		deleteID   string
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently classified emails",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			out := cmd.OutOrStdout()
			if deleteID != "" {
				if err := e.store.DeleteClassification(deleteID); err != nil {
					return fmt.Errorf("deleting %s: %w", deleteID, err)
				}
				fmt.Fprintf(out, "Deleted %s\n", deleteID)
				return nil
			}

			records, err := e.store.RecentClassifications(limit)
			if err != nil {
				return fmt.Errorf("loading history: %w", err)
			}
			if outputJSON {
				return writeJSON(out, records)
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "No classifications yet.")
				return nil
			}

			t := newTable("When", "Category", "Source", "Email", "ID")
			for _, r := range records {
				what := r.Excerpt
				if r.FileName != "" {
					what = r.FileName
				}
				t.Row(r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Category, string(r.Source), storage.Excerpt(what), r.ID)
			}
			fmt.Fprintln(out, t.Render())
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries")
	cmd.Flags().StringVar(&deleteID, "delete", "", "Delete the entry with this ID")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print history as JSON")
	return cmd
}

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh the local client cache from the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			out := cmd.OutOrStdout()
			if status {
				return printSyncStatus(out, e)
			}
			if e.cfg.Search.Offline {
				return errors.New("cannot sync while offline")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), e.cfg.Backend.RequestTimeout())
			defer cancel()

			if err := e.api.Health(ctx); err != nil {
				return fmt.Errorf("backend unreachable: %w", err)
			}
			resp, err := e.api.ListClients(ctx, backend.MaxListLimit)
			if err != nil {
				return err
			}
			if err := e.store.SaveClients(resp.Clients); err != nil {
				return fmt.Errorf("saving clients: %w", err)
			}
			if e.index != nil {
				if err := e.index.Reindex(); err != nil {
					return fmt.Errorf("rebuilding search index: %w", err)
				}
			}
			if err := e.store.SetLastSync(time.Now()); err != nil {
				return fmt.Errorf("recording sync time: %w", err)
			}
			if err := e.store.SetMeta(storage.MetaSyncBackend, e.api.BaseURL()); err != nil {
				return fmt.Errorf("recording sync backend: %w", err)
			}

			fmt.Fprintf(out, "Synced %d clients from %s\n", len(resp.Clients), e.api.BaseURL())
			return printSyncStatus(out, e)
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "Show cache status without syncing")
	return cmd
}

func printSyncStatus(out io.Writer, e *env) error {
	count, err := e.store.ClientCount()
	if err != nil {
		return fmt.Errorf("counting clients: %w", err)
	}
	fmt.Fprintf(out, "Cached clients: %d\n", count)

	last, err := e.store.LastSync()
	switch {
	case err != nil:
		return fmt.Errorf("reading last sync: %w", err)
	case last.IsZero():
		fmt.Fprintln(out, "Last sync: never")
	default:
		from, _ := e.store.GetMeta(storage.MetaSyncBackend)
		fmt.Fprintf(out, "Last sync: %s (%s)\n", last.Local().Format(time.RFC1123), from)
	}

	if e.index != nil {
		if docs, err := e.index.DocCount(); err == nil {
			fmt.Fprintf(out, "Indexed documents: %d\n", docs)
		}
	}
	return nil
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	generate := &cobra.Command{
		Use:   "generate [path]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultConfigPath()
			if len(args) == 1 {
				path = config.ExpandPath(args[0])
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.GenerateDefaultConfig(path); err != nil {
				return fmt.Errorf("failed to generate config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated default configuration at: %s\n", path)
			return nil
		},
	}
	generate.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			out, err := config.Render(cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.AddCommand(generate, show)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "triage %s\n", Version)
			fmt.Fprintln(out, "Email triage and client lookup")
			fmt.Fprintln(out, "github.com/pders01/triage")
		},
	}
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func printClients(out io.Writer, clients []*backend.Client, outputJSON bool) error {
	if outputJSON {
		if clients == nil {
			clients = []*backend.Client{}
		}
		return writeJSON(out, clients)
	}
	if len(clients) == 0 {
		fmt.Fprintln(out, "No clients found.")
		return nil
	}

	t := newTable("ID", "Name", "CPF", "Number", "Email", "Status")
	for _, c := range clients {
		t.Row(strconv.Itoa(c.ID), c.Name, c.CPF, c.Number, c.Email, c.ContractStatus())
	}
	fmt.Fprintln(out, t.Render())
	fmt.Fprintf(out, "%d client(s)\n", len(clients))
	return nil
}

func printClient(out io.Writer, c *backend.Client) {
	field := func(label, value string) {
		if value == "" {
			value = "-"
		}
		fmt.Fprintf(out, "%s %s\n", labelStyle.Width(8).Render(label), value)
	}
	field("ID:", strconv.Itoa(c.ID))
	field("Name:", c.Name)
	field("CPF:", c.CPF)
	field("Number:", c.Number)
	field("Email:", c.Email)
	field("Status:", c.ContractStatus())
	field("Profile:", c.InvestorProfile)
	if birth := c.Birth(); !birth.IsZero() {
		field("Born:", birth.Format("02/01/2006"))
	} else {
		field("Born:", c.BirthDate)
	}
	field("Assets:", c.Assets())
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
