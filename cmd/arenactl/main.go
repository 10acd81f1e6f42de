// Command arenactl is an interactive console for arena scenario servers.
// It discovers modules and agents, drives a live session over WebSocket,
// lets the operator reply and inject chaos events, and archives completed
// runs for listing and export.
//
// Usage:
//
//	arenactl                          # interactive console
//	arenactl -list                    # print archived runs
//	arenactl -export <id> -format markdown -o run.md
//	arenactl -config arenactl.toml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/arenalab/arenactl/pkg/archive"
	"github.com/arenalab/arenactl/pkg/catalog"
	"github.com/arenalab/arenactl/pkg/export"
	"github.com/arenalab/arenactl/pkg/session"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to TOML config file")
		serverURL  = flag.String("server", "", "arena websocket endpoint (overrides config)")
		catalogURL = flag.String("catalog", "", "arena catalog base URL (overrides config)")
		listRuns   = flag.Bool("list", false, "list archived runs and exit")
		exportID   = flag.String("export", "", "archived run id to export")
		format     = flag.String("format", export.FormatJSONL, "export format: jsonl or markdown")
		output     = flag.String("o", "", "export output file (default stdout)")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *catalogURL != "" {
		cfg.CatalogURL = *catalogURL
	}

	// Logging goes to a file; stdout belongs to the TUI.
	f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fatal(err)
	}
	defer f.Close()
	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})
	slog.SetDefault(slog.New(handler))
	slog.Info("Logging initialized", "level", cfg.LogLevel)

	store, err := archive.Open(cfg.Archive)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	ctx := context.Background()

	switch {
	case *listRuns:
		if err := listArchive(ctx, store); err != nil {
			fatal(err)
		}
	case *exportID != "":
		if err := exportRun(ctx, store, *exportID, *format, *output); err != nil {
			fatal(err)
		}
	default:
		if err := runConsole(ctx, cfg, store); err != nil {
			fatal(err)
		}
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func listArchive(ctx context.Context, store archive.Store) error {
	sums, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(sums) == 0 {
		fmt.Println("No archived runs.")
		return nil
	}
	for _, sum := range sums {
		score := "   -"
		if sum.Score != nil {
			score = fmt.Sprintf("%.2f", *sum.Score)
		}
		fmt.Printf("%s  %s  score %s  %3d entries  %s/%s\n",
			sum.ID, sum.CompletedAt.Local().Format(time.DateTime),
			score, sum.Entries, sum.ModuleID, sum.AgentID)
	}
	return nil
}

func exportRun(ctx context.Context, store archive.Store, id, format, output string) error {
	rec, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	w := os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return export.Write(w, format, rec)
}

func runConsole(ctx context.Context, cfg config, store archive.Store) error {
	client := catalog.New(cfg.CatalogURL)
	modules, err := client.Modules(ctx)
	if err != nil {
		slog.Error("Failed to fetch modules", "error", err)
		return fmt.Errorf("fetch modules: %w", err)
	}
	if len(modules) == 0 {
		return fmt.Errorf("arena at %s reports no modules", cfg.CatalogURL)
	}
	agents, err := client.Agents(ctx)
	if err != nil {
		slog.Error("Failed to fetch agents", "error", err)
		return fmt.Errorf("fetch agents: %w", err)
	}
	if len(agents) == 0 {
		return fmt.Errorf("arena at %s reports no agents", cfg.CatalogURL)
	}

	sess := session.New(cfg.ServerURL, session.WithDetector(cfg.Detector))
	defer sess.Disconnect()

	p := tea.NewProgram(initialModel(ctx, cfg, sess, store, modules, agents))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("console: %w", err)
	}
	return nil
}
