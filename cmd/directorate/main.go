package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/mtzanidakis/directorate/internal/config"
	"github.com/mtzanidakis/directorate/internal/director"
	"github.com/mtzanidakis/directorate/internal/document"
	"github.com/mtzanidakis/directorate/internal/llm"
	"github.com/mtzanidakis/directorate/internal/pipeline"
	"github.com/mtzanidakis/directorate/internal/registry"
	"github.com/mtzanidakis/directorate/internal/router"
	"github.com/mtzanidakis/directorate/internal/store"
	"github.com/mtzanidakis/directorate/internal/vault"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("directorate %s\n", version)
		return
	case "run":
		err = runTask(strings.Join(os.Args[2:], " "), false)
	case "demo":
		err = runTask("", true)
	case "resume":
		err = runResume(os.Args[2:])
	case "show":
		err = runShow(os.Args[2:])
	case "list":
		err = runList()
	case "serve":
		err = runServe()
	case "export":
		err = runExport(os.Args[2:])
	case "restore":
		err = runRestore(os.Args[2:])
	case "vault":
		err = runVault(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: directorate <command>

Commands:
  run [task...]              Run the directors on a task (config default_task when omitted)
  demo                       Run the built-in demo task
  resume <run-id>            Continue a failed or interrupted run
  show <run-id>              Print a run's document
  list                       List recent runs
  serve                      Start web, NATS, scheduler and telegram
  export -f <out.tar.zst>    Archive documents and database
  restore -f <in.tar.zst> [-overwrite]
                             Restore an archive written by export
  vault <command>            Manage encrypted secrets
  version                    Print version
`)
}

// loadConfig reads the config and sets up logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.Logging)
	return cfg, nil
}

func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// app holds what every command that touches runs needs.
type app struct {
	cfg      *config.Config
	store    *store.Store
	secrets  *vault.Secrets
	registry *registry.Registry
	pipeline *pipeline.Pipeline
}

// openApp opens the store and wires the pipeline. The reasoning service
// client is only created when withLLM is set; bus may be nil.
func openApp(cfg *config.Config, withLLM bool, bus pipeline.Publisher) (*app, error) {
	db, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	a := &app{cfg: cfg, store: db}

	if cfg.Vault.Passphrase != "" {
		v, err := vault.New(cfg.Vault.Passphrase)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.secrets = vault.NewSecrets(db, v)
	}

	var client llm.Client
	if withLLM {
		llmCfg := cfg.LLM
		if vault.IsRef(llmCfg.APIKey) {
			if a.secrets == nil {
				db.Close()
				return nil, fmt.Errorf("llm.api_key references a secret but no vault passphrase is set")
			}
			if llmCfg.APIKey, err = a.secrets.Resolve(llmCfg.APIKey); err != nil {
				db.Close()
				return nil, fmt.Errorf("resolve llm api key: %w", err)
			}
		}
		if client, err = llm.New(llmCfg); err != nil {
			db.Close()
			return nil, fmt.Errorf("init llm client: %w", err)
		}
	}

	a.registry = registry.New(db, cfg.Directors, cfg.LLM)
	if err := a.registry.Sync(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sync directors: %w", err)
	}

	a.pipeline = pipeline.New(pipeline.Options{
		Store:      db,
		Documents:  cfg.Documents.Dir,
		Directors:  a.registry,
		Factory:    director.NewFactory(client, a.registry, cfg.Pipeline.Stack),
		Classifier: router.New(cfg.Router, client, llm.Params{}),
		Router:     cfg.Router,
		Lead:       cfg.Pipeline.Lead,
		Bus:        bus,
	})
	return a, nil
}

func (a *app) Close() {
	a.store.Close()
}

func runTask(task string, demo bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	switch {
	case demo:
		task = cfg.Pipeline.DemoTask
	case strings.TrimSpace(task) == "":
		task = cfg.Pipeline.DefaultTask
	}

	a, err := openApp(cfg, true, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	doc, err := a.pipeline.Run(ctx, task, "cli")
	if doc != nil {
		if perr := printDocument(doc); perr != nil {
			return perr
		}
	}
	return err
}

func runResume(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: directorate resume <run-id>")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg, true, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	doc, err := a.pipeline.Resume(ctx, args[0])
	if doc != nil {
		if perr := printDocument(doc); perr != nil {
			return perr
		}
	}
	return err
}

func runShow(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: directorate show <run-id>")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg, false, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.pipeline.Get(args[0])
	if err != nil {
		return err
	}
	return printDocument(doc)
}

func runList() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg, false, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.pipeline.List(50)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSOURCE\tCREATED\tTASK")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Status, r.Source, r.CreatedAt.Local().Format("2006-01-02 15:04"), truncate(r.Task, 60))
	}
	return w.Flush()
}

func printDocument(doc *document.Document) error {
	data, err := document.Encode(doc)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
