package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lunaform/switchboard/internal/bus"
	"github.com/lunaform/switchboard/internal/collab"
	"github.com/lunaform/switchboard/internal/core/auth"
	"github.com/lunaform/switchboard/internal/core/config"
	"github.com/lunaform/switchboard/internal/core/db"
	"github.com/lunaform/switchboard/internal/core/server"
	"github.com/lunaform/switchboard/internal/dispatch"
	"github.com/lunaform/switchboard/internal/router"
	"github.com/lunaform/switchboard/internal/rules"
	"github.com/lunaform/switchboard/internal/sandbox"
	"github.com/lunaform/switchboard/internal/workflow"
)

const Version = "0.1.0"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Switchboard service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "HTTP server host")
	serveCmd.Flags().Int("port", 8484, "HTTP server port")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("host") {
		cfg.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}

	// Database is optional: without it the JSONL files are the only
	// record and the db rules backend is unavailable.
	var queries *db.Queries
	if dbURL != "" {
		database, err := db.Open(dbURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()

		if err := db.MigrateUp(database); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		if queries, err = db.LoadQueries(database); err != nil {
			return fmt.Errorf("failed to load queries: %w", err)
		}
	}
	if cfg.Rules.Backend == "db" && queries == nil {
		return fmt.Errorf("rules backend db requires --db-url")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	// External collaborators are optional; predicates and actions that
	// need an absent one record the failure instead of erroring hard.
	collaborators := collab.Set{
		Prompts: collab.NewFilePromptStore(cfg.DataDir),
	}

	storeFactory := func(tenant string) rules.RuleStore {
		if cfg.Rules.Backend == "db" {
			return rules.NewSQLRuleStore(queries, tenant)
		}
		return rules.NewFileRuleStore(cfg.DataDir, tenant)
	}

	registry := rules.NewRegistry(storeFactory, collaborators, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := registry.Preload(ctx, cfg.Tenants); err != nil {
		return fmt.Errorf("failed to preload tenants: %w", err)
	}

	b := bus.New()

	workflows := workflow.NewMemoryEngine(log)
	for _, tenant := range cfg.Tenants {
		defs, err := workflow.LoadDefinitions(cfg.DataDir, tenant)
		if err != nil {
			return fmt.Errorf("failed to load workflows for %s: %w", tenant, err)
		}
		for _, def := range defs {
			if err := workflows.Register(def); err != nil {
				return fmt.Errorf("failed to register workflow %s: %w", def.ID, err)
			}
			log.Info("registered workflow", "tenant", tenant, "workflow", def.ID)
		}
	}

	scriptRunner := sandbox.NewRunner(cfg.DataDir, log,
		sandbox.WithTimeout(cfg.Script.Timeout), sandbox.WithGrace(cfg.Script.Grace))
	listener := workflow.NewListener(cfg.DataDir, &collaborators, scriptRunner, b, cfg.MaxTurns, log)
	listener.Attach(workflows)

	dispatcher := dispatch.New(&collaborators, workflows, b, cfg.MaxTurns, log)
	trigger := router.NewTriggerLog(cfg.DataDir, queries, log)
	rt := router.New(registry, dispatcher, b, trigger, log)

	if cfg.Redis.Addr != "" {
		bridge, err := bus.NewRedisBridge(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, b, log)
		if err != nil {
			return fmt.Errorf("failed to connect redis bridge: %w", err)
		}
		defer bridge.Close()
		go bridge.Run(ctx)
	}

	go rt.Run(ctx)
	defer rt.Close()

	verifier, err := auth.LoadSecrets(cfg.DataDir, cfg.Tenants, log)
	if err != nil {
		return fmt.Errorf("failed to load webhook secrets: %w", err)
	}
	if verifier.Required() {
		log.Info("webhook signature verification enabled")
	}

	srv := server.New(cfg, rt, registry, b, queries, verifier, log)

	log.Info("starting switchboard", "version", Version, "host", cfg.Host, "port", cfg.Port,
		"tenants", len(cfg.Tenants), "rules_backend", cfg.Rules.Backend)
	return srv.Run(ctx)
}
