package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/datacollect/core/internal/applier"
	"github.com/datacollect/core/internal/auth"
	"github.com/datacollect/core/internal/config"
	"github.com/datacollect/core/internal/entitystore"
	"github.com/datacollect/core/internal/eventlog"
	"github.com/datacollect/core/internal/logging"
	"github.com/datacollect/core/internal/syncexternal"
	_ "github.com/datacollect/core/internal/syncexternal/openspp"
	"github.com/datacollect/core/internal/syncinternal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "datacollect",
		Short:   "datacollect - offline-first entity store with Merkle audit and bidirectional sync",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringP("tenant-id", "t", "", "Tenant id")
	rootCmd.PersistentFlags().StringP("log-level", "", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("data-dir", "d", "", "Local storage data directory")
	rootCmd.PersistentFlags().StringP("backend", "", "", "Storage backend (local, remote)")
	rootCmd.PersistentFlags().StringP("server-url", "", "", "Internal sync server base URL")
	rootCmd.PersistentFlags().StringP("external", "", "", "External sync adapter type (e.g. openspp)")

	rootCmd.AddCommand(
		newSubmitEventCmd(),
		newMerkleRootCmd(),
		newSyncInternalCmd(),
		newSyncExternalCmd(),
		newLoginCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// engine bundles one tenant's wired stores, the pieces every subcommand
// needs, built from config the same way the teacher's server.New(cfg)
// assembles its managers.
type engine struct {
	cfg      *config.Config
	events   *eventlog.Store
	entities *entitystore.Store
	applier  *applier.Service
	closers  []func() error
}

func buildEngine(ctx context.Context, cmd *cobra.Command) (*engine, error) {
	cfg, err := config.Load(cmd)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	logging.Setup(cfg.LogLevel)

	e := &engine{cfg: cfg}

	switch cfg.Storage.Backend {
	case "remote":
		eventsAdapter, err := eventlog.NewPostgresAdapter(ctx, cfg.Storage.PostgresDSN, cfg.TenantID)
		if err != nil {
			return nil, fmt.Errorf("connecting event store: %w", err)
		}
		e.closers = append(e.closers, eventsAdapter.Close)
		e.events, err = eventlog.New(ctx, eventsAdapter, cfg.TenantID)
		if err != nil {
			return nil, err
		}

		entitiesAdapter, err := entitystore.NewPostgresAdapter(ctx, cfg.Storage.PostgresDSN, cfg.TenantID)
		if err != nil {
			return nil, fmt.Errorf("connecting entity store: %w", err)
		}
		e.closers = append(e.closers, entitiesAdapter.Close)
		e.entities, err = entitystore.New(ctx, entitiesAdapter, cfg.TenantID)
		if err != nil {
			return nil, err
		}
	default:
		eventsAdapter, err := eventlog.NewBadgerAdapter(cfg.TenantID, eventlog.BadgerOptions{DataDir: cfg.Storage.DataDir})
		if err != nil {
			return nil, fmt.Errorf("opening event store: %w", err)
		}
		e.closers = append(e.closers, eventsAdapter.Close)
		e.events, err = eventlog.New(ctx, eventsAdapter, cfg.TenantID)
		if err != nil {
			return nil, err
		}

		entitiesAdapter, err := entitystore.NewBadgerAdapter(cfg.TenantID, entitystore.BadgerOptions{DataDir: cfg.Storage.DataDir})
		if err != nil {
			return nil, fmt.Errorf("opening entity store: %w", err)
		}
		e.closers = append(e.closers, entitiesAdapter.Close)
		e.entities, err = entitystore.New(ctx, entitiesAdapter, cfg.TenantID)
		if err != nil {
			return nil, err
		}
	}

	dupConfig := applier.DefaultDuplicateDetectionConfig()
	if cfg.Sync.DuplicateThreshold > 0 {
		dupConfig.Threshold = cfg.Sync.DuplicateThreshold
	}
	e.applier = applier.NewService(e.events, e.entities, applier.NewRegistry(), dupConfig, cfg.TenantID)

	return e, nil
}

func (e *engine) close() {
	for _, c := range e.closers {
		if err := c(); err != nil {
			logging.For("main").WithError(err).Warn("error closing store")
		}
	}
}

func shutdownContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		logging.For("main").Info("received shutdown signal")
		cancel()
	}()
	return ctx, cancel
}

func newSubmitEventCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "submit-event",
		Short: "Submit one event from a JSON file to the event store and apply it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := shutdownContext()
			defer cancel()

			e, err := buildEngine(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.close()

			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading event file: %w", err)
			}
			var event eventlog.Event
			if err := json.Unmarshal(raw, &event); err != nil {
				return fmt.Errorf("parsing event JSON: %w", err)
			}

			guid, err := e.applier.SubmitForm(ctx, &event)
			if err != nil {
				return fmt.Errorf("submitting event: %w", err)
			}

			logrus.WithField("guid", guid).Info("event submitted")
			fmt.Println(guid)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to a JSON-encoded event")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newMerkleRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merkle-root",
		Short: "Print the current Merkle root over the tenant's event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := shutdownContext()
			defer cancel()

			e, err := buildEngine(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.close()

			fmt.Println(e.events.GetMerkleRoot())
			return nil
		},
	}
}

func newSyncInternalCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one internal sync pass against the configured server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := shutdownContext()
			defer cancel()

			e, err := buildEngine(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.close()

			if e.cfg.Sync.ServerURL == "" {
				return fmt.Errorf("sync.server_url is required")
			}

			client := syncinternal.NewHTTPClient(e.cfg.Sync.ServerURL, e.cfg.TenantID)
			tokenProvider := func(ctx context.Context) (string, error) {
				token, _, err := client.Login(ctx, map[string]string{"username": username, "password": password})
				return token, err
			}

			coordinator := syncinternal.New(e.events, e.entities, e.applier, client, tokenProvider, e.cfg.TenantID, syncinternal.Config{
				PageSize:   e.cfg.Sync.PageSize,
				RetryLimit: e.cfg.Sync.RetryLimit,
			})

			result, err := coordinator.Sync(ctx)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}

			logrus.WithFields(logrus.Fields{
				"pushed": result.PushedEvents,
				"pulled": result.PulledEvents,
			}).Info("internal sync complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "Server login username")
	cmd.Flags().StringVar(&password, "password", "", "Server login password")
	return cmd
}

func newSyncExternalCmd() *cobra.Command {
	var settingsFile string
	var credentialsFile string
	cmd := &cobra.Command{
		Use:   "sync-external",
		Short: "Run one external sync pass against the configured third-party adapter",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := shutdownContext()
			defer cancel()

			e, err := buildEngine(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.close()

			if e.cfg.Sync.External == "" {
				return fmt.Errorf("sync.external is required")
			}

			settings := map[string]string{}
			if settingsFile != "" {
				if err := readJSONFile(settingsFile, &settings); err != nil {
					return fmt.Errorf("reading adapter settings: %w", err)
				}
			}
			credentials := map[string]string{}
			if credentialsFile != "" {
				if err := readJSONFile(credentialsFile, &credentials); err != nil {
					return fmt.Errorf("reading credentials: %w", err)
				}
			}

			coordinator := syncexternal.New(syncexternal.AdapterConfig{
				Type:     e.cfg.Sync.External,
				Settings: settings,
			}, syncexternal.Deps{
				Events:   e.events,
				Entities: e.entities,
				Applier:  e.applier,
				TenantID: e.cfg.TenantID,
			})

			if err := coordinator.Initialize(ctx, credentials); err != nil {
				return fmt.Errorf("initializing external adapter: %w", err)
			}
			if err := coordinator.Synchronize(ctx, credentials); err != nil {
				return fmt.Errorf("external sync failed: %w", err)
			}

			logrus.Info("external sync complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&settingsFile, "settings", "", "Path to a JSON-encoded adapter settings map")
	cmd.Flags().StringVar(&credentialsFile, "credentials", "", "Path to a JSON-encoded credentials map")
	return cmd
}

func readJSONFile(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func newLoginCmd() *cobra.Command {
	var providerType, username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against one configured auth provider and print a bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := shutdownContext()
			defer cancel()

			cfg, err := config.Load(cmd)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			logging.Setup(cfg.LogLevel)

			manager, closeStorage, err := newAuthManager(cfg)
			if err != nil {
				return err
			}
			defer closeStorage()

			token, err := manager.Login(ctx, map[string]string{"username": username, "password": password}, providerType)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			fmt.Println(token.Value)
			return nil
		},
	}
	cmd.Flags().StringVar(&providerType, "provider", "", "Auth provider type (required unless exactly one is configured)")
	cmd.Flags().StringVar(&username, "username", "", "Login username")
	cmd.Flags().StringVar(&password, "password", "", "Login password")
	return cmd
}

// newAuthManager opens its own pebble store under the same DataDir as the
// badger-backed event/entity stores, matching the single DataDir knob
// config.Load already exposes.
func newAuthManager(cfg *config.Config) (*auth.Manager, func() error, error) {
	storage, err := auth.NewPebbleAdapter(cfg.TenantID, auth.PebbleOptions{DataDir: cfg.Storage.DataDir})
	if err != nil {
		return nil, nil, fmt.Errorf("opening auth store: %w", err)
	}

	configs := make([]auth.Config, 0, len(cfg.Auth.Providers))
	for _, p := range cfg.Auth.Providers {
		fields := p.Fields
		if p.Type == "basic" && fields["signingKey"] == "" && cfg.Auth.JWTSecret != "" {
			if fields == nil {
				fields = map[string]string{}
			}
			fields["signingKey"] = cfg.Auth.JWTSecret
		}
		configs = append(configs, auth.Config{Type: p.Type, Fields: fields})
	}

	return auth.New(storage, configs, cfg.TenantID), storage.Close, nil
}
