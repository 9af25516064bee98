// Package main is the entry point for the vaultbridge node (vbd).
// It opens the ledger store, builds the bridge program, serves it to
// Tendermint over the ABCI socket and runs the read-only HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"vaultbridge.mini/vb/internal/abci"
	"vaultbridge.mini/vb/internal/api"
	"vaultbridge.mini/vb/internal/bridge"
	"vaultbridge.mini/vb/internal/config"
	"vaultbridge.mini/vb/internal/discovery"
	"vaultbridge.mini/vb/internal/docs"
	"vaultbridge.mini/vb/internal/events"
	"vaultbridge.mini/vb/internal/identity"
	"vaultbridge.mini/vb/internal/logger"
	"vaultbridge.mini/vb/internal/store"
	"vaultbridge.mini/vb/internal/tendermint"
	"vaultbridge.mini/vb/internal/types"
)

var (
	cfgFile      string
	runConsensus bool
)

var rootCmd = &cobra.Command{
	Use:   "vbd",
	Short: "vaultbridge node",
	Long: `vbd runs the vaultbridge custodial ledger as a Tendermint ABCI application.

Configuration (in order of priority):
  1. Environment variables (VB_API_PORT, VB_ABCI_SOCKET, VB_NATS_URL, ...)
  2. Config file (--config, YAML)
  3. Built-in defaults

Get started:
  $ vbd init                 # node key and tendermint home
  $ vbd start --tendermint   # ABCI socket, API on :8080, tendermint child
  $ vbd start                # same, with tendermint run separately:
  $ tendermint node --proxy_app unix://vb.sock`,
	SilenceUsage: true,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the node until SIGINT or SIGTERM",
	RunE:  runStart,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the node key and initialize the tendermint home",
	RunE:  runInit,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <snapshot.db>",
	Short: "Replace the ledger database with a snapshot",
	Long: `Replace the ledger database with a snapshot downloaded from
GET /api/snapshot or taken from the backups directory. The current
database is kept as a backup. Run it while the node is stopped.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vbd version %s (built %s)\n", types.Version, types.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "vb.yaml", "config file")
	startCmd.Flags().BoolVar(&runConsensus, "tendermint", false, "run tendermint node as a child process")
	rootCmd.AddCommand(startCmd, initCmd, restoreCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (*config.Config, *logrus.Logger, *logger.Ring, error) {
	cfg, err := config.Load(config.ConfigPath(cfgFile, rootCmd.PersistentFlags().Changed("config")))
	if err != nil {
		return nil, nil, nil, err
	}
	log, ring := logger.New(logger.Options{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		RingSize: cfg.Log.RingSize,
	})
	return cfg, log, ring, nil
}

func programID(cfg *config.Config) (solana.PublicKey, error) {
	id := cfg.ProgramID
	if id == "" {
		id = bridge.DefaultProgramID
	}
	pk, err := solana.PublicKeyFromBase58(id)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("program_id %q: %w", id, err)
	}
	return pk, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, log, ring, err := setup()
	if err != nil {
		return err
	}
	log.WithField("version", types.Version).Info("vaultbridge node starting")

	node, err := identity.LoadOrCreateIdentity(cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("node key: %w", err)
	}

	pid, err := programID(cfg)
	if err != nil {
		return err
	}
	program, err := bridge.New(pid)
	if err != nil {
		return err
	}

	var genesis *config.Genesis
	if cfg.GenesisFile != "" {
		if genesis, err = config.LoadGenesis(cfg.GenesisFile); err != nil {
			return err
		}
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	defer st.Close()

	hub := api.NewHub(logger.Component(log, "events"))
	sinks := events.Fanout{hub}
	if cfg.NATS.URL != "" {
		pub, err := events.NewNATSPublisher(events.NATSOptions{
			URL:           cfg.NATS.URL,
			Stream:        cfg.NATS.Stream,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			Timeout:       cfg.NATS.Timeout,
		}, logger.Component(log, "nats"))
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	} else {
		log.Warn("nats.url not set, events are only streamed to API clients")
	}

	app, err := abci.NewABCIApplication(abci.Options{
		Program: program,
		Store:   st,
		Sink:    sinks,
		Logger:  log.WithField("node", node.Address().String()),
		Genesis: genesis,
	})
	if err != nil {
		return err
	}

	server, err := tendermint.NewABCIServer(app, &tendermint.Config{
		TendermintHome: cfg.Tendermint.Home,
		SocketAddress:  cfg.ABCI.Socket,
	}, logger.Component(log, "tendermint"))
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}
	defer func() {
		if err := server.Stop(); err != nil {
			log.WithError(err).Warn("stop ABCI server")
		}
	}()

	svc, err := api.NewService(api.Options{
		State:      app,
		Backups:    st,
		MaxBackups: cfg.MaxBackups,
		Logs:       ring,
		Docs:       docs.NewService(cfg.DocsDir, logger.Component(log, "docs")),
		Hub:        hub,
		Info:       nodeInfo(pid, node),
		Logger:     logger.Component(log, "api"),
	})
	if err != nil {
		return err
	}

	if cfg.Discovery.Enabled {
		ann, err := discovery.Announce(discovery.Node{
			Instance:  cfg.Discovery.Instance,
			Port:      cfg.API.Port,
			ProgramID: pid.String(),
			Address:   node.Address().String(),
			Version:   types.Version,
		}, logger.Component(log, "discovery"))
		if err != nil {
			log.WithError(err).Warn("mDNS announcement disabled")
		} else {
			defer ann.Stop()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if runConsensus {
		tm := tendermint.TendermintCommand(ctx, cfg.Tendermint.Home, cfg.ABCI.Socket)
		tm.Stdout, tm.Stderr = os.Stdout, os.Stderr
		if err := tm.Start(); err != nil {
			return fmt.Errorf("start tendermint: %w", err)
		}
		log.WithField("pid", tm.Process.Pid).Info("tendermint started")
		go func() {
			if err := tm.Wait(); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("tendermint exited")
			}
			stop()
		}()
	}

	if err := svc.Serve(ctx, cfg.API.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	log.Info("Shutting down...")
	return nil
}

// nodeInfo describes this node for the version route.
func nodeInfo(pid solana.PublicKey, node *identity.Identity) api.NodeInfo {
	return api.NodeInfo{ProgramID: pid.String(), Address: node.Address().String()}
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, log, _, err := setup()
	if err != nil {
		return err
	}
	node, err := identity.LoadOrCreateIdentity(cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("node key: %w", err)
	}
	log.WithFields(logrus.Fields{"key_file": cfg.KeyFile, "address": node.Address()}).Info("node key ready")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := tendermint.InitTendermint(cmd.Context(), cfg.Tendermint.Home); err != nil {
		return err
	}
	log.Info("tendermint home ready")
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, log, _, err := setup()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	defer st.Close()

	previous, err := st.ImportSnapshot(data, cfg.MaxBackups)
	if err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	height, _, err := st.LastBlock()
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"previous": previous, "height": height}).Info("ledger restored")
	return nil
}
