package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	rfconfig "github.com/cuemby/rayfield/pkg/config"
	"github.com/cuemby/rayfield/pkg/log"
	"github.com/cuemby/rayfield/pkg/manager"
	"github.com/cuemby/rayfield/pkg/node"
	"github.com/cuemby/rayfield/pkg/plugin"
	"github.com/cuemby/rayfield/pkg/render/bucket"
	"github.com/cuemby/rayfield/pkg/render/photon"
)

var managerCmd = &cobra.Command{
	Use:   "manager",
	Short: "Manager role operations",
}

var managerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the authoritative manager",
	Long:  `Start the manager: mints tags, owns the database, schedules jobs across local threads and any connected remote workers.`,
	RunE:  runManagerStart,
}

func init() {
	managerCmd.AddCommand(managerStartCmd)

	managerStartCmd.Flags().String("config", "", "Path to a rayfield config file (spec.md §6 directive format)")
	managerStartCmd.Flags().String("data-dir", "./rayfield-manager-data", "Directory for persisted tag/host state")
	managerStartCmd.Flags().String("listen", ":7755", "Address workers and servers dial in on")
	managerStartCmd.Flags().Int("nthreads", 0, "Local worker thread count (0 = use the config file's nthreads; nthreads auto means runtime.NumCPU())")
	managerStartCmd.Flags().Int("memlimit-mib", 0, "Database memory limit in MiB (0 = use the config file's memlimit, default 512)")
	managerStartCmd.Flags().String("plugins", "", "Path to a plugin manifest (YAML) to load at startup")
	managerStartCmd.Flags().String("cert-dir", "", "Directory for the cluster's mTLS host identity (empty disables TLS)")
}

func runManagerStart(cmd *cobra.Command, args []string) error {
	cfg := rfconfig.Default()
	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		loaded, err := rfconfig.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	dataDir, _ := cmd.Flags().GetString("data-dir")
	listen, _ := cmd.Flags().GetString("listen")
	nthreads, _ := cmd.Flags().GetInt("nthreads")
	memlimitMiB, _ := cmd.Flags().GetInt("memlimit-mib")
	pluginManifest, _ := cmd.Flags().GetString("plugins")
	certDir, _ := cmd.Flags().GetString("cert-dir")

	if nthreads == 0 {
		if cfg.AutoThreads {
			nthreads = runtime.NumCPU()
		} else {
			nthreads = cfg.NThreads
		}
	}
	if memlimitMiB == 0 {
		memlimitMiB = cfg.MemLimitMiB
	}

	logger := log.WithComponent("rayfieldd")

	mgr, err := manager.New(manager.Config{
		DataDir:    dataDir,
		ListenAddr: listen,
		MemLimit:   memlimitMiB << 20,
		Checksum:   protocolChecksum,
		CertDir:    certDir,
	}, buildTypeTable())
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}

	sys := node.NewSystem(mgr.Database(), buildTypeTable())
	holder := mgr.ConnectionHolder()
	mgr.RegisterExecutor(bucket.TypeCode, bucket.NewExecutor(sys, holder))
	mgr.RegisterExecutor(photon.TypeCode, photon.NewExecutor(photon.DefaultEmitter, 0))

	if pluginManifest != "" {
		pm, err := plugin.LoadManifest(pluginManifest)
		if err != nil {
			return fmt.Errorf("load plugin manifest: %w", err)
		}
		plugins := plugin.NewManager(pm.SearchPaths)
		plugins.UseManifest(pm)
		logger.Info().Str("manifest", pluginManifest).Int("modules", len(pm.Modules)).Msg("plugin manifest loaded")
	}

	if err := mgr.Start(nthreads); err != nil {
		return fmt.Errorf("start manager: %w", err)
	}

	metricsAddr, _ := cmd.Root().PersistentFlags().GetString("metrics-addr")
	serveMetrics(metricsAddr)
	logger.Info().Str("addr", listen).Int("threads", nthreads).Str("metrics", metricsAddr).Msg("manager running, press ctrl+c to stop")

	waitForSignal()

	logger.Info().Msg("shutting down")
	return mgr.Stop()
}
