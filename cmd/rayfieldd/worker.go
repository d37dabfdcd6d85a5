package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/rayfield/pkg/connection"
	"github.com/cuemby/rayfield/pkg/log"
	"github.com/cuemby/rayfield/pkg/node"
	"github.com/cuemby/rayfield/pkg/render/bucket"
	"github.com/cuemby/rayfield/pkg/render/photon"
	"github.com/cuemby/rayfield/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Worker role operations",
}

var workerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a remote worker",
	Long:  `Start a worker: listens for the manager to dial in, negotiates thread-slot connections via create_threads, and executes process_job requests.`,
	RunE:  runWorkerStart,
}

func init() {
	workerCmd.AddCommand(workerStartCmd)

	workerStartCmd.Flags().String("listen", ":7756", "Address the manager dials in on")
	workerStartCmd.Flags().Int("memlimit-mib", 512, "Database memory limit in MiB")
	workerStartCmd.Flags().String("cert-dir", "", "Directory holding this worker's mTLS host identity (empty disables TLS)")
}

func runWorkerStart(cmd *cobra.Command, args []string) error {
	listen, _ := cmd.Flags().GetString("listen")
	memlimitMiB, _ := cmd.Flags().GetInt("memlimit-mib")
	certDir, _ := cmd.Flags().GetString("cert-dir")

	logger := log.WithComponent("rayfieldd")

	w := worker.New(worker.Config{
		ListenAddr: listen,
		MemLimit:   memlimitMiB << 20,
		Checksum:   protocolChecksum,
		CertDir:    certDir,
	}, buildTypeTable())

	sys := node.NewSystem(w.Database(), buildTypeTable())
	holder := connection.NewHolder()
	w.RegisterExecutor(bucket.TypeCode, bucket.NewExecutor(sys, holder))
	w.RegisterExecutor(photon.TypeCode, photon.NewExecutor(photon.DefaultEmitter, 0))

	if err := w.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	metricsAddr, _ := cmd.Root().PersistentFlags().GetString("metrics-addr")
	serveMetrics(metricsAddr)
	logger.Info().Str("addr", w.Addr()).Str("metrics", metricsAddr).Msg("worker running, press ctrl+c to stop")

	waitForSignal()

	logger.Info().Msg("shutting down")
	return w.Stop()
}
