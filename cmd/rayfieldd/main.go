// Command rayfieldd is the RayField render daemon: it hosts either the
// authoritative manager role or a remote worker role over the
// transport protocol of spec.md §4.4, following the same single-binary,
// cobra-subcommand shape as the teacher's cmd/warren (manager/worker
// split, persistent log flags, a background metrics HTTP server).
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/rayfield/pkg/log"
	"github.com/cuemby/rayfield/pkg/metrics"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// protocolChecksum fingerprints the wire protocol version; a manager
// and worker built from different checksums refuse each other's
// handshake rather than risk decoding a record with mismatched
// fixed-layout assumptions.
const protocolChecksum uint32 = 0x52465031 // "RFP1"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "rayfieldd",
	Short:   "RayField distributed render daemon",
	Long:    `rayfieldd hosts the RayField tagged-database render runtime, either as the authoritative manager or as a remote worker that dials in and serves jobs.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("rayfieldd version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("metrics-addr", "127.0.0.1:9090", "Address for the Prometheus /metrics endpoint")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(managerCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(configCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}

func serveMetrics(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithComponent("metrics").Warn().Err(err).Msg("metrics server stopped")
		}
	}()
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}
