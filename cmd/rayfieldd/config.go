package main

import (
	"fmt"

	"github.com/spf13/cobra"

	rfconfig "github.com/cuemby/rayfield/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config file operations",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Parse and print a rayfield config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := rfconfig.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("nthreads:    auto=%v n=%d\n", cfg.AutoThreads, cfg.NThreads)
		fmt.Printf("memlimit:    %d MiB\n", cfg.MemLimitMiB)
		fmt.Printf("distributed: %v\n", cfg.Distributed)
		fmt.Printf("port:        %d\n", cfg.Port)
		fmt.Printf("maxclients:  %d\n", cfg.MaxClients)
		fmt.Printf("servers:     %v\n", cfg.Servers)
		fmt.Printf("searchpaths: %v\n", cfg.SearchPaths)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}
