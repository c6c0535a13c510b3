package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "tunnel",
	Short:        "Expose a local port at a public URL through a tunnel relay",
	SilenceUsage: true,
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	rootCmd.AddCommand(connectCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
