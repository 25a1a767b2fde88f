package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"filedrop/config"
)

var (
	cfg    *config.Config
	logger = slog.New(slog.DiscardHandler)
)

var rootCmd = &cobra.Command{
	Use:   "filedrop",
	Short: "Compressed file transfer over TCP",
	Long: `filedrop serves the files of a directory over TCP. Every download is
compressed on the fly and streamed to the client, and each completed
transfer is recorded in a local audit database.
Configuration is loaded from .env file or environment variables`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = newLogger(cmd)
		slog.SetDefault(logger)
	},
}

func Execute(config *config.Config) error {
	cfg = config
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(auditCmd)

	rootCmd.PersistentFlags().StringP("server", "s", "", "Override server address from config")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
}

// signalContext is cancelled on SIGINT or SIGTERM.
var signalContext = func() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func getServerAddr(cmd *cobra.Command) string {
	server, _ := cmd.Flags().GetString("server")
	if server != "" {
		return server
	}
	return cfg.ServerAddr
}

func isVerbose(cmd *cobra.Command) bool {
	verbose, _ := cmd.Flags().GetBool("verbose")
	return verbose
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level, err := cfg.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	if isVerbose(cmd) {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
