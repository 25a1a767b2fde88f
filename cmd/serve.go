package cmd

import (
	"github.com/spf13/cobra"

	"filedrop/internal/archive"
	"filedrop/internal/audit"
	"filedrop/internal/server"
	"filedrop/pkg/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a directory to filedrop clients",
	Long: `Serve the regular files of a directory over TCP.

Each download is compressed into a temporary archive outside the served
directory, streamed to the client and removed afterwards. Completed
transfers are recorded in the audit database.

The server runs until interrupted (Ctrl-C or SIGTERM). It then stops
accepting connections, closes idle ones and waits for transfers in flight.`,
	Example: `  # Serve the configured directory on the configured address
  filedrop serve

  # Serve ./shared on all interfaces with zstd archives
  filedrop serve --dir ./shared --listen 0.0.0.0:12345 --format zstd

  # Limit concurrent clients
  filedrop serve --max-conns 8 --verbose`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runServe(cmd)
	},
}

func runServe(cmd *cobra.Command) {
	listen, _ := cmd.Flags().GetString("listen")
	dir, _ := cmd.Flags().GetString("dir")
	format, _ := cmd.Flags().GetString("format")
	maxConns, _ := cmd.Flags().GetInt("max-conns")
	db, _ := cmd.Flags().GetString("db")

	if listen == "" {
		listen = getServerAddr(cmd)
	}
	if dir == "" {
		dir = cfg.FilesDir
	}
	if format == "" {
		format = cfg.ArchiveFormat
	}
	if maxConns <= 0 {
		maxConns = cfg.MaxConnections
	}
	if db == "" {
		db = cfg.AuditDB
	}

	archiveFormat, err := archive.ParseFormat(format)
	if err != nil {
		utils.PrintError(err, "serve")
		return
	}

	provider, err := archive.New(archive.Config{
		Dir:     dir,
		WorkDir: cfg.WorkDir,
		Format:  archiveFormat,
		Logger:  logger,
	})
	if err != nil {
		utils.PrintError(err, "serve")
		return
	}
	reportFiles(provider)

	store, err := audit.Open(audit.Config{Path: db, Logger: logger})
	if err != nil {
		utils.PrintError(err, "serve")
		return
	}
	defer store.Close()

	srv := server.New(server.Config{
		MaxConnections:   maxConns,
		IdleTimeout:      cfg.IdleTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}, provider, store, logger)

	ctx, stop := signalContext()
	defer stop()

	if err := srv.ListenAndServe(ctx, listen); err != nil {
		utils.PrintError(err, "serve")
		return
	}
}

// reportFiles logs what the server is about to offer.
func reportFiles(provider *archive.Provider) {
	files, err := provider.List()
	if err != nil {
		logger.Warn("failed to list served directory", "dir", provider.Dir(), "error", err)
		return
	}
	if len(files) == 0 {
		logger.Warn("served directory is empty", "dir", provider.Dir())
		return
	}

	var total int64
	for _, f := range files {
		total += f.Size
		logger.Debug("serving file", "name", f.Name, "size", utils.FormatBytes(f.Size))
	}
	logger.Info("serving directory", "dir", provider.Dir(), "files", len(files), "total_size", utils.FormatBytes(total), "format", provider.Format())
}

func init() {
	serveCmd.Flags().StringP("listen", "l", "", "Listen address (default: server address from config)")
	serveCmd.Flags().StringP("dir", "d", "", "Directory to serve (default: FILES_DIR)")
	serveCmd.Flags().StringP("format", "f", "", "Archive format: zip, zstd or lz4 (default: ARCHIVE_FORMAT)")
	serveCmd.Flags().Int("max-conns", 0, "Maximum concurrent connections (default: MAX_CONNECTIONS)")
	serveCmd.Flags().String("db", "", "Audit database path (default: AUDIT_DB)")
}
