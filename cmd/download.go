package cmd

import (
	"github.com/spf13/cobra"

	"filedrop/internal/client"
	"filedrop/internal/mirror"
	"filedrop/pkg/utils"
)

var downloadCmd = &cobra.Command{
	Use:   "download [file]",
	Short: "Download a file from the server",
	Long: `Download a file from the server as a compressed archive.

The server compresses the file, announces its sizes and streams the
archive. It is saved in the destination directory as
<file>_<YYYYmmdd_HHMMSS> plus the archive extension; existing files are
never overwritten.

Ctrl-C cancels the download. A partially received archive is removed.

With --mirror the saved archive is also uploaded to the configured S3
bucket.`,
	Example: `  # Download a file into the configured output directory
  filedrop download report.pdf

  # Download to a specific destination
  filedrop download report.pdf --destination /tmp/downloads

  # Download from another server and mirror the archive to S3
  filedrop download data.csv --server 10.0.0.5:12345 --mirror`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runDownload(cmd, args)
	},
}

func runDownload(cmd *cobra.Command, args []string) {
	filename := args[0]
	destination, _ := cmd.Flags().GetString("destination")
	noProgress, _ := cmd.Flags().GetBool("no-progress")
	mirrorArchive, _ := cmd.Flags().GetBool("mirror")
	prefix, _ := cmd.Flags().GetString("mirror-prefix")

	if destination == "" {
		destination = cfg.OutputDir
	}
	addr := getServerAddr(cmd)

	if isVerbose(cmd) {
		cmd.Printf("Starting download operation...\n")
		cmd.Printf("  Server: %s\n", addr)
		cmd.Printf("  File: %s\n", filename)
		cmd.Printf("  Destination: %s\n", destination)
	}

	ctx, stop := signalContext()
	defer stop()

	opts := client.Options{
		Addr:            addr,
		OutputDir:       destination,
		ConnectTimeout:  cfg.ConnectTimeout,
		ResponseTimeout: cfg.ResponseTimeout,
		ChunkTimeout:    cfg.ChunkTimeout,
		Logger:          logger,
	}

	var rendered chan struct{}
	if !noProgress {
		updates := make(chan client.Progress, 64)
		rendered = make(chan struct{})
		opts.Progress = updates
		go func() {
			defer close(rendered)
			renderProgress(filename, updates)
		}()
		defer func() {
			close(updates)
			<-rendered
		}()
	}

	d := client.NewDownloader(opts, client.NewCancelToken())
	result, err := d.Download(ctx, filename)
	if err != nil {
		utils.PrintError(err, "download")
		return
	}

	if mirrorArchive {
		mc, err := mirror.New(ctx, cfg, logger)
		if err == nil {
			result.Mirror, err = mc.UploadFile(ctx, result.SavedPath, prefix)
		}
		if err != nil {
			logger.Warn("failed to mirror download", "path", result.SavedPath, "error", err)
		}
	}

	if err := utils.PrintJSON(result); err != nil {
		utils.PrintError(err, "download")
		return
	}

	if isVerbose(cmd) {
		cmd.Println("Download operation completed successfully")
		cmd.Printf("Saved archive: %s\n", result.SavedPath)
	}
}

func init() {
	downloadCmd.Flags().StringP("destination", "d", "", "Local destination directory (default: OUTPUT_DIR)")
	downloadCmd.Flags().Bool("no-progress", false, "Do not render a progress bar")
	downloadCmd.Flags().Bool("mirror", false, "Upload the saved archive to the S3 bucket")
	downloadCmd.Flags().String("mirror-prefix", "downloads", "Bucket folder for mirrored archives")
}
