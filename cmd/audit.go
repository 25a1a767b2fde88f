package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"filedrop/internal/audit"
	"filedrop/internal/mirror"
	"filedrop/internal/models"
	"filedrop/pkg/utils"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the download audit log",
	Long: `Inspect the audit log the server writes after every completed transfer.

The database path is taken from AUDIT_DB unless overridden with --db.`,
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show all audit entries, newest first",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runAuditList(cmd)
	},
}

var auditClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all audit entries",
	Example: `  # Clear with a confirmation prompt
  filedrop audit clear

  # Clear without prompting
  filedrop audit clear --confirm`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runAuditClear(cmd)
	},
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit entries as JSON or CBOR",
	Example: `  # Export as JSON to a generated file name
  filedrop audit export

  # Export as CBOR to a chosen path and upload it to S3
  filedrop audit export --format cbor --output audit.cbor --upload`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runAuditExport(cmd)
	},
}

func openAuditStore(cmd *cobra.Command) (*audit.Store, error) {
	db, _ := cmd.Flags().GetString("db")
	if db == "" {
		db = cfg.AuditDB
	}
	if err := utils.ValidatePaths([]string{db}); err != nil {
		return nil, fmt.Errorf("audit database: %w", err)
	}
	return audit.Open(audit.Config{Path: db, Logger: logger})
}

func runAuditList(cmd *cobra.Command) {
	start := time.Now()
	store, err := openAuditStore(cmd)
	if err != nil {
		utils.PrintError(err, "audit list")
		return
	}
	defer store.Close()

	entries, err := store.ListAll(context.Background())
	if err != nil {
		utils.PrintError(err, "audit list")
		return
	}

	result := models.AuditListResult{
		Entries:       entries,
		TotalEntries:  len(entries),
		OperationTime: utils.FormatTime(start),
	}
	if err := utils.PrintJSON(result); err != nil {
		utils.PrintError(err, "audit list")
	}
}

func runAuditClear(cmd *cobra.Command) {
	start := time.Now()
	confirm, _ := cmd.Flags().GetBool("confirm")

	store, err := openAuditStore(cmd)
	if err != nil {
		utils.PrintError(err, "audit clear")
		return
	}
	defer store.Close()

	if !confirm && !utils.Confirm(cmd.InOrStdin(), "Delete all audit entries?") {
		fmt.Println("Clear cancelled.")
		return
	}

	deleted, err := store.Clear(context.Background())
	if err != nil {
		utils.PrintError(err, "audit clear")
		return
	}

	result := models.AuditClearResult{
		DeletedCount:  deleted,
		OperationTime: utils.FormatTime(start),
	}
	if err := utils.PrintJSON(result); err != nil {
		utils.PrintError(err, "audit clear")
	}
}

func runAuditExport(cmd *cobra.Command) {
	start := time.Now()
	formatName, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")
	upload, _ := cmd.Flags().GetBool("upload")

	format, err := audit.ParseExportFormat(formatName)
	if err != nil {
		utils.PrintError(err, "audit export")
		return
	}
	if output == "" {
		output = "download_log_" + start.Format("20060102_150405") + format.Extension()
	}

	store, err := openAuditStore(cmd)
	if err != nil {
		utils.PrintError(err, "audit export")
		return
	}
	defer store.Close()

	ctx := context.Background()
	entries, err := store.ListAll(ctx)
	if err != nil {
		utils.PrintError(err, "audit export")
		return
	}

	var buf bytes.Buffer
	size, err := audit.Export(&buf, entries, format)
	if err != nil {
		utils.PrintError(err, "audit export")
		return
	}
	if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
		utils.PrintError(fmt.Errorf("failed to write export: %w", err), "audit export")
		return
	}

	result := models.AuditExportResult{
		Format:        string(format),
		OutputPath:    output,
		TotalEntries:  len(entries),
		SizeBytes:     size,
		OperationTime: utils.FormatTime(start),
	}

	if upload {
		mc, err := mirror.New(ctx, cfg, logger)
		if err != nil {
			utils.PrintError(err, "audit export")
			return
		}
		result.Mirror, err = mc.UploadBytes(ctx, buf.Bytes(), "audit/"+filepath.Base(output), format.ContentType())
		if err != nil {
			utils.PrintError(err, "audit export")
			return
		}
	}

	if err := utils.PrintJSON(result); err != nil {
		utils.PrintError(err, "audit export")
	}
}

func init() {
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditClearCmd)
	auditCmd.AddCommand(auditExportCmd)

	auditCmd.PersistentFlags().String("db", "", "Audit database path (default: AUDIT_DB)")

	auditClearCmd.Flags().Bool("confirm", false, "Skip confirmation prompt")

	auditExportCmd.Flags().StringP("format", "f", "json", "Export format: json or cbor")
	auditExportCmd.Flags().StringP("output", "o", "", "Output file (default: download_log_<timestamp>.<ext>)")
	auditExportCmd.Flags().Bool("upload", false, "Upload the export to the S3 bucket")
}
