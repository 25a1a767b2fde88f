package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"filedrop/internal/client"
	"filedrop/internal/models"
	"filedrop/pkg/utils"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the files a server offers",
	Example: `  # List files on the configured server
  filedrop list

  # List files on another server
  filedrop list --server 10.0.0.5:12345`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runList(cmd)
	},
}

func runList(cmd *cobra.Command) {
	start := time.Now()
	addr := getServerAddr(cmd)

	if isVerbose(cmd) {
		cmd.Printf("Requesting file list from %s\n", addr)
	}

	c, err := client.Dial(context.Background(), addr, cfg.ConnectTimeout, cfg.ResponseTimeout, logger)
	if err != nil {
		utils.PrintError(err, "list")
		return
	}
	defer c.Close()

	entries, err := c.List()
	if err != nil {
		utils.PrintError(err, "list")
		return
	}

	result := models.ListResult{
		Server:        addr,
		Files:         make([]models.FileItem, 0, len(entries)),
		TotalFiles:    len(entries),
		OperationTime: utils.FormatTime(start),
	}
	for _, e := range entries {
		result.Files = append(result.Files, models.FileItem{
			Name:      e.Name,
			Size:      e.Size,
			SizeHuman: utils.FormatBytes(e.Size),
		})
		result.TotalSizeBytes += e.Size
	}
	result.TotalSizeHuman = utils.FormatBytes(result.TotalSizeBytes)

	if err := utils.PrintJSON(result); err != nil {
		utils.PrintError(err, "list")
	}
}
