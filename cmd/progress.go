package cmd

import (
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"filedrop/internal/client"
)

// renderProgress draws updates until the channel is closed. The bar is
// created on the first update, once the archive size is known.
func renderProgress(filename string, updates <-chan client.Progress) {
	var bar *progressbar.ProgressBar
	for p := range updates {
		if bar == nil {
			bar = progressbar.NewOptions64(int64(p.Total),
				progressbar.OptionSetDescription("downloading "+filename),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowBytes(true),
				progressbar.OptionSetWidth(40),
				progressbar.OptionThrottle(100*time.Millisecond),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
				progressbar.OptionSetPredictTime(false),
			)
		}
		bar.Set64(int64(p.Received))
	}
	if bar != nil {
		bar.Finish()
	}
}
