package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"filedrop/internal/archive"
	"filedrop/internal/models"
	"filedrop/internal/protocol"
	"filedrop/pkg/utils"
)

// State is a step of the download state machine.
type State int32

const (
	StateIdle State = iota
	StateRequesting
	StateAwaitOffer
	StateAwaitSize
	StateTransferring
	StateVerifying
	StateRejected
	StateCancelled
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateRequesting:   "requesting",
	StateAwaitOffer:   "await_offer",
	StateAwaitSize:    "await_size",
	StateTransferring: "transferring",
	StateVerifying:    "verifying",
	StateRejected:     "rejected",
	StateCancelled:    "cancelled",
	StateDone:         "done",
	StateFailed:       "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// CancelToken asks a running download to stop. It is checked before
// READY is sent and before every payload read, so a blocked read delays
// cancellation by at most the chunk timeout.
//
// A tripped token stays tripped: every later Download on the same
// Downloader is cancelled at once until Reset is called. Download also
// trips it when its context is cancelled.
type CancelToken struct {
	cancelled atomic.Bool
}

func NewCancelToken() *CancelToken { return &CancelToken{} }

func (t *CancelToken) Cancel() { t.cancelled.Store(true) }

func (t *CancelToken) Cancelled() bool { return t.cancelled.Load() }

// Reset re-arms the token for another download.
func (t *CancelToken) Reset() { t.cancelled.Store(false) }

// Progress is emitted after every payload chunk.
type Progress struct {
	Received uint64
	Total    uint64
	Percent  float64
}

type Options struct {
	Addr      string
	OutputDir string

	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	// ChunkTimeout bounds each payload read and the terminal marker wait.
	// A payload read that times out is retried.
	ChunkTimeout time.Duration

	// Progress receives updates without blocking; updates are dropped
	// while the channel is full.
	Progress chan<- Progress
	Logger   *slog.Logger
}

// Downloader runs one download at a time over a dedicated connection.
type Downloader struct {
	opts   Options
	cancel *CancelToken
	logger *slog.Logger
	state  atomic.Int32
}

func NewDownloader(opts Options, cancel *CancelToken) *Downloader {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = DefaultResponseTimeout
	}
	if opts.ChunkTimeout <= 0 {
		opts.ChunkTimeout = DefaultChunkTimeout
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if cancel == nil {
		cancel = NewCancelToken()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Downloader{opts: opts, cancel: cancel, logger: logger.With("server", opts.Addr)}
}

func (d *Downloader) State() State { return State(d.state.Load()) }

func (d *Downloader) setState(s State) { d.state.Store(int32(s)) }

// Download fetches filename into the output directory. Cancelling ctx
// trips the cancel token. Errors wrap the protocol sentinels:
// ErrRejected, ErrCancelled, ErrProtocol, ErrSizeMismatch, ErrTimeout and
// ErrConnectionFailure.
func (d *Downloader) Download(ctx context.Context, filename string) (result *models.DownloadResult, err error) {
	stop := context.AfterFunc(ctx, d.cancel.Cancel)
	defer stop()

	start := time.Now()
	logger := d.logger.With("filename", filename)

	defer func() {
		if err != nil {
			if s := d.State(); s != StateRejected && s != StateCancelled {
				d.setState(StateFailed)
				logger.Warn("download failed", "state", s, "error", err)
			}
		}
	}()

	d.setState(StateRequesting)
	conn, err := dialTCP(ctx, d.opts.Addr, d.opts.ConnectTimeout)
	if err != nil {
		if d.cancelled(ctx) {
			d.setState(StateCancelled)
			return nil, protocol.ErrCancelled
		}
		return nil, err
	}
	sess := protocol.NewSession(conn)
	defer sess.Close()
	sess.SetTimeout(d.opts.ResponseTimeout)

	if err := sess.Send(protocol.DownloadCommand(filename).Encode()); err != nil {
		return nil, fmt.Errorf("sending download request: %w", err)
	}

	d.setState(StateAwaitOffer)
	token, err := sess.Receive()
	if err != nil {
		return nil, fmt.Errorf("receiving offer: %w", err)
	}
	if d.cancelled(ctx) {
		d.setState(StateCancelled)
		logger.Info("download cancelled before transfer")
		return nil, protocol.ErrCancelled
	}
	offer, err := protocol.ParseOffer(token)
	if err != nil {
		return nil, err
	}
	if !offer.Success {
		d.setState(StateRejected)
		logger.Info("download rejected", "message", offer.Message)
		return nil, fmt.Errorf("%w: %s", protocol.ErrRejected, offer.Message)
	}
	if offer.Legacy {
		logger.Warn("offer without compressed size, assuming 0", "offer", token)
	}

	if err := sess.Send(protocol.MsgReady); err != nil {
		return nil, fmt.Errorf("sending ready: %w", err)
	}

	d.setState(StateAwaitSize)
	token, err = sess.Receive()
	if err != nil {
		return nil, fmt.Errorf("receiving archive size: %w", err)
	}
	total, err := protocol.ParseSize(token)
	if err != nil {
		return nil, err
	}
	if err := sess.Send(protocol.MsgSizeReceived); err != nil {
		return nil, fmt.Errorf("acknowledging archive size: %w", err)
	}

	name := utils.GenerateDownloadName(filename, archive.Format(offer.Format).Extension(), start)
	file, savedPath, err := createDestination(d.opts.OutputDir, name)
	if err != nil {
		return nil, err
	}
	logger = logger.With("destination", savedPath)

	d.setState(StateTransferring)
	received, err := d.transfer(ctx, sess, file, total, logger)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("closing %s: %w", savedPath, closeErr)
	}
	if err != nil {
		return nil, err
	}

	if d.cancelled(ctx) {
		d.setState(StateCancelled)
		if rmErr := utils.CleanupTempFile(savedPath); rmErr != nil {
			logger.Debug("failed to remove partial download", "error", rmErr)
		}
		logger.Info("download cancelled", "received", received, "total", total)
		return nil, protocol.ErrCancelled
	}

	d.awaitMarker(sess, logger)

	d.setState(StateVerifying)
	actual, err := utils.FileSize(savedPath)
	if err != nil {
		return nil, err
	}
	if uint64(actual) != total {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d (kept %s)", protocol.ErrSizeMismatch, total, actual, savedPath)
	}

	if err := sess.Send(protocol.ExitCommand().Encode()); err != nil {
		logger.Debug("failed to send exit", "error", err)
	}

	d.setState(StateDone)
	saved := int64(offer.OriginalSize) - int64(offer.CompressedSize)
	logger.Info("download complete", "bytes", total, "duration", time.Since(start))

	return &models.DownloadResult{
		Server:           d.opts.Addr,
		Filename:         filename,
		SavedPath:        savedPath,
		Format:           offer.Format,
		OriginalSize:     offer.OriginalSize,
		CompressedSize:   offer.CompressedSize,
		CompressionRatio: offer.Ratio,
		ArchiveSize:      total,
		SavedBytes:       saved,
		SavedHuman:       utils.FormatBytes(saved),
		OperationTime:    utils.FormatTime(start),
		DownloadDuration: time.Since(start).String(),
	}, nil
}

// transfer copies total payload bytes from sess to w. It returns early,
// without error, on cancellation or when the server closes the
// connection; the caller detects the short count.
func (d *Downloader) transfer(ctx context.Context, sess *protocol.Session, w io.Writer, total uint64, logger *slog.Logger) (uint64, error) {
	sess.SetTimeout(d.opts.ChunkTimeout)
	buf := make([]byte, protocol.ChunkSize)

	var received uint64
	for received < total {
		if d.cancelled(ctx) {
			break
		}

		want := min(uint64(protocol.ChunkSize), total-received)
		n, err := sess.ReadChunk(buf[:want])
		if err != nil {
			if errors.Is(err, protocol.ErrTimeout) {
				logger.Debug("payload read timed out, retrying", "received", received)
				continue
			}
			logger.Warn("payload stream ended early", "received", received, "total", total, "error", err)
			break
		}

		if _, err := w.Write(buf[:n]); err != nil {
			return received, fmt.Errorf("writing payload: %w", err)
		}
		received += uint64(n)
		d.emit(received, total)
	}
	return received, nil
}

// cancelled reports whether the token was tripped. The token is set by
// context.AfterFunc in its own goroutine, so ctx is consulted directly.
func (d *Downloader) cancelled(ctx context.Context) bool {
	return d.cancel.Cancelled() || ctx.Err() != nil
}

func (d *Downloader) awaitMarker(sess *protocol.Session, logger *slog.Logger) {
	sess.SetTimeout(d.opts.ChunkTimeout)
	token, err := sess.Receive()
	if err != nil {
		logger.Warn("terminal marker not received", "error", err)
		return
	}
	if token != protocol.MsgFileEnd {
		logger.Warn("unexpected terminal marker", "marker", truncate(token, 32))
	}
}

func (d *Downloader) emit(received, total uint64) {
	if d.opts.Progress == nil {
		return
	}
	percent := 100.0
	if total > 0 {
		percent = float64(received) / float64(total) * 100
	}
	select {
	case d.opts.Progress <- Progress{Received: received, Total: total, Percent: percent}:
	default:
	}
}

// createDestination creates a new file named name in dir, adding a
// numeric suffix rather than overwriting an existing file.
func createDestination(dir, name string) (*os.File, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("failed to create output directory: %w", err)
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		path := filepath.Join(dir, candidate)
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return file, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("failed to create destination file: %w", err)
		}
	}
	return nil, "", fmt.Errorf("failed to create destination file: too many downloads named %s", name)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
