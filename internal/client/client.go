// Package client talks to a filedrop server: a persistent listing
// connection (Client) and the download engine (Downloader), which opens
// a dedicated connection per download.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"filedrop/internal/protocol"
)

const (
	DefaultConnectTimeout  = 30 * time.Second
	DefaultResponseTimeout = 30 * time.Second
	DefaultChunkTimeout    = 5 * time.Second
)

// Client holds a persistent connection used for listings.
type Client struct {
	addr   string
	sess   *protocol.Session
	logger *slog.Logger
}

// Dial connects to addr. connectTimeout bounds the connection attempt;
// responseTimeout bounds every reply.
func Dial(ctx context.Context, addr string, connectTimeout, responseTimeout time.Duration, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	conn, err := dialTCP(ctx, addr, connectTimeout)
	if err != nil {
		return nil, err
	}
	sess := protocol.NewSession(conn)
	sess.SetTimeout(responseTimeout)
	logger.Debug("connected", "server", addr)
	return &Client{addr: addr, sess: sess, logger: logger}, nil
}

func (c *Client) Addr() string { return c.addr }

// List requests the server's file listing.
func (c *Client) List() ([]protocol.FileEntry, error) {
	if err := c.sess.Send(protocol.ListCommand().Encode()); err != nil {
		return nil, fmt.Errorf("sending list request: %w", err)
	}
	payload, err := c.sess.Receive()
	if err != nil {
		return nil, fmt.Errorf("receiving file list: %w", err)
	}
	entries, err := protocol.DecodeList(payload)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("file list received", "files", len(entries))
	return entries, nil
}

// Close sends EXIT and closes the connection.
func (c *Client) Close() error {
	if err := c.sess.Send(protocol.ExitCommand().Encode()); err != nil {
		c.logger.Debug("failed to send exit", "error", err)
	}
	return c.sess.Close()
}

func dialTCP(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: connecting to %s: %v", protocol.ErrTimeout, addr, err)
		}
		return nil, fmt.Errorf("%w: connecting to %s: %v", protocol.ErrConnectionFailure, addr, err)
	}
	return conn, nil
}
