package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"filedrop/internal/models"
	"filedrop/internal/protocol"
)

// MsgMalformedDownload is the ERROR offer message for a DOWNLOAD request
// that cannot be parsed.
const MsgMalformedDownload = "malformed download request"

// handleConn runs the command loop of one connection until EXIT, peer
// close, a connection failure or server drain.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	sess := protocol.NewSession(conn)
	client := conn.RemoteAddr().String()
	logger := s.logger.With("client", client)

	defer func() {
		sess.Close()
		logger.Info("client disconnected")
	}()

	for {
		if !s.enterIdle(sess) {
			logger.Debug("closing idle connection, server draining")
			return
		}
		sess.SetTimeout(s.cfg.IdleTimeout)
		token, err := sess.Receive()
		s.leaveIdle(sess)

		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrPeerClosed):
			case ctx.Err() != nil:
				logger.Debug("command wait interrupted by shutdown")
			case errors.Is(err, protocol.ErrTimeout):
				logger.Info("closing idle connection", "idle_timeout", s.cfg.IdleTimeout)
			default:
				logger.Warn("failed to receive command", "error", err)
			}
			return
		}

		cmd, err := protocol.ParseCommand(token)
		if err != nil {
			if cmd.Kind != protocol.CommandDownload {
				logger.Warn("ignoring unrecognized command", "error", err)
				continue
			}
			logger.Warn("rejecting malformed download request", "error", err)
			if err := sess.Send(protocol.ErrorOffer(MsgMalformedDownload).Encode()); err != nil {
				logger.Warn("connection lost", "command", cmd.Kind, "error", err)
				return
			}
			continue
		}
		logger.Debug("command received", "command", cmd.Kind, "filename", cmd.Filename)

		switch cmd.Kind {
		case protocol.CommandList:
			err = s.handleList(sess, logger)
		case protocol.CommandDownload:
			err = s.handleDownload(ctx, sess, cmd.Filename, logger.With("filename", cmd.Filename))
		case protocol.CommandExit:
			logger.Info("client exit")
			return
		}

		if err != nil {
			if isConnectionError(err) {
				logger.Warn("connection lost", "command", cmd.Kind, "error", err)
				return
			}
			logger.Warn("command failed", "command", cmd.Kind, "error", err)
		}
	}
}

func (s *Server) handleList(sess *protocol.Session, logger *slog.Logger) error {
	entries, err := s.provider.List()
	if err != nil {
		// An unreadable directory is reported as an empty listing.
		logger.Error("failed to list files", "error", err)
		entries = nil
	}
	payload := protocol.EncodeList(entries)
	if payload == "" {
		payload = protocol.EmptyList
	}
	if err := sess.Send(payload); err != nil {
		return err
	}
	logger.Info("file list sent", "files", len(entries))
	return nil
}

// handleDownload drives the server side of the transfer handshake. Errors
// wrapping protocol.ErrPeerClosed or ErrConnectionFailure end the
// connection; anything else leaves it open for the next command.
func (s *Server) handleDownload(ctx context.Context, sess *protocol.Session, filename string, logger *slog.Logger) error {
	info, err := s.provider.Compress(filename)
	if err != nil {
		logger.Warn("rejecting download", "error", err)
		message := "compression failed"
		if errors.Is(err, protocol.ErrSourceNotFound) {
			message = "file not found: " + filename
		}
		return sess.Send(protocol.ErrorOffer(message).Encode())
	}
	defer s.provider.Cleanup(info.ArchivePath)

	archive, err := os.Open(info.ArchivePath)
	if err != nil {
		logger.Error("failed to open archive", "archive", info.ArchivePath, "error", err)
		return sess.Send(protocol.ErrorOffer(fmt.Sprintf("request processing failed: %v", err)).Encode())
	}
	defer archive.Close()

	stat, err := archive.Stat()
	if err != nil {
		logger.Error("failed to stat archive", "archive", info.ArchivePath, "error", err)
		return sess.Send(protocol.ErrorOffer(fmt.Sprintf("request processing failed: %v", err)).Encode())
	}
	archiveSize := uint64(stat.Size())

	offer := protocol.SuccessOffer(uint64(info.OriginalSize), archiveSize, info.Format)
	if err := sess.Send(offer.Encode()); err != nil {
		return err
	}
	logger.Info("offer sent",
		"original_size", info.OriginalSize,
		"compressed_size", archiveSize,
		"ratio", protocol.FormatRatio(offer.Ratio),
	)

	sess.SetTimeout(s.cfg.HandshakeTimeout)
	if err := expect(sess, protocol.MsgReady); err != nil {
		logger.Info("transfer abandoned before ready", "reason", err)
		if errors.Is(err, protocol.ErrTimeout) {
			return err
		}
		return nil
	}

	if err := sess.Send(protocol.FormatSize(archiveSize)); err != nil {
		return err
	}
	if err := expect(sess, protocol.MsgSizeReceived); err != nil {
		logger.Warn("client did not acknowledge archive size", "reason", err)
		if errors.Is(err, protocol.ErrTimeout) {
			return err
		}
		return nil
	}

	var sent uint64
	err = sess.SendPayload(archive, archiveSize, func(n int) {
		sent += uint64(n)
		logger.Debug("payload progress", "sent", sent, "total", archiveSize)
	})
	if err != nil {
		return fmt.Errorf("streaming archive: %w", err)
	}
	if err := sess.Send(protocol.MsgFileEnd); err != nil {
		return err
	}
	logger.Info("archive sent", "archive", info.ArchivePath, "bytes", sent)

	entry := models.AuditEntry{
		Timestamp:        time.Now(),
		ClientAddress:    clientIP(sess.RemoteAddr()),
		Filename:         filename,
		OriginalSize:     info.OriginalSize,
		CompressedSize:   int64(archiveSize),
		CompressionRatio: offer.Ratio,
		SavedPath:        info.ArchivePath,
		ArchiveDigest:    info.Digest,
	}
	if err := s.sink.Record(context.WithoutCancel(ctx), entry); err != nil {
		logger.Error("failed to record audit entry", "error", err)
	}
	return nil
}

// expect receives one token and checks it is want. A different token
// wraps protocol.ErrProtocol.
func expect(sess *protocol.Session, want string) error {
	token, err := sess.Receive()
	if err != nil {
		return err
	}
	if token != want {
		return fmt.Errorf("%w: expected %s, got %q", protocol.ErrProtocol, want, token)
	}
	return nil
}

func isConnectionError(err error) bool {
	return errors.Is(err, protocol.ErrPeerClosed) ||
		errors.Is(err, protocol.ErrConnectionFailure) ||
		errors.Is(err, protocol.ErrTimeout)
}

func clientIP(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
