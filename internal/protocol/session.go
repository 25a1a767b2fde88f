package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"
)

// Session is one TCP connection carrying a sequence of commands. It is
// not safe for concurrent use, except Interrupt.
type Session struct {
	conn        net.Conn
	timeout     time.Duration
	interrupted atomic.Bool
	buf         [MaxControlSize]byte
}

func NewSession(conn net.Conn) *Session {
	return &Session{conn: conn}
}

// SetTimeout bounds every following read. Zero disables the bound.
func (s *Session) SetTimeout(timeout time.Duration) {
	s.timeout = timeout
}

func (s *Session) Timeout() time.Duration {
	return s.timeout
}

func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Send writes the whole token.
func (s *Session) Send(token string) error {
	return s.write([]byte(token))
}

// Receive reads one control token of at most MaxControlSize bytes.
func (s *Session) Receive() (string, error) {
	n, err := s.ReadChunk(s.buf[:])
	if err != nil {
		return "", err
	}
	return string(s.buf[:n]), nil
}

// ReadChunk performs a single bounded read into p. A read that returned
// data is reported without error even if the connection failed
// afterwards; the failure surfaces on the next call.
func (s *Session) ReadChunk(p []byte) (int, error) {
	var deadline time.Time
	if s.timeout > 0 {
		deadline = time.Now().Add(s.timeout)
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrConnectionFailure, err)
	}
	if s.interrupted.Load() {
		return 0, fmt.Errorf("%w: session interrupted", ErrTimeout)
	}

	n, err := s.conn.Read(p)
	if n > 0 {
		return n, nil
	}
	if err == nil {
		return 0, ErrPeerClosed
	}
	return 0, classify(err)
}

// SendPayload streams size bytes from r in ChunkSize frames. onChunk,
// when set, observes the size of every frame after it was written.
func (s *Session) SendPayload(r io.Reader, size uint64, onChunk func(n int)) error {
	buf := make([]byte, ChunkSize)
	for _, n := range ChunkSizes(size) {
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return fmt.Errorf("reading payload: %w", err)
		}
		if err := s.write(buf[:n]); err != nil {
			return err
		}
		if onChunk != nil {
			onChunk(n)
		}
	}
	return nil
}

// Interrupt unblocks a pending read and fails every later one with
// ErrTimeout. Writes are unaffected.
func (s *Session) Interrupt() {
	s.interrupted.Store(true)
	_ = s.conn.SetReadDeadline(time.Now())
}

func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) write(p []byte) error {
	if _, err := s.conn.Write(p); err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return ErrPeerClosed
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnectionFailure, err)
}
