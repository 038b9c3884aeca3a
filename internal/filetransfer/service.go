// Package filetransfer serves bulk uploads and downloads over a stream
// listener. Clients authenticate with the session token they received at
// login; the token is checked against the live registry on every transfer,
// so this channel agrees with the command channel on who is logged in.
//
// Wire format, one header line then raw bytes:
//
//	UPLOAD <token> <filename> <size>\n<size bytes>   ->  OK <size>\n
//	DOWNLOAD <token> <filename>\n                    ->  OK <size>\n<size bytes>
//
// Failures are answered with a single "ERR <code> <message>" line.
package filetransfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/gochat-rooms/internal/domain"
	"github.com/Tyrowin/gochat-rooms/internal/protocol"
	"github.com/Tyrowin/gochat-rooms/internal/registry"
	"golang.org/x/sync/semaphore"
)

const (
	maxHeaderBytes = 1024
	uploadDirMode  = 0o700
	uploadFileMode = 0o600
)

// TokenResolver resolves a session token issued at login.
type TokenResolver interface {
	ResolveToken(token string) (registry.Session, bool)
}

// Config controls the listener and its worker pool.
type Config struct {
	Addr        string
	Dir         string
	Workers     int
	IdleTimeout time.Duration
	MaxFileSize int64
}

// Service accepts transfer connections and runs each one on its own
// goroutine, at most Workers at a time.
type Service struct {
	cfg    Config
	auth   TokenResolver
	logger *slog.Logger
	sem    *semaphore.Weighted

	listener net.Listener
	wg       sync.WaitGroup
	closing  atomic.Bool

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// New returns a Service. Call Listen then Serve.
func New(cfg Config, auth TokenResolver, logger *slog.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		cfg:    cfg,
		auth:   auth,
		logger: logger.With("component", "filetransfer"),
		sem:    semaphore.NewWeighted(int64(cfg.Workers)),
		conns:  make(map[net.Conn]struct{}),
	}
}

// Listen binds the configured address.
func (s *Service) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen file transfer on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound listener address, or nil before Listen.
func (s *Service) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until the listener is closed by Shutdown or
// ctx is cancelled.
func (s *Service) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("file transfer service is not listening")
	}

	stop := context.AfterFunc(ctx, func() { _ = s.listener.Close() })
	defer stop()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closing.Load() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		if !s.sem.TryAcquire(1) {
			s.logger.Warn("transfer pool full, rejecting connection", "remote", conn.RemoteAddr().String())
			s.reject(conn, fmt.Errorf("%w: server busy", domain.ErrCapacity))
			continue
		}

		if !s.start(conn) {
			s.sem.Release(1)
			_ = conn.Close()
			return nil
		}
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			defer s.untrack(conn)
			s.handle(conn)
		}()
	}
}

// Shutdown stops accepting connections and waits for in-flight transfers.
// Transfers still running after timeout have their connections closed.
func (s *Service) Shutdown(timeout time.Duration) error {
	s.connMu.Lock()
	s.closing.Store(true)
	s.connMu.Unlock()
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("close listener", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		s.closeAll()
		<-done
		return context.DeadlineExceeded
	}
}

func (s *Service) handle(raw net.Conn) {
	conn := &idleConn{Conn: raw, timeout: s.cfg.IdleTimeout}
	defer func() { _ = conn.Close() }()

	remote := raw.RemoteAddr().String()
	br := bufio.NewReaderSize(conn, maxHeaderBytes)
	header, err := readHeader(br)
	if err != nil {
		s.logger.Info("bad transfer header", "remote", remote, "error", err)
		writeLine(conn, protocol.Error(err))
		return
	}

	sess, ok := s.auth.ResolveToken(header.token)
	if !ok {
		writeLine(conn, protocol.Error(fmt.Errorf("transfer: %w", domain.ErrNotLoggedIn)))
		return
	}

	path := filepath.Join(s.cfg.Dir, sess.Name, header.filename)
	switch header.op {
	case opUpload:
		err = s.receive(br, path, header.size)
		if err == nil {
			writeLine(conn, fmt.Sprintf("OK %d", header.size))
		}
	case opDownload:
		err = s.send(conn, path)
	}

	if err != nil {
		s.logger.Info("transfer failed", "remote", remote, "account", sess.Name, "op", header.op, "file", header.filename, "error", err)
		writeLine(conn, protocol.Error(err))
		return
	}
	s.logger.Info("transfer complete", "remote", remote, "account", sess.Name, "op", header.op, "file", header.filename)
}

func (s *Service) receive(r io.Reader, path string, size int64) error {
	if s.cfg.MaxFileSize > 0 && size > s.cfg.MaxFileSize {
		return fmt.Errorf("%w: file of %d bytes exceeds limit of %d", domain.ErrCapacity, size, s.cfg.MaxFileSize)
	}
	if err := os.MkdirAll(filepath.Dir(path), uploadDirMode); err != nil {
		return fmt.Errorf("%w: create upload directory: %v", domain.ErrIO, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create upload file: %v", domain.ErrIO, err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.CopyN(tmp, r, size); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: receive upload: %v", domain.ErrTransport, err)
	}
	if err := tmp.Chmod(uploadFileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: chmod upload: %v", domain.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close upload: %v", domain.ErrIO, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: store upload: %v", domain.ErrIO, err)
	}
	cleanup = false
	return nil
}

func (s *Service) send(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: no such file %q", domain.ErrNotFound, filepath.Base(path))
		}
		return fmt.Errorf("%w: open download: %v", domain.ErrIO, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat download: %v", domain.ErrIO, err)
	}
	if _, err := fmt.Fprintf(w, "OK %d\n", info.Size()); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("%w: send download: %v", domain.ErrTransport, err)
	}
	return nil
}

func (s *Service) reject(conn net.Conn, err error) {
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	writeLine(conn, protocol.Error(err))
	_ = conn.Close()
}

// start registers conn as an in-flight transfer. It reports false once
// Shutdown has begun, so no transfer is added after the drain starts waiting.
func (s *Service) start(conn net.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Service) untrack(conn net.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.conns, conn)
}

func (s *Service) closeAll() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

type op string

const (
	opUpload   op = "UPLOAD"
	opDownload op = "DOWNLOAD"
)

type header struct {
	op       op
	token    string
	filename string
	size     int64
}

func readHeader(br *bufio.Reader) (header, error) {
	line, err := br.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return header{}, fmt.Errorf("%w: header longer than %d bytes", domain.ErrValidation, maxHeaderBytes)
		}
		return header{}, fmt.Errorf("%w: read header: %v", domain.ErrTransport, err)
	}

	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return header{}, fmt.Errorf("%w: empty header", domain.ErrValidation)
	}

	h := header{op: op(strings.ToUpper(fields[0]))}
	switch {
	case h.op == opUpload && len(fields) == 4:
		size, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil || size < 0 {
			return header{}, fmt.Errorf("%w: invalid size %q", domain.ErrValidation, fields[3])
		}
		h.token, h.filename, h.size = fields[1], fields[2], size
	case h.op == opDownload && len(fields) == 3:
		h.token, h.filename = fields[1], fields[2]
	default:
		return header{}, fmt.Errorf("%w: expected UPLOAD <token> <filename> <size> or DOWNLOAD <token> <filename>", domain.ErrValidation)
	}

	if !protocol.ValidFilename(h.filename) {
		return header{}, fmt.Errorf("%w: invalid filename %q", domain.ErrValidation, h.filename)
	}
	return h, nil
}

func writeLine(w io.Writer, line string) {
	_, _ = io.WriteString(w, line+"\n")
}

// idleConn pushes the deadline forward before every read and write, so a
// connection is only cut after timeout without progress.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *idleConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}
