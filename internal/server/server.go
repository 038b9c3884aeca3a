package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/Tyrowin/gochat-rooms/internal/filetransfer"
	"github.com/Tyrowin/gochat-rooms/internal/registry"
	"github.com/Tyrowin/gochat-rooms/internal/snapshot"
)

// recoveryDir receives the shutdown snapshot, under the data directory, when
// the startup load failed. The files that failed to load are left untouched.
const recoveryDir = "recovered"

// Server owns the registry and every listener of one chat service.
type Server struct {
	cfg     *Config
	logger  *slog.Logger
	reg     *registry.Registry
	ready   chan struct{}
	loadErr error

	dispatcher *Dispatcher
	udp        *UDPTransport
	hub        *Hub
	httpServer *http.Server
	httpLn     net.Listener
	files      *filetransfer.Service
}

// New returns a Server for cfg. A nil cfg uses the defaults.
func New(cfg *Config, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	c := *cfg
	c.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	c.sanitize()

	return &Server{
		cfg:    &c,
		logger: orDiscard(logger),
		reg: registry.New(registry.Options{
			MaxAccounts: c.MaxAccounts,
			MaxRooms:    c.MaxRooms,
		}),
		ready: make(chan struct{}),
	}
}

// Registry returns the server's registry.
func (s *Server) Registry() *registry.Registry {
	return s.reg
}

// Ready is closed once every listener is bound and serving.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// UDPAddr returns the control channel address. Valid after Ready.
func (s *Server) UDPAddr() net.Addr { return s.udp.Addr() }

// HTTPAddr returns the HTTP gateway address. Valid after Ready.
func (s *Server) HTTPAddr() net.Addr { return s.httpLn.Addr() }

// FileAddr returns the file transfer address. Valid after Ready.
func (s *Server) FileAddr() net.Addr { return s.files.Addr() }

// Run loads the snapshot, binds every listener and serves until ctx is
// cancelled, an admin shutdown is accepted, or a listener fails. On the way
// out it saves the snapshot and drains every component within the
// configured shutdown timeout. Run may be called once.
func (s *Server) Run(ctx context.Context) error {
	s.loadSnapshot()

	if err := s.bind(); err != nil {
		s.closeListeners()
		return err
	}

	dispatchCtx, stopDispatcher := context.WithCancel(context.Background())
	defer stopDispatcher()
	go s.dispatcher.Run(dispatchCtx)
	go s.hub.Run()

	errCh := make(chan error, 3)
	var serving sync.WaitGroup
	serve := func(name string, fn func() error) {
		serving.Add(1)
		go func() {
			defer serving.Done()
			if err := fn(); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}
	serve("udp", s.udp.Serve)
	serve("http", func() error { return StartServer(s.httpServer, s.httpLn, s.logger) })
	serve("file transfer", func() error { return s.files.Serve(context.Background()) })

	s.logger.Info("server started",
		"udp", s.UDPAddr().String(),
		"http", s.HTTPAddr().String(),
		"files", s.FileAddr().String(),
	)
	close(s.ready)

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("stop signal received")
	case <-s.dispatcher.ShutdownRequested():
		s.logger.Info("admin shutdown accepted")
	case runErr = <-errCh:
		s.logger.Error("listener failed", "error", runErr)
	}

	stopDispatcher()
	<-s.dispatcher.Done()
	s.saveSnapshot()
	s.drain()
	serving.Wait()

	s.logger.Info("server stopped")
	return runErr
}

func (s *Server) bind() error {
	s.files = filetransfer.New(filetransfer.Config{
		Addr:        s.cfg.FileAddr,
		Dir:         s.cfg.UploadDir,
		Workers:     s.cfg.FileTransfer.Workers,
		IdleTimeout: s.cfg.FileTransfer.IdleTimeout,
		MaxFileSize: s.cfg.FileTransfer.MaxFileSize,
	}, s.reg, s.logger)
	if err := s.files.Listen(); err != nil {
		return err
	}

	router := newOutboundRouter()
	s.dispatcher = NewDispatcher(s.reg, router, DispatcherOptions{
		QueueSize:  s.cfg.QueueSize,
		Rendezvous: s.rendezvous(),
	}, s.logger)

	udp, err := ListenUDP(s.cfg.UDPAddr, s.dispatcher, s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.udp = udp

	ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http on %s: %w", s.cfg.HTTPAddr, err)
	}
	s.httpLn = ln

	s.hub = NewHub(s.dispatcher, s.cfg, s.logger)
	s.httpServer = CreateServer(s.cfg.HTTPAddr, SetupRoutes(s.hub, s.reg))

	router.Handle(SchemeUDP, s.udp)
	router.Handle(SchemeWS, s.hub)
	return nil
}

// rendezvous is the address clients are told to dial for transfers.
func (s *Server) rendezvous() string {
	port := strconv.Itoa(s.files.Addr().(*net.TCPAddr).Port)
	return net.JoinHostPort(s.cfg.AdvertiseHost, port)
}

func (s *Server) closeListeners() {
	if s.files != nil && s.files.Addr() != nil {
		_ = s.files.Shutdown(0)
	}
	if s.udp != nil {
		_ = s.udp.Close()
	}
	if s.httpLn != nil {
		_ = s.httpLn.Close()
	}
}

func (s *Server) drain() {
	timeout := s.cfg.ShutdownTimeout

	if err := s.udp.Close(); err != nil {
		s.logger.Warn("close udp", "error", err)
	}
	if err := ShutdownServer(s.httpServer, timeout, s.logger); err != nil {
		s.logger.Warn("http drain incomplete", "error", err)
	}
	if err := s.hub.Shutdown(timeout); err != nil {
		s.logger.Warn("gateway drain incomplete", "error", err)
	}
	if err := s.files.Shutdown(timeout); err != nil {
		s.logger.Warn("file transfer drain incomplete", "error", err)
	}
}

func (s *Server) loadSnapshot() {
	st, stats, err := snapshot.Load(s.cfg.DataDir)
	if err != nil {
		s.loadErr = err
		s.logger.Error("snapshot load failed, starting empty", "dir", s.cfg.DataDir, "error", err)
		return
	}

	restored := s.reg.Restore(st)
	s.logger.Info("snapshot loaded",
		"dir", s.cfg.DataDir,
		"accounts", stats.Accounts-restored.SkippedAccounts,
		"rooms", stats.Rooms-restored.SkippedRooms,
		"malformed_users", len(stats.MalformedUsers),
		"malformed_rooms", len(stats.MalformedRooms),
		"skipped_accounts", restored.SkippedAccounts,
		"skipped_rooms", restored.SkippedRooms,
		"dropped_members", restored.DroppedMembers,
	)
	if err := s.reg.CheckConsistency(); err != nil {
		s.logger.Error("registry inconsistent after restore", "error", err)
	}
}

func (s *Server) saveSnapshot() {
	dir := s.snapshotDir()
	if s.loadErr != nil {
		s.logger.Warn("keeping unreadable snapshot, saving to recovery directory",
			"dir", s.cfg.DataDir, "recovery", dir, "load_error", s.loadErr)
	}
	if err := snapshot.Save(dir, s.reg.Snapshot()); err != nil {
		s.logger.Error("snapshot save failed", "dir", dir, "error", err)
		return
	}
	s.logger.Info("snapshot saved", "dir", dir)
}

// snapshotDir is where the shutdown snapshot goes.
func (s *Server) snapshotDir() string {
	if s.loadErr != nil {
		return filepath.Join(s.cfg.DataDir, recoveryDir)
	}
	return s.cfg.DataDir
}
