package nfs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	nfs "github.com/willscott/go-nfs"
	nfshelper "github.com/willscott/go-nfs/helpers"

	"github.com/brettbedarf/ramfs"
	"github.com/brettbedarf/ramfs/config"
	"github.com/brettbedarf/ramfs/internal/util"
)

// Server exports the engine over NFSv3 through go-nfs
type Server struct {
	listener net.Listener
	server   *nfs.Server
	handler  nfs.Handler
	cancel   context.CancelFunc

	mu       sync.Mutex // guards listener
	done     chan struct{}
	shutdown sync.Once
}

// NewServer creates an NFS server for fs. mu must be shared with any other
// adapter serving the same engine.
func NewServer(fs ramfs.Operator, mu sync.Locker, cfg *config.Config) *Server {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	// Set go-nfs log level to match our log level
	switch cfg.LogLvl {
	case util.TraceLevel:
		nfs.Log.SetLevel(nfs.TraceLevel)
	case util.DebugLevel:
		nfs.Log.SetLevel(nfs.DebugLevel)
	default:
		nfs.Log.SetLevel(nfs.WarnLevel)
	}

	billyFS := NewBillyFS(fs, mu)
	handler := nfshelper.NewNullAuthHandler(billyFS)
	cacheHelper := nfshelper.NewCachingHandler(handler, cfg.NFS.HandleCacheSize)

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		server: &nfs.Server{
			Handler: cacheHelper,
			Context: ctx,
		},
		handler: cacheHelper,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Listen binds addr without serving yet. Use Addr to learn the port when
// addr ends in ":0".
func (s *Server) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts NFS connections until Shutdown. It listens on addr first
// unless Listen was already called.
func (s *Server) Serve(addr string) error {
	logger := util.GetLogger("NFS.Serve")

	if s.Addr() == nil {
		if err := s.Listen(addr); err != nil {
			return err
		}
	}
	logger.Info().Str("addr", s.Addr().String()).Msg("Serving NFS")

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	err := s.server.Serve(listener)

	select {
	case <-s.done:
		// Closed listener after Shutdown
		return nil
	default:
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and cancels in-flight handlers.
// It is safe to call more than once, also concurrently.
func (s *Server) Shutdown() {
	s.shutdown.Do(func() {
		logger := util.GetLogger("NFS.Shutdown")
		close(s.done)

		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()

		if s.cancel != nil {
			s.cancel()
		}
		logger.Info().Msg("NFS server stopped")
	})
}
