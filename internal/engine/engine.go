package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/p-arndt/sandkastendb/internal/logger"
)

// DriverName is the database/sql driver every sandbox connection uses.
const DriverName = "sqlite"

const shutdownTimeout = 10 * time.Second

// Engine hosts the sandbox databases of one process and serves the remote
// surface on its listening address. Start and Stop are serialized; an
// Engine starts at most once.
type Engine struct {
	logger *zap.Logger

	mu         sync.Mutex
	started    bool
	stopped    bool
	listener   net.Listener
	server     *http.Server
	done       chan struct{}
	host       string
	remoteOpen bool

	handler atomic.Pointer[mounted]
}

type mounted struct {
	h http.Handler
}

// New returns an engine that writes its activity log to sink, or stdout
// when sink is nil.
func New(sink io.Writer) *Engine {
	return &Engine{logger: logger.NewSink(sink, "engine")}
}

// Mount sets the handler served on the engine address. It may be called
// before or after Start; until then requests get 503.
func (e *Engine) Mount(h http.Handler) {
	e.handler.Store(&mounted{h: h})
}

// Start binds address:port and begins serving. Port 0 picks a free port.
func (e *Engine) Start(address string, port int, remoteOpen bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return ErrAlreadyStarted
	}
	if !slices.Contains(sql.Drivers(), DriverName) {
		return &StartupError{Op: "load driver", Err: fmt.Errorf("sql driver %q not registered", DriverName)}
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return &StartupError{Op: "listen", Err: err}
	}

	e.started = true
	e.listener = ln
	e.host = address
	e.remoteOpen = remoteOpen
	e.done = make(chan struct{})
	e.server = &http.Server{
		Handler:      http.HandlerFunc(e.serveHTTP),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("engine serve", zap.Error(err))
		}
	}(e.server, e.done)

	e.logger.Info("engine started",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("remote_open", remoteOpen))
	return nil
}

func (e *Engine) serveHTTP(w http.ResponseWriter, r *http.Request) {
	m := e.handler.Load()
	if m == nil || m.h == nil {
		http.Error(w, "engine not ready", http.StatusServiceUnavailable)
		return
	}
	m.h.ServeHTTP(w, r)
}

// Stop shuts the engine down. It never fails: problems are logged. Calling
// it again, or before Start, does nothing.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started || e.stopped {
		return
	}
	e.stopped = true

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.server.Shutdown(ctx); err != nil {
		e.logger.Warn("engine shutdown", zap.Error(err))
		e.server.Close()
	}
	select {
	case <-e.done:
	case <-ctx.Done():
		e.logger.Warn("engine shutdown timed out")
	}
	e.logger.Info("engine stopped")
	e.logger.Sync()
}

// Addr is the bound address, or nil before Start.
func (e *Engine) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

// Host is the address Start was given, or the bound IP when that was empty.
func (e *Engine) Host() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.host != "" || e.listener == nil {
		return e.host
	}
	if tcp, ok := e.listener.Addr().(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	return ""
}

func (e *Engine) Port() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return 0
	}
	if tcp, ok := e.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// RemoteOpen reports whether remote clients may open sandbox databases.
func (e *Engine) RemoteOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteOpen
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started && !e.stopped
}
