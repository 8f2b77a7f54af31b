package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// shutdownTimeout is how long the loopback server gets to drain.
const shutdownTimeout = 5 * time.Second

// Loopback is a localhost HTTP server that receives the OAuth redirect
// for desktop flows and feeds it to a Manager. Mobile-style deep links
// call Manager.HandleRedirect directly instead.
type Loopback struct {
	srv  *http.Server
	port int
}

// StartLoopback binds 127.0.0.1 on a random port and serves the
// redirect endpoint. It also points the Manager's redirect URL at the
// bound port. Callers must Stop it when the attempt resolves.
func StartLoopback(ctx context.Context, m *Manager, logger *slog.Logger) (*Loopback, error) {
	if logger == nil {
		logger = slog.Default()
	}

	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("authflow: binding loopback listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, errors.New("authflow: listener address is not TCP")
	}

	port := tcpAddr.Port
	m.cfg.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d/callback", port)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		if err := m.HandleRedirect(r.URL.Query()); err != nil {
			http.Error(w, "Invalid callback", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body><h1>Authentication complete</h1>"+
			"<p>You can close this window and return to GenPwd.</p></body></html>")
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Warn("loopback server error", slog.String("error", serveErr.Error()))
		}
	}()

	logger.Info("loopback callback server listening", slog.Int("port", port))

	return &Loopback{srv: srv, port: port}, nil
}

// Port returns the bound TCP port.
func (l *Loopback) Port() int {
	return l.port
}

// Stop gracefully shuts the server down.
func (l *Loopback) Stop(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := l.srv.Shutdown(ctx); err != nil && logger != nil {
		logger.Warn("loopback server shutdown error", slog.String("error", err.Error()))
	}
}
