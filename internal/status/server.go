// Package status streams world statistics to local websocket clients.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"chunkstream/internal/world"
)

// Source provides the latest world summary. It is read from HTTP handler
// goroutines and must be safe for concurrent use.
type Source interface {
	Published() world.Stats
}

// Frame is one message on the status stream.
type Frame struct {
	Seq   uint64      `json:"seq"`
	Time  time.Time   `json:"time"`
	Stats world.Stats `json:"stats"`
}

type Server struct {
	source   Source
	interval time.Duration
	log      *log.Logger

	upgrader websocket.Upgrader
	clients  atomic.Int64
}

func NewServer(source Source, interval time.Duration, logger *log.Logger) *Server {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "status ", log.LstdFlags)
	}
	return &Server{
		source:   source,
		interval: interval,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			// Only loopback peers get this far.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Clients is the number of connected websocket clients.
func (s *Server) Clients() int64 {
	return s.clients.Load()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.WSHandler())
	mux.HandleFunc("/status.json", s.SnapshotHandler())
	return mux
}

// SnapshotHandler answers a single JSON frame.
func (s *Server) SnapshotHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(Frame{Time: time.Now().UTC(), Stats: s.source.Published()})
	}
}

// WSHandler upgrades loopback GET requests and sends a frame every interval
// until the client goes away.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.clients.Add(1)
		defer s.clients.Add(-1)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Reader: the stream is one-way, reads only notice the close.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		var seq uint64
		for {
			seq++
			frame := Frame{Seq: seq, Time: time.Now().UTC(), Stats: s.source.Published()}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
				return
			case <-ticker.C:
			}
		}
	}
}

// ListenAndServe serves the status endpoints on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Printf("status stream on ws://%s/status", ln.Addr())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
