package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/muurk/jsonwire/internal/logging"
)

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Listeners []ListenerStatus `json:"listeners"`
}

// ListenerStatus describes one listener and its connection table
type ListenerStatus struct {
	Name        string           `json:"name"`
	Addr        string           `json:"addr"`
	Active      int              `json:"active"`
	Connections []ConnectionInfo `json:"connections"`
}

// NewHTTPHandler builds the mux served next to the TCP listener:
//
//	GET  /healthz   liveness check
//	GET  /status    connection tables of every listener
//	     wsPath     WebSocket gateway (when gateway is non-nil)
func NewHTTPHandler(log *logging.Logger, gateway *WebSocketListener, wsPath string, listeners ...*Listener) http.Handler {
	if log == nil {
		log = logging.Nop()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{Listeners: make([]ListenerStatus, 0, len(listeners))}
		for _, l := range listeners {
			snapshot := l.Snapshot()
			resp.Listeners = append(resp.Listeners, ListenerStatus{
				Name:        l.name,
				Addr:        l.Addr().String(),
				Active:      len(snapshot),
				Connections: snapshot,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Error("Failed to write status response",
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err),
			)
		}
	})

	if gateway != nil && wsPath != "" {
		mux.Handle(wsPath, gateway)
	}

	return mux
}
