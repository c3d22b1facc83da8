package node

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/ryandielhenn/zephyrmesh/internal/telemetry"
)

// Admin serves read-only operational endpoints from a StatusBoard.
type Admin struct {
	board *StatusBoard
}

func NewAdmin(board *StatusBoard) *Admin {
	return &Admin{board: board}
}

// Healthz returns 200 once the node has completed its handshake.
func (a *Admin) Healthz(w http.ResponseWriter, _ *http.Request) {
	if _, ok := a.board.Load(); !ok {
		http.Error(w, "waiting for init", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes a JSON payload with the process ID, current time, and node status.
func (a *Admin) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID    int       `json:"pid"`
		Now    time.Time `json:"now"`
		Status *Status   `json:"status,omitempty"`
	}
	r := resp{PID: os.Getpid(), Now: time.Now()}
	if st, ok := a.board.Load(); ok {
		r.Status = &st
	}
	data, err := json.Marshal(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// Mux wires /healthz, /info and /metrics.
func (a *Admin) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/healthz", telemetry.Instrument("healthz", http.HandlerFunc(a.Healthz)))
	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(a.Info)))
	mux.Handle("/metrics", telemetry.MetricsHandler())
	return mux
}
