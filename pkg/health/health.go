// Package health serves liveness and readiness endpoints for long-running
// commands such as the development API server.
package health

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// State is a readiness state.
type State int32

// Readiness states.
const (
	Starting State = iota
	Ready
	Draining
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Draining:
		return "draining"
	default:
		return "starting"
	}
}

// Paths the endpoints are mounted at by Mount.
const (
	LivenessPath  = "/healthz"
	ReadinessPath = "/readyz"
)

// Checker tracks readiness. It is safe for concurrent use.
type Checker struct {
	state atomic.Int32
}

// NewChecker creates a Checker in the Starting state.
func NewChecker() *Checker {
	return &Checker{}
}

// SetReady marks the server as accepting traffic.
func (c *Checker) SetReady() {
	c.state.Store(int32(Ready))
}

// SetDraining marks the server as shutting down.
func (c *Checker) SetDraining() {
	c.state.Store(int32(Draining))
}

// State returns the current state.
func (c *Checker) State() State {
	return State(c.state.Load())
}

type statusResponse struct {
	Status string `json:"status"`
}

// LivenessHandler always answers 200.
func (*Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
	}
}

// ReadinessHandler answers 200 when ready and 503 otherwise.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		state := c.State()
		code := http.StatusServiceUnavailable
		if state == Ready {
			code = http.StatusOK
		}
		writeJSON(w, code, statusResponse{Status: state.String()})
	}
}

// Mount registers both endpoints on mux.
func (c *Checker) Mount(mux *http.ServeMux) {
	mux.Handle("GET "+LivenessPath, c.LivenessHandler())
	mux.Handle("GET "+ReadinessPath, c.ReadinessHandler())
}

func writeJSON(w http.ResponseWriter, code int, v statusResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
