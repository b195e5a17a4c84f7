package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/zeusync/railgrind/internal/core/events/bus"
)

// Command actions accepted over /command and the websocket.
const (
	ActionSetSpeed = "set_speed"
	ActionEnable   = "enable"
	ActionDisable  = "disable"
)

// Command changes a running grinder.
type Command struct {
	Action  string  `json:"action"`
	Grinder string  `json:"grinder"`
	Speed   float64 `json:"speed,omitempty"`
	// Segment overrides the configured start segment for enable.
	Segment string  `json:"segment,omitempty"`
}

// CommandReply acknowledges a Command. OK means it was queued.
type CommandReply struct {
	Action  string `json:"action"`
	Grinder string `json:"grinder"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// Stats is served by /stats.
type Stats struct {
	Frames      int64               `json:"frames"`
	SimTime     float64             `json:"sim_time_seconds"`
	Connections int                 `json:"heartbeat_connections"`
	Clients     int                 `json:"ws_clients"`
	Bus         bus.EventBusMetrics `json:"bus"`
	Topics      []bus.TopicInfo     `json:"topics"`
}

// Stats returns heartbeat, websocket and event bus counters.
func (s *Server) Stats() Stats {
	return Stats{
		Frames:      s.heartbeat.FrameCount(),
		SimTime:     s.heartbeat.TotalTime().Seconds(),
		Connections: s.heartbeat.Connections(),
		Clients:     s.hub.Clients(),
		Bus:         s.events.GetMetrics(),
		Topics:      s.events.GetTopics(),
	}
}

// Handler routes the HTTP API:
//
//	GET  /track     current track geometry
//	GET  /grinders  last known grinder states
//	GET  /stats     runtime counters
//	POST /command   queue a Command
//	GET  /ws        websocket event stream, accepts Commands
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /track", s.handleTrack)
	mux.HandleFunc("GET /grinders", s.handleGrinders)
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Stats())
	})
	mux.Handle("POST /command", tokenAuth(s.config.AuthToken, http.HandlerFunc(s.handleCommand)))
	mux.Handle("GET /ws", tokenAuth(s.config.AuthToken, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hub.ServeWS(w, r, s.Do)
	})))
	return requestLogging(s.logger, mux)
}

func (s *Server) handleTrack(w http.ResponseWriter, _ *http.Request) {
	t := s.Track()
	if t == nil {
		http.Error(w, ErrNoTrack.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, t.Config())
}

func (s *Server) handleGrinders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.States())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	reply := CommandReply{Action: cmd.Action, Grinder: cmd.Grinder, OK: true}
	status := http.StatusAccepted
	if err := s.Do(cmd); err != nil {
		reply.OK = false
		reply.Error = err.Error()
		switch {
		case errors.Is(err, ErrGrinderNotFound):
			status = http.StatusNotFound
		case errors.Is(err, ErrCommandQueueFull):
			status = http.StatusServiceUnavailable
		default:
			status = http.StatusBadRequest
		}
	}
	writeJSON(w, status, reply)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
