package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marosstudenic/lib-gsm/gsm"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server handles incoming HTTP requests for interacting with the
// configured modem instance
type Server struct {
	Logger *slog.Logger
	Modem  *gsm.Modem
	Events *eventHub
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /at", s.handleAT)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// handleStatus reports the modem's lifecycle phase and subsystem statuses
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type StatusResponse struct {
		Phase         string `json:"phase"`
		NetworkActive bool   `json:"network_active"`
		Link          string `json:"link"`
		Gsm           string `json:"gsm"`
		Sim           string `json:"sim"`
		TCP           string `json:"tcp"`
		RSSI          int    `json:"rssi"`
		Network       string `json:"network"`
	}

	m := s.Modem
	resp := StatusResponse{
		Phase:         m.Phase().String(),
		NetworkActive: m.NetworkActive(),
		Link:          m.LinkStatus().String(),
		Gsm:           m.GsmStatus().String(),
		Sim:           m.SimStatus().String(),
		TCP:           m.TCPStatus().String(),
		RSSI:          m.RSSI(),
		Network:       m.NetworkInfo().String(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleAT passes one AT command through to the modem and returns the
// response lines observed while it ran. The command channel is claimed
// without blocking: a modem busy with its own exchange answers 503.
func (s *Server) handleAT(w http.ResponseWriter, r *http.Request) {
	type ATRequest struct {
		Command   string `json:"command"`
		TimeoutMS int    `json:"timeout_ms"`
	}

	var req ATRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.TimeoutMS < 0 {
		s.sendError(w, "'timeout_ms' must not be negative", http.StatusBadRequest)
		return
	}

	if !s.Modem.ATLock() {
		s.sendError(w, "command channel busy", http.StatusServiceUnavailable)
		return
	}
	ch, cancel := s.Events.Subscribe(64)
	defer cancel()

	if req.TimeoutMS > 0 {
		s.Modem.NextATTimeout(time.Duration(req.TimeoutMS) * time.Millisecond)
	}
	res := s.Modem.AT(r.Context(), req.Command)

	// the exchange's lines were broadcast before it resolved; drain them
	lines := []string{}
drain:
	for {
		select {
		case ev := <-ch:
			if ev.Kind == gsm.DiagnosticCommandReceive {
				lines = append(lines, ev.Message)
			}
		default:
			break drain
		}
	}

	type ATResponse struct {
		Command string   `json:"command"`
		Result  string   `json:"result"`
		Lines   []string `json:"lines"`
	}
	s.Logger.Info("AT passthrough", "command", req.Command, "result", res.String())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ATResponse{
		Command: "AT" + req.Command,
		Result:  res.String(),
		Lines:   lines,
	})
}

// handleEvents upgrades the connection to a WebSocket and streams wire
// traces to the client.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, cancel := s.Events.Subscribe(100)
	defer cancel()

	type WireEvent struct {
		Kind    string    `json:"kind"`
		Message string    `json:"message"`
		Time    time.Time `json:"time"`
	}
	for ev := range ch {
		we := WireEvent{Kind: ev.Kind.String(), Message: ev.Message, Time: ev.Time}
		if err := conn.WriteJSON(we); err != nil {
			return
		}
	}
}
