// Command simulator runs a fake venue backend for exercising the sync core
// locally: ETag-versioned timer polling, a pending-alert list with
// acknowledgement, and a WebSocket push channel with periodic timer ticks.
//
// Usage:
//
//	simulator -addr :8066 -token dev-token -tick 5s
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/BSTCMX/kidyland-realtime/realtime"
)

const sessionMinutes = 60

type simulator struct {
	token    string
	logger   hclog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	version  int
	timers   []realtime.SessionTimer
	pending  []realtime.TimerAlert
	acked    map[string]struct{}
	watchers map[*websocket.Conn]struct{}
}

func newSimulator(token string, logger hclog.Logger) *simulator {
	s := &simulator{
		token:    token,
		logger:   logger,
		acked:    map[string]struct{}{},
		watchers: map[*websocket.Conn]struct{}{},
	}

	now := time.Now()
	for _, name := range []string{"Sofia", "Mateo", "Valentina"} {
		s.timers = append(s.timers, realtime.SessionTimer{
			TimerID:          uuid.NewString(),
			ChildName:        name,
			StartedAt:        now,
			EndsAt:           now.Add(sessionMinutes * time.Minute),
			RemainingMinutes: sessionMinutes,
			Status:           "running",
		})
	}
	s.version = 1
	return s
}

func (s *simulator) router() *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.bearerTokenRequired)
	api.HandleFunc("/sessions/timers", s.handleTimers).Methods(http.MethodGet)
	api.HandleFunc("/alerts/pending", s.handleAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/acknowledge", s.handleAcknowledge).Methods(http.MethodPost)

	router.HandleFunc("/ws/{key}", s.handleStream).Methods(http.MethodGet)
	return router
}

func (s *simulator) bearerTokenRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.token {
			http.Error(w, "Not authorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleTimers serves the timer list with an ETag derived from the state
// version, so unchanged polls get a 304.
func (s *simulator) handleTimers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	etag := strconv.Quote(strconv.Itoa(s.version))
	timers := make([]realtime.SessionTimer, len(s.timers))
	copy(timers, s.timers)
	s.mu.Unlock()

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", etag)
	if err := json.NewEncoder(w).Encode(timers); err != nil {
		s.logger.Error("failed to encode timers", "error", err.Error())
	}
}

func (s *simulator) handleAlerts(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	etag := strconv.Quote("alerts-" + strconv.Itoa(s.version))
	pending := make([]realtime.TimerAlert, len(s.pending))
	copy(pending, s.pending)
	s.mu.Unlock()

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", etag)
	if err := json.NewEncoder(w).Encode(pending); err != nil {
		s.logger.Error("failed to encode alerts", "error", err.Error())
	}
}

func (s *simulator) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var ack struct {
		TimerID      string `json:"timer_id"`
		AlertMinutes int    `json:"alert_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&ack); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	key := realtime.TimerAlert{TimerID: ack.TimerID, AlertMinutes: ack.AlertMinutes}.DedupKey()

	s.mu.Lock()
	s.acked[key] = struct{}{}
	remaining := s.pending[:0]
	for _, alert := range s.pending {
		if alert.DedupKey() != key {
			remaining = append(remaining, alert)
		}
	}
	s.pending = remaining
	s.version++
	s.mu.Unlock()

	s.logger.Info("alert acknowledged", "key", key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *simulator) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") != s.token {
		http.Error(w, "Not authorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err.Error())
		return
	}

	s.mu.Lock()
	s.watchers[conn] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("stream watcher connected", "key", mux.Vars(r)["key"], "remote", r.RemoteAddr)

	// Drain the connection until the client goes away; the simulator never
	// expects inbound frames.
	go func() {
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				break
			}
		}
		s.mu.Lock()
		delete(s.watchers, conn)
		s.mu.Unlock()
		_ = conn.Close()
		s.logger.Info("stream watcher disconnected", "remote", r.RemoteAddr)
	}()
}

// tick advances every running timer by one simulated minute, raises alerts at
// the 5-minute and expiry thresholds, and pushes ticks to stream watchers.
func (s *simulator) tick() {
	s.mu.Lock()

	var frames [][]byte
	for i := range s.timers {
		timer := &s.timers[i]
		if timer.Status != "running" {
			continue
		}
		timer.RemainingMinutes--
		if timer.RemainingMinutes <= 0 {
			timer.RemainingMinutes = 0
			timer.Status = "expired"
		}

		switch timer.RemainingMinutes {
		case 5:
			s.raiseAlertLocked(*timer, 5, fmt.Sprintf("%s has 5 minutes remaining", timer.ChildName))
		case 0:
			s.raiseAlertLocked(*timer, 0, fmt.Sprintf("time is up for %s", timer.ChildName))
		}

		data, err := json.Marshal(timer)
		if err != nil {
			continue
		}
		frame, err := json.Marshal(realtime.StreamMessage{Type: "timer_tick", Data: data})
		if err != nil {
			continue
		}
		frames = append(frames, frame)
	}
	s.version++

	watchers := make([]*websocket.Conn, 0, len(s.watchers))
	for conn := range s.watchers {
		watchers = append(watchers, conn)
	}
	s.mu.Unlock()

	for _, conn := range watchers {
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Warn("failed to push tick", "error", err.Error())
				break
			}
		}
	}
}

func (s *simulator) raiseAlertLocked(timer realtime.SessionTimer, minutes int, message string) {
	alert := realtime.TimerAlert{
		TimerID:      timer.TimerID,
		AlertMinutes: minutes,
		ChildName:    timer.ChildName,
		Message:      message,
		TriggeredAt:  time.Now(),
	}
	if _, ok := s.acked[alert.DedupKey()]; ok {
		return
	}
	s.pending = append(s.pending, alert)
	s.logger.Info("alert raised", "key", alert.DedupKey(), "message", message)
}

func main() {
	addr := flag.String("addr", ":8066", "listen address")
	token := flag.String("token", "dev-token", "bearer token clients must present")
	tick := flag.Duration("tick", 5*time.Second, "wall-clock duration of one simulated minute")
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "simulator",
		Level: hclog.Debug,
	})

	sim := newSimulator(*token, logger)
	go func() {
		ticker := time.NewTicker(*tick)
		defer ticker.Stop()
		for range ticker.C {
			sim.tick()
		}
	}()

	logger.Info("simulator listening", "addr", *addr, "token", *token)
	if err := http.ListenAndServe(*addr, sim.router()); err != nil {
		logger.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
}
