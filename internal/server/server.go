package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/mbe-dash/internal/ecu"
	"github.com/shaunagostinho/mbe-dash/internal/logger"
	"github.com/shaunagostinho/mbe-dash/internal/mbe"
	"github.com/shaunagostinho/mbe-dash/internal/store"
)

// Server runs the poll loop and broadcasts decoded values to WebSocket clients.
type Server struct {
	cfg     *Config
	prov    ecu.Provider
	cat     *mbe.Catalog
	follow  *mbe.FollowList
	results *mbe.Results
	poller  *mbe.Poller
	logger  *logger.Logger
	store   *store.Store // nil when history is disabled

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	statusMu sync.Mutex
	status   LinkStatus
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Values  []mbe.DecodedValue `json:"values,omitempty"`
	Alerts  []Alert            `json:"alerts,omitempty"`
	Status  *LinkStatus        `json:"status,omitempty"`
	Display *DisplayConfig     `json:"display,omitempty"`
	Stamp   int64              `json:"stamp"` // Unix ms
}

// LinkStatus summarizes how polling is going.
type LinkStatus struct {
	Provider  string `json:"provider"`
	Connected bool   `json:"connected"`
	Cycles    int64  `json:"cycles"`
	Aborted   int64  `json:"aborted"`
	Skipped   int64  `json:"skipped"` // pages dropped by decode errors
	LastError string `json:"lastError,omitempty"`
	Updated   int64  `json:"updated,omitempty"` // Unix ms of the last decoded value
}

// Alert is a value outside its configured range.
type Alert struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Level string  `json:"level"` // "low" or "high"
}

// VariableInfo describes one catalog entry for the API.
type VariableInfo struct {
	Name      string  `json:"name"`
	Page      string  `json:"page"`
	Address   string  `json:"address"`
	Bytes     int     `json:"bytes"`
	Units     string  `json:"units"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	ShortDesc string  `json:"shortDesc"`
	Followed  bool    `json:"followed"`
}

// New creates a new Server. st may be nil.
func New(cfg *Config, prov ecu.Provider, cat *mbe.Catalog, follow *mbe.FollowList, st *store.Store) *Server {
	results := mbe.NewResults()
	return &Server{
		cfg:     cfg,
		prov:    prov,
		cat:     cat,
		follow:  follow,
		results: results,
		poller:  mbe.NewPoller(cat, follow, prov, results),
		logger: logger.New(logger.Config{
			Enabled:    cfg.Logging.Enabled,
			Path:       cfg.Logging.Path,
			IntervalMs: cfg.Logging.Interval,
		}, follow.Names()),
		store:   st,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		status: LinkStatus{Provider: prov.Name()},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/catalog", s.handleCatalog)
	mux.HandleFunc("/api/values", s.handleValues)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/interpret", s.handleInterpret)
	return mux
}

// Run starts the HTTP server and the poll loop.
func (s *Server) Run(ctx context.Context) error {
	go s.pollLoop(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s (%d variables on %d pages)",
		s.cfg.Server.ListenAddr, s.follow.Len(), len(s.follow.Pages()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)

	// Initial frame: display settings, status and whatever is already known
	display := s.cfg.DisplaySnapshot()
	status := s.linkStatus()
	first := Frame{
		Values:  s.results.Snapshot(),
		Status:  &status,
		Display: &display,
		Stamp:   time.Now().UnixMilli(),
	}
	if data, err := json.Marshal(first); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive, detects disconnect)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		// Display changes apply live; link and follow list changes need a restart
		display := s.cfg.DisplaySnapshot()
		s.broadcast(Frame{Display: &display, Stamp: time.Now().UnixMilli()})

		writeJSON(w, map[string]string{"status": "ok"})

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	followed := make(map[string]bool)
	for _, name := range s.follow.Names() {
		followed[name] = true
	}

	out := make([]VariableInfo, 0, s.cat.Len())
	for _, name := range s.cat.Names() {
		v, err := s.cat.Lookup(name)
		if err != nil {
			continue
		}
		info := VariableInfo{
			Name:      v.Name,
			Page:      fmt.Sprintf("0x%02x", v.Page),
			Address:   fmt.Sprintf("0x%04x", v.Address),
			Bytes:     v.Bytes,
			ShortDesc: v.ShortDesc,
			Followed:  followed[v.Name],
		}
		if sc := s.cat.Scale(name); sc != nil {
			info.Units = sc.Units
			info.Min = sc.ScaleMinimum
			info.Max = sc.ScaleMaximum
		}
		out = append(out, info)
	}
	writeJSON(w, out)
}

func (s *Server) handleValues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.results.Snapshot())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.linkStatus())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "history store disabled", http.StatusNotFound)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		// Without a name, list what has history
		names, err := s.store.Names(r.Context())
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, names)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "bad limit", 400)
			return
		}
		limit = n
	}
	samples, err := s.store.Recent(r.Context(), name, limit)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, samples)
}

// handleInterpret decodes a captured request/response pair posted as
// {"request":"hex","response":"hex"}.
func (s *Server) handleInterpret(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	var p ecu.Pair
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "bad request", 400)
		return
	}
	req, err := hex.DecodeString(p.Request)
	if err != nil {
		http.Error(w, "request: "+err.Error(), 400)
		return
	}
	resp, err := hex.DecodeString(p.Response)
	if err != nil {
		http.Error(w, "response: "+err.Error(), 400)
		return
	}
	ex, err := s.cat.Interpret(req, resp)
	switch {
	case errors.Is(err, mbe.ErrTruncatedResponse):
		// Fields decoded before the response ran out are still useful
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPartialContent)
		json.NewEncoder(w).Encode(ex)
	case err != nil:
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		writeJSON(w, ex)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] encode response: %v", err)
	}
}

// pollLoop drives the poller and fans each cycle out to clients, the CSV
// logger and the history store.
func (s *Server) pollLoop(ctx context.Context) {
	cycles := make(chan mbe.CycleResult)
	go s.poller.Run(ctx, s.cfg.ECU.Interval(), cycles)

	var prune <-chan time.Time
	if s.store != nil {
		t := time.NewTicker(time.Hour)
		defer t.Stop()
		prune = t.C
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Close()
			return
		case now := <-prune:
			if n, err := s.pruneHistory(ctx, now); err != nil {
				log.Printf("[store] prune failed: %v", err)
			} else if n > 0 {
				log.Printf("[store] pruned %d samples", n)
			}
		case res := <-cycles:
			s.handleCycle(ctx, res)
		}
	}
}

// pruneHistory drops samples older than the retention window. A window of
// zero days keeps everything.
func (s *Server) pruneHistory(ctx context.Context, now time.Time) (int64, error) {
	days := s.cfg.StoreSnapshot().RetainDays
	if s.store == nil || days <= 0 {
		return 0, nil
	}
	return s.store.Prune(ctx, now.AddDate(0, 0, -days))
}

func (s *Server) handleCycle(ctx context.Context, res mbe.CycleResult) {
	s.updateStatus(res)

	if res.Err != nil && !s.prov.IsConnected() {
		// The link dropped; one reconnect attempt per cycle keeps the loop responsive
		if err := s.prov.Connect(); err != nil {
			log.Printf("[server] reconnect failed: %v", err)
		}
	}

	status := s.linkStatus()
	frame := Frame{Status: &status, Stamp: res.At.UnixMilli()}
	if len(res.Values) > 0 {
		frame.Values = s.results.Snapshot()
		frame.Alerts = checkAlerts(s.cfg.DisplaySnapshot().Alerts, frame.Values)
	}
	s.broadcast(frame)

	if len(res.Values) == 0 {
		return
	}
	s.logger.Record(res.At, res.Values)
	if s.store != nil {
		if err := s.store.Record(ctx, res.At, res.Values); err != nil {
			log.Printf("[store] record failed: %v", err)
		}
	}
}

func (s *Server) updateStatus(res mbe.CycleResult) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.Cycles++
	s.status.Skipped += int64(len(res.Skipped))
	if res.Err != nil {
		s.status.Aborted++
		s.status.LastError = res.Err.Error()
	}
}

func (s *Server) linkStatus() LinkStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st := s.status
	st.Connected = s.prov.IsConnected()
	if at := s.results.Updated(); !at.IsZero() {
		st.Updated = at.UnixMilli()
	}
	return st
}

// checkAlerts returns the values that sit outside their configured range.
func checkAlerts(alerts []AlertConfig, vals []mbe.DecodedValue) []Alert {
	if len(alerts) == 0 {
		return nil
	}
	byName := make(map[string]float64, len(vals))
	for _, v := range vals {
		byName[v.Name] = v.Value
	}
	var out []Alert
	for _, a := range alerts {
		v, ok := byName[a.Variable]
		if !ok || a.Low >= a.High {
			continue
		}
		switch {
		case v < a.Low:
			out = append(out, Alert{Name: a.Variable, Value: v, Level: "low"})
		case v > a.High:
			out = append(out, Alert{Name: a.Variable, Value: v, Level: "high"})
		}
	}
	return out
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
