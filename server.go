package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/redis/go-redis/v9"
	"github.com/skip2/go-qrcode"
)

const (
	maxBodySize  = 16 << 20 // 16 MB, base64 image + audio
	qrSize       = 256
	reapInterval = time.Minute
	readTimeout  = 30 * time.Second
)

// Server is the main HTTP server.
type Server struct {
	cfg     *Config
	router  *httprouter.Router
	store   *Store
	decider Decider
	sse     *Broadcaster
	limiter limiter
}

// NewServer creates a configured HTTP server.
func NewServer(cfg *Config, decider Decider, lim limiter) *Server {
	s := &Server{
		cfg:     cfg,
		router:  httprouter.New(),
		decider: decider,
		sse:     NewBroadcaster(),
		limiter: lim,
	}
	s.store = NewStore(s.newGame)
	s.routes()
	return s
}

func (s *Server) newGame(id string) *Game {
	return NewGame(id, s.decider, s.cfg.model, func(e Event) {
		s.publish(id, e)
	})
}

func (s *Server) routes() {
	p := strings.TrimSuffix(s.cfg.prefix, "/")

	// Stateless turn endpoint
	s.router.POST(p+"/api/gemini/process-turn", s.handleProcessTurn)

	// Session API
	s.router.GET(p+"/api/sessions", s.handleListSessions)
	s.router.POST(p+"/api/sessions", s.handleCreateSession)
	s.router.GET(p+"/api/sessions/:id", s.handleGetSession)
	s.router.POST(p+"/api/sessions/:id/start", s.handleStartSession)
	s.router.POST(p+"/api/sessions/:id/clues", s.handleSubmitClue)
	s.router.GET(p+"/api/sessions/:id/events", s.handleSessionEvents)
	s.router.GET(p+"/api/sessions/:id/ws", s.handleSessionSocket)
	s.router.GET(p+"/api/sessions/:id/qr", s.handleSessionQR)

	s.router.GET(p+"/healthz", s.handleHealthCheck)
	s.router.GET(p+"/version", s.handleVersion)

	s.router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		errorf("panic serving %s %s: %v", r.Method, r.URL.Path, v)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data:; media-src 'self' data:; connect-src 'self'")
	if s.cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
	s.router.ServeHTTP(w, r)
}

// clueInput is the wire form of a clue; media is base64-encoded.
type clueInput struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
	Audio string `json:"audio,omitempty"`
}

type wireMessage struct {
	Role  string `json:"role"`
	Parts []struct {
		Text string `json:"text"`
	} `json:"parts"`
}

// --- Stateless turn ---

// POST /api/gemini/process-turn: one backend round trip, history supplied by the caller.
func (s *Server) handleProcessTurn(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !s.limiter.allow(realIP(r)) {
		jsonError(w, "Too many requests, please slow down", http.StatusTooManyRequests)
		return
	}

	var req struct {
		History   []wireMessage `json:"history"`
		Input     clueInput     `json:"input"`
		ModelName string        `json:"modelName"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	history, err := decodeHistory(req.History)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	clue, err := decodeClue(req.Input)
	if err != nil {
		s.clueError(w, err)
		return
	}

	start := time.Now()
	decision, err := s.decider.RequestDecision(r.Context(), history, clue, req.ModelName)
	if err != nil {
		errorf("process turn: %v", err)
		jsonError(w, userMessage(err), httpStatus(err))
		return
	}

	logf(s.cfg, "TURN: stateless turn for %s in %s", realIP(r), time.Since(start).Round(time.Millisecond))
	writeJSON(w, http.StatusOK, decision)
}

// --- Session handlers ---

// POST /api/sessions: create a session and start its game.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	game := s.store.Create()
	logf(s.cfg, "SESSION: created %s for %s", game.ID, realIP(r))
	writeJSON(w, http.StatusCreated, game.Snapshot())
}

// GET /api/sessions: summaries of live sessions, most recent first.
func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	type summary struct {
		ID        string    `json:"id"`
		Status    Status    `json:"status"`
		Rounds    int       `json:"rounds"`
		CreatedAt time.Time `json:"createdAt"`
	}

	games := s.store.List()
	out := make([]summary, 0, len(games))
	for _, g := range games {
		snap := g.Snapshot()
		out = append(out, summary{ID: g.ID, Status: snap.Status, Rounds: snap.Rounds, CreatedAt: g.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/sessions/{id}: current game state.
func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	game := s.store.Get(ps.ByName("id"))
	if game == nil {
		jsonError(w, "Session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, game.Snapshot())
}

// POST /api/sessions/{id}/start: start over.
func (s *Server) handleStartSession(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	game := s.store.Get(ps.ByName("id"))
	if game == nil {
		jsonError(w, "Session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, game.Start())
}

// POST /api/sessions/{id}/clues: play one round.
func (s *Server) handleSubmitClue(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if !s.limiter.allow(realIP(r)) {
		jsonError(w, "Too many requests, please slow down", http.StatusTooManyRequests)
		return
	}

	game := s.store.Get(ps.ByName("id"))
	if game == nil {
		jsonError(w, "Session not found", http.StatusNotFound)
		return
	}

	var req struct {
		clueInput
		ModelName string `json:"modelName"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	clue, err := decodeClue(req.clueInput)
	if err != nil {
		s.clueError(w, err)
		return
	}
	clue = NewClue(clue.Text, clue.Image, clue.Audio)

	start := time.Now()
	turn, err := game.SubmitClue(r.Context(), clue, req.ModelName)
	switch {
	case errors.Is(err, ErrNotPlaying), errors.Is(err, ErrRequestInFlight), errors.Is(err, ErrStaleResponse):
		jsonError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		errorf("session %s: %v", game.ID, err)
		writeJSON(w, httpStatus(err), map[string]any{
			"error": turn.Content,
			"turn":  turn,
			"state": game.Snapshot(),
		})
		return
	}

	logf(s.cfg, "TURN: session %s round %d (%s) in %s", game.ID, game.Snapshot().Rounds, clue.Modality(), time.Since(start).Round(time.Millisecond))
	writeJSON(w, http.StatusOK, map[string]any{
		"turn":  turn,
		"state": game.Snapshot(),
	})
}

// GET /api/sessions/{id}/events: SSE stream.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	game := s.store.Get(ps.ByName("id"))
	if game == nil {
		jsonError(w, "Session not found", http.StatusNotFound)
		return
	}
	s.sse.ServeSSE(w, r, game.ID, s.sendState(game))
}

// GET /api/sessions/{id}/ws: WebSocket stream of the same events.
func (s *Server) handleSessionSocket(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	game := s.store.Get(ps.ByName("id"))
	if game == nil {
		jsonError(w, "Session not found", http.StatusNotFound)
		return
	}
	s.sse.ServeWS(w, r, game.ID, s.sendState(game))
}

// GET /api/sessions/{id}/qr: PNG QR code linking to the session.
func (s *Server) handleSessionQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	game := s.store.Get(ps.ByName("id"))
	if game == nil {
		jsonError(w, "Session not found", http.StatusNotFound)
		return
	}

	link := s.cfg.scheme() + "://" + r.Host + strings.TrimSuffix(s.cfg.prefix, "/") + "/?session=" + game.ID
	png, err := qrcode.Encode(link, qrcode.Medium, qrSize)
	if err != nil {
		errorf("qr for session %s: %v", game.ID, err)
		jsonError(w, "Could not generate QR code", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.store.Len()})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "twentyq v"+releaseVersion+"\n")
}

// --- Helpers ---

func (s *Server) sendState(game *Game) func(*subscriber) {
	return func(sub *subscriber) {
		snap := game.Snapshot()
		evt, _ := json.Marshal(Event{Type: EventState, State: &snap, Thinking: snap.Thinking})
		sub.offer(string(evt))
	}
}

func (s *Server) publish(sessionID string, e Event) {
	evt, err := json.Marshal(e)
	if err != nil {
		errorf("encode %s event: %v", e.Type, err)
		return
	}
	s.sse.Broadcast(sessionID, string(evt))
}

// clueError answers a clue that could not be encoded. An empty recording
// is dropped without a clue being played.
func (s *Server) clueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEmptyRecording):
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrCaptureNotReady):
		jsonError(w, "Image clue is empty", http.StatusUnprocessableEntity)
	default:
		jsonError(w, err.Error(), http.StatusBadRequest)
	}
}

// reap ends sessions that have been idle too long.
func (s *Server) reap(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range s.store.Reap(s.cfg.sessionTimeout) {
				s.sse.Close(id)
				logf(s.cfg, "SESSION: reaped idle session %s", id)
			}
		}
	}
}

func decodeHistory(in []wireMessage) ([]Message, error) {
	out := make([]Message, 0, len(in))
	for i, m := range in {
		var role string
		switch m.Role {
		case backendRoleUser:
			role = backendRoleUser
		case backendRoleModel, "gemini", string(RoleAssistant):
			role = backendRoleModel
		default:
			return nil, errors.New("history entry " + strconv.Itoa(i) + ": unknown role " + strconv.Quote(m.Role))
		}

		var text strings.Builder
		for _, p := range m.Parts {
			text.WriteString(p.Text)
		}
		out = append(out, Message{Role: role, Text: text.String()})
	}
	return out, nil
}

// decodeClue turns wire input into a clue without substituting any
// placeholder. Media is opaque: the bytes go to the backend as sent.
func decodeClue(in clueInput) (Clue, error) {
	clue := Clue{Text: in.Text}

	if in.Image != "" {
		data, err := decodeMedia(in.Image)
		if err != nil {
			return Clue{}, errors.New("image is not valid base64")
		}
		if len(data) == 0 {
			return Clue{}, ErrCaptureNotReady
		}
		clue.Image = data
	}

	if in.Audio != "" {
		data, err := decodeMedia(in.Audio)
		if err != nil {
			return Clue{}, errors.New("audio is not valid base64")
		}
		var rec Recorder
		rec.Write(data)
		c, err := rec.Finish()
		if err != nil {
			return Clue{}, err
		}
		clue.Audio = c.Audio
	}

	return clue, nil
}

// decodeMedia accepts plain base64 or a data URL.
func decodeMedia(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	return base64.StdEncoding.DecodeString(s)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func realIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" && net.ParseIP(ip) != nil {
		host = ip
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" && net.ParseIP(ip) != nil {
		host = ip
	}
	return host
}

// Serve runs the web server until ctx is cancelled.
func Serve(ctx context.Context, cfg *Config) error {
	logf(cfg, "START: twentyq v%s", releaseVersion)

	gemini, err := NewGeminiClient(ctx, cfg.backend())
	if err != nil {
		return err
	}
	defer gemini.Close()

	var lim limiter
	if cfg.redisAddr != "" {
		rl, err := newRedisLimiter(ctx, &redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		}, cfg.rateLimit, time.Minute)
		if err != nil {
			return err
		}
		defer rl.Close()
		lim = rl
		logf(cfg, "START: rate limits shared through redis at %s", cfg.redisAddr)
	} else {
		rl := newRateLimiter(cfg.rateLimit, time.Minute)
		go rl.sweep(ctx)
		lim = rl
	}

	s := NewServer(cfg, gemini, lim)
	go s.reap(ctx)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           s,
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      cfg.requestTimeout + readTimeout,
	}

	errs := make(chan error, 1)
	go func() {
		logf(cfg, "SERVE: Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)
		var err error
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
