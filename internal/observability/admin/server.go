// Package admin serves the optional operational HTTP endpoints: liveness,
// run status and net/http/pprof.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"autoroll/internal/autorun"
	"autoroll/internal/storage"
	logx "autoroll/pkg/logx"
)

const defaultAddr = "127.0.0.1:6060"

// Config controls the admin server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - A non-loopback address requires Token unless AllowInsecure is set.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Source exposes the state the status endpoints report.
type Source interface {
	Runner(kind autorun.Kind) *autorun.Runner
	LastRestore() autorun.Report
	CheckpointStats() autorun.PersisterStats
}

type Server struct {
	cfg Config
	src Source
	log logx.Logger

	bound atomic.Value // string
}

func New(cfg Config, src Source, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = defaultAddr
	}
	return &Server{cfg: cfg, src: src, log: log}
}

// Addr returns the bound listener address, or "" before Serve binds.
func (s *Server) Addr() string {
	a, _ := s.bound.Load().(string)
	return a
}

// Serve listens and serves until ctx is done. It is meant to run under a
// supervisor restart loop; a nil return means ctx ended.
func (s *Server) Serve(ctx context.Context) error {
	if !s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(s.cfg.Addr) {
		return errors.New("admin refused to start: non-loopback addr requires token or allow_insecure")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.bound.Store(ln.Addr().String())
	s.log.Info("admin started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", s.cfg.Token != ""))

	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("admin server exited unexpectedly")
	}
	return err
}

// Handler returns the admin mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(s.cfg.Token, h) }

	mux.HandleFunc("GET /healthz", wrap(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	mux.HandleFunc("GET /status", wrap(s.handleStatus))
	mux.HandleFunc("GET /runs/{kind}/{user}", wrap(s.handleRun))

	mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
	mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
	mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))
	return mux
}

// KindStatus lists the active runs of one kind.
type KindStatus struct {
	Active int      `json:"active"`
	Users  []string `json:"users"`
}

type Status struct {
	Kinds       map[storage.Kind]KindStatus `json:"kinds"`
	Checkpoints autorun.PersisterStats      `json:"checkpoints"`
	LastRestore autorun.Report              `json:"last_restore"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{
		Kinds:       map[storage.Kind]KindStatus{},
		Checkpoints: s.src.CheckpointStats(),
		LastRestore: s.src.LastRestore(),
	}
	for _, k := range storage.Kinds {
		rn := s.src.Runner(k)
		if rn == nil {
			continue
		}
		users := rn.Users()
		sort.Strings(users)
		st.Kinds[k] = KindStatus{Active: len(users), Users: users}
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	kind := storage.Kind(r.PathValue("kind"))
	if !kind.Valid() {
		http.Error(w, "unknown kind", http.StatusNotFound)
		return
	}
	rn := s.src.Runner(kind)
	if rn == nil {
		http.Error(w, "unknown kind", http.StatusNotFound)
		return
	}
	sum, ok := rn.Status(r.PathValue("user"))
	if !ok {
		http.Error(w, string(autorun.CodeNotRunning), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// withAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if tokenMatch(got, tok) {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && tokenMatch(strings.TrimSpace(strings.TrimPrefix(ah, p)), tok) {
			h(w, r)
			return
		}
		unauthorized(w)
	}
}

func tokenMatch(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
