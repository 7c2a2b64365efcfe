package server

import (
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"auto_xhs_publisher/store"
)

//go:embed web
var embeddedStatic embed.FS

// Server 提供只读的历史笔记浏览：会话列表、单条记录和封面图。
type Server struct {
	store    *store.Store
	logger   *log.Logger
	staticFS http.Handler
}

func New(st *store.Store, logger *log.Logger) (*Server, error) {
	if st == nil {
		return nil, errors.New("store required")
	}
	if logger == nil {
		logger = log.Default()
	}
	sub, err := fs.Sub(embeddedStatic, "web")
	if err != nil {
		return nil, err
	}
	return &Server{store: st, logger: logger, staticFS: http.FileServer(http.FS(sub))}, nil
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logMiddleware)

	r.Route("/api/posts", func(api chi.Router) {
		api.Get("/", s.handleList)
		api.Get("/{key}", s.handlePost)
		api.Get("/{key}/cover", s.handleCover)
	})
	r.Handle("/*", s.staticFS)
	return r
}

// --- Handlers ---

type postResp struct {
	Key       string          `json:"key"`
	Published bool            `json:"published"`
	Record    *store.Record   `json:"record,omitempty"`
	Draft     *store.Snapshot `json:"draft,omitempty"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	posts, err := s.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if posts == nil {
		posts = []store.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.openDir(w, chi.URLParam(r, "key"))
	if !ok {
		return
	}
	resp := postResp{Key: dir.Key}
	if rec, err := dir.ReadRecord(); err == nil {
		resp.Published = true
		resp.Record = &rec
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if snap, err := dir.ReadDraft(); err == nil {
		resp.Draft = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	dir, ok := s.openDir(w, chi.URLParam(r, "key"))
	if !ok {
		return
	}
	path, err := dir.CoverPath()
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no cover")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) openDir(w http.ResponseWriter, key string) (*store.SessionDir, bool) {
	dir, err := s.store.Open(key)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "post not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return dir, true
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Printf("[server] %s %s %d %s", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Millisecond))
	})
}
