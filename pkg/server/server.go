// Package server is the hosted timeline store: per-owner documents, the share index,
// sessions and the websocket push feed.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/astromechza/timeline/pkg/remote"
	"github.com/astromechza/timeline/pkg/timeline"
)

const maxBodyBytes = 1 << 20

type Server struct {
	store    *Store
	hub      *hub
	upgrader websocket.Upgrader
}

func New(store *Store) *Server {
	return &Server{
		store: store,
		hub:   newHub(),
		upgrader: websocket.Upgrader{
			// clients are terminals and scripts rather than browsers
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL.Path, "duration", m.Duration, "status", m.Code)
		})
	})

	r.Methods(http.MethodGet).Path("/api/health").HandlerFunc(s.health)
	r.Methods(http.MethodPost).Path("/api/sessions").HandlerFunc(s.signIn)
	r.Methods(http.MethodDelete).Path("/api/sessions").HandlerFunc(s.signOut)
	r.Methods(http.MethodGet).Path("/api/timelines/{uid}").HandlerFunc(s.getTimeline)
	r.Methods(http.MethodPut).Path("/api/timelines/{uid}").HandlerFunc(s.putTimeline)
	r.Methods(http.MethodGet).Path("/api/timelines/{uid}/subscribe").HandlerFunc(s.subscribe)
	r.Methods(http.MethodPut).Path("/api/shares/{email}").HandlerFunc(s.putShare)
	r.Methods(http.MethodGet).Path("/api/shares/{email}").HandlerFunc(s.getShare)
	return r
}

func bearerToken(request *http.Request) string {
	if h := request.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return request.URL.Query().Get("token")
}

// identify resolves the caller or writes a 401 and returns nil.
func (s *Server) identify(writer http.ResponseWriter, request *http.Request) *remote.Identity {
	id, err := s.store.Identify(request.Context(), bearerToken(request))
	if err != nil {
		if errors.Is(err, remote.ErrUnauthorized) {
			writeError(writer, http.StatusUnauthorized, "sign in first")
			return nil
		}
		slog.Error("failed to identify caller", "err", err)
		writeError(writer, http.StatusInternalServerError, "failed to identify caller")
		return nil
	}
	return id
}

func decodeBody(writer http.ResponseWriter, request *http.Request, into interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(writer, request.Body, maxBodyBytes)).Decode(into); err != nil {
		writeError(writer, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func (s *Server) health(writer http.ResponseWriter, request *http.Request) {
	if err := s.store.Ping(request.Context()); err != nil {
		slog.Error("health check failed", "err", err)
		writeError(writer, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(writer, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) signIn(writer http.ResponseWriter, request *http.Request) {
	var inputs struct {
		Email string `json:"email"`
	}
	if !decodeBody(writer, request, &inputs) {
		return
	}
	creds, err := s.store.SignIn(request.Context(), inputs.Email)
	if err != nil {
		if errors.Is(err, remote.ErrInvalidEmail) {
			writeError(writer, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("failed to sign in", "err", err)
		writeError(writer, http.StatusInternalServerError, "failed to sign in")
		return
	}
	slog.Info("signed in", "uid", creds.UID)
	writeJSON(writer, http.StatusOK, creds)
}

func (s *Server) signOut(writer http.ResponseWriter, request *http.Request) {
	if s.identify(writer, request) == nil {
		return
	}
	if err := s.store.SignOut(request.Context(), bearerToken(request)); err != nil {
		slog.Error("failed to sign out", "err", err)
		writeError(writer, http.StatusInternalServerError, "failed to sign out")
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

func (s *Server) getTimeline(writer http.ResponseWriter, request *http.Request) {
	if s.identify(writer, request) == nil {
		return
	}
	doc, err := s.store.GetTimeline(request.Context(), mux.Vars(request)["uid"])
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			writeError(writer, http.StatusNotFound, "no timeline")
			return
		}
		slog.Error("failed to query timeline", "err", err)
		writeError(writer, http.StatusInternalServerError, "failed to query timeline")
		return
	}
	writeJSON(writer, http.StatusOK, doc)
}

func (s *Server) putTimeline(writer http.ResponseWriter, request *http.Request) {
	id := s.identify(writer, request)
	if id == nil {
		return
	}
	uid := mux.Vars(request)["uid"]
	if id.UID != uid {
		writeError(writer, http.StatusForbidden, "only the owner may write this timeline")
		return
	}
	var inputs struct {
		Entries []timeline.Entry `json:"entries"`
	}
	if !decodeBody(writer, request, &inputs) {
		return
	}
	if inputs.Entries == nil {
		writeError(writer, http.StatusBadRequest, "entries is required")
		return
	}
	doc, err := s.hub.write(uid, func() (*timeline.Document, error) {
		return s.store.PutTimeline(request.Context(), uid, inputs.Entries)
	})
	if err != nil {
		slog.Error("failed to persist timeline", "err", err)
		writeError(writer, http.StatusInternalServerError, "failed to persist timeline")
		return
	}
	writeJSON(writer, http.StatusOK, doc)
}

func (s *Server) subscribe(writer http.ResponseWriter, request *http.Request) {
	if s.identify(writer, request) == nil {
		return
	}
	uid := mux.Vars(request)["uid"]
	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	l, err := s.hub.attach(uid, conn, func() (*timeline.Document, error) {
		doc, err := s.store.GetTimeline(request.Context(), uid)
		if errors.Is(err, remote.ErrNotFound) {
			return nil, nil
		}
		return doc, err
	})
	if err != nil {
		slog.Error("failed to load current timeline", "uid", uid, "err", err)
		return
	}
	defer s.hub.detach(uid, l)
	slog.Info("listener attached", "uid", uid)

	// the read side only exists to notice the peer going away
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	l.pump(done)
	slog.Info("listener detached", "uid", uid)
}

func (s *Server) putShare(writer http.ResponseWriter, request *http.Request) {
	id := s.identify(writer, request)
	if id == nil {
		return
	}
	share, err := s.store.PutShare(request.Context(), mux.Vars(request)["email"], *id)
	if err != nil {
		if errors.Is(err, remote.ErrInvalidEmail) {
			writeError(writer, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("failed to persist share", "err", err)
		writeError(writer, http.StatusInternalServerError, "failed to persist share")
		return
	}
	writeJSON(writer, http.StatusOK, share)
}

func (s *Server) getShare(writer http.ResponseWriter, request *http.Request) {
	if s.identify(writer, request) == nil {
		return
	}
	share, err := s.store.GetShare(request.Context(), mux.Vars(request)["email"])
	if err != nil {
		switch {
		case errors.Is(err, remote.ErrNotFound):
			writeError(writer, http.StatusNotFound, "no shared timeline found")
		case errors.Is(err, remote.ErrInvalidEmail):
			writeError(writer, http.StatusBadRequest, err.Error())
		default:
			slog.Error("failed to query share", "err", err)
			writeError(writer, http.StatusInternalServerError, "failed to query share")
		}
		return
	}
	writeJSON(writer, http.StatusOK, share)
}

// CloseListeners disconnects all push feeds.
func (s *Server) CloseListeners() {
	s.hub.closeAll()
}
