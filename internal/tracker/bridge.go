package tracker

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"taskflow/internal/domain"
	"taskflow/internal/logger"
)

// DefaultBridgeAddr is where the browser extension finds the agent.
const DefaultBridgeAddr = "127.0.0.1:17345"

type bridgeToken struct {
	Token string `json:"token"`
}

type bridgeFocus struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type bridgeInteraction struct {
	Metadata domain.Metadata `json:"metadata"`
}

type bridgeTask struct {
	TaskID string `json:"taskId"`
	Title  string `json:"title"`
}

type bridgeVisibility struct {
	Hidden bool `json:"hidden"`
}

type bridgeInput struct {
	Kind InputKind `json:"kind"`
}

type bridgeError struct {
	Error string `json:"error"`
}

// NewBridge exposes the agent to a local browser extension. Every handler
// runs its mutation on the agent loop.
func NewBridge(a *Agent) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/token", func(w http.ResponseWriter, req *http.Request) {
		var in bridgeToken
		if !readJSON(w, req, &in) {
			return
		}
		if err := a.Syncer.SetCredential(in.Token); err != nil {
			writeJSON(w, http.StatusInternalServerError, bridgeError{Error: err.Error()})
			return
		}
		logger.Info("credential updated from bridge")
		w.WriteHeader(http.StatusNoContent)
	})

	r.Delete("/token", func(w http.ResponseWriter, req *http.Request) {
		if err := a.Syncer.Credentials.Clear(); err != nil {
			writeJSON(w, http.StatusInternalServerError, bridgeError{Error: err.Error()})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/focus", func(w http.ResponseWriter, req *http.Request) {
		var in bridgeFocus
		if !readJSON(w, req, &in) {
			return
		}
		run(w, req, a, func(a *Agent) {
			a.Browser.Focus(Target{Type: domain.ActivityWebsite, URL: in.URL, Title: in.Title})
		})
	})

	r.Post("/interaction", func(w http.ResponseWriter, req *http.Request) {
		var in bridgeInteraction
		if !readJSON(w, req, &in) {
			return
		}
		run(w, req, a, func(a *Agent) { a.Browser.MergeMetadata(in.Metadata) })
	})

	r.Post("/input", func(w http.ResponseWriter, req *http.Request) {
		var in bridgeInput
		if !readJSON(w, req, &in) {
			return
		}
		if strings.TrimSpace(string(in.Kind)) == "" {
			writeJSON(w, http.StatusBadRequest, bridgeError{Error: "kind is required"})
			return
		}
		run(w, req, a, func(a *Agent) {
			if a.Idle != nil {
				a.Idle.Input(in.Kind, a.Now())
			}
		})
	})

	r.Post("/task/start", func(w http.ResponseWriter, req *http.Request) {
		var in bridgeTask
		if !readJSON(w, req, &in) {
			return
		}
		if strings.TrimSpace(in.TaskID) == "" {
			writeJSON(w, http.StatusBadRequest, bridgeError{Error: "taskId is required"})
			return
		}
		run(w, req, a, func(a *Agent) { a.Browser.LinkTask(in.TaskID, in.Title) })
	})

	r.Post("/task/stop", func(w http.ResponseWriter, req *http.Request) {
		run(w, req, a, func(a *Agent) { a.Browser.UnlinkTask() })
	})

	r.Post("/pause", func(w http.ResponseWriter, req *http.Request) {
		run(w, req, a, func(a *Agent) {
			a.Desktop.Suspend()
			a.Browser.Suspend()
		})
	})

	r.Post("/resume", func(w http.ResponseWriter, req *http.Request) {
		run(w, req, a, func(a *Agent) {
			a.Desktop.Resume()
			a.Browser.Resume()
		})
	})

	r.Post("/visibility", func(w http.ResponseWriter, req *http.Request) {
		var in bridgeVisibility
		if !readJSON(w, req, &in) {
			return
		}
		run(w, req, a, func(a *Agent) {
			if in.Hidden {
				a.Browser.Hidden()
			}
		})
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		var st Status
		if err := a.Do(req.Context(), func(a *Agent) { st = a.Status() }); err != nil {
			writeDoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})

	return r
}

// NewBridgeServer binds the bridge handler to addr.
func NewBridgeServer(addr string, a *Agent) *http.Server {
	if addr == "" {
		addr = DefaultBridgeAddr
	}
	return &http.Server{
		Addr:              addr,
		Handler:           NewBridge(a),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func run(w http.ResponseWriter, req *http.Request, a *Agent, fn func(*Agent)) {
	if err := a.Do(req.Context(), fn); err != nil {
		writeDoError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeDoError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, ErrStopped) {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, bridgeError{Error: err.Error()})
}

func readJSON(w http.ResponseWriter, req *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, 1<<16)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, bridgeError{Error: "invalid json: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
