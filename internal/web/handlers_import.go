package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/csvload/internal/core"
	"github.com/JonMunkholm/csvload/internal/logging"
)

// sseKeepAlive is the interval between comment lines on idle streams.
const sseKeepAlive = 15 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"dialect": s.service.Dialect().Name(),
		"limiter": s.service.LimiterStatus(),
	})
}

func (s *Server) handleLimiterStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.LimiterStatus())
}

type sniffBody struct {
	Path       string       `json:"path"`
	SampleSize int64        `json:"sample_size"`
	Options    sniffOptions `json:"options"`
}

// handleSniff infers the layout of an uploaded file or a server-side path.
func (s *Server) handleSniff(w http.ResponseWriter, r *http.Request) {
	var body sniffBody

	if isMultipart(r) {
		path, err := s.saveUpload(w, r)
		if err != nil {
			respondError(w, r, err, 0)
			return
		}
		defer os.Remove(path)

		body.Path = path
		body.Options = formSniffOptions(r)
		if v := r.FormValue("sample_size"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				respondError(w, r, errBadRequest("sample_size must be a non-negative integer"), 0)
				return
			}
			body.SampleSize = n
		}
	} else if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, errBadRequest("invalid JSON body"), 0)
		return
	}

	if body.Path == "" {
		respondError(w, r, errBadRequest("no file provided"), 0)
		return
	}

	var opts *core.SniffOptions
	if !body.Options.empty() {
		var err error
		if opts, err = body.Options.toCore(); err != nil {
			respondError(w, r, err, 0)
			return
		}
	}

	res, err := s.service.Sniff(r.Context(), body.Path, opts, body.SampleSize)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type importBody struct {
	Path         string              `json:"path"`
	Schema       string              `json:"schema"`
	Table        string              `json:"table"`
	Options      *core.ImportOptions `json:"options"`
	SniffOptions sniffOptions        `json:"sniff_options"`
	Sniff        *core.SniffResult   `json:"sniff"`
}

type importAccepted struct {
	ImportID  string `json:"import_id"`
	StatusURL string `json:"status_url"`
	EventsURL string `json:"events_url"`
}

// handleStartImport accepts a multipart upload or a JSON body naming a
// server-side file and starts an asynchronous import.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	var (
		body   importBody
		upload bool
	)

	if isMultipart(r) {
		path, err := s.saveUpload(w, r)
		if err != nil {
			respondError(w, r, err, 0)
			return
		}
		upload = true

		opts, err := formOptions(r, s.service.Defaults())
		if err != nil {
			os.Remove(path)
			respondError(w, r, err, 0)
			return
		}
		body = importBody{
			Path:         path,
			Schema:       r.FormValue("schema"),
			Table:        r.FormValue("table"),
			Options:      &opts,
			SniffOptions: formSniffOptions(r),
		}
	} else {
		// Fields the body leaves out keep the server defaults.
		defaults := s.service.Defaults()
		body.Options = &defaults
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondError(w, r, errBadRequest("invalid JSON body"), 0)
			return
		}
	}

	id, err := s.startImport(r.Context(), body, upload)
	if err != nil {
		if upload {
			os.Remove(body.Path)
		}
		respondError(w, r, err, 0)
		return
	}

	logging.FromContext(r.Context()).Info("import accepted",
		"import_id", id, "table", body.Table, "upload", upload)

	writeJSON(w, http.StatusAccepted, importAccepted{
		ImportID:  id,
		StatusURL: "/api/imports/" + id,
		EventsURL: "/api/imports/" + id + "/events",
	})
}

func (s *Server) startImport(ctx context.Context, body importBody, upload bool) (string, error) {
	if body.Path == "" {
		return "", errBadRequest("no file provided")
	}
	if body.Table == "" {
		return "", errBadRequest("table is required")
	}

	req := core.ImportRequest{
		Path:        body.Path,
		Schema:      body.Schema,
		Table:       body.Table,
		Options:     body.Options,
		Sniff:       body.Sniff,
		RemoveAfter: upload,
	}

	if req.Sniff == nil && !body.SniffOptions.empty() {
		opts, err := body.SniffOptions.toCore()
		if err != nil {
			return "", err
		}
		var sampleSize int64
		if req.Options != nil {
			sampleSize = req.Options.SampleSize
		}
		if req.Sniff, err = s.service.Sniff(ctx, body.Path, opts, sampleSize); err != nil {
			return "", err
		}
	}

	return s.service.StartImport(ctx, req)
}

func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.List())
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.Status(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.service.Cancel(id); err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"import_id": id, "status": "cancelling"})
}

// handleImportEvents streams progress as Server-Sent Events. The event ID
// is the progress percentage; a reconnecting client that sends
// Last-Event-ID (or ?lastEventId=) skips progress it has already seen.
// The stream ends with a "complete" event carrying the final state.
func (s *Server) handleImportEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	lastSeen := -1
	last := r.Header.Get("Last-Event-ID")
	if last == "" {
		last = r.URL.Query().Get("lastEventId")
	}
	if n, err := strconv.Atoi(last); err == nil {
		lastSeen = n
	}

	updates, err := s.service.Subscribe(id)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	var phase core.Phase
	for {
		select {
		case p, ok := <-updates:
			if !ok {
				final, err := s.service.Status(id)
				if err != nil {
					fmt.Fprint(w, "event: complete\ndata: {}\n\n")
				} else {
					writeEvent(w, "complete", final.Percent, final)
				}
				rc.Flush()
				return
			}
			if p.Percent <= lastSeen && p.Phase == phase {
				continue
			}
			phase = p.Phase
			writeEvent(w, "progress", p.Percent, p)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, id int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte("{}")
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
}
