package sim

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Response is the envelope of every control API reply.
type Response struct {
	Result        string      `json:"result"`
	Data          interface{} `json:"data,omitempty"`
	Code          string      `json:"code,omitempty"`
	Message       string      `json:"message,omitempty"`
	CorrelationID string      `json:"correlationId"`
}

// NewHandler returns the control API for lab.
//
//	GET  /healthz
//	GET  /metrics
//	GET  /instruments
//	GET  /instruments/{name}
//	POST /instruments/{name}/reset
func NewHandler(lab *Lab) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, map[string]interface{}{"status": "ok", "instruments": len(lab.List())})
	})
	r.Handle("/metrics", promhttp.HandlerFor(lab.Registry(), promhttp.HandlerOpts{}))
	r.Route("/instruments", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			writeSuccess(w, lab.List())
		})
		r.Get("/{name}", func(w http.ResponseWriter, r *http.Request) {
			inst, ok := lookup(w, r, lab)
			if !ok {
				return
			}
			writeSuccess(w, map[string]interface{}{
				"name":  inst.Name(),
				"kind":  inst.Kind(),
				"state": inst.Snapshot(),
			})
		})
		r.Post("/{name}/reset", func(w http.ResponseWriter, r *http.Request) {
			inst, ok := lookup(w, r, lab)
			if !ok {
				return
			}
			inst.Reset()
			slog.Info("simulated instrument reset", "instrument", inst.Name())
			writeSuccess(w, map[string]interface{}{"name": inst.Name(), "reset": true})
		})
	})
	return r
}

func lookup(w http.ResponseWriter, r *http.Request, lab *Lab) (Instrument, bool) {
	name := chi.URLParam(r, "name")
	inst, ok := lab.Instrument(name)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("instrument %s not found", name))
	}
	return inst, ok
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	writeResponse(w, http.StatusOK, &Response{Result: "ok", Data: data, CorrelationID: uuid.NewString()})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeResponse(w, status, &Response{Result: "error", Code: code, Message: message, CorrelationID: uuid.NewString()})
}

func writeResponse(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}
