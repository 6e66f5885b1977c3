package feedback

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the learner over HTTP:
//
//	POST /results            ingest a batch of execution results
//	GET  /history/{sourceID} read a source's recorded performance history
func (l *Learner) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/results", l.handleResults)
	r.Get("/history/{sourceID}", l.handleHistory)
	return r
}

func (l *Learner) handleResults(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req struct {
		Results []ExecutionResult `json:"results"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Results) == 0 {
		jsonErr(w, "results are required", http.StatusBadRequest)
		return
	}

	report, err := l.ProcessResults(r.Context(), req.Results)
	if err != nil {
		l.logger.Error("process results failed", "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func (l *Learner) handleHistory(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	records, err := l.registry.History(r.Context(), sourceID)
	if err != nil {
		l.logger.Error("read history failed", "source_id", sourceID, "error", err)
		jsonErr(w, "internal error", http.StatusInternalServerError)
		return
	}
	if len(records) > limit {
		records = records[:limit]
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
