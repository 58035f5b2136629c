package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/creatorpay/backend/internal/history"
	"github.com/creatorpay/backend/internal/middleware"
)

// HistoryHandler serves the read-only activity listing and CSV export.
type HistoryHandler struct {
	Facade *history.Facade
	Logger *slog.Logger
}

func (h *HistoryHandler) filterFromQuery(w http.ResponseWriter, r *http.Request) (history.Filter, bool) {
	var f history.Filter
	var ok bool
	if f.From, ok = parseTimeParam(r, "from"); !ok {
		writeError(w, http.StatusBadRequest, "invalid from")
		return f, false
	}
	if f.To, ok = parseTimeParam(r, "to"); !ok {
		writeError(w, http.StatusBadRequest, "invalid to")
		return f, false
	}
	switch c := r.URL.Query().Get("category"); c {
	case "", history.CategoryCredits, history.CategoryEarnings, history.CategoryPayouts:
		f.Category = c
	default:
		writeError(w, http.StatusBadRequest, "unknown category")
		return f, false
	}
	return f, true
}

// ListActivity handles GET /api/v1/history.
func (h *HistoryHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	f, ok := h.filterFromQuery(w, r)
	if !ok {
		return
	}
	entries, err := h.Facade.ListActivity(r.Context(), id.UserID, id.ProfileID, f)
	if err != nil {
		h.Logger.Error("list activity", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ExportCSV handles GET /api/v1/history/export.csv.
func (h *HistoryHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	f, ok := h.filterFromQuery(w, r)
	if !ok {
		return
	}
	entries, err := h.Facade.ListActivity(r.Context(), id.UserID, id.ProfileID, f)
	if err != nil {
		h.Logger.Error("export activity", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "activity-"+time.Now().UTC().Format("2006-01-02")+".csv"))
	if err := history.WriteCSV(w, entries); err != nil {
		h.Logger.Error("write csv", "error", err)
	}
}
