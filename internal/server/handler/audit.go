package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// AuditHandler serves the audit log and the archive listing. blobs may be
// nil when cold storage is not configured.
type AuditHandler struct {
	audit  domain.AuditStore
	blobs  domain.BlobReader
	logger *slog.Logger
}

func NewAuditHandler(audit domain.AuditStore, blobs domain.BlobReader, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, blobs: blobs, logger: logger}
}

// ListAudit returns audit entries newest first.
// GET /api/audit?market_id=...&since=2025-01-01T00:00:00Z&limit=50
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	f := domain.AuditFilter{ListOpts: parseListOpts(r), MarketID: r.URL.Query().Get("market_id")}
	for name, dst := range map[string]**time.Time{"since": &f.Since, "until": &f.Until} {
		v := r.URL.Query().Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+name+": "+err.Error())
			return
		}
		*dst = &t
	}

	entries, err := h.audit.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, h.logger, "list audit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ListArchives lists archived journals under prefix.
// GET /api/archives?prefix=archive/ledger/2025-01/
func (h *AuditHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage not configured")
		return
	}
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "archive/ledger/"
	}
	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		writeServiceError(w, r, h.logger, "list archives", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": infos})
}
