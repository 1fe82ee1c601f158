package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/netwatch/internal/netwatch"
)

// Query parameters that are routing or auth concerns rather than item fields.
const (
	paramID         = "id"
	paramIDs        = "ids"
	paramAPIKey     = "api_key"
	paramNewSetting = "new_setting"
)

// listAlerts handles GET /alerts and GET /alerts/{ids}.
func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	ids := splitIDs(chi.URLParam(r, "ids"))
	items, err := s.store.ListWatchItems(ids...)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, items)
}

// createAlert handles POST /alerts with the item's fields as query parameters.
func (s *Server) createAlert(w http.ResponseWriter, r *http.Request) {
	fields, err := netwatch.ParseWatchItem(queryValues(r.URL.Query(), paramID))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	item, err := s.store.CreateWatchItem(fields)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.logger.Info("watch item created", zap.String("item_id", item.ID), zap.String("link", item.Link))
	s.writeJSON(w, http.StatusOK, item)
}

// updateAlert handles PUT /alerts/{id}. Only the supplied fields change; an id query
// parameter is ignored and unknown fields are rejected.
func (s *Server) updateAlert(w http.ResponseWriter, r *http.Request) {
	update, err := netwatch.ParseWatchItemUpdate(queryValues(r.URL.Query(), paramID))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	item, err := s.store.UpdateWatchItem(chi.URLParam(r, "id"), update)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

// deleteAlert handles DELETE /alerts/{id}.
func (s *Server) deleteAlert(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.DeleteWatchItem(chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.logger.Info("watch item deleted", zap.String("item_id", item.ID))
	s.writeJSON(w, http.StatusOK, item)
}

func (s *Server) listUpdates(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.ListChangeLog())
}

func (s *Server) getConfig(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.ConfigMap())
}

// updateConfig handles PUT /config. Keys that do not exist yet are skipped unless
// new_setting=true; skipped keys are reported in a response header.
func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	allowNew := false
	if raw := query.Get(paramNewSetting); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeErr(w, r, netwatch.Validationf("%s: invalid boolean %q", paramNewSetting, raw))
			return
		}
		allowNew = parsed
	}
	skipped := s.store.UpdateConfig(queryValues(query, paramNewSetting), allowNew)
	if len(skipped) > 0 {
		s.logger.Warn("config keys skipped; pass new_setting=true to add them", zap.Strings("keys", skipped))
		w.Header().Set(SkippedKeysHeader, strings.Join(skipped, ","))
	}
	s.writeJSON(w, http.StatusOK, []string{})
}

// runNow handles POST /netwatch?ids=a,b and blocks until the batch finishes.
func (s *Server) runNow(w http.ResponseWriter, r *http.Request) {
	ids := splitIDs(r.URL.Query().Get(paramIDs))
	if len(ids) == 0 {
		s.writeErr(w, r, netwatch.Validationf("%s query parameter is required", paramIDs))
		return
	}
	changed, err := s.processor.ProcessAlerts(r.Context(), ids)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if changed == nil {
		changed = []netwatch.WatchItem{}
	}
	s.writeJSON(w, http.StatusOK, changed)
}

// queryValues flattens query parameters to their first value, dropping the api key and
// any names in skip.
func queryValues(query url.Values, skip ...string) map[string]string {
	out := make(map[string]string, len(query))
	for key, values := range query {
		if key == paramAPIKey || len(values) == 0 {
			continue
		}
		out[key] = values[0]
	}
	for _, key := range skip {
		delete(out, key)
	}
	return out
}

func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
