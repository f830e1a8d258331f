package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/graham/internal/domain"
	"github.com/aristath/graham/internal/modules/fundamentals"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"instruments":    s.registry.Len(),
	}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		response["cpu_percent"] = cpuPercent[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		response["memory_percent"] = memStat.UsedPercent
	}
	if pending, err := s.events.PendingCount(); err == nil {
		response["pending_events"] = pending
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	instruments := s.registry.All()
	type entry struct {
		ID               int64  `json:"id"`
		Exchange         string `json:"exchange"`
		CompanySymbol    string `json:"company_symbol"`
		InstrumentSymbol string `json:"instrument_symbol"`
		CompanyName      string `json:"company_name"`
		InstrumentName   string `json:"instrument_name"`
	}
	entries := make([]entry, 0, len(instruments))
	for _, instrument := range instruments {
		entries = append(entries, entry{
			ID:               instrument.ID,
			Exchange:         instrument.Exchange,
			CompanySymbol:    instrument.CompanySymbol,
			InstrumentSymbol: instrument.InstrumentSymbol,
			CompanyName:      instrument.CompanyName,
			InstrumentName:   instrument.InstrumentName,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"instruments": entries})
}

func (s *Server) handleInstrumentScore(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid instrument id")
		return
	}

	model, err := s.snapshots.Current(id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}
	if model == nil {
		s.writeError(w, http.StatusNotFound, "no aggregate snapshot for instrument")
		return
	}

	// Sentinel values do not survive JSON encoding; report them as null.
	metric := func(v float64) any {
		if fundamentals.IsUndefined(v) {
			return nil
		}
		return v
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"instrument_id":              model.InstrumentID,
		"generated_at":               model.GeneratedAt,
		"score":                      model.Score(),
		"passes_overall":             model.PassesOverall(),
		"checks":                     model.Checks(),
		"book_value":                 model.BookValue(),
		"debt_to_equity":             metric(model.DebtToEquity()),
		"debt_to_book":               metric(model.DebtToBook()),
		"price_to_book":              metric(model.PriceToBook()),
		"average_net_cash_flow":      metric(model.AverageNetCashFlow()),
		"average_owner_earnings":     metric(model.AverageOwnerEarnings()),
		"return_from_cash_flow":      metric(model.EstimatedReturnFromCashFlow()),
		"return_from_owner_earnings": metric(model.EstimatedReturnFromOwnerEarnings()),
		"max_buy_price":              metric(model.MaxBuyPrice()),
	})
}

func (s *Server) handleFetchNow(w http.ResponseWriter, r *http.Request) {
	key := domain.InstrumentKey{
		CompanySymbol:    chi.URLParam(r, "company"),
		InstrumentSymbol: chi.URLParam(r, "symbol"),
	}

	changed, err := s.collector.FetchNow(r.Context(), key)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"changed": changed})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	results, err := s.search.Query(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "search unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleAggregatorPause(w http.ResponseWriter, r *http.Request) {
	state, err := s.aggregator.Pause(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "pause failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"state": state})
}

func (s *Server) handleAggregatorResume(w http.ResponseWriter, r *http.Request) {
	state, err := s.aggregator.Resume(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "resume failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"state": state})
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.backups.ListBackups(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"backups": backups})
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	if err := s.backups.CreateAndUploadBackup(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	runs, err := s.jobs.Recent(50)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "job history unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": runs})
}
