package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/afterdarksys/mockfactory/internal/fault"
	"github.com/afterdarksys/mockfactory/internal/store"
)

type dnsRecordBody struct {
	ID       int64  `json:"id,omitempty"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Value    string `json:"value"`
	TTL      int    `json:"ttl"`
	Priority *int   `json:"priority,omitempty"`
	Weight   *int   `json:"weight,omitempty"`
	Port     *int   `json:"port,omitempty"`
}

func dnsBody(rec *store.DNSRecord) dnsRecordBody {
	return dnsRecordBody{
		ID:       rec.ID,
		Name:     rec.Name,
		Type:     rec.Type,
		Value:    rec.Value,
		TTL:      rec.TTL,
		Priority: rec.Priority,
		Weight:   rec.Weight,
		Port:     rec.Port,
	}
}

func (b dnsRecordBody) record(envID string) *store.DNSRecord {
	return &store.DNSRecord{
		EnvironmentID: envID,
		Name:          b.Name,
		Type:          b.Type,
		Value:         b.Value,
		TTL:           b.TTL,
		Priority:      b.Priority,
		Weight:        b.Weight,
		Port:          b.Port,
	}
}

func (s *Server) listDNS(w http.ResponseWriter, r *http.Request) {
	env, err := s.ownedEnv(r)
	if err != nil {
		writeFault(w, err)
		return
	}
	recs, err := s.DNS.List(r.Context(), env.ID)
	if err != nil {
		writeFault(w, err)
		return
	}
	out := make([]dnsRecordBody, 0, len(recs))
	for _, rec := range recs {
		out = append(out, dnsBody(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": out})
}

func (s *Server) createDNS(w http.ResponseWriter, r *http.Request) {
	env, err := s.ownedEnv(r)
	if err != nil {
		writeFault(w, err)
		return
	}
	var body dnsRecordBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFault(w, fault.Invalidf("malformed request body"))
		return
	}
	rec := body.record(env.ID)
	if err := s.DNS.Create(r.Context(), rec); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dnsBody(rec))
}

type dnsBulkResult struct {
	Record dnsRecordBody `json:"record"`
	OK     bool          `json:"ok"`
	Error  string        `json:"error,omitempty"`
}

// createDNSBulk inserts up to the bulk cap in one call. Partial success is
// explicit: every record gets its own result.
func (s *Server) createDNSBulk(w http.ResponseWriter, r *http.Request) {
	env, err := s.ownedEnv(r)
	if err != nil {
		writeFault(w, err)
		return
	}
	var req struct {
		Records []dnsRecordBody `json:"records"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFault(w, fault.Invalidf("malformed request body"))
		return
	}
	recs := make([]*store.DNSRecord, 0, len(req.Records))
	for _, b := range req.Records {
		recs = append(recs, b.record(env.ID))
	}
	results, err := s.DNS.CreateBulk(r.Context(), recs)
	if err != nil {
		writeFault(w, err)
		return
	}
	out := make([]dnsBulkResult, 0, len(results))
	for _, res := range results {
		item := dnsBulkResult{Record: dnsBody(res.Record), OK: res.Err == nil}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) deleteDNS(w http.ResponseWriter, r *http.Request) {
	env, err := s.ownedEnv(r)
	if err != nil {
		writeFault(w, err)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "record"), 10, 64)
	if err != nil {
		writeFault(w, fault.Invalidf("malformed record id"))
		return
	}
	if err := s.DNS.Delete(r.Context(), env.ID, id); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
