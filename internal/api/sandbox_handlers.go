package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/p-arndt/sandkastendb/internal/pool"
	"github.com/p-arndt/sandkastendb/internal/sandbox"
	"github.com/p-arndt/sandkastendb/internal/store"
)

// SandboxInfo merges the live pool view of a key with its registry record.
type SandboxInfo struct {
	Key       string     `json:"key"`
	Active    int        `json:"active"`
	Idle      int        `json:"idle"`
	Creating  int        `json:"creating"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
	Namespace string     `json:"namespace,omitempty"`
	URL       string     `json:"url,omitempty"`
	Status    string     `json:"status,omitempty"`
	Opened    int        `json:"opened"`
	Dropped   int        `json:"dropped"`
	LastError string     `json:"last_error,omitempty"`
}

func mergeSandbox(ks *pool.KeyStats, rec *store.Sandbox) SandboxInfo {
	var info SandboxInfo
	if ks != nil {
		info.Key = ks.Key
		info.Active = ks.Active
		info.Idle = ks.Idle
		info.Creating = ks.Creating
		if !ks.LastUsed.IsZero() {
			t := ks.LastUsed
			info.LastUsed = &t
		}
	}
	if rec != nil {
		info.Key = rec.Key
		info.Namespace = rec.Namespace
		info.URL = rec.URL
		info.Status = rec.Status
		info.Opened = rec.Opened
		info.Dropped = rec.Dropped
		info.LastError = rec.LastError
	}
	return info
}

func (s *Server) handleListSandboxes(w http.ResponseWriter, r *http.Request) {
	stats := s.sandboxes.Stats()
	byKey := make(map[string]*pool.KeyStats, len(stats))
	for i := range stats {
		byKey[stats[i].Key] = &stats[i]
	}

	var records []*store.Sandbox
	if s.registry != nil {
		var err error
		records, err = s.registry.ListSandboxes()
		if err != nil {
			writeAPIError(w, err)
			return
		}
	}

	out := make([]SandboxInfo, 0, len(stats)+len(records))
	for _, rec := range records {
		out = append(out, mergeSandbox(byKey[rec.Key], rec))
		delete(byKey, rec.Key)
	}
	for _, ks := range byKey {
		out = append(out, mergeSandbox(ks, nil))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSandbox(w http.ResponseWriter, r *http.Request) {
	key, _ := sandbox.KeyFromContext(r.Context())

	var ks *pool.KeyStats
	for _, st := range s.sandboxes.Stats() {
		if st.Key == key {
			st := st
			ks = &st
			break
		}
	}

	var rec *store.Sandbox
	if s.registry != nil {
		var err error
		rec, err = s.registry.GetSandbox(key)
		if err != nil {
			writeAPIError(w, err)
			return
		}
	}

	if ks == nil && rec == nil {
		writeError(w, http.StatusNotFound, APIError{
			Code:    ErrCodeSandboxNotFound,
			Message: "sandbox not found: " + key,
		})
		return
	}
	writeJSON(w, http.StatusOK, mergeSandbox(ks, rec))
}
