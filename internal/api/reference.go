package api

import (
	"net/http"
	"time"

	"github.com/smellreg/smellreg/internal/domain"
	"github.com/smellreg/smellreg/internal/reference"
)

// ReferenceResponse describes the loaded regulatory dataset.
type ReferenceResponse struct {
	Revision string                                       `json:"revision"`
	Metadata reference.Metadata                           `json:"metadata"`
	LoadedAt time.Time                                    `json:"loadedAt"`
	Source   string                                       `json:"source"`
	Markets  map[domain.Market]map[domain.Family][]string `json:"markets"`
	Lists    []ListInfo                                   `json:"lists"`
	Dangling []string                                     `json:"dangling,omitempty"`
}

// ListInfo summarizes one rule list.
type ListInfo struct {
	ID        string        `json:"id"`
	Name      string        `json:"name,omitempty"`
	Family    domain.Family `json:"family"`
	Entries   int           `json:"entries"`
	Reference string        `json:"reference,omitempty"`
}

// GetReference handles GET /reference.
func (h *Handler) GetReference(w http.ResponseWriter, r *http.Request) {
	if h.ref == nil || h.ref.Snapshot() == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "reference data not loaded"})
		return
	}
	writeJSON(w, http.StatusOK, describe(h.ref))
}

// ReloadReference handles POST /reference/reload. A dataset that fails to
// load leaves the current one in place.
func (h *Handler) ReloadReference(w http.ResponseWriter, r *http.Request) {
	if h.ref == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "reference data not loaded"})
		return
	}
	if _, err := h.ref.Reload(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, describe(h.ref))
}

func describe(store *reference.Store) ReferenceResponse {
	snap := store.Snapshot()

	source := store.Dir()
	if source == "" {
		source = "embedded"
	}

	markets := make(map[domain.Market]map[domain.Family][]string)
	for _, m := range domain.Markets {
		if !snap.MarketConfigured(m) {
			continue
		}
		programs := make(map[domain.Family][]string)
		for _, f := range domain.Families {
			if ids := snap.Programs(m, f); len(ids) > 0 {
				programs[f] = ids
			}
		}
		markets[m] = programs
	}

	lists := snap.Lists()
	infos := make([]ListInfo, len(lists))
	for i, l := range lists {
		infos[i] = ListInfo{ID: l.ID, Name: l.Name, Family: l.Family, Entries: l.Len(), Reference: l.Reference}
	}

	return ReferenceResponse{
		Revision: snap.Revision(),
		Metadata: snap.Metadata,
		LoadedAt: snap.LoadedAt(),
		Source:   source,
		Markets:  markets,
		Lists:    infos,
		Dangling: snap.Dangling(),
	}
}
