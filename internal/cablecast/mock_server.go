// SPDX-License-Identifier: MIT

package cablecast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockServer is a configurable in-process stand-in for the upstream platform,
// used by client, matcher and scheduler tests.
type MockServer struct {
	*httptest.Server
	mu        sync.RWMutex
	shows     map[int]Show
	vods      map[int]VOD
	statuses  map[int]VODStatus
	chapters  map[int][]Chapter
	runs      []Run
	locations []Location
	qualities []Quality
	failures  map[string]int // remaining 500s per endpoint prefix
	uploads   map[int][]string
	nextID    int
}

// NewMockServer starts a mock with a small default dataset.
func NewMockServer() *MockServer {
	m := &MockServer{
		shows:    make(map[int]Show),
		vods:     make(map[int]VOD),
		statuses: make(map[int]VODStatus),
		chapters: make(map[int][]Chapter),
		failures: make(map[string]int),
		uploads:  make(map[int][]string),
		nextID:   1000,
	}
	m.SetDefaultData()

	mux := http.NewServeMux()
	mux.HandleFunc("/shows", m.handleShows)
	mux.HandleFunc("/shows/", m.handleShow)
	mux.HandleFunc("/vods", m.handleVODs)
	mux.HandleFunc("/vods/", m.handleVOD)
	mux.HandleFunc("/vodStatus/", m.handleVODStatus)
	mux.HandleFunc("/vodTranscodeQualities", m.handleQualities)
	mux.HandleFunc("/locations", m.handleLocations)
	mux.HandleFunc("/runs", m.handleRuns)
	m.Server = httptest.NewServer(mux)
	return m
}

// SetDefaultData loads a realistic baseline dataset.
func (m *MockServer) SetDefaultData() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shows = map[int]Show{
		42: {ID: 42, Title: "Council", EventDate: "2024-01-15", Length: 5400, Description: "Regular council meeting", LocationID: 1, ChannelID: 5},
		43: {ID: 43, Title: "Council Workshop", EventDate: "2024-01-15", Length: 3600, LocationID: 1, ChannelID: 5},
	}
	m.vods = map[int]VOD{
		7: {ID: 7, ShowID: 42, State: VODStateReady, PercentComplete: 100},
	}
	m.statuses = map[int]VODStatus{
		7: {ID: 7, State: VODStateReady, PercentComplete: 100, CaptionsAvailable: false},
	}
	m.locations = []Location{{ID: 1, Name: "Birchwood"}, {ID: 2, Name: "Cedarview"}}
	m.qualities = []Quality{{ID: 1, Name: "720p"}, {ID: 2, Name: "1080p"}}
}

// FailNext makes the next n requests whose path starts with prefix return 500.
func (m *MockServer) FailNext(prefix string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[prefix] = n
}

// SetRuns replaces the run schedule.
func (m *MockServer) SetRuns(runs []Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = runs
}

// SetShows replaces the show table.
func (m *MockServer) SetShows(shows []Show) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shows = make(map[int]Show, len(shows))
	for _, s := range shows {
		m.shows[s.ID] = s
	}
}

// SetVODStatus overrides the status of a VOD.
func (m *MockServer) SetVODStatus(id int, status VODStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status.ID = id
	m.statuses[id] = status
}

// Uploads returns the filenames uploaded for a VOD.
func (m *MockServer) Uploads(vodID int) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.uploads[vodID]...)
}

// VOD returns the current mock record for id.
func (m *MockServer) VOD(id int) (VOD, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vods[id]
	return v, ok
}

func (m *MockServer) failing(w http.ResponseWriter, path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for prefix, n := range m.failures {
		if n > 0 && strings.HasPrefix(path, prefix) {
			m.failures[prefix] = n - 1
			http.Error(w, `{"message":"internal error"}`, http.StatusInternalServerError)
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (m *MockServer) handleShows(w http.ResponseWriter, r *http.Request) {
	if m.failing(w, r.URL.Path) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		m.mu.RLock()
		defer m.mu.RUnlock()
		out := make([]Show, 0, len(m.shows))
		loc, _ := strconv.Atoi(r.URL.Query().Get("location"))
		for _, s := range m.shows {
			if loc > 0 && s.LocationID != loc {
				continue
			}
			out = append(out, s)
		}
		writeJSON(w, map[string]any{"shows": out})
	case http.MethodPost:
		var in struct {
			Show Show `json:"show"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.nextID++
		in.Show.ID = m.nextID
		m.shows[in.Show.ID] = in.Show
		m.mu.Unlock()
		writeJSON(w, map[string]any{"show": in.Show})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m *MockServer) handleShow(w http.ResponseWriter, r *http.Request) {
	if m.failing(w, r.URL.Path) {
		return
	}
	id, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/shows/"))
	m.mu.Lock()
	defer m.mu.Unlock()
	show, ok := m.shows[id]
	if !ok {
		http.Error(w, `{"message":"show not found"}`, http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]any{"show": show})
	case http.MethodPut:
		var in struct {
			Show Show `json:"show"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		in.Show.ID = id
		m.shows[id] = in.Show
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m *MockServer) handleVODs(w http.ResponseWriter, r *http.Request) {
	if m.failing(w, r.URL.Path) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		m.mu.RLock()
		defer m.mu.RUnlock()
		show, _ := strconv.Atoi(r.URL.Query().Get("show"))
		out := make([]VOD, 0, len(m.vods))
		for _, v := range m.vods {
			if show > 0 && v.ShowID != show {
				continue
			}
			out = append(out, v)
		}
		writeJSON(w, map[string]any{"vods": out})
	case http.MethodPost:
		var in struct {
			VOD VOD `json:"vod"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.nextID++
		in.VOD.ID = m.nextID
		in.VOD.State = VODStateProcessing
		m.vods[in.VOD.ID] = in.VOD
		m.mu.Unlock()
		writeJSON(w, map[string]any{"vod": in.VOD})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m *MockServer) handleVOD(w http.ResponseWriter, r *http.Request) {
	if m.failing(w, r.URL.Path) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/vods/")
	parts := strings.Split(rest, "/")
	id, _ := strconv.Atoi(parts[0])

	m.mu.Lock()
	defer m.mu.Unlock()
	vod, ok := m.vods[id]
	if !ok {
		http.Error(w, `{"message":"vod not found"}`, http.StatusNotFound)
		return
	}

	if len(parts) > 1 {
		switch parts[1] {
		case "upload":
			if err := r.ParseMultipartForm(64 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			for _, files := range r.MultipartForm.File {
				for _, f := range files {
					m.uploads[id] = append(m.uploads[id], f.Filename)
				}
			}
			w.WriteHeader(http.StatusOK)
			return
		case "chapters":
			m.handleChaptersLocked(w, r, id, parts)
			return
		}
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]any{"vod": vod})
	case http.MethodPut:
		var in struct {
			VOD struct {
				Metadata map[string]any `json:"metadata"`
			} `json:"vod"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if vod.Metadata == nil {
			vod.Metadata = make(map[string]any)
		}
		for k, v := range in.VOD.Metadata {
			vod.Metadata[k] = v
		}
		vod.LastUpdated = time.Now()
		m.vods[id] = vod
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		delete(m.vods, id)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m *MockServer) handleChaptersLocked(w http.ResponseWriter, r *http.Request, vodID int, parts []string) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]any{"chapters": m.chapters[vodID]})
	case http.MethodPost:
		var in struct {
			Chapter Chapter `json:"chapter"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.nextID++
		in.Chapter.ID = m.nextID
		in.Chapter.VODID = vodID
		m.chapters[vodID] = append(m.chapters[vodID], in.Chapter)
		writeJSON(w, map[string]any{"chapter": in.Chapter})
	case http.MethodPut, http.MethodDelete:
		if len(parts) < 3 {
			http.Error(w, "missing chapter id", http.StatusBadRequest)
			return
		}
		chID, _ := strconv.Atoi(parts[2])
		list := m.chapters[vodID]
		for i, ch := range list {
			if ch.ID != chID {
				continue
			}
			if r.Method == http.MethodDelete {
				m.chapters[vodID] = append(list[:i], list[i+1:]...)
			} else {
				var in struct {
					Chapter Chapter `json:"chapter"`
				}
				if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				in.Chapter.ID = chID
				in.Chapter.VODID = vodID
				list[i] = in.Chapter
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Error(w, `{"message":"chapter not found"}`, http.StatusNotFound)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m *MockServer) handleVODStatus(w http.ResponseWriter, r *http.Request) {
	if m.failing(w, r.URL.Path) {
		return
	}
	id, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/vodStatus/"))
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[id]
	if !ok {
		http.Error(w, `{"message":"vod not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, status)
}

func (m *MockServer) handleQualities(w http.ResponseWriter, r *http.Request) {
	if m.failing(w, r.URL.Path) {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	writeJSON(w, map[string]any{"vodTranscodeQualities": m.qualities})
}

func (m *MockServer) handleLocations(w http.ResponseWriter, r *http.Request) {
	if m.failing(w, r.URL.Path) {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	writeJSON(w, map[string]any{"locations": m.locations})
}

func (m *MockServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	if m.failing(w, r.URL.Path) {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	writeJSON(w, map[string]any{"runs": m.runs})
}
