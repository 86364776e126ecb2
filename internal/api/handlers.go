package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/BTreeMap/PortfolioChat/internal/models"
	"github.com/BTreeMap/PortfolioChat/internal/script"
	"github.com/BTreeMap/PortfolioChat/internal/typewriter"
)

// defaultTranscriptLimit caps GET /transcripts without a limit parameter.
const defaultTranscriptLimit = 50

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{
		"open_conversations": s.manager.Count(),
	}))
}

// scriptView is the public part of the persona script.
type scriptView struct {
	Name       string            `json:"name"`
	Greeting   string            `json:"greeting,omitempty"`
	Mode       script.ReplyMode  `json:"mode"`
	Phrases    []string          `json:"phrases"`
	Cadence    typewriter.Config `json:"cadence"`
	StartDelay time.Duration     `json:"start_delay"`
	Presets    []string          `json:"presets"`
}

func (s *Server) scriptHandler(w http.ResponseWriter, r *http.Request) {
	sc := s.script
	writeJSONResponse(w, http.StatusOK, models.Success(scriptView{
		Name:       sc.Name,
		Greeting:   sc.Greeting,
		Mode:       sc.Chat.Mode,
		Phrases:    sc.Typewriter.Phrases,
		Cadence:    sc.Typewriter.Cadence,
		StartDelay: sc.Typewriter.StartDelay,
		Presets:    sc.Chat.Presets,
	}))
}

func (s *Server) listTranscriptsHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Transcripts == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Transcript archive not configured"))
		return
	}
	limit := defaultTranscriptLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	ts, err := s.opts.Transcripts.ListTranscripts(r.Context(), limit)
	if err != nil {
		writeError(w, "listTranscriptsHandler", err)
		return
	}
	if ts == nil {
		ts = []models.Transcript{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(ts))
}

func (s *Server) getTranscriptHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Transcripts == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Transcript archive not configured"))
		return
	}
	t, err := s.opts.Transcripts.GetTranscript(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, "getTranscriptHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(t))
}

func (s *Server) timersHandler(w http.ResponseWriter, r *http.Request) {
	timers := s.timer.ListActive()
	if timers == nil {
		timers = []models.TimerInfo{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(timers))
}

func (s *Server) jobsHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Jobs == nil {
		writeJSONResponse(w, http.StatusOK, models.Success([]any{}))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.opts.Jobs.Jobs()))
}
