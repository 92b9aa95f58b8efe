package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/pulse-link-core/internal/pattern"
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(bodySizeLimitMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)

	r.Route("/api", func(r chi.Router) {
		r.Post("/video-event", s.handleVideoEvent)
		r.Post("/download-funscript", s.handleDownloadFunscript)
		r.Get("/funscript/{videoID}", s.handleGetFunscript)
		r.Post("/auto-funscript", s.handleAutoFunscript)
		r.Post("/connect-device", s.handleConnectDevice)
		r.Get("/history", s.handleHistory)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type deviceInfo struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	linkStats := s.link.Stats()
	patternStats := s.patterns.Stats()

	devices := make([]deviceInfo, 0, linkStats.Devices)
	for _, d := range s.link.Devices() {
		devices = append(devices, deviceInfo{ID: d.Index, Name: d.Name})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"link_connected": s.link.IsConnected(),
		"link_state":     linkStats.State.String(),
		"devices":        devices,
		"device_count":   linkStats.Devices,
		"commands_tx":    linkStats.CommandsTx,
		"reconnects":     linkStats.Reconnects,
		"patterns": map[string]any{
			"cache_hits": patternStats.CacheHits,
			"downloads":  patternStats.Downloads,
			"failures":   patternStats.Failures,
		},
		"version": s.version,
	})
}

type videoEventRequest struct {
	Type      string  `json:"type"`
	Intensity string  `json:"intensity"`
	Level     float64 `json:"level"`
}

// handleVideoEvent injects a playback event as if it had arrived from
// the player. The "test" type maps to a scene change so integrations
// can verify the command path end to end.
func (s *Server) handleVideoEvent(w http.ResponseWriter, r *http.Request) {
	var req videoEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	switch req.Type {
	case "play":
		s.router.OnPlay()
	case "pause":
		s.router.OnPause()
	case "scene_change", "test":
		label := req.Intensity
		if label == "" {
			label = "medium"
		}
		s.router.OnSceneChange(label)
	case "audio_level":
		if req.Level < 0 {
			writeBadRequest(w, "level must be non-negative")
			return
		}
		s.router.OnAudioLevel(req.Level)
	default:
		writeBadRequest(w, "unknown event type")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type downloadRequest struct {
	VideoID  string `json:"video_id"`
	Title    string `json:"title"`
	Duration int    `json:"duration"`
}

type downloadResponse struct {
	Success   bool            `json:"success"`
	VideoID   string          `json:"video_id,omitempty"`
	Funscript *pattern.Script `json:"funscript"`
	Actions   int             `json:"actions"`
	Cached    bool            `json:"cached"`
}

func (s *Server) handleDownloadFunscript(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.VideoID == "" {
		writeBadRequest(w, "video_id is required")
		return
	}

	s.resolveScript(w, r, req.VideoID, req.Title, req.Duration)
}

// handleGetFunscript serves a previously cached script. It never
// triggers a download; absent scripts are a 404.
func (s *Server) handleGetFunscript(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")

	script, err := s.patterns.Cached(videoID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeNotFound(w, "no cached funscript for this video")
			return
		}
		s.logger.Error("cached script read failed", "video_id", videoID, "error", err)
		writeInternalError(w)
		return
	}

	writeJSON(w, http.StatusOK, downloadResponse{
		Success:   true,
		VideoID:   videoID,
		Funscript: script,
		Actions:   len(script.Actions),
		Cached:    true,
	})
}

type autoRequest struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Duration int    `json:"duration"`
}

func (s *Server) handleAutoFunscript(w http.ResponseWriter, r *http.Request) {
	var req autoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.URL == "" {
		writeBadRequest(w, "url is required")
		return
	}

	videoID := pattern.ExtractID(req.URL)
	if videoID == "" {
		writeBadRequest(w, "could not extract video ID from URL")
		return
	}

	s.resolveScript(w, r, videoID, req.Title, req.Duration)
}

func (s *Server) resolveScript(w http.ResponseWriter, r *http.Request, videoID, title string, duration int) {
	if script, err := s.patterns.Cached(videoID); err == nil {
		writeJSON(w, http.StatusOK, downloadResponse{
			Success:   true,
			VideoID:   videoID,
			Funscript: script,
			Actions:   len(script.Actions),
			Cached:    true,
		})
		return
	}

	script, err := s.patterns.Resolve(r.Context(), videoID, title, duration)
	if err != nil {
		if errors.Is(err, pattern.ErrNoInteractiveContent) {
			writeNotFound(w, "no interactive content available for this video")
			return
		}
		s.logger.Error("script resolve failed", "video_id", videoID, "error", err)
		writeError(w, http.StatusBadGateway, "download_failed", "funscript download failed")
		return
	}

	writeJSON(w, http.StatusOK, downloadResponse{
		Success:   true,
		VideoID:   videoID,
		Funscript: script,
		Actions:   len(script.Actions),
		Cached:    false,
	})
}

func (s *Server) handleConnectDevice(w http.ResponseWriter, _ *http.Request) {
	if s.link.IsConnected() {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "connected",
			"devices": s.link.DeviceCount(),
		})
		return
	}

	if err := s.link.Connect(); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "failed",
			"error":  err.Error(),
		})
		return
	}
	if err := s.link.ScanDevices(); err != nil {
		s.logger.Warn("device scan request failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "connected",
		"devices": s.link.DeviceCount(),
	})
}

const historyLimit = 50

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		writeError(w, http.StatusServiceUnavailable, "history_unavailable", "command history is not enabled")
		return
	}

	entries, err := s.hist.Recent(r.Context(), historyLimit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		writeInternalError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
