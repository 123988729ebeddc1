package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"vinscan-service/internal/capture"
	"vinscan-service/internal/config"
	"vinscan-service/internal/domain/vin"
	"vinscan-service/internal/preprocess"
	"vinscan-service/internal/recognize"
	"vinscan-service/internal/registry"
	"vinscan-service/internal/scan"
	"vinscan-service/internal/service"
	"vinscan-service/internal/settings"
)

type Handler struct {
	scanService *service.ScanService
	manager     *scan.Manager
	presets     *settings.Store
	registry    *registry.Client
	config      *config.Config
	log         zerolog.Logger
}

func NewHandler(
	scanService *service.ScanService,
	manager *scan.Manager,
	presets *settings.Store,
	reg *registry.Client,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		scanService: scanService,
		manager:     manager,
		presets:     presets,
		registry:    reg,
		config:      cfg,
		log:         log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.POST("/scan/frames", h.scanFrame)
		public.POST("/scan/events", h.createScanEvent)
		public.POST("/vins/validate", h.validateVIN)
		public.GET("/vins/:vin", h.describeVIN)
		public.GET("/vehicles", h.listVehicles)
		public.GET("/events", h.listEvents)
		public.GET("/presets", h.listPresets)

		public.POST("/sessions", h.startSession)
		public.GET("/sessions/:id", h.getSession)
		public.POST("/sessions/:id/pause", h.sessionAction(func(s *scan.Session, c *gin.Context) error { return s.Pause() }))
		public.POST("/sessions/:id/resume", h.sessionAction(func(s *scan.Session, c *gin.Context) error { return s.Resume() }))
		public.POST("/sessions/:id/retry", h.sessionAction(func(s *scan.Session, c *gin.Context) error {
			return s.Retry(context.WithoutCancel(c.Request.Context()))
		}))
		public.POST("/sessions/:id/cancel", h.sessionAction(func(s *scan.Session, c *gin.Context) error { s.Cancel(); return nil }))
		public.POST("/sessions/:id/mode", h.switchSessionMode)
		public.POST("/sessions/:id/confirm", h.confirmSession)
	}

	// Protected endpoints
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.POST("/watchlists", h.createWatchList)
		protected.POST("/watchlists/:id/items", h.addWatchListItem)
		protected.POST("/events/cleanup", h.cleanupEvents)
	}
}

type scanFrameRequest struct {
	ImageBase64 string `json:"image_base64"`
	Mode        string `json:"mode"`
	Preset      string `json:"preset"`
	Record      bool   `json:"record"`
}

type scanFrameResponse struct {
	RawText    string            `json:"raw_text,omitempty"`
	Confidence float64           `json:"confidence,omitempty"`
	Candidates []string          `json:"candidates"`
	VIN        string            `json:"vin,omitempty"`
	Vehicle    *vin.VehicleInfo  `json:"vehicle,omitempty"`
	Recorded   *vin.RecordResult `json:"recorded,omitempty"`
}

// scanFrame runs the full recognition pipeline once over an uploaded
// frame: preprocess, recognize, expand candidates, validate, decode.
func (h *Handler) scanFrame(c *gin.Context) {
	frame, req, err := h.parseFrameRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	mode := vin.ScanMode(req.Mode)
	if req.Mode == "" {
		mode = vin.ModeText
	}
	if !mode.Valid() {
		c.JSON(http.StatusBadRequest, errorResponse("mode must be text or barcode"))
		return
	}

	presetName := req.Preset
	if presetName == "" {
		presetName = h.config.Scan.DefaultPreset
	}
	procSettings, ok := h.presets.Get(presetName)
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse(fmt.Sprintf("unknown preset %q", presetName)))
		return
	}

	engine, err := recognize.NewEngine(mode, h.log)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to build recognition engine")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}
	defer engine.Close()

	processed := preprocess.Process(frame, procSettings)
	rec, err := engine.Recognize(c.Request.Context(), processed)
	if err != nil {
		if errors.Is(err, recognize.ErrNotFound) {
			c.JSON(http.StatusOK, scanFrameResponse{Candidates: []string{}})
			return
		}
		h.log.Error().Err(err).Msg("recognition failed")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	resp := scanFrameResponse{
		RawText:    rec.Text,
		Confidence: rec.Confidence,
		Candidates: []string{},
	}

	candidates := vin.GenerateCandidates(rec.Text)
	for _, candidate := range candidates {
		resp.Candidates = append(resp.Candidates, candidate)
		if resp.VIN == "" && vin.IsValid(candidate) {
			resp.VIN = candidate
		}
	}

	if resp.VIN != "" {
		info, err := h.scanService.DescribeVIN(c.Request.Context(), resp.VIN)
		if err == nil {
			resp.Vehicle = info
		}
		if req.Record {
			recorded, err := h.scanService.RecordScan(c.Request.Context(), vin.ScanEventPayload{
				Source:         "api",
				Mode:           mode,
				VIN:            resp.VIN,
				RawText:        rec.Text,
				Confidence:     rec.Confidence,
				CandidateCount: len(candidates),
				ScannedAt:      time.Now(),
			})
			if err != nil {
				h.handleError(c, err)
				return
			}
			resp.Recorded = recorded
		}
	}

	c.JSON(http.StatusOK, resp)
}

// parseFrameRequest accepts either a multipart "image" file or a JSON
// body with a base64 payload.
func (h *Handler) parseFrameRequest(c *gin.Context) (image.Image, scanFrameRequest, error) {
	var req scanFrameRequest

	contentType := c.ContentType()
	if strings.HasPrefix(contentType, "multipart/") {
		file, err := c.FormFile("image")
		if err != nil {
			return nil, req, fmt.Errorf("image file is required")
		}
		f, err := file.Open()
		if err != nil {
			return nil, req, fmt.Errorf("opening image: %v", err)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, req, fmt.Errorf("reading image: %v", err)
		}
		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, req, fmt.Errorf("decoding image: %v", err)
		}
		req.Mode = c.PostForm("mode")
		req.Preset = c.PostForm("preset")
		req.Record = c.PostForm("record") == "true"
		return img, req, nil
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, req, err
	}
	if req.ImageBase64 == "" {
		return nil, req, fmt.Errorf("image_base64 is required")
	}
	data, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		return nil, req, fmt.Errorf("invalid base64 image: %v", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, req, fmt.Errorf("decoding image: %v", err)
	}
	return img, req, nil
}

func (h *Handler) createScanEvent(c *gin.Context) {
	var payload vin.ScanEventPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if payload.ScannedAt.IsZero() {
		payload.ScannedAt = time.Now()
	}
	if payload.Mode == "" {
		payload.Mode = vin.ScanMode(h.config.Scan.DefaultMode)
	}

	result, err := h.scanService.RecordScan(c.Request.Context(), payload)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
			return
		}
		h.log.Error().Err(err).Msg("failed to record scan event")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":     "ok",
		"event_id":   result.EventID,
		"vehicle_id": result.VehicleID,
		"vehicle":    result.Vehicle,
		"hits":       result.Hits,
	})
}

type validateVINRequest struct {
	VIN string `json:"vin" binding:"required"`
}

func (h *Handler) validateVIN(c *gin.Context) {
	var req validateVINRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	normalized := vin.Normalize(req.VIN)
	valid := vin.IsValid(normalized)
	resp := gin.H{
		"vin":   normalized,
		"valid": valid,
	}
	if cd, ok := vin.CheckDigit(normalized); ok {
		resp["expected_check_digit"] = string(cd)
	}
	if valid {
		resp["decoded"] = vin.Decode(normalized)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) describeVIN(c *gin.Context) {
	info, err := h.scanService.DescribeVIN(c.Request.Context(), c.Param("vin"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(info))
}

func (h *Handler) listVehicles(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	vehicles, err := h.scanService.FindVehicles(c.Request.Context(), limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(vehicles))
}

func (h *Handler) listEvents(c *gin.Context) {
	var vinQuery *string
	if v := strings.TrimSpace(c.Query("vin")); v != "" {
		vinQuery = &v
	}

	var from, to *string
	if f := strings.TrimSpace(c.Query("from")); f != "" {
		from = &f
	}
	if t := strings.TrimSpace(c.Query("to")); t != "" {
		to = &t
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	events, err := h.scanService.FindEvents(c.Request.Context(), vinQuery, from, to, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(events))
}

func (h *Handler) listPresets(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.presets.Names()))
}

type startSessionRequest struct {
	StreamURL string `json:"stream_url"`
	Mode      string `json:"mode"`
	Preset    string `json:"preset"`
}

func (h *Handler) startSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	streamURL := req.StreamURL
	if streamURL == "" {
		streamURL = h.config.Camera.StreamURL
	}
	if streamURL == "" {
		c.JSON(http.StatusBadRequest, errorResponse("stream_url is required"))
		return
	}

	mode := vin.ScanMode(req.Mode)
	if req.Mode == "" {
		mode = vin.ScanMode(h.config.Scan.DefaultMode)
	}
	if !mode.Valid() {
		c.JSON(http.StatusBadRequest, errorResponse("mode must be text or barcode"))
		return
	}

	presetName := req.Preset
	if presetName == "" {
		presetName = h.config.Scan.DefaultPreset
	}
	procSettings, ok := h.presets.Get(presetName)
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse(fmt.Sprintf("unknown preset %q", presetName)))
		return
	}

	// The session outlives this request: its loop and camera stream run
	// until confirm/cancel or server shutdown, not until the response is
	// written.
	session, err := h.manager.StartSession(context.WithoutCancel(c.Request.Context()), scan.Config{
		Mode:   mode,
		Source: capture.NewMJPEGSource(streamURL, h.log),
		NewEngine: func(m vin.ScanMode) (recognize.Engine, error) {
			return recognize.NewEngine(m, h.log)
		},
		Registry: h.registry,
		Settings: procSettings,
		Log:      h.log,
	})
	if err != nil {
		// Device acquisition failures are the one class of error the
		// user sees directly.
		c.JSON(http.StatusBadGateway, errorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id": session.ID,
		"state":      session.State(),
		"mode":       session.Mode(),
	})
}

func (h *Handler) getSession(c *gin.Context) {
	session, err := h.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, errorResponse("session not found"))
		return
	}

	logs := session.Logs()
	if len(logs) > 50 {
		logs = logs[len(logs)-50:]
	}

	resp := gin.H{
		"session_id": session.ID,
		"state":      session.State(),
		"mode":       session.Mode(),
		"logs":       logs,
	}
	if r := session.Result(); r != nil {
		resp["result"] = r
	}
	if d := session.Duration(); d > 0 {
		resp["duration_seconds"] = d.Seconds()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) sessionAction(action func(*scan.Session, *gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := h.manager.Get(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, errorResponse("session not found"))
			return
		}
		if err := action(session, c); err != nil {
			if errors.Is(err, scan.ErrBadState) {
				c.JSON(http.StatusConflict, errorResponse(err.Error()))
				return
			}
			h.log.Error().Err(err).Str("session_id", session.ID).Msg("session action failed")
			c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": session.State()})
	}
}

type switchModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func (h *Handler) switchSessionMode(c *gin.Context) {
	session, err := h.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, errorResponse("session not found"))
		return
	}

	var req switchModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if err := session.SwitchMode(vin.ScanMode(req.Mode)); err != nil {
		if errors.Is(err, scan.ErrBadState) {
			c.JSON(http.StatusConflict, errorResponse(err.Error()))
			return
		}
		h.log.Error().Err(err).Str("session_id", session.ID).Msg("mode switch failed")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": session.State(), "mode": session.Mode()})
}

func (h *Handler) confirmSession(c *gin.Context) {
	session, err := h.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, errorResponse("session not found"))
		return
	}

	result, err := session.Confirm(c.Request.Context())
	if err != nil {
		if errors.Is(err, scan.ErrBadState) {
			c.JSON(http.StatusConflict, errorResponse(err.Error()))
			return
		}
		h.log.Error().Err(err).Str("session_id", session.ID).Msg("confirm failed")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	recorded, err := h.scanService.RecordScan(c.Request.Context(), vin.ScanEventPayload{
		SessionID:      session.ID,
		Source:         "session",
		Mode:           result.Mode,
		VIN:            result.VIN,
		RawText:        result.RawText,
		Confidence:     result.Confidence,
		CandidateCount: result.CandidateCount,
		ScannedAt:      time.Now(),
	})
	if err != nil {
		// The scan itself succeeded; persistence failure is reported
		// but the result is still returned.
		h.log.Error().Err(err).Str("vin", result.VIN).Msg("failed to persist confirmed scan")
		c.JSON(http.StatusOK, gin.H{"result": result, "persisted": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result, "persisted": true, "recorded": recorded})
}

type createWatchListRequest struct {
	Name        string `json:"name" binding:"required"`
	Type        string `json:"type" binding:"required"`
	Description string `json:"description"`
}

func (h *Handler) createWatchList(c *gin.Context) {
	var req createWatchListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	id, err := h.scanService.CreateWatchList(c.Request.Context(), req.Name, req.Type, req.Description)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"list_id": id})
}

type addWatchListItemRequest struct {
	VIN  string `json:"vin" binding:"required"`
	Note string `json:"note"`
}

func (h *Handler) addWatchListItem(c *gin.Context) {
	listID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid list id"))
		return
	}

	var req addWatchListItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if err := h.scanService.AddWatchListItem(c.Request.Context(), listID, req.VIN, req.Note); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "ok"})
}

func (h *Handler) cleanupEvents(c *gin.Context) {
	days := h.config.Scan.EventRetentionDays
	if d := c.Query("days"); d != "" {
		if parsed, err := parseInt(d); err == nil {
			days = parsed
		}
	}

	deleted, err := h.scanService.CleanupOldEvents(c.Request.Context(), days)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
