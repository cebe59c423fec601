package workspace

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"greencheck-workspace/internal/apiclient"
	"greencheck-workspace/internal/apperr"
	"greencheck-workspace/internal/pipeline"
	"greencheck-workspace/internal/session"
	"greencheck-workspace/internal/shared/server/middleware"
	"greencheck-workspace/internal/shared/server/respond"
	"greencheck-workspace/internal/shared/telemetry"
	"greencheck-workspace/internal/shared/util"
)

const maxUploadSize = 10 << 20 // 10MB

// Handler wires the console routes to per-workspace Controllers.
type Handler struct {
	Registry       *Registry
	FilenameHeader string
}

// NewHandler constructs a Handler.
func NewHandler(reg *Registry, filenameHeader string) *Handler {
	if filenameHeader == "" {
		filenameHeader = "X-LeafCheck-Filename"
	}
	return &Handler{Registry: reg, FilenameHeader: filenameHeader}
}

// RegisterRoutes attaches workspace routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/state", h.state)
	rg.GET("/events", h.events)
	rg.POST("/session/login", h.login)
	rg.POST("/session/register", h.register)
	rg.POST("/session/logout", h.logout)
	rg.POST("/session/onboarding", h.onboarding)
	rg.POST("/navigate", h.navigate)
	rg.POST("/job/file", h.selectFile)
	rg.PUT("/job/text", h.setText)
	rg.POST("/job/analyze", h.analyze)
	rg.POST("/job/report", h.exportReport)
	rg.POST("/job/reset", h.reset)
	rg.GET("/history", h.loadHistory)
	rg.GET("/history/:id", h.loadHistoryEntry)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type navigateRequest struct {
	Fragment string `json:"fragment"`
}

type textRequest struct {
	Text string `json:"text"`
}

func (h *Handler) controller(c *gin.Context) (*Controller, bool) {
	ctl, created, err := h.Registry.GetOrCreate(middleware.WorkspaceIDFromContext(c))
	if err != nil {
		telemetry.Error("workspace.create.failed", map[string]any{"error": err, "request_id": middleware.RequestIDFromContext(c)})
		respond.Error(c, http.StatusInternalServerError, "internal", "workspace unavailable", nil)
		return nil, false
	}
	if created {
		ctl.Init(c.Request.Context())
	}
	return ctl, true
}

func (h *Handler) writeState(c *gin.Context, st AppState) {
	c.Set(middleware.JobGenerationKey, st.Job.Generation)
	c.Set(middleware.ViewStateKey, string(st.View.State))
	respond.OK(c, st)
}

func (h *Handler) fail(c *gin.Context, st AppState, err error) {
	c.Set(middleware.JobGenerationKey, st.Job.Generation)
	c.Set(middleware.ViewStateKey, string(st.View.State))
	details := gin.H{"state": st.View.State}

	var ae *apperr.Error
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		respond.Error(c, http.StatusConflict, "busy", "This job is already being processed.", details)
	case errors.Is(err, pipeline.ErrStale):
		respond.Error(c, http.StatusConflict, "stale_job", "The job was replaced while the request was in flight.", details)
	case errors.As(err, &ae):
		respond.AppError(c, ae, details)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal", "Unexpected server error", details)
	}
}

func (h *Handler) state(c *gin.Context) {
	ctl, ok := h.controller(c)
	if !ok {
		return
	}
	if fragment, set := c.GetQuery("fragment"); set {
		h.writeState(c, ctl.Navigate(c.Request.Context(), fragment))
		return
	}
	h.writeState(c, ctl.State())
}

func (h *Handler) events(c *gin.Context) {
	ctl, ok := h.controller(c)
	if !ok {
		return
	}
	updates, cancel := ctl.Subscribe()
	defer cancel()

	c.Stream(func(w io.Writer) bool {
		select {
		case st, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("state", st)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *Handler) login(c *gin.Context) {
	h.signIn(c, func(ctl *Controller, req credentialsRequest) (AppState, error) {
		return ctl.Login(c.Request.Context(), req.Email, req.Password)
	})
}

func (h *Handler) register(c *gin.Context) {
	h.signIn(c, func(ctl *Controller, req credentialsRequest) (AppState, error) {
		return ctl.Register(c.Request.Context(), req.Email, req.Password)
	})
}

func (h *Handler) signIn(c *gin.Context, op func(*Controller, credentialsRequest) (AppState, error)) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	ctl, ok := h.controller(c)
	if !ok {
		return
	}
	st, err := op(ctl, req)
	if err != nil {
		h.fail(c, st, err)
		return
	}
	h.writeState(c, st)
}

func (h *Handler) logout(c *gin.Context) {
	ctl, ok := h.controller(c)
	if !ok {
		return
	}
	h.writeState(c, ctl.Logout(c.Request.Context()))
}

func (h *Handler) onboarding(c *gin.Context) {
	var req session.Onboarding
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	ctl, ok := h.controller(c)
	if !ok {
		return
	}
	st, err := ctl.CompleteOnboarding(c.Request.Context(), req)
	if err != nil {
		h.fail(c, st, err)
		return
	}
	h.writeState(c, st)
}

func (h *Handler) navigate(c *gin.Context) {
	var req navigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	ctl, ok := h.controller(c)
	if !ok {
		return
	}
	h.writeState(c, ctl.Navigate(c.Request.Context(), req.Fragment))
}

func (h *Handler) selectFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	if len(data) == 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is empty", nil)
		return
	}

	name, err := util.SanitizeFileName(fileHeader.Filename)
	if err != nil {
		name = "upload"
	}
	file := apiclient.NewFile(name, "", data)
	if !SupportedUpload(file.ContentType) {
		respond.Error(c, http.StatusBadRequest, "validation_error", "Please upload an image or a PDF.", gin.H{"content_type": file.ContentType})
		return
	}

	ctl, ok := h.controller(c)
	if !ok {
		return
	}
	h.writeState(c, ctl.SelectFile(file))
}

// SupportedUpload reports whether the OCR step accepts the content type.
func SupportedUpload(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.HasPrefix(mediaType, "image/") || mediaType == "application/pdf"
}

func (h *Handler) setText(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	ctl, ok := h.controller(c)
	if !ok {
		return
	}
	st, err := ctl.SetText(req.Text)
	if err != nil {
		h.fail(c, st, err)
		return
	}
	h.writeState(c, st)
}

func (h *Handler) analyze(c *gin.Context) {
	ctl, ok := h.controller(c)
	if !ok {
		return
	}
	// The job runs to a terminal status even if the browser goes away.
	st, err := ctl.RunAnalysis(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		h.fail(c, st, err)
		return
	}
	h.writeState(c, st)
}

func (h *Handler) exportReport(c *gin.Context) {
	ctl, ok := h.controller(c)
	if !ok {
		return
	}
	rep, st, err := ctl.ExportReport(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		h.fail(c, st, err)
		return
	}
	c.Set(middleware.JobGenerationKey, st.Job.Generation)
	c.Set(middleware.ViewStateKey, string(st.View.State))
	c.Header(h.FilenameHeader, rep.Filename)
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rep.Filename}))
	c.Data(http.StatusOK, "application/pdf", rep.Data)
}

func (h *Handler) reset(c *gin.Context) {
	ctl, ok := h.controller(c)
	if !ok {
		return
	}
	h.writeState(c, ctl.Reset())
}

func (h *Handler) loadHistory(c *gin.Context) {
	ctl, ok := h.controller(c)
	if !ok {
		return
	}
	st, err := ctl.LoadHistory(c.Request.Context())
	if err != nil {
		h.fail(c, st, err)
		return
	}
	h.writeState(c, st)
}

func (h *Handler) loadHistoryEntry(c *gin.Context) {
	ctl, ok := h.controller(c)
	if !ok {
		return
	}
	entry, st, err := ctl.LoadHistoryEntry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, st, err)
		return
	}
	c.Set(middleware.JobGenerationKey, st.Job.Generation)
	c.Set(middleware.ViewStateKey, string(st.View.State))
	respond.OK(c, gin.H{"entry": entry, "state": st})
}
