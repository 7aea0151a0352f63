package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"floatingtimer/backend/internal/clock"
	apperrors "floatingtimer/backend/internal/errors"
	"floatingtimer/backend/internal/format"
	"floatingtimer/backend/internal/model"
	"floatingtimer/backend/internal/service"
)

type TimerHandler struct {
	timerService *service.TimerService
	clock        clock.Clock
}

type stateView struct {
	model.TimerState
	Elapsed    string    `json:"elapsed"`
	ServerTime time.Time `json:"serverTime"`
}

type startRequest struct {
	ProjectID   *string  `json:"projectId"`
	ClientID    *string  `json:"clientId"`
	Description *string  `json:"description"`
	Tags        []string `json:"tags"`
}

type saveRequest struct {
	Note *string `json:"note"`
}

type descriptionRequest struct {
	Description *string `json:"description"`
}

type tagsRequest struct {
	Tags []string `json:"tags"`
}

func NewTimerHandler(timerService *service.TimerService, clk clock.Clock) *TimerHandler {
	return &TimerHandler{timerService: timerService, clock: clk}
}

func (h *TimerHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": h.view(h.timerService.GetState())})
}

func (h *TimerHandler) Start(c *gin.Context) {
	var req startRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	state, err := h.timerService.Start(c.Request.Context(), service.StartInput{
		ProjectID:   req.ProjectID,
		ClientID:    req.ClientID,
		Description: req.Description,
		Tags:        req.Tags,
	})
	h.respondState(c, state, err)
}

func (h *TimerHandler) Pause(c *gin.Context) {
	state, err := h.timerService.Pause(c.Request.Context())
	h.respondState(c, state, err)
}

func (h *TimerHandler) Resume(c *gin.Context) {
	state, err := h.timerService.Resume(c.Request.Context())
	h.respondState(c, state, err)
}

func (h *TimerHandler) Stop(c *gin.Context) {
	entry, err := h.timerService.Stop(c.Request.Context())
	h.respondEntry(c, entry, err)
}

func (h *TimerHandler) Save(c *gin.Context) {
	var req saveRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	entry, err := h.timerService.SaveEntry(c.Request.Context(), req.Note)
	h.respondEntry(c, entry, err)
}

func (h *TimerHandler) Reset(c *gin.Context) {
	state, err := h.timerService.Reset(c.Request.Context())
	h.respondState(c, state, err)
}

func (h *TimerHandler) UpdateDescription(c *gin.Context) {
	var req descriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Description == nil {
		writeError(c, apperrors.BadRequest("invalid_json", "description is required"))
		return
	}
	state, err := h.timerService.UpdateDescription(c.Request.Context(), *req.Description)
	h.respondState(c, state, err)
}

func (h *TimerHandler) UpdateTags(c *gin.Context) {
	var req tagsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Tags == nil {
		writeError(c, apperrors.BadRequest("invalid_json", "tags is required"))
		return
	}
	state, err := h.timerService.UpdateTags(c.Request.Context(), req.Tags)
	h.respondState(c, state, err)
}

func (h *TimerHandler) Rehydrate(c *gin.Context) {
	state, err := h.timerService.Rehydrate(c.Request.Context())
	h.respondState(c, state, err)
}

func (h *TimerHandler) Refresh(c *gin.Context) {
	if err := h.timerService.RefreshEntries(c.Request.Context()); err != nil {
		writeError(c, apperrors.FromError(err, nil))
		return
	}
	h.TodayEntries(c)
}

func (h *TimerHandler) TodayEntries(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entries": h.timerService.TodayEntries()})
}

func (h *TimerHandler) Totals(c *gin.Context) {
	today := h.timerService.TodayTotalMinutes()
	week := h.timerService.WeekTotalMinutes()
	c.JSON(http.StatusOK, gin.H{
		"todayMinutes": today,
		"weekMinutes":  week,
		"today":        format.MinutesHuman(today),
		"week":         format.MinutesHuman(week),
	})
}

func (h *TimerHandler) DeleteEntry(c *gin.Context) {
	if err := h.timerService.DeleteEntry(c.Request.Context(), c.Param("id")); err != nil {
		h.writeTimerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.view(h.timerService.GetState())})
}

func (h *TimerHandler) respondState(c *gin.Context, state model.TimerState, err error) {
	if err != nil {
		h.writeTimerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.view(state)})
}

func (h *TimerHandler) respondEntry(c *gin.Context, entry *model.TimeEntry, err error) {
	if err != nil {
		h.writeTimerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entry": entry,
		"state": h.view(h.timerService.GetState()),
	})
}

// writeTimerError attaches the current state to conflicts so the client can
// reconcile without another round trip.
func (h *TimerHandler) writeTimerError(c *gin.Context, err error) {
	details := gin.H{"state": h.view(h.timerService.GetState())}
	writeError(c, apperrors.FromError(err, details))
}

func (h *TimerHandler) view(state model.TimerState) stateView {
	return stateView{
		TimerState: state,
		Elapsed:    format.HMS(state.ElapsedSeconds),
		ServerTime: h.clock.Now().UTC(),
	}
}

// bindOptionalJSON accepts an empty body as the zero request.
func bindOptionalJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, apperrors.BadRequest("invalid_json", "invalid request body"))
		return false
	}
	return true
}
