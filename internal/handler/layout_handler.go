package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "floatingtimer/backend/internal/errors"
	"floatingtimer/backend/internal/prefs"
)

type LayoutHandler struct {
	store *prefs.Store
}

func NewLayoutHandler(store *prefs.Store) *LayoutHandler {
	return &LayoutHandler{store: store}
}

func (h *LayoutHandler) Get(c *gin.Context) {
	layout, err := h.store.Load()
	if err != nil {
		writeError(c, apperrors.Internal("failed to load layout"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"layout": layout})
}

func (h *LayoutHandler) Update(c *gin.Context) {
	layout := prefs.Default()
	if err := c.ShouldBindJSON(&layout); err != nil {
		writeError(c, apperrors.BadRequest("invalid_json", "invalid request body"))
		return
	}
	if err := layout.Validate(); err != nil {
		writeError(c, apperrors.BadRequest("invalid_layout", err.Error()))
		return
	}
	if err := h.store.Save(layout); err != nil {
		writeError(c, apperrors.Internal("failed to save layout"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"layout": layout})
}
