package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/services"
	"roomcast/pkg/validation"
)

// RoomHandler exposes a read-only view of the live rooms.
type RoomHandler struct {
	directory *services.RoomDirectory
}

func NewRoomHandler(directory *services.RoomDirectory) *RoomHandler {
	return &RoomHandler{directory: directory}
}

func (h *RoomHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:id", h.GetRoom)
	}
}

type roomSummary struct {
	ID        domain.RoomID `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Peers     int           `json:"peers"`
	Producers int           `json:"producers"`
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms := h.directory.Rooms()
	summaries := make([]roomSummary, 0, len(rooms))
	for _, room := range rooms {
		stats := room.Stats()
		summaries = append(summaries, roomSummary{
			ID:        stats.ID,
			CreatedAt: stats.CreatedAt,
			Peers:     len(stats.Peers),
			Producers: len(stats.Producers),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"rooms": summaries,
		"total": len(summaries),
	})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateRoomID(id); err != nil {
		_ = c.Error(fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err))
		return
	}

	room := h.directory.Get(domain.RoomID(id))
	if room == nil {
		_ = c.Error(fmt.Errorf("%w: %s", domain.ErrRoomNotFound, id))
		return
	}

	c.JSON(http.StatusOK, room.Stats())
}
