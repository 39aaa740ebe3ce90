package hertzapi

import (
	"context"
	"errors"

	"github.com/RanFeng/ilog"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/AumSorathiya/watch-together.github.io/internal/chat"
	"github.com/AumSorathiya/watch-together.github.io/internal/hertzws"
	"github.com/AumSorathiya/watch-together.github.io/internal/rooms"
)

// NewRouter wires the room service API and the store websocket.
func NewRouter(h *server.Hertz, roomManager *rooms.Manager) *server.Hertz {
	wsHandler := hertzws.NewHandler(roomManager)

	h.Use(recoveryMiddleware())

	h.GET("/healthz", func(c context.Context, ctx *app.RequestContext) {
		ctx.String(consts.StatusOK, "ok")
	})

	api := h.Group("/api")
	{
		roomsGroup := api.Group("/rooms")
		{
			roomsGroup.POST("/create", handleCreateRoom(roomManager))
			roomsGroup.POST("/join/:roomId", handleJoinRoom(roomManager))
			roomsGroup.GET("/:roomId", handleGetRoom(roomManager))
			roomsGroup.GET("/:roomId/chat", handleChatHistory(roomManager))
		}
	}

	h.GET("/ws/rooms/:roomId", wsHandler.HandleWebSocket)

	return h
}

func recoveryMiddleware() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		defer func() {
			if err := recover(); err != nil {
				ctx.String(consts.StatusInternalServerError, "Internal Server Error")
			}
		}()
		ctx.Next(c)
	}
}

func handleCreateRoom(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		var payload createRoomRequest
		if err := ctx.Bind(&payload); err != nil {
			respondError(ctx, consts.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}
		if payload.DisplayName == "" {
			respondError(ctx, consts.StatusBadRequest, "invalid_request", "displayName is required")
			return
		}

		session, err := roomManager.CreateRoom(c, payload.DisplayName, payload.VideoURL)
		if err != nil {
			respondError(ctx, consts.StatusBadRequest, "create_failed", err.Error())
			return
		}
		ilog.EventInfo(c, "create_room", "session", session)

		ctx.JSON(consts.StatusCreated, session)
	}
}

func handleJoinRoom(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		roomID := ctx.Param("roomId")
		var payload joinRoomRequest
		if err := ctx.Bind(&payload); err != nil {
			respondError(ctx, consts.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}
		if payload.DisplayName == "" {
			respondError(ctx, consts.StatusBadRequest, "invalid_request", "displayName is required")
			return
		}

		session, err := roomManager.JoinRoom(c, roomID, payload.DisplayName)
		if err != nil {
			if errors.Is(err, rooms.ErrRoomNotFound) {
				respondError(ctx, consts.StatusNotFound, "room_not_found", err.Error())
				return
			}
			respondError(ctx, consts.StatusInternalServerError, "join_failed", err.Error())
			return
		}

		ctx.JSON(consts.StatusOK, session)
	}
}

func handleGetRoom(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		roomID := ctx.Param("roomId")
		state, err := roomManager.GetState(c, roomID)
		if err != nil {
			if errors.Is(err, rooms.ErrRoomNotFound) {
				respondError(ctx, consts.StatusNotFound, "room_not_found", err.Error())
				return
			}
			respondError(ctx, consts.StatusInternalServerError, "state_fetch_failed", err.Error())
			return
		}

		ctx.JSON(consts.StatusOK, state)
	}
}

func handleChatHistory(roomManager *rooms.Manager) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		roomID := ctx.Param("roomId")
		room, _, err := roomManager.LookupParticipant(roomID, ctx.Query("token"))
		if err != nil {
			if errors.Is(err, rooms.ErrRoomNotFound) {
				respondError(ctx, consts.StatusNotFound, "room_not_found", err.Error())
				return
			}
			respondError(ctx, consts.StatusUnauthorized, "invalid_token", err.Error())
			return
		}

		ctx.JSON(consts.StatusOK, chat.History(roomManager.Store(), room.Prefix()))
	}
}

type createRoomRequest struct {
	DisplayName string `json:"displayName"`
	VideoURL    string `json:"videoUrl"`
}

type joinRoomRequest struct {
	DisplayName string `json:"displayName"`
}

func respondError(ctx *app.RequestContext, status int, code, message string) {
	ctx.JSON(status, map[string]interface{}{
		"kind": "ERROR",
		"data": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
