package hertzws

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/RanFeng/ilog"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/websocket"

	"github.com/AumSorathiya/watch-together.github.io/internal/protocol"
	"github.com/AumSorathiya/watch-together.github.io/internal/rooms"
	"github.com/AumSorathiya/watch-together.github.io/internal/store"
)

const readTimeout = 60 * time.Second

// Handler attaches websocket clients to their room's store namespace: a
// snapshot on connect, an event stream afterwards, and PUT/DELETE/
// ON_DISCONNECT operations inbound. Every client's presence heartbeat keeps
// the read deadline fresh.
type Handler struct {
	manager  *rooms.Manager
	upgrader websocket.HertzUpgrader
}

func NewHandler(manager *rooms.Manager) *Handler {
	return &Handler{
		manager: manager,
		upgrader: websocket.HertzUpgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(ctx *app.RequestContext) bool {
				return true
			},
		},
	}
}

func (h *Handler) HandleWebSocket(c context.Context, ctx *app.RequestContext) {
	roomID := ctx.Param("roomId")
	token := ctx.Query("token")
	if token == "" {
		ctx.String(401, "missing token")
		return
	}

	room, session, err := h.manager.LookupParticipant(roomID, token)
	if err != nil {
		ilog.EventError(c, err, "ws_lookup_failed", "roomID", roomID)
		ctx.String(401, err.Error())
		return
	}

	err = h.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		h.serve(c, conn, room, session)
	})
	if err != nil {
		ilog.EventError(c, err, "ws_upgrade_failed", "roomID", roomID)
	}
}

func (h *Handler) serve(c context.Context, conn *websocket.Conn, room *rooms.Room, session *rooms.Session) {
	wsCtx, cancel := context.WithCancel(c)
	defer cancel()

	room.AttachConn()
	storeConn := h.manager.Store().Connect()
	prefix := room.Prefix()

	events, err := storeConn.Watch(wsCtx, prefix)
	if err != nil {
		ilog.EventError(c, err, "ws_watch_failed", "roomID", room.ID())
		storeConn.Close()
		room.DetachConn()
		return
	}

	send := make(chan []byte, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	// Pump store events to the client; closes the send channel once the
	// watch ends, which stops the writer.
	go func() {
		defer close(send)
		queue(send, envelope(protocol.KindSnapshot, snapshotPayload(h.manager.Store(), prefix)))
		for ev := range events {
			queue(send, envelope(protocol.KindEvent, protocol.PathValue{
				Path:    strings.TrimPrefix(ev.Path, prefix),
				Value:   ev.Value,
				Deleted: ev.Deleted,
			}))
		}
	}()

	ilog.EventInfo(c, "ws_attached", "roomID", room.ID(), "userID", session.UserID)
	h.readLoop(wsCtx, conn, storeConn, prefix)

	cancel()
	<-writerDone
	conn.Close()
	storeConn.Close()
	room.DetachConn()
	h.manager.CleanupRoom(room)
	ilog.EventInfo(c, "ws_detached", "roomID", room.ID(), "userID", session.UserID)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, storeConn store.Store, prefix string) {
	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				ilog.EventError(ctx, err, "ws_read_failed")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var inbound protocol.InboundEnvelope
		if err := json.Unmarshal(data, &inbound); err != nil {
			continue
		}

		var op protocol.PathValue
		if err := json.Unmarshal(inbound.Data, &op); err != nil {
			continue
		}
		if !validPath(op.Path) {
			continue
		}

		switch inbound.Kind {
		case protocol.KindPut:
			if err := storeConn.Put(ctx, prefix+op.Path, op.Value); err != nil {
				ilog.EventError(ctx, err, "ws_put_failed", "path", op.Path)
			}
		case protocol.KindDelete:
			if err := storeConn.Delete(ctx, prefix+op.Path); err != nil {
				ilog.EventError(ctx, err, "ws_delete_failed", "path", op.Path)
			}
		case protocol.KindOnDisconnect:
			if err := storeConn.OnDisconnect(ctx, prefix+op.Path); err != nil {
				ilog.EventError(ctx, err, "ws_ondisconnect_failed", "path", op.Path)
			}
		default:
			ilog.EventInfo(ctx, "ws_unknown_kind", "kind", inbound.Kind)
		}
	}
}

func snapshotPayload(ms *store.MemStore, prefix string) protocol.SnapshotPayload {
	var payload protocol.SnapshotPayload
	for _, ev := range ms.Snapshot(prefix) {
		payload.Paths = append(payload.Paths, protocol.PathValue{
			Path:  strings.TrimPrefix(ev.Path, prefix),
			Value: ev.Value,
		})
	}
	return payload
}

func envelope(kind string, data interface{}) []byte {
	msg, err := json.Marshal(protocol.Envelope{Kind: kind, Data: data})
	if err != nil {
		return nil
	}
	return msg
}

// queue drops the message when the client cannot keep up; the protocol only
// needs the latest value per path to arrive eventually, and the next write
// supersedes the lost one.
func queue(send chan<- []byte, msg []byte) {
	if msg == nil {
		return
	}
	select {
	case send <- msg:
	default:
	}
}

func validPath(path string) bool {
	if path == "" || strings.HasPrefix(path, "/") {
		return false
	}
	return !strings.Contains(path, "..")
}
