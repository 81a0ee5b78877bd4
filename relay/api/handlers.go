package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/dahch/task-board-sync/domain"
	"github.com/dahch/task-board-sync/protocol"
	"github.com/dahch/task-board-sync/relay/hub"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Hub is the part of the relay hub the handlers use.
type Hub interface {
	Register() *hub.Peer
	Unregister(p *hub.Peer)
	Handle(ctx context.Context, p *hub.Peer, frame []byte) error
	Tasks() ([]domain.Task, bool)
	Users() []domain.User
}

var _ Hub = (*hub.Hub)(nil)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is open, so is the socket.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Register wires up relay endpoints on the given Echo instance.
func Register(e *echo.Echo, h Hub, logger *log.Logger) {
	e.GET("/ws", serveWS(h, logger))
	e.GET("/api/tasks", getTasks(h))
	e.GET("/api/users", getUsers(h))
	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
}

func getTasks(h Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		tasks, _ := h.Tasks()
		data, err := sonic.ConfigStd.Marshal(tasks)
		if err != nil {
			return err
		}
		return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
	}
}

func getUsers(h Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := sonic.ConfigStd.Marshal(h.Users())
		if err != nil {
			return err
		}
		return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
	}
}

func serveWS(h Hub, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			logger.WithError(err).Warn("websocket upgrade failed")
			return nil
		}
		ws.SetReadLimit(protocol.MaxFrameSize)
		peer := h.Register()
		logger := logger.WithField("peer_id", peer.ID)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			writePeer(ws, peer, logger)
		}()

		readPeer(c, ws, h, peer, logger)
		h.Unregister(peer)
		wg.Wait()
		return nil
	}
}

func readPeer(c echo.Context, ws *websocket.Conn, h Hub, peer *hub.Peer, logger *log.Entry) {
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	ctx := c.Request().Context()
	for {
		mt, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithError(err).Warn("peer read failed")
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if err := h.Handle(ctx, peer, frame); err != nil {
			logger.WithError(err).Debug("event not relayed cleanly")
		}
	}
}

func writePeer(ws *websocket.Conn, peer *hub.Peer, logger *log.Entry) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer ws.Close()
	for {
		select {
		case frame, ok := <-peer.Send():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.WithError(err).Debug("peer write failed")
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
