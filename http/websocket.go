package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"glucosense/health"
	"glucosense/inference"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMessage = 4096
	wsSendBuffer = 16
)

// SocketMessage is one reply on the live predict channel. Exactly one of
// Result or Error is set; ID echoes the client's id when provided.
type SocketMessage struct {
	ID     string           `json:"id,omitempty"`
	Result *PredictResponse `json:"result,omitempty"`
	Error  *errorResponse   `json:"error,omitempty"`
}

// socketRequest lets clients tag a record with an id:
// {"id": "...", "record": {...}}. A bare record is also accepted.
type socketRequest struct {
	ID     string          `json:"id"`
	Record json.RawMessage `json:"record"`
}

// predictSocket serves /api/ws/predict: every text frame holding a record is
// answered with an estimate or a field error, like a form that re-scores as
// it is edited.
type predictSocket struct {
	deps     Deps
	upgrader websocket.Upgrader
}

func newPredictSocket(deps Deps, origins []string) *predictSocket {
	return &predictSocket{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
	}
}

func originChecker(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range origins {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

type socketClient struct {
	conn     *websocket.Conn
	send     chan SocketMessage
	clientID string
	logger   *zap.Logger
}

func (ps *predictSocket) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := ps.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ps.deps.Logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &socketClient{
		conn:     conn,
		send:     make(chan SocketMessage, wsSendBuffer),
		clientID: uuid.NewString(),
		logger:   ps.deps.Logger,
	}
	client.logger.Info("websocket client connected", zap.String("client_id", client.clientID))

	// The request context ends when the handler returns, so the pumps get
	// their own.
	ctx, cancel := context.WithCancel(context.Background())
	go client.writePump(cancel)
	go client.readPump(ctx, cancel, ps.deps.Estimator)
}

func (c *socketClient) readPump(ctx context.Context, cancel context.CancelFunc, est Estimator) {
	defer func() {
		cancel()
		close(c.send)
		c.logger.Info("websocket client disconnected", zap.String("client_id", c.clientID))
	}()

	c.conn.SetReadLimit(wsMaxMessage)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", zap.String("client_id", c.clientID), zap.Error(err))
			}
			return
		}

		reply := c.answer(ctx, est, data)
		select {
		case c.send <- reply:
		case <-ctx.Done():
			return
		}
	}
}

func (c *socketClient) answer(ctx context.Context, est Estimator, data []byte) SocketMessage {
	var req socketRequest
	payload := data
	if err := json.Unmarshal(data, &req); err == nil && len(req.Record) > 0 {
		payload = req.Record
	}

	res, err := predictPayload(ctx, est, payload)
	if err == nil {
		resp := newPredictResponse(res)
		return SocketMessage{ID: req.ID, Result: &resp}
	}

	status, body := classifyError(err)
	if status >= http.StatusInternalServerError {
		c.logger.Error("websocket predict failed", zap.String("client_id", c.clientID), zap.Error(err))
	}
	return SocketMessage{ID: req.ID, Error: &body}
}

func predictPayload(ctx context.Context, est Estimator, payload []byte) (inference.Result, error) {
	rec, err := health.DecodeJSON(payload)
	if err != nil {
		return inference.Result{}, err
	}
	return est.Predict(ctx, rec)
}

func (c *socketClient) writePump(cancel context.CancelFunc) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn("websocket write error", zap.String("client_id", c.clientID), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
