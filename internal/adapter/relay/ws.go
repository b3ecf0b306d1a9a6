package relay

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"spanlight/internal/domain"
	"spanlight/internal/usecase/lifecycle"
)

// WSRequest is a client message on /api/ws. Endpoint is "chat", "explain" or
// "cancel"; the remaining fields mirror the matching POST body.
type WSRequest struct {
	ID       uint64  `json:"id"`
	Endpoint string  `json:"endpoint"`
	Message  string  `json:"message,omitempty"`
	SpanText string  `json:"spanText,omitempty"`
	Context  *string `json:"context,omitempty"`
}

// WSFrame is a server message on /api/ws. It carries the same three frame
// kinds as the event stream, tagged with the request ID.
// Code is set only on rejections.
type WSFrame struct {
	ID    uint64           `json:"id"`
	Token *string          `json:"token,omitempty"`
	Error *string          `json:"error,omitempty"`
	Code  domain.ErrorCode `json:"code,omitempty"`
	Done  bool             `json:"done,omitempty"`
}

const endpointCancel = "cancel"

const wsWriteTimeout = 5 * time.Second

// wsConn serializes writes to one socket. A connection runs at most one
// stream; a new request supersedes the previous one.
type wsConn struct {
	mu   sync.Mutex
	ws   *websocket.Conn
	slot *lifecycle.Slot

	liveMu sync.Mutex
	liveID uint64
	live   *lifecycle.Handle
}

// begin supersedes the running stream and records id as the live request.
func (c *wsConn) begin(ctx context.Context, id uint64) *lifecycle.Handle {
	c.liveMu.Lock()
	defer c.liveMu.Unlock()
	h := c.slot.Begin(ctx)
	c.liveID, c.live = id, h
	return h
}

// cancel stops the live stream only if it belongs to request id.
func (c *wsConn) cancel(id uint64) bool {
	c.liveMu.Lock()
	defer c.liveMu.Unlock()
	if c.live == nil || c.liveID != id {
		return false
	}
	c.live.Cancel()
	c.live = nil
	return true
}

func (c *wsConn) write(h *lifecycle.Handle, f WSFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h != nil && !h.Live() {
		return domain.ErrStreamClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, f)
}

// wsSink adapts one request's frames to the socket. Frames of a superseded
// request are dropped.
type wsSink struct {
	conn       *wsConn
	h          *lifecycle.Handle
	id         uint64
	terminated bool
}

func (s *wsSink) Token(text string) error {
	return s.send(WSFrame{ID: s.id, Token: &text}, false)
}

func (s *wsSink) Error(msg string) error {
	return s.send(WSFrame{ID: s.id, Error: &msg}, true)
}

func (s *wsSink) Done() error {
	return s.send(WSFrame{ID: s.id, Done: true}, true)
}

func (s *wsSink) send(f WSFrame, terminal bool) error {
	if s.terminated {
		return domain.ErrStreamClosed
	}
	s.terminated = terminal
	return s.conn.write(s.h, f)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	conn := &wsConn{ws: ws, slot: lifecycle.NewSlot("ws")}
	s.logger.Debug("websocket client connected", "remote", r.RemoteAddr)

	ctx := r.Context()
	for {
		var req WSRequest
		if err := wsjson.Read(ctx, ws, &req); err != nil {
			break
		}
		s.dispatchWS(ctx, conn, req)
	}

	conn.slot.Cancel()
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Debug("websocket client disconnected", "remote", r.RemoteAddr)
}

func (s *Server) dispatchWS(ctx context.Context, conn *wsConn, req WSRequest) {
	var prompt domain.PromptRequest
	switch req.Endpoint {
	case endpointCancel:
		if !conn.cancel(req.ID) {
			s.logger.Debug("websocket cancel ignored", "id", req.ID)
		}
		return
	case EndpointChat:
		cr := chatRequest{Message: req.Message}
		if !cr.valid() {
			s.rejectWS(conn, req, errChatRequired)
			return
		}
		prompt = s.chatPrompt(cr)
	case EndpointExplain:
		er := explainRequest{SpanText: req.SpanText, Context: req.Context}
		if !er.valid() {
			s.rejectWS(conn, req, errExplainRequired)
			return
		}
		prompt = s.explainPrompt(er)
	default:
		s.rejectWS(conn, req, errUnknownEndpoint)
		return
	}

	s.obs.Request(req.Endpoint, http.StatusOK)
	h := conn.begin(ctx, req.ID)
	go s.relay(h.Context(), &wsSink{conn: conn, h: h, id: req.ID}, req.Endpoint, prompt)
}

func (s *Server) rejectWS(conn *wsConn, req WSRequest, err *domain.DomainError) {
	body := rejection(err)
	s.logger.Debug("websocket request rejected", "endpoint", req.Endpoint, "reason", body.Error, "code", body.Code)
	s.obs.Request(req.Endpoint, http.StatusBadRequest)
	_ = conn.write(nil, WSFrame{ID: req.ID, Error: &body.Error, Code: body.Code})
}

// acceptOptions maps the CORS allow-list onto websocket origin patterns,
// which match on host only.
func (s *Server) acceptOptions() *websocket.AcceptOptions {
	if len(s.cfg.AllowedOrigins) == 0 || slices.Contains(s.cfg.AllowedOrigins, "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	patterns := make([]string, 0, len(s.cfg.AllowedOrigins))
	for _, o := range s.cfg.AllowedOrigins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}
