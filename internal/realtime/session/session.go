package session

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"codebattle/internal/auth"
	"codebattle/internal/battle/service"
	"codebattle/internal/realtime"
	pkgerrors "codebattle/pkg/errors"
	"codebattle/pkg/utils/contextkey"
	"codebattle/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Close codes sent when the handshake is refused.
const (
	CloseUnauthenticated = 4001
	CloseNotParticipant  = 4003
	CloseBattleNotFound  = 4004
)

// Client frame types accepted on the read side.
const (
	frameSubmit     = "submit"
	frameRequestEnd = "request_end"
	framePing       = "ping"
)

// Config tunes the session pumps. Zero values take defaults.
type Config struct {
	PingInterval  time.Duration
	WriteTimeout  time.Duration
	ReadLimit     int64
	SendBuffer    int
	SubmitRetries int
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 256 << 10
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	if c.SubmitRetries <= 0 {
		c.SubmitRetries = 2
	}
	return c
}

// Handler upgrades battle WebSocket connections and runs one session
// per connection. Judge work goes to the shared worker pool so a slow
// sandbox never stalls another session's reader.
type Handler struct {
	coordinator *service.Coordinator
	scorer      *service.Scorer
	broadcaster realtime.Broadcaster
	verifier    *auth.Verifier
	pool        *ants.Pool
	cfg         Config
	upgrader    websocket.Upgrader
}

func NewHandler(coordinator *service.Coordinator, scorer *service.Scorer, broadcaster realtime.Broadcaster, verifier *auth.Verifier, pool *ants.Pool, cfg Config) *Handler {
	return &Handler{
		coordinator: coordinator,
		scorer:      scorer,
		broadcaster: broadcaster,
		verifier:    verifier,
		pool:        pool,
		cfg:         cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

type clientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type submitPayload struct {
	ProblemID string `json:"problem_id"`
	Language  string `json:"language"`
	Code      string `json:"code"`
}

// Serve handles GET /ws/battles/:id?token=... . The connection is
// upgraded first so refusals can carry an application close code.
func (h *Handler) Serve(c *gin.Context) {
	battleID := c.Param("id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	identity, err := h.verifier.Verify(c.Query("token"))
	if err != nil {
		closeWith(conn, CloseUnauthenticated, "unauthenticated")
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	ctx = context.WithValue(ctx, contextkey.UserID, identity.UserID)

	res, err := h.coordinator.Connect(ctx, battleID, identity.UserID, identity.Username)
	if err != nil {
		switch pkgerrors.GetCode(err) {
		case pkgerrors.BattleNotFound:
			closeWith(conn, CloseBattleNotFound, "battle not found")
		case pkgerrors.NotParticipant:
			closeWith(conn, CloseNotParticipant, "not a participant")
		default:
			logger.Error(ctx, "session connect failed",
				zap.String("battle_id", battleID), zap.Error(err))
			closeWith(conn, websocket.CloseInternalServerErr, "connect failed")
		}
		return
	}
	defer h.coordinator.Disconnect(context.WithoutCancel(ctx), battleID, identity.UserID)

	sub, err := h.broadcaster.Subscribe(ctx, realtime.BattleChannel(battleID))
	if err != nil {
		logger.Error(ctx, "room subscribe failed",
			zap.String("battle_id", battleID), zap.Error(err))
		closeWith(conn, websocket.CloseInternalServerErr, "subscribe failed")
		return
	}
	defer sub.Close()

	sess := &session{
		conn:   conn,
		send:   make(chan *realtime.Event, h.cfg.SendBuffer),
		cancel: cancel,
	}

	snapshot, err := realtime.NewEvent(realtime.EventBattleState, res.Snapshot)
	if err == nil {
		sess.enqueue(snapshot)
	}

	// The activating session owns the countdown; its lifetime is the
	// session's. The stored deadline survives either way.
	if res.Activated {
		go h.coordinator.RunCountdown(ctx, battleID)
	}

	go sess.forward(ctx, sub)
	go sess.writePump(ctx, h.cfg)
	h.readPump(ctx, sess, battleID, identity.UserID)
}

func (h *Handler) readPump(ctx context.Context, sess *session, battleID, userID string) {
	cfg := h.cfg
	pongWait := cfg.PingInterval * 2
	sess.conn.SetReadLimit(cfg.ReadLimit)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	defer sess.cancel()
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case framePing:
			if pong, err := realtime.NewEvent(realtime.EventPong, nil); err == nil {
				sess.enqueue(pong)
			}
		case frameRequestEnd:
			if err := h.coordinator.EndBattle(ctx, battleID, service.EndReasonRequested); err != nil {
				logger.Warn(ctx, "requested end failed",
					zap.String("battle_id", battleID), zap.Error(err))
			}
		case frameSubmit:
			var payload submitPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				continue
			}
			if err := h.pool.Submit(func() {
				h.judgeSubmission(ctx, sess, battleID, userID, payload)
			}); err != nil {
				sess.enqueueResult(&realtime.SubmissionResultPayload{
					ProblemID: payload.ProblemID,
					Error:     "judge queue is full, try again",
				})
			}
		default:
			// Unknown frames are ignored.
		}
	}
}

// judgeSubmission runs one submission through the scorer and delivers
// the result to this session only. Sandbox outages get bounded retries
// before surfacing as an error frame.
func (h *Handler) judgeSubmission(ctx context.Context, sess *session, battleID, userID string, payload submitPayload) {
	var result *realtime.SubmissionResultPayload
	var err error
	for attempt := 0; attempt <= h.cfg.SubmitRetries; attempt++ {
		result, err = h.scorer.ScoreSubmission(ctx, battleID, userID, payload.ProblemID, payload.Language, payload.Code)
		if err == nil || !retriable(err) {
			break
		}
	}
	if err != nil {
		logger.Warn(ctx, "submission failed",
			zap.String("battle_id", battleID),
			zap.String("problem_id", payload.ProblemID),
			zap.Error(err))
		sess.enqueueResult(&realtime.SubmissionResultPayload{
			ProblemID: payload.ProblemID,
			Error:     err.Error(),
		})
		return
	}
	sess.enqueueResult(result)
}

func retriable(err error) bool {
	switch pkgerrors.GetCode(err) {
	case pkgerrors.ServiceUnavailable, pkgerrors.SandboxUnavailable:
		return true
	}
	return false
}

// session is one live connection with its outbound queue.
type session struct {
	conn   *websocket.Conn
	send   chan *realtime.Event
	cancel context.CancelFunc
}

// enqueue queues an event without blocking. A full queue means the
// client cannot keep up; the session is torn down and the client
// resyncs from a fresh snapshot on reconnect.
func (s *session) enqueue(event *realtime.Event) {
	select {
	case s.send <- event:
	default:
		s.cancel()
	}
}

func (s *session) enqueueResult(payload *realtime.SubmissionResultPayload) {
	if event, err := realtime.NewEvent(realtime.EventSubmissionResult, payload); err == nil {
		s.enqueue(event)
	}
}

// forward pipes room broadcasts into the outbound queue.
func (s *session) forward(ctx context.Context, sub realtime.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				s.cancel()
				return
			}
			s.enqueue(event)
		}
	}
}

func (s *session) writePump(ctx context.Context, cfg Config) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()
	defer s.conn.Close()

	for {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(cfg.WriteTimeout))
			return
		case event := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := s.conn.WriteJSON(event); err != nil {
				s.cancel()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout)); err != nil {
				s.cancel()
				return
			}
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(5*time.Second))
	_ = conn.Close()
}
