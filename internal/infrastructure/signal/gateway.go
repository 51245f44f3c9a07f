package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	"meshcall/internal/core/services"
	"meshcall/internal/infrastructure/distributed"
	"meshcall/internal/infrastructure/monitoring"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Gateway terminates one WebSocket per connected user and translates UI
// intents into call operations. Each user holds at most one active media
// session at a time; starting a new one closes the previous first.
type Gateway struct {
	calls    ports.CallService
	groups   ports.GroupCallService
	provider ports.MediaProvider
	links    ports.PeerLinkFactory
	bus      ports.SignalBus

	ringTimeout  time.Duration
	pollInterval time.Duration

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	mu      sync.RWMutex
	clients map[domain.UserID]*client

	// presence is optional; when set, connections are mirrored into the
	// cross-node registry.
	presence *distributed.PresenceRegistry

	metrics *monitoring.PrometheusCollector
	logger  *zap.SugaredLogger
}

// SetPresence attaches a cross-node presence registry. Must be called
// before the gateway starts accepting connections.
func (g *Gateway) SetPresence(p *distributed.PresenceRegistry) {
	g.presence = p
}

// ClientMessage is the envelope for every intent a user sends.
type ClientMessage struct {
	Type        string             `json:"type"`
	CallID      domain.CallID      `json:"call_id,omitempty"`
	GroupCallID domain.GroupCallID `json:"group_call_id,omitempty"`
	CalleeID    domain.UserID      `json:"callee_id,omitempty"`
	CallType    domain.CallType    `json:"call_type,omitempty"`
	InviteeIDs  []domain.UserID    `json:"invitee_ids,omitempty"`
	Title       string             `json:"title,omitempty"`
}

func NewGateway(
	calls ports.CallService,
	groups ports.GroupCallService,
	provider ports.MediaProvider,
	links ports.PeerLinkFactory,
	bus ports.SignalBus,
	ringTimeout time.Duration,
	pollInterval time.Duration,
	metrics *monitoring.PrometheusCollector,
	logger *zap.SugaredLogger,
) *Gateway {
	return &Gateway{
		calls:        calls,
		groups:       groups,
		provider:     provider,
		links:        links,
		bus:          bus,
		ringTimeout:  ringTimeout,
		pollInterval: pollInterval,
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		clients:      make(map[domain.UserID]*client),
		metrics:      metrics,
		logger:       logger,
	}
}

// client is one connected user: the socket, the per-connection watcher
// context and the single active media session, if any.
type client struct {
	userID domain.UserID
	conn   *websocket.Conn
	// ctx lives for the whole connection; sessions and watchers started on
	// behalf of the user are bound to it.
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu          sync.Mutex
	callSession *services.CallSession
	mesh        *services.MeshCoordinator
}

func (c *client) send(data interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(data)
}

// setCallSession installs a new 1:1 session, closing whatever media session
// was active before.
func (c *client) setCallSession(s *services.CallSession) {
	c.mu.Lock()
	prevCall, prevMesh := c.callSession, c.mesh
	c.callSession, c.mesh = s, nil
	c.mu.Unlock()
	closeSessions(prevCall, prevMesh)
}

func (c *client) setMesh(m *services.MeshCoordinator) {
	c.mu.Lock()
	prevCall, prevMesh := c.callSession, c.mesh
	c.callSession, c.mesh = nil, m
	c.mu.Unlock()
	closeSessions(prevCall, prevMesh)
}

func (c *client) clearSessions() {
	c.mu.Lock()
	prevCall, prevMesh := c.callSession, c.mesh
	c.callSession, c.mesh = nil, nil
	c.mu.Unlock()
	closeSessions(prevCall, prevMesh)
}

func closeSessions(call *services.CallSession, mesh *services.MeshCoordinator) {
	if call != nil {
		call.Close()
	}
	if mesh != nil {
		mesh.Close()
	}
}

func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := domain.UserID(r.URL.Query().Get("user_id"))
	if userID == "" {
		http.Error(w, "missing user_id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cl := &client{userID: userID, conn: conn, ctx: ctx, cancel: cancel}

	g.mu.Lock()
	existing, isReconnect := g.clients[userID]
	g.clients[userID] = cl
	g.mu.Unlock()

	if isReconnect && existing != nil {
		existing.cancel()
		existing.conn.Close()
		g.logger.Infow("closing old connection for reconnecting user", "user_id", userID)
	}

	g.metrics.RecordUserConnected()
	g.logger.Infow("user connected", "user_id", userID, "reconnect", isReconnect)

	if g.presence != nil {
		if err := g.presence.Register(ctx, userID); err != nil {
			g.logger.Warnw("failed to register presence", "user_id", userID, "error", err)
		}
	}

	// Push incoming 1:1 calls and group invites for as long as the
	// connection lives.
	go g.calls.WatchIncoming(ctx, userID, func(call *domain.Call) {
		cl.send(map[string]interface{}{
			"type":      "incoming_call",
			"call_id":   call.ID,
			"caller_id": call.CallerID,
			"call_type": call.CallType,
		})
	})
	if err := g.bus.WatchInvites(ctx, userID, func(invite domain.GroupInvite) {
		cl.send(map[string]interface{}{
			"type":          "group_invite",
			"group_call_id": invite.GroupCallID,
			"initiator_id":  invite.InitiatorID,
			"call_type":     invite.CallType,
			"title":         invite.Title,
		})
	}); err != nil {
		g.logger.Warnw("failed to watch group invites", "user_id", userID, "error", err)
	}

	// A reconnecting caller may have calls still ringing from the previous
	// connection; their outcome watchers died with it, so re-arm them here.
	if ringing, err := g.calls.RingingCalls(ctx, userID); err != nil {
		g.logger.Warnw("failed to load ringing calls", "user_id", userID, "error", err)
	} else {
		for _, call := range ringing {
			go g.watchOutcome(ctx, cl, call)
		}
	}

	conn.SetReadDeadline(time.Now().Add(g.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(g.readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(g.pingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan ClientMessage, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg ClientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(g.readTimeout))
			messageChan <- msg
		}
	}()

loop:
	for {
		select {
		case msg := <-messageChan:
			if err := g.handleMessage(ctx, cl, msg); err != nil {
				g.logger.Infow("error handling message",
					"user_id", userID,
					"type", msg.Type,
					"error", err,
				)
				g.sendError(cl, msg.Type, err)
			}

		case <-pingTicker.C:
			cl.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(g.writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			cl.writeMu.Unlock()
			if err != nil {
				g.logger.Infow("error sending ping", "user_id", userID, "error", err)
				break loop
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				g.logger.Infow("error reading message", "user_id", userID, "error", err)
			}
			break loop
		}
	}

	cancel()
	g.leaveActiveMesh(cl)
	cl.clearSessions()

	g.mu.Lock()
	if g.clients[userID] == cl {
		delete(g.clients, userID)
	}
	g.mu.Unlock()

	if g.presence != nil {
		// Only clear presence if no newer connection took over the slot.
		g.mu.RLock()
		_, replaced := g.clients[userID]
		g.mu.RUnlock()
		if !replaced {
			deregCtx, deregCancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := g.presence.Deregister(deregCtx, userID); err != nil {
				g.logger.Warnw("failed to deregister presence", "user_id", userID, "error", err)
			}
			deregCancel()
		}
	}

	g.metrics.RecordUserDisconnected()
	g.logger.Infow("user disconnected", "user_id", userID)
}

// leaveActiveMesh stamps the participant's departure when a socket dies
// with a group membership still active. Without it the row keeps
// left_at = null forever and the group call can never auto-end.
func (g *Gateway) leaveActiveMesh(cl *client) {
	cl.mu.Lock()
	mesh := cl.mesh
	cl.mu.Unlock()
	if mesh == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.groups.LeaveGroupCall(ctx, mesh.GroupID(), cl.userID); err != nil {
		g.logger.Warnw("failed to leave group call on disconnect",
			"group_call_id", mesh.GroupID(),
			"user_id", cl.userID,
			"error", err,
		)
	}
}

func (g *Gateway) handleMessage(ctx context.Context, cl *client, msg ClientMessage) error {
	switch msg.Type {
	case "start_call":
		return g.handleStartCall(ctx, cl, msg)
	case "answer_call":
		return g.handleAnswerCall(ctx, cl, msg)
	case "reject_call":
		return g.handleRejectCall(ctx, cl, msg)
	case "end_call":
		return g.handleEndCall(ctx, cl, msg)
	case "create_group_call":
		return g.handleCreateGroupCall(ctx, cl, msg)
	case "join_group_call":
		return g.handleJoinGroupCall(ctx, cl, msg)
	case "leave_group_call":
		return g.handleLeaveGroupCall(ctx, cl, msg)
	case "end_group_call":
		return g.handleEndGroupCall(ctx, cl, msg)
	case "toggle_mute":
		return g.handleToggleMute(cl)
	case "toggle_video":
		return g.handleToggleVideo(cl)
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (g *Gateway) handleStartCall(ctx context.Context, cl *client, msg ClientMessage) error {
	if msg.CalleeID == "" {
		return fmt.Errorf("callee_id is required")
	}
	if msg.CallType != domain.CallTypeVoice && msg.CallType != domain.CallTypeVideo {
		return fmt.Errorf("call_type must be %q or %q", domain.CallTypeVoice, domain.CallTypeVideo)
	}

	call, err := g.calls.StartCall(ctx, cl.userID, msg.CalleeID, msg.CallType)
	if err != nil {
		return err
	}
	g.metrics.RecordCallStarted(call.CallType)

	// Unanswered calls become missed after the ring timeout. The transition
	// guard makes this a no-op when the callee already acted.
	callID := call.ID
	time.AfterFunc(g.ringTimeout, func() {
		err := g.calls.MissCall(context.Background(), callID)
		switch {
		case err == nil:
			g.metrics.RecordCallOutcome(domain.CallStatusMissed, 0)
		case !errors.Is(err, domain.ErrInvalidTransition):
			g.logger.Warnw("failed to mark call missed", "call_id", callID, "error", err)
		}
	})

	go g.watchOutcome(cl.ctx, cl, call)

	return cl.send(map[string]interface{}{
		"type":    "call_ringing",
		"call_id": call.ID,
	})
}

// watchOutcome polls the call record until it leaves the ringing state,
// then tells the caller what happened. On acceptance the caller's media
// session is dialed; negotiation never starts while the call still rings.
func (g *Gateway) watchOutcome(ctx context.Context, cl *client, call *domain.Call) {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := g.calls.GetCall(ctx, call.ID)
			if err != nil {
				g.logger.Warnw("failed to poll call outcome", "call_id", call.ID, "error", err)
				continue
			}
			switch current.Status {
			case domain.CallStatusCalling:
				continue
			case domain.CallStatusAccepted:
				g.dialAccepted(ctx, cl, current)
			case domain.CallStatusRejected:
				cl.send(map[string]interface{}{"type": "call_rejected", "call_id": call.ID})
			case domain.CallStatusMissed:
				cl.send(map[string]interface{}{"type": "call_missed", "call_id": call.ID})
			case domain.CallStatusEnded:
				cl.send(map[string]interface{}{"type": "call_ended", "call_id": call.ID})
			}
			return
		}
	}
}

func (g *Gateway) dialAccepted(ctx context.Context, cl *client, call *domain.Call) {
	session, err := services.DialCallSession(ctx, call, cl.userID, g.provider, g.links,
		func() { g.onLinkClosed(cl, call.ID) }, g.logger)
	if err != nil {
		g.logger.Errorw("failed to dial call session", "call_id", call.ID, "error", err)
		g.sendError(cl, "start_call", err)
		return
	}
	cl.setCallSession(session)
	cl.send(map[string]interface{}{
		"type":    "call_accepted",
		"call_id": call.ID,
	})
}

func (g *Gateway) handleAnswerCall(ctx context.Context, cl *client, msg ClientMessage) error {
	if msg.CallID == "" {
		return fmt.Errorf("call_id is required")
	}

	call, err := g.calls.AnswerCall(ctx, msg.CallID)
	if err != nil {
		return err
	}
	g.metrics.RecordCallAccepted()

	session, err := services.DialCallSession(ctx, call, cl.userID, g.provider, g.links,
		func() { g.onLinkClosed(cl, call.ID) }, g.logger)
	if err != nil {
		// Media failure after acceptance is fatal for the call, not just
		// for this end.
		if endErr := g.calls.EndCall(ctx, call.ID, 0); endErr != nil {
			g.logger.Warnw("failed to end call after dial failure", "call_id", call.ID, "error", endErr)
		}
		return err
	}
	cl.setCallSession(session)

	return cl.send(map[string]interface{}{
		"type":    "call_accepted",
		"call_id": call.ID,
	})
}

func (g *Gateway) handleRejectCall(ctx context.Context, cl *client, msg ClientMessage) error {
	if msg.CallID == "" {
		return fmt.Errorf("call_id is required")
	}
	if err := g.calls.RejectCall(ctx, msg.CallID); err != nil {
		return err
	}
	g.metrics.RecordCallOutcome(domain.CallStatusRejected, 0)
	return cl.send(map[string]interface{}{
		"type":    "call_rejected",
		"call_id": msg.CallID,
	})
}

func (g *Gateway) handleEndCall(ctx context.Context, cl *client, msg ClientMessage) error {
	if msg.CallID == "" {
		return fmt.Errorf("call_id is required")
	}

	call, err := g.calls.GetCall(ctx, msg.CallID)
	if err != nil {
		return err
	}

	duration := 0
	if call.StartedAt != nil {
		duration = int(time.Since(*call.StartedAt).Seconds())
	}

	cl.clearSessions()

	if err := g.calls.EndCall(ctx, msg.CallID, duration); err != nil {
		return err
	}
	g.metrics.RecordCallOutcome(domain.CallStatusEnded, time.Duration(duration)*time.Second)
	return cl.send(map[string]interface{}{
		"type":     "call_ended",
		"call_id":  msg.CallID,
		"duration": duration,
	})
}

// onLinkClosed fires when the remote end hangs up or the link fails. The
// local half is released; the terminal transition is owned by whichever
// side initiated the hangup.
func (g *Gateway) onLinkClosed(cl *client, callID domain.CallID) {
	cl.mu.Lock()
	session := cl.callSession
	if session != nil && session.CallID() == callID {
		cl.callSession = nil
	} else {
		session = nil
	}
	cl.mu.Unlock()

	if session == nil {
		return
	}
	session.Close()
	cl.send(map[string]interface{}{
		"type":    "call_ended",
		"call_id": callID,
	})
}

func (g *Gateway) handleCreateGroupCall(ctx context.Context, cl *client, msg ClientMessage) error {
	if len(msg.InviteeIDs) == 0 {
		return fmt.Errorf("invitee_ids is required")
	}
	if msg.CallType != domain.CallTypeVoice && msg.CallType != domain.CallTypeVideo {
		return fmt.Errorf("call_type must be %q or %q", domain.CallTypeVoice, domain.CallTypeVideo)
	}

	group, err := g.groups.CreateGroupCall(ctx, cl.userID, msg.InviteeIDs, msg.CallType, msg.Title)
	if err != nil {
		return err
	}
	g.metrics.RecordGroupCallCreated()

	// The creator starts with no links; they open as invitees join and
	// their roster events arrive.
	mesh, err := services.JoinMesh(cl.ctx, group.ID, cl.userID, group.CallType,
		nil, g.provider, g.links, g.bus, g.logger)
	if err != nil {
		return err
	}
	cl.setMesh(mesh)

	return cl.send(map[string]interface{}{
		"type":          "group_call_created",
		"group_call_id": group.ID,
	})
}

func (g *Gateway) handleJoinGroupCall(ctx context.Context, cl *client, msg ClientMessage) error {
	if msg.GroupCallID == "" {
		return fmt.Errorf("group_call_id is required")
	}

	group, err := g.groups.GetGroupCall(ctx, msg.GroupCallID)
	if err != nil {
		return err
	}

	others, err := g.groups.JoinGroupCall(ctx, msg.GroupCallID, cl.userID)
	if err != nil {
		return err
	}

	// The mesh re-reads the roster after its watch is live, so participants
	// joining between the persist above and the subscription are not lost.
	mesh, err := services.JoinMesh(cl.ctx, msg.GroupCallID, cl.userID, group.CallType,
		func(c context.Context) ([]*domain.GroupCallParticipant, error) {
			return g.groups.ActiveParticipants(c, msg.GroupCallID)
		}, g.provider, g.links, g.bus, g.logger)
	if err != nil {
		// The membership row exists but no media could be brought up;
		// leave again so the roster stays truthful.
		if leaveErr := g.groups.LeaveGroupCall(ctx, msg.GroupCallID, cl.userID); leaveErr != nil {
			g.logger.Warnw("failed to leave group after join failure",
				"group_call_id", msg.GroupCallID, "error", leaveErr)
		}
		return err
	}
	cl.setMesh(mesh)
	g.metrics.SetGroupParticipants(msg.GroupCallID, len(others)+1)

	return cl.send(map[string]interface{}{
		"type":          "group_call_joined",
		"group_call_id": msg.GroupCallID,
		"participants":  len(others),
	})
}

func (g *Gateway) handleLeaveGroupCall(ctx context.Context, cl *client, msg ClientMessage) error {
	if msg.GroupCallID == "" {
		return fmt.Errorf("group_call_id is required")
	}

	cl.clearSessions()

	if err := g.groups.LeaveGroupCall(ctx, msg.GroupCallID, cl.userID); err != nil {
		return err
	}
	return cl.send(map[string]interface{}{
		"type":          "group_call_left",
		"group_call_id": msg.GroupCallID,
	})
}

func (g *Gateway) handleEndGroupCall(ctx context.Context, cl *client, msg ClientMessage) error {
	if msg.GroupCallID == "" {
		return fmt.Errorf("group_call_id is required")
	}

	cl.clearSessions()

	if err := g.groups.EndGroupCall(ctx, msg.GroupCallID, cl.userID); err != nil {
		return err
	}
	g.metrics.RecordGroupCallEnded(msg.GroupCallID)
	return cl.send(map[string]interface{}{
		"type":          "group_call_ended",
		"group_call_id": msg.GroupCallID,
	})
}

func (g *Gateway) handleToggleMute(cl *client) error {
	cl.mu.Lock()
	session, mesh := cl.callSession, cl.mesh
	cl.mu.Unlock()

	var muted bool
	switch {
	case session != nil:
		muted = session.ToggleMute()
	case mesh != nil:
		muted = mesh.ToggleMute()
	default:
		return fmt.Errorf("no active session")
	}
	return cl.send(map[string]interface{}{"type": "mute_toggled", "muted": muted})
}

func (g *Gateway) handleToggleVideo(cl *client) error {
	cl.mu.Lock()
	session, mesh := cl.callSession, cl.mesh
	cl.mu.Unlock()

	var enabled bool
	switch {
	case session != nil:
		enabled = session.ToggleVideo()
	case mesh != nil:
		enabled = mesh.ToggleVideo()
	default:
		return fmt.Errorf("no active session")
	}
	return cl.send(map[string]interface{}{"type": "video_toggled", "enabled": enabled})
}

func (g *Gateway) sendError(cl *client, intent string, err error) {
	cl.send(map[string]interface{}{
		"type":    "error",
		"intent":  intent,
		"message": err.Error(),
	})
}

// ConnectedUsers reports who currently holds a live socket.
func (g *Gateway) ConnectedUsers() []domain.UserID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	users := make([]domain.UserID, 0, len(g.clients))
	for id := range g.clients {
		users = append(users, id)
	}
	return users
}

func (g *Gateway) IsConnected(user domain.UserID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.clients[user]
	return ok
}

func (g *Gateway) HealthCheck(w http.ResponseWriter, r *http.Request) {
	g.mu.RLock()
	connections := len(g.clients)
	g.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": connections,
	})
}
