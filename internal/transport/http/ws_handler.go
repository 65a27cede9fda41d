package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"quizlive-service/internal/app"
	"quizlive-service/internal/domain"
)

const (
	roleInstructor  = "instructor"
	roleParticipant = "participant"
)

// WSHandler upgrades HTTP requests to websockets and wires the connection
// into a session as either the instructor or a participant. Identity is
// taken from query parameters; authentication happens upstream of this
// service.
type WSHandler struct {
	registry *app.SessionRegistry
	upgrader websocket.Upgrader
}

func NewWSHandler(registry *app.SessionRegistry) *WSHandler {
	return &WSHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionPublicID string `json:"question_public_id"`
	Answer           string `json:"answer"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// wsConn adapts a websocket connection to app.ClientConn: Send enqueues
// without blocking and a writer pump owns all writes to the socket. Send
// and close share a mutex so a broadcast racing the connection teardown
// can never hit a closed channel.
type wsConn struct {
	mu     sync.Mutex
	closed bool
	send   chan domain.Event
}

func newWSConn() *wsConn {
	return &wsConn{send: make(chan domain.Event, 16)}
}

func (c *wsConn) Send(event domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- event:
	default:
		// Drop the oldest update so a slow client never blocks a broadcast.
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- event:
		default:
		}
	}
}

// close stops the writer pump. Safe to call more than once.
func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ServeWS handles /ws?code=...&role=...&userId=...&userPublicId=...&name=...
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	role := r.URL.Query().Get("role")
	userPublicID := r.URL.Query().Get("userPublicId")
	name := r.URL.Query().Get("name")
	userID, _ := strconv.ParseInt(r.URL.Query().Get("userId"), 10, 64)

	if code == "" || userPublicID == "" || (role != roleInstructor && role != roleParticipant) {
		http.Error(w, "missing or invalid code, role, or userPublicId", http.StatusBadRequest)
		return
	}

	session, err := h.registry.Get(code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if role == roleInstructor && !session.IsInstructor(userPublicID) {
		http.Error(w, domain.ErrNotInstructor.Error(), http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	client := newWSConn()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for event := range client.send {
			if err := conn.WriteJSON(event); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	user := domain.User{ID: userID, PublicID: userPublicID, Name: name}
	switch role {
	case roleInstructor:
		session.ConnectInstructor(client)
	case roleParticipant:
		if err := session.AddParticipant(r.Context(), user, lmsFromQuery(r)); err != nil {
			client.Send(domain.Event{Type: domain.EventError, Payload: errorPayload{Message: err.Error()}})
			client.close()
			<-writerDone
			return
		}
		session.ConnectParticipant(userPublicID, client)
	}

	// Initial snapshot so a (re)connecting client does not wait for the
	// next transition.
	client.Send(domain.Event{Type: domain.EventStateUpdate, Payload: h.snapshot(session, role, userPublicID)})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		h.dispatch(r, session, client, role, userPublicID, inbound)
	}

	// Detach from the session first: Disconnect takes the session mutex, so
	// once it returns no broadcast holds this connection anymore.
	switch role {
	case roleInstructor:
		session.DisconnectInstructor()
	case roleParticipant:
		session.DisconnectParticipant(userPublicID)
	}
	client.close()
	<-writerDone
}

func (h *WSHandler) dispatch(r *http.Request, session *app.SessionRuntime, client *wsConn, role, userPublicID string, inbound inboundMessage) {
	fail := func(err error) {
		client.Send(domain.Event{Type: domain.EventError, Payload: errorPayload{Message: err.Error()}})
	}

	switch inbound.Type {
	case domain.CommandAnswerSubmit:
		if role != roleParticipant {
			fail(errors.New("only participants submit answers"))
			return
		}
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			fail(errors.New("invalid answer payload"))
			return
		}
		if err := session.AnswerQuestion(userPublicID, payload.QuestionPublicID, payload.Answer); err != nil {
			fail(err)
		}

	case domain.CommandAdvance:
		if err := h.registry.AdvanceStep(r.Context(), session.Code(), userPublicID); err != nil {
			fail(err)
		}

	case domain.CommandEndSession:
		if err := h.registry.Remove(r.Context(), session.Code(), userPublicID); err != nil {
			fail(err)
		}

	case domain.CommandJoin:
		// Joining happened on connect; answer with a fresh snapshot so a
		// client that re-sends join simply re-syncs.
		client.Send(domain.Event{Type: domain.EventStateUpdate, Payload: h.snapshot(session, role, userPublicID)})

	case domain.CommandLeave:
		if role == roleParticipant {
			session.RemoveParticipant(userPublicID)
			session.DisconnectParticipant(userPublicID)
		}

	default:
		fail(errors.New("unsupported message type"))
	}
}

func (h *WSHandler) snapshot(session *app.SessionRuntime, role, userPublicID string) domain.StateSnapshot {
	if role == roleInstructor {
		return session.InstructorState()
	}
	return session.ParticipantState(userPublicID)
}

// lmsFromQuery picks up the LMS launch metadata forwarded by the gateway,
// when present.
func lmsFromQuery(r *http.Request) domain.LMSMetadata {
	q := r.URL.Query()
	return domain.LMSMetadata{
		Issuer:            q.Get("lmsIss"),
		Platform:          q.Get("lmsPlatform"),
		UserID:            q.Get("lmsUserId"),
		Version:           q.Get("lmsVersion"),
		ClientID:          q.Get("lmsClientId"),
		OutcomeSourceID:   q.Get("lmsOutcomeSourceId"),
		OutcomeServiceURL: q.Get("lmsOutcomeServiceUrl"),
	}
}
