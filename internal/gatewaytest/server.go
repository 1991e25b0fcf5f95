package gatewaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"support-console/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is an in-process chat gateway implementing the console's REST and
// websocket boundary, for integration tests.
type Server struct {
	mu         sync.Mutex
	operatorID string
	sessions   map[string]models.Session
	order      []string
	messages   map[string][]models.Message
	timeouts   map[string]models.TimeoutStatus
	nextID     int64
	markReads  map[string]int
	endCalls   []string
	cleanups   int
	outbound   []models.SendFrame

	hub *Hub
	srv *httptest.Server
}

// New starts the fake gateway on an ephemeral port.
func New() *Server {
	s := &Server{
		sessions:  make(map[string]models.Session),
		messages:  make(map[string][]models.Message),
		timeouts:  make(map[string]models.TimeoutStatus),
		markReads: make(map[string]int),
		nextID:    1,
		hub:       NewHub(),
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/sessions", s.listSessions)
	router.GET("/chats/:chat_id/messages", s.chatMessages)
	router.POST("/chats/:chat_id/read", s.markRead)
	router.GET("/chats/:chat_id/timeout", s.timeoutStatus)
	router.POST("/chats/:chat_id/end", s.endChat)
	router.POST("/sessions/cleanup", s.cleanup)
	router.GET("/ws/chat", s.serveWS("chat"))
	router.GET("/ws/notify", s.serveWS("notify"))

	s.srv = httptest.NewServer(router)
	return s
}

// Close severs every socket and stops the HTTP server.
func (s *Server) Close() {
	s.hub.CloseNormal("chat")
	s.hub.CloseNormal("notify")
	s.srv.Close()
}

func (s *Server) URL() string { return s.srv.URL }

func (s *Server) ChatWSURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws/chat"
}

func (s *Server) NotifyWSURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws/notify"
}

// Hub exposes the connection hub so tests can drop or close sockets.
func (s *Server) Hub() *Hub { return s.hub }

// SetOperatorID sets the identity attributed to messages received over the
// chat socket.
func (s *Server) SetOperatorID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operatorID = id
}

// AddSession registers a session on the fake backend.
func (s *Server) AddSession(session models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, known := s.sessions[session.ChatID]; !known {
		s.order = append(s.order, session.ChatID)
	}
	s.sessions[session.ChatID] = session
}

// AppendMessage stores an authoritative message with a server-assigned id.
func (s *Server) AppendMessage(msg models.Message) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = s.nextID
	s.nextID++
	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], msg)
	return msg
}

// SetTimeoutStatus fixes the advisory idle state returned for a session.
func (s *Server) SetTimeoutStatus(chatID string, status models.TimeoutStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeouts[chatID] = status
}

// PushChat broadcasts a frame on the chat socket.
func (s *Server) PushChat(f models.Frame) {
	payload, _ := json.Marshal(f)
	s.hub.Broadcast("chat", payload)
}

// PushNotify broadcasts a frame on the notification socket.
func (s *Server) PushNotify(f models.Frame) {
	payload, _ := json.Marshal(f)
	s.hub.Broadcast("notify", payload)
}

// PushChatRaw broadcasts arbitrary bytes on the chat socket.
func (s *Server) PushChatRaw(payload []byte) {
	s.hub.Broadcast("chat", payload)
}

// MarkReadCount reports how often a session was marked read.
func (s *Server) MarkReadCount(chatID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markReads[chatID]
}

// EndCalls lists the sessions the console asked to force-end.
func (s *Server) EndCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.endCalls...)
}

// CleanupCount reports bulk-cleanup requests.
func (s *Server) CleanupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanups
}

// Outbound lists send frames received over the chat socket.
func (s *Server) Outbound() []models.SendFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SendFrame(nil), s.outbound...)
}

func (s *Server) listSessions(c *gin.Context) {
	s.mu.Lock()
	sessions := make([]models.Session, 0, len(s.order))
	for _, id := range s.order {
		sessions = append(sessions, s.sessions[id])
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) chatMessages(c *gin.Context) {
	chatID := c.Param("chat_id")
	s.mu.Lock()
	msgs := append([]models.Message(nil), s.messages[chatID]...)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) markRead(c *gin.Context) {
	chatID := c.Param("chat_id")
	s.mu.Lock()
	s.markReads[chatID]++
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (s *Server) timeoutStatus(c *gin.Context) {
	chatID := c.Param("chat_id")
	s.mu.Lock()
	status, ok := s.timeouts[chatID]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusOK, models.TimeoutStatus{})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) endChat(c *gin.Context) {
	chatID := c.Param("chat_id")
	now := time.Now()
	s.mu.Lock()
	s.endCalls = append(s.endCalls, chatID)
	if session, ok := s.sessions[chatID]; ok {
		session.IsEnded = true
		session.EndedAt = &now
		s.sessions[chatID] = session
	}
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (s *Server) cleanup(c *gin.Context) {
	s.mu.Lock()
	s.cleanups++
	for id, session := range s.sessions {
		if session.IsEnded {
			delete(s.sessions, id)
			delete(s.messages, id)
			delete(s.timeouts, id)
		}
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if _, ok := s.sessions[id]; ok {
			kept = append(kept, id)
		}
	}
	s.order = kept
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (s *Server) serveWS(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		s.hub.Add(kind, conn)

		go func() {
			defer func() {
				s.hub.Remove(kind, conn)
				conn.Close()
			}()
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var frame models.SendFrame
				if err := json.Unmarshal(raw, &frame); err != nil {
					continue
				}
				s.mu.Lock()
				s.outbound = append(s.outbound, frame)
				if frame.ChatID != "" {
					s.messages[frame.ChatID] = append(s.messages[frame.ChatID], models.Message{
						ID:          s.nextID,
						ChatID:      frame.ChatID,
						SenderID:    s.operatorID,
						ReceiverID:  frame.ReceiverID,
						Content:     frame.Content,
						CreatedAt:   time.Now(),
						SenderType:  models.SenderCustomerService,
						MessageType: models.MessageText,
					})
					s.nextID++
				}
				s.mu.Unlock()
			}
		}()
	}
}
