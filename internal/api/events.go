package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/logger"
)

const (
	authTimeout  = 10 * time.Second
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
)

type authMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(s.config.AllowedOrigins) > 0 {
				return slices.Contains(s.config.AllowedOrigins, origin)
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		},
	}
}

// streamEvents replaces status polling. Browsers cannot set headers on a
// websocket handshake, so the first message must carry the token.
func (s *Server) streamEvents(c *gin.Context) {
	conn, err := s.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("upgrade websocket failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := s.logger.With(zap.String("client_ip", c.ClientIP()))

	cid, err := s.authenticateSocket(conn)
	if err != nil {
		log.Warn("websocket authentication failed", zap.Error(err))
		writeClose(conn, websocket.ClosePolicyViolation, "unauthorized")
		return
	}
	log = log.With(zap.String(logger.FieldCandidate, cid))
	log.Info("websocket authenticated")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Reads only detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	events, unsubscribe := s.deps.Events.Subscribe(cid, 0)
	defer unsubscribe()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("websocket connection closed")
			return
		case ev, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Warn("encode event", zap.String("type", ev.Type), zap.Error(err))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Info("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				log.Info("websocket ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) authenticateSocket(conn *websocket.Conn) (string, error) {
	if s.tokens == nil {
		return "", errors.New("session tokens are not configured")
	}
	_ = conn.SetReadDeadline(time.Now().Add(authTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, message, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("read auth message: %w", err)
	}
	var msg authMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return "", fmt.Errorf("decode auth message: %w", err)
	}
	if msg.Type != "auth" || msg.Token == "" {
		return "", errors.New("auth message required")
	}
	return s.tokens.Verify(msg.Token)
}

func writeClose(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeTimeout))
}
