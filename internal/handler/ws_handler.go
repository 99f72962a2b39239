package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"aquasync-server/internal/domain"
	"aquasync-server/internal/service"
	"aquasync-server/internal/websocket"
	"aquasync-server/pkg/jwt"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	manager   *websocket.Manager
	jwtSecret string
	upgrader  ws.Upgrader
}

func NewWebSocketHandler(manager *websocket.Manager, jwtSecret string) *WebSocketHandler {
	return &WebSocketHandler{
		manager:   manager,
		jwtSecret: jwtSecret,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
	}

	if token == "" {
		http.Error(w, "missing authorization token", http.StatusUnauthorized)
		return
	}

	claims, err := jwt.ValidateToken(token, h.jwtSecret)
	if err != nil {
		log.Printf("[WebSocket] Token validation failed: %v", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		deviceID = "default"
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Failed to upgrade connection: %v", err)
		return
	}

	log.Printf("[WebSocket] Connection established for user %s device %s", claims.UserID, deviceID)

	clientID := uuid.New().String()
	client := websocket.NewClient(clientID, claims.UserID, claims.LabID, deviceID, conn, h.manager)

	h.manager.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

// WebSocketMessageHandler answers pull requests arriving over an open
// connection so idle clients can catch up without polling HTTP.
type WebSocketMessageHandler struct {
	syncService *service.SyncService
}

func NewWebSocketMessageHandler(syncService *service.SyncService) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{
		syncService: syncService,
	}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypePullRequest:
		return h.handlePullRequest(client, msg)

	case websocket.TypePing:
		return h.handlePing(client)

	default:
		log.Printf("unknown message type: %s", msg.Type)
	}

	return nil
}

func (h *WebSocketMessageHandler) handlePullRequest(client *websocket.Client, msg *websocket.Message) error {
	var payload websocket.PullRequestPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return err
	}

	deviceID := payload.DeviceID
	if deviceID == "" {
		deviceID = client.DeviceID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pullResp, err := h.syncService.Pull(ctx, client.UserID, client.LabID, &domain.PullRequest{
		DeviceID:          deviceID,
		LastSyncTimestamp: payload.LastSyncTimestamp,
	})
	if err != nil {
		return err
	}

	responseMsg, err := websocket.NewMessage(websocket.TypePullResponse, &websocket.PullResponsePayload{
		Entities:        pullResp.Entities,
		ServerTimestamp: pullResp.ServerTimestamp,
	})
	if err != nil {
		return err
	}

	responseBytes, _ := json.Marshal(responseMsg)
	client.Send <- responseBytes

	return nil
}

func (h *WebSocketMessageHandler) handlePing(client *websocket.Client) error {
	pongMsg, err := websocket.NewMessage(websocket.TypePong, nil)
	if err != nil {
		return err
	}

	pongBytes, _ := json.Marshal(pongMsg)
	client.Send <- pongBytes

	return nil
}
