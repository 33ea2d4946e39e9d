package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/aiserve/modelrouter/internal/loader"
	"github.com/aiserve/modelrouter/internal/middleware"
	"github.com/aiserve/modelrouter/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler serves the streaming generate surface: one connection
// per caller, each inbound message a generate request, each chunk of the
// model's response written back as it arrives.
type WebSocketHandler struct {
	executor *pipeline.Executor
}

func NewWebSocketHandler(executor *pipeline.Executor) *WebSocketHandler {
	return &WebSocketHandler{executor: executor}
}

type streamRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop"`
	Strategy    string   `json:"strategy"`
}

type streamChunk struct {
	Text   string `json:"text"`
	Done   bool   `json:"done"`
	Error  string `json:"error,omitempty"`
	Model  string `json:"model,omitempty"`
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.handleGenerate(r.Context(), conn, message, middleware.GetAPIKeyID(r.Context()))
	}
}

func (h *WebSocketHandler) handleGenerate(ctx context.Context, conn *websocket.Conn, message []byte, apiKey string) {
	var req streamRequest
	if err := json.Unmarshal(message, &req); err != nil {
		h.send(conn, streamChunk{Error: "invalid JSON", Done: true})
		return
	}

	pc := &pipeline.Context{
		Request: loader.Request{
			Prompt:      req.Prompt,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			Stop:        req.Stop,
			Stream:      true,
		},
		Strategy:      req.Strategy,
		ExplicitModel: req.Model,
		APIKey:        apiKey,
	}

	if err := h.executor.Run(ctx, pc); err != nil {
		h.send(conn, streamChunk{Error: err.Error(), Done: true})
		return
	}

	if pc.CacheHit {
		h.send(conn, streamChunk{Text: pc.Result.Text, Model: pc.ModelID, Done: true})
		return
	}

	for chunk := range pc.StreamChunks {
		h.send(conn, streamChunk{Text: chunk.Text, Model: pc.ModelID, Done: chunk.Done})
	}
}

func (h *WebSocketHandler) send(conn *websocket.Conn, chunk streamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("websocket write error: %v", err)
	}
}
