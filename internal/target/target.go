// Package target is a local stand-in for the services volley measures.
//
// It answers GET /metrics with a snapshot of the host (system, memory, cpu,
// disk and network sections) and echoes every WebSocket text frame on /ws
// wrapped in a reply envelope:
//
//	{"message_id":1,"server_timestamp":1700000000000,"client_message":"<frame>","connection_id":1}
package target

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxFrameSize = 1 << 20

// Server holds the counters shared by all connections.
type Server struct {
	logger    *zap.Logger
	host      *HostCollector
	upgrader  websocket.Upgrader
	startTime time.Time

	messages    atomic.Uint64
	connections atomic.Uint64
}

// Reply is the envelope written for every received frame.
type Reply struct {
	MessageID       uint64 `json:"message_id"`
	ServerTimestamp int64  `json:"server_timestamp"`
	ClientMessage   string `json:"client_message"`
	ConnectionID    uint64 `json:"connection_id"`
}

// Stats is served on /stats.
type Stats struct {
	TotalMessages    uint64  `json:"total_messages"`
	TotalConnections uint64  `json:"total_connections"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
}

// New creates a target server. A nil logger disables logging.
func New(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:    logger,
		host:      NewHostCollector(DefaultCacheTTL, logger),
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler routes /metrics, /stats and /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.host.Collect())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, Stats{
		TotalMessages:    s.messages.Load(),
		TotalConnections: s.connections.Load(),
		UptimeSeconds:    time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	connID := s.connections.Add(1)
	conn.SetReadLimit(maxFrameSize)
	logger := s.logger.With(zap.Uint64("connection_id", connID))
	logger.Debug("connection opened")

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("read failed", zap.Error(err))
			}
			break
		}

		data, err := json.Marshal(Reply{
			MessageID:       s.messages.Add(1),
			ServerTimestamp: time.Now().UnixMilli(),
			ClientMessage:   string(frame),
			ConnectionID:    connID,
		})
		if err != nil {
			logger.Error("encode reply", zap.Error(err))
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Debug("write failed", zap.Error(err))
			break
		}
	}

	logger.Debug("connection closed")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
