package handler

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mirrorkit/vimeograb/internal/common/config"
	"github.com/mirrorkit/vimeograb/internal/common/messaging"
	"github.com/mirrorkit/vimeograb/internal/crawler"
	"github.com/mirrorkit/vimeograb/internal/download"
	"github.com/mirrorkit/vimeograb/internal/web/websocket"
	"github.com/mirrorkit/vimeograb/pkg/models"
)

// Handler consumes the crawl and video event queues and fans the events
// out to websocket clients, keeping the latest aggregate stats for the
// REST endpoint.
type Handler struct {
	panelCfg  *config.PanelConfig
	rabbitCfg *config.RabbitMQConfig
	log       *logrus.Logger
	msgClient messaging.Client
	wsHub     *websocket.Hub

	mu    sync.Mutex
	stats models.Stats
}

func NewHandler(panelCfg *config.PanelConfig, rabbitCfg *config.RabbitMQConfig,
	log *logrus.Logger, msgClient messaging.Client) *Handler {
	wsHub := websocket.NewHub(log)
	go wsHub.Run()

	h := &Handler{
		panelCfg:  panelCfg,
		rabbitCfg: rabbitCfg,
		log:       log,
		msgClient: msgClient,
		wsHub:     wsHub,
	}

	h.setupConsumers()

	return h
}

// RegisterRoutes registers all the routes for the web handler
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.WebSocketHandler())

	api := r.Group("/api")
	{
		api.GET("/stats", h.GetStatsHandler())
	}
}

// WebSocketHandler returns the WebSocket connection handler
func (h *Handler) WebSocketHandler() gin.HandlerFunc {
	return websocket.WebSocketHandler(h.wsHub, h.log)
}

// GetStatsHandler returns the latest aggregate run statistics
func (h *Handler) GetStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.mu.Lock()
		stats := h.stats
		h.mu.Unlock()
		c.JSON(http.StatusOK, stats)
	}
}

// setupConsumers binds and consumes the two event queues
func (h *Handler) setupConsumers() {
	queues := []struct {
		name       string
		routingKey string
		eventType  string
	}{
		{h.rabbitCfg.Queue.CrawlLogQueue, crawler.CrawlLogRoutingKey, "crawl_log"},
		{h.rabbitCfg.Queue.VideoLogQueue, download.VideoLogRoutingKey, "video_log"},
	}

	for _, q := range queues {
		if err := h.msgClient.DeclareQueue(q.name); err != nil {
			h.log.WithError(err).Errorf("Failed to declare queue %s", q.name)
			continue
		}
		if err := h.msgClient.BindQueue(q.name, h.rabbitCfg.Exchange, q.routingKey); err != nil {
			h.log.WithError(err).Errorf("Failed to bind queue %s", q.name)
			continue
		}

		eventType := q.eventType
		err := h.msgClient.Consume(q.name, func(message []byte) error {
			return h.forwardEvent(eventType, message)
		})
		if err != nil {
			h.log.WithError(err).Errorf("Failed to consume queue %s", q.name)
		}
	}
}

// forwardEvent captures the stats snapshot and broadcasts the event to
// all websocket clients.
func (h *Handler) forwardEvent(eventType string, message []byte) error {
	var envelope struct {
		Stats *models.Stats `json:"stats"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		h.log.WithError(err).Error("Failed to unmarshal event message")
		return err
	}
	if envelope.Stats != nil {
		h.mu.Lock()
		h.stats = *envelope.Stats
		h.mu.Unlock()
	}

	wsMessage, err := json.Marshal(map[string]any{
		"type": eventType,
		"data": json.RawMessage(message),
	})
	if err != nil {
		h.log.WithError(err).Error("Failed to marshal WebSocket message")
		return err
	}

	h.wsHub.Broadcast(wsMessage)
	return nil
}
