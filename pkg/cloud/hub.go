// Package cloud provides the receiver-side WebSocket hub that devices
// connect to for telemetry.
package cloud

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-wificam/pkg/protocol"
)

// DeviceConnection represents a connected device
type DeviceConnection struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time

	mu        sync.Mutex
	lastSeen  time.Time
	hello     *protocol.HelloData
	lastLink  *protocol.LinkData
	lastStats *protocol.StatsData
}

// Send sends a message to the device
func (d *DeviceConnection) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Conn.WriteMessage(websocket.TextMessage, data)
}

// Hub manages WebSocket connections from devices
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	devices map[string]*DeviceConnection

	// Callbacks
	onHello func(deviceID string, hello *protocol.HelloData)
	onLink  func(deviceID string, link *protocol.LinkData)
	onStats func(deviceID string, stats *protocol.StatsData)

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	parseErrors      atomic.Uint64
}

// NewHub creates a new device hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger.With("component", "cloud"),
		devices: make(map[string]*DeviceConnection),
	}
}

// OnHello sets the callback for device hello messages
func (h *Hub) OnHello(callback func(deviceID string, hello *protocol.HelloData)) {
	h.mu.Lock()
	h.onHello = callback
	h.mu.Unlock()
}

// OnLink sets the callback for link transitions
func (h *Hub) OnLink(callback func(deviceID string, link *protocol.LinkData)) {
	h.mu.Lock()
	h.onLink = callback
	h.mu.Unlock()
}

// OnStats sets the callback for streamer stats
func (h *Hub) OnStats(callback func(deviceID string, stats *protocol.StatsData)) {
	h.mu.Lock()
	h.onStats = callback
	h.mu.Unlock()
}

// RegisterRoutes registers WebSocket routes on a Fiber app
func (h *Hub) RegisterRoutes(app *fiber.App) {
	app.Use("/ws/device", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/device", websocket.New(h.handleDevice))
	app.Get("/ws/device/:id", websocket.New(h.handleDevice))
}

// handleDevice handles a device WebSocket connection
func (h *Hub) handleDevice(c *websocket.Conn) {
	deviceID := c.Params("id")
	if deviceID == "" {
		deviceID = generateDeviceID()
	}

	now := time.Now()
	device := &DeviceConnection{
		ID:        deviceID,
		Conn:      c,
		Connected: now,
		lastSeen:  now,
	}

	// A reconnecting device replaces its stale connection.
	h.mu.Lock()
	if old, ok := h.devices[deviceID]; ok {
		old.Conn.Close()
	}
	h.devices[deviceID] = device
	count := len(h.devices)
	h.mu.Unlock()

	h.logger.Info("device connected", "device_id", deviceID, "total", count)

	defer func() {
		h.mu.Lock()
		if h.devices[deviceID] == device {
			delete(h.devices, deviceID)
		}
		count := len(h.devices)
		h.mu.Unlock()

		h.logger.Info("device disconnected", "device_id", deviceID, "total", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			h.logger.Debug("device read error", "device_id", deviceID, "error", err)
			return
		}

		device.mu.Lock()
		device.lastSeen = time.Now()
		device.mu.Unlock()

		h.messagesReceived.Add(1)
		h.handleMessage(device, data)
	}
}

// handleMessage processes an incoming message from a device
func (h *Hub) handleMessage(device *DeviceConnection, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.parseErrors.Add(1)
		h.logger.Debug("parse error", "device_id", device.ID, "error", err)
		return
	}

	h.mu.RLock()
	helloCb := h.onHello
	linkCb := h.onLink
	statsCb := h.onStats
	h.mu.RUnlock()

	switch msg.Type {
	case protocol.TypeHello:
		hello, err := msg.GetHelloData()
		if err != nil {
			h.parseErrors.Add(1)
			return
		}
		device.mu.Lock()
		device.hello = hello
		device.mu.Unlock()
		h.logger.Info("device hello", "device_id", device.ID, "board", hello.Board, "endpoint", hello.Endpoint, "framing", hello.Framing)
		if helloCb != nil {
			helloCb(device.ID, hello)
		}

	case protocol.TypeLink:
		link, err := msg.GetLinkData()
		if err != nil {
			h.parseErrors.Add(1)
			return
		}
		device.mu.Lock()
		device.lastLink = link
		device.mu.Unlock()
		if linkCb != nil {
			linkCb(device.ID, link)
		}

	case protocol.TypeStats:
		stats, err := msg.GetStatsData()
		if err != nil {
			h.parseErrors.Add(1)
			return
		}
		device.mu.Lock()
		device.lastStats = stats
		device.mu.Unlock()
		if statsCb != nil {
			statsCb(device.ID, stats)
		}

	case protocol.TypePing:
		ping, err := msg.GetPingData()
		if err != nil {
			h.parseErrors.Add(1)
			return
		}
		if err := h.SendPong(device.ID, ping.ID, ping.Timestamp); err != nil {
			h.logger.Debug("pong failed", "device_id", device.ID, "error", err)
		}
	}
}

// SendPong sends a pong response to a device
func (h *Hub) SendPong(deviceID, pingID string, pingTS int64) error {
	msg, err := protocol.NewPongMessage(pingID, pingTS, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	return h.sendToDevice(deviceID, msg)
}

// sendToDevice sends a message to a specific device
func (h *Hub) sendToDevice(deviceID string, msg *protocol.Message) error {
	h.mu.RLock()
	device, ok := h.devices[deviceID]
	h.mu.RUnlock()

	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "device not connected")
	}

	h.messagesSent.Add(1)
	return device.Send(msg)
}

// GetDevice returns a device connection by ID
func (h *Hub) GetDevice(deviceID string) *DeviceConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.devices[deviceID]
}

// DeviceCount returns the number of connected devices
func (h *Hub) DeviceCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.devices)
}

// DeviceIDs returns the connected device IDs, sorted.
func (h *Hub) DeviceIDs() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.devices))
	for id := range h.devices {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Stats contains hub statistics
type Stats struct {
	DeviceCount      int    `json:"device_count"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	ParseErrors      uint64 `json:"parse_errors"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	return Stats{
		DeviceCount:      h.DeviceCount(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		ParseErrors:      h.parseErrors.Load(),
	}
}

// DeviceInfo contains info about a connected device
type DeviceInfo struct {
	ID        string              `json:"id"`
	Connected time.Time           `json:"connected"`
	LastSeen  time.Time           `json:"last_seen"`
	Hello     *protocol.HelloData `json:"hello,omitempty"`
	Link      *protocol.LinkData  `json:"link,omitempty"`
	Stats     *protocol.StatsData `json:"stats,omitempty"`
}

func (d *DeviceConnection) info() DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DeviceInfo{
		ID:        d.ID,
		Connected: d.Connected,
		LastSeen:  d.lastSeen,
		Hello:     d.hello,
		Link:      d.lastLink,
		Stats:     d.lastStats,
	}
}

// GetDeviceInfos returns info about all connected devices, sorted by ID.
func (h *Hub) GetDeviceInfos() []DeviceInfo {
	h.mu.RLock()
	infos := make([]DeviceInfo, 0, len(h.devices))
	for _, d := range h.devices {
		infos = append(infos, d.info())
	}
	h.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// RegisterAPIRoutes registers API routes for device inspection
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	devices := api.Group("/devices")

	devices.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"devices": h.GetDeviceInfos(),
			"count":   h.DeviceCount(),
		})
	})

	devices.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})

	devices.Get("/:id", func(c *fiber.Ctx) error {
		device := h.GetDevice(c.Params("id"))
		if device == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "device not connected"})
		}
		return c.JSON(device.info())
	})
}

// generateDeviceID generates a unique device ID
func generateDeviceID() string {
	return uuid.NewString()
}
