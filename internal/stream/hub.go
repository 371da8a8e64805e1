package stream

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"netpulse/internal/metrics"
	"netpulse/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message конверт события живой ленты
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub рассылает замеры, аномалии и результаты диагностики WebSocket-клиентам.
// Отрисовка (графики, шкалы) остается на стороне клиента.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run обслуживает регистрацию клиентов и рассылку до отмены ctx
func (h *Hub) Run(ctx context.Context) {
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case conn := <-h.register:
			h.mutex.Lock()
			h.clients[conn] = true
			metrics.StreamClients.Set(float64(len(h.clients)))
			h.mutex.Unlock()

		case conn := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			metrics.StreamClients.Set(float64(len(h.clients)))
			h.mutex.Unlock()

		case message := <-h.broadcast:
			h.writeToClients(websocket.TextMessage, message)

		case <-pingTicker.C:
			h.writePingToClients()
		}
	}
}

func (h *Hub) writeToClients(messageType int, payload []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(messageType, payload); err != nil {
			log.Printf("stream: write error: %v", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
	metrics.StreamClients.Set(float64(len(h.clients)))
}

func (h *Hub) writePingToClients() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for conn := range h.clients {
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
	metrics.StreamClients.Set(0)
}

// ClientCount количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Broadcast ставит сообщение в очередь; при переполнении оно отбрасывается,
// чтобы медленный клиент не тормозил тик сэмплирования.
func (h *Hub) Broadcast(msgType string, data interface{}) {
	payload, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		log.Printf("stream: failed to marshal %s: %v", msgType, err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
	}
}

func (h *Hub) PublishSample(s models.Sample) {
	h.Broadcast("sample", s)
}

func (h *Hub) PublishAnomaly(ev models.AnomalyEvent) {
	h.Broadcast("anomaly", ev)
}

func (h *Hub) PublishDiagnostics(r models.DiagnosticsResult) {
	h.Broadcast("diagnostics", r)
}

// ServeHTTP переводит соединение в WebSocket и держит его до отключения клиента
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("stream: upgrade error: %v", err)
		return
	}

	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	select {
	case h.register <- conn:
	case <-r.Context().Done():
		conn.Close()
		return
	}

	defer func() {
		select {
		case h.unregister <- conn:
		case <-time.After(writeWait):
			conn.Close()
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				log.Printf("stream: read error: %v", err)
			}
			return
		}
	}
}
