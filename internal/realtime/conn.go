package realtime

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"aichatroom/internal/auth"
	"aichatroom/internal/config"
	"aichatroom/internal/metrics"
	"aichatroom/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Tables 是允许订阅的表。
var Tables = []string{models.TableMessages, models.TableTypingIndicators, models.TableProfiles}

type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	userID string
	topics []*TopicHub
}

func newClient(conn *websocket.Conn, userID string) *Client {
	return &Client{conn: conn, send: make(chan []byte, 256), done: make(chan struct{}), userID: userID}
}

// kick 通知写协程退出，可重复调用。
func (c *Client) kick() {
	c.once.Do(func() { close(c.done) })
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ParseTables 解析 tables 查询参数，为空时订阅全部表。
func ParseTables(raw string) ([]string, bool) {
	if strings.TrimSpace(raw) == "" {
		return Tables, true
	}
	seen := make(map[string]bool)
	var out []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		known := false
		for _, k := range Tables {
			if k == t {
				known = true
				break
			}
		}
		if !known {
			return nil, false
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, len(out) > 0
}

// Serve 升级为 WebSocket 并把连接挂到请求的各个表上。
func Serve(h *Hub, db *gorm.DB, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		tables, ok := ParseTables(c.Query("tables"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tables"})
			return
		}
		token := auth.BearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		user, err := auth.Authenticate(db, token, cfg.JWTSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Str("user_id", user.ID).Msg("realtime upgrade")
			return
		}
		client := newClient(conn, user.ID)
		for _, t := range tables {
			topic := h.Topic(t)
			client.topics = append(client.topics, topic)
			topic.subscribe(client)
		}
		metrics.FeedConnections.Inc()
		log.Debug().Str("user_id", user.ID).Strs("tables", tables).Msg("feed subscribed")

		go client.writePump()
		client.readPump()
	}
}

// readPump 只负责心跳与断线检测，订阅方不会通过该通道写数据。
func (c *Client) readPump() {
	defer func() {
		for _, t := range c.topics {
			t.unsubscribe(c)
		}
		c.kick()
		metrics.FeedConnections.Dec()
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(4 << 10)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
