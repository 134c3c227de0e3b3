package realtime

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"aichatroom/internal/models"

	"github.com/rs/zerolog/log"
)

// Hub 管理表级别的子 Hub（TopicHub），实现延迟创建与并发安全。
type Hub struct {
	mu     sync.RWMutex
	topics map[string]*TopicHub
	quit   chan struct{}
	once   sync.Once
}

func NewHub() *Hub { return &Hub{topics: make(map[string]*TopicHub), quit: make(chan struct{})} }

// Topic 若表对应的 TopicHub 未初始化则懒加载一个。
func (h *Hub) Topic(table string) *TopicHub {
	h.mu.RLock()
	topic := h.topics[table]
	h.mu.RUnlock()
	if topic != nil {
		return topic
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	topic = h.topics[table]
	if topic != nil {
		return topic
	}
	topic = NewTopicHub(table, h.quit)
	h.topics[table] = topic
	go topic.run()
	return topic
}

// Subscribers 返回订阅某张表的客户端数量。
func (h *Hub) Subscribers(table string) int {
	h.mu.RLock()
	topic := h.topics[table]
	h.mu.RUnlock()
	if topic == nil {
		return 0
	}
	return topic.Subscribers()
}

// Broadcast 将变更投递给对应表的订阅者。
func (h *Hub) Broadcast(change models.Change) {
	h.Topic(change.Table).publish(change)
}

// Close 停止所有 TopicHub。
func (h *Hub) Close() {
	h.once.Do(func() { close(h.quit) })
}

type TopicHub struct {
	table       string
	clients     map[*Client]bool
	register    chan *Client
	unregister  chan *Client
	broadcast   chan models.Change
	quit        <-chan struct{}
	subscribers int32
}

func NewTopicHub(table string, quit <-chan struct{}) *TopicHub {
	return &TopicHub{
		table:      table,
		quit:       quit,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan models.Change, 256),
	}
}

func (th *TopicHub) publish(change models.Change) {
	select {
	case th.broadcast <- change:
	case <-th.quit:
	}
}

func (th *TopicHub) subscribe(c *Client) {
	select {
	case th.register <- c:
	case <-th.quit:
	}
}

func (th *TopicHub) unsubscribe(c *Client) {
	select {
	case th.unregister <- c:
	case <-th.quit:
	}
}

func (th *TopicHub) run() {
	for {
		select {
		case <-th.quit:
			return
		case c := <-th.register:
			th.clients[c] = true
			atomic.StoreInt32(&th.subscribers, int32(len(th.clients)))
		case c := <-th.unregister:
			if _, ok := th.clients[c]; ok {
				delete(th.clients, c)
				atomic.StoreInt32(&th.subscribers, int32(len(th.clients)))
			}
		case change := <-th.broadcast:
			b, err := json.Marshal(change)
			if err != nil {
				log.Error().Err(err).Str("table", th.table).Msg("marshal change")
				continue
			}
			for c := range th.clients {
				if change.VisibleTo != "" && change.VisibleTo != c.userID {
					continue
				}
				select {
				case c.send <- b:
				default:
					// 慢消费者直接断开；客户端显示断线，由用户执行 /reconnect 重新订阅并全量加载。
					delete(th.clients, c)
					c.kick()
				}
			}
			atomic.StoreInt32(&th.subscribers, int32(len(th.clients)))
		}
	}
}

// Subscribers 返回当前订阅者数量，供 REST 接口复用。
func (th *TopicHub) Subscribers() int { return int(atomic.LoadInt32(&th.subscribers)) }
