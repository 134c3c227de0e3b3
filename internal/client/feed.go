package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"aichatroom/internal/chat"
	"aichatroom/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type subscription struct {
	conn    *websocket.Conn
	changes chan models.Change
	once    sync.Once
	quit    chan struct{}
	done    chan struct{}
}

func (s *subscription) Changes() <-chan models.Change { return s.changes }

// Close 关闭连接并等待读协程退出。
func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.quit)
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = s.conn.Close()
	})
	<-s.done
	return err
}

func (s *subscription) read() {
	defer close(s.done)
	defer close(s.changes)
	for {
		var c models.Change
		if err := s.conn.ReadJSON(&c); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("change feed read")
			}
			return
		}
		select {
		case s.changes <- c:
		case <-s.quit:
			return
		}
	}
}

func (c *Client) feedURL(tables []string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime"
	q := url.Values{}
	if len(tables) > 0 {
		q.Set("tables", strings.Join(tables, ","))
	}
	if at := c.Tokens().AccessToken; at != "" {
		q.Set("token", at)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe 建立 WebSocket 连接并订阅指定的表。
func (c *Client) Subscribe(ctx context.Context, tables ...string) (chat.Subscription, error) {
	target, err := c.feedURL(tables)
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("subscribe failed: %v", err)}
		}
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	s := &subscription{conn: conn, changes: make(chan models.Change, 64), quit: make(chan struct{}), done: make(chan struct{})}
	go s.read()
	return s, nil
}
