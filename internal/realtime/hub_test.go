package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"aichatroom/internal/models"
)

func testClient(userID string) *Client {
	return &Client{userID: userID, send: make(chan []byte, 256), done: make(chan struct{})}
}

func startTopic(t *testing.T, table string) *TopicHub {
	t.Helper()
	quit := make(chan struct{})
	th := NewTopicHub(table, quit)
	go th.run()
	t.Cleanup(func() { close(quit) })
	return th
}

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if hub.topics == nil {
		t.Error("NewHub() topics map is nil")
	}
	hub.Close()
	hub.Close()
}

func TestHub_Subscribers_UnknownTable(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	if n := hub.Subscribers(models.TableMessages); n != 0 {
		t.Errorf("Subscribers() for untouched table = %d, want 0", n)
	}
}

func TestTopicHub_SubscribeUnsubscribe(t *testing.T) {
	th := startTopic(t, models.TableMessages)
	client := testClient("u1")

	th.subscribe(client)
	time.Sleep(10 * time.Millisecond)
	if th.Subscribers() != 1 {
		t.Errorf("Subscribers() after subscribe = %d, want 1", th.Subscribers())
	}

	th.unsubscribe(client)
	time.Sleep(10 * time.Millisecond)
	if th.Subscribers() != 0 {
		t.Errorf("Subscribers() after unsubscribe = %d, want 0", th.Subscribers())
	}
}

func TestTopicHub_Broadcast(t *testing.T) {
	th := startTopic(t, models.TableMessages)
	clients := []*Client{testClient("u1"), testClient("u2"), testClient("u3")}
	for _, c := range clients {
		th.subscribe(c)
	}
	time.Sleep(20 * time.Millisecond)

	change, err := NewChange(models.TableMessages, models.ChangeInsert, models.Message{ID: "m1", Content: "hello"}, nil)
	if err != nil {
		t.Fatalf("NewChange() error = %v", err)
	}
	th.publish(change)

	var wg sync.WaitGroup
	received := make([]bool, len(clients))
	for i, c := range clients {
		wg.Add(1)
		go func(idx int, client *Client) {
			defer wg.Done()
			select {
			case b := <-client.send:
				var got models.Change
				if err := json.Unmarshal(b, &got); err == nil && got.EventType == models.ChangeInsert {
					received[idx] = true
				}
			case <-time.After(100 * time.Millisecond):
			}
		}(i, c)
	}
	wg.Wait()

	for i, r := range received {
		if !r {
			t.Errorf("client %d did not receive broadcast", i)
		}
	}
}

func TestTopicHub_PrivateChangeOnlyReachesOwner(t *testing.T) {
	th := startTopic(t, models.TableMessages)
	owner, other := testClient("owner"), testClient("other")
	th.subscribe(owner)
	th.subscribe(other)
	time.Sleep(20 * time.Millisecond)

	change, _ := NewChange(models.TableMessages, models.ChangeInsert, models.Message{ID: "m1"}, nil)
	change.VisibleTo = "owner"
	th.publish(change)

	select {
	case <-owner.send:
	case <-time.After(100 * time.Millisecond):
		t.Error("owner did not receive private change")
	}
	select {
	case <-other.send:
		t.Error("other user received a private change")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTopicHub_SlowClientIsKicked(t *testing.T) {
	th := startTopic(t, models.TableTypingIndicators)
	slow := &Client{userID: "slow", send: make(chan []byte), done: make(chan struct{})}
	th.subscribe(slow)
	time.Sleep(10 * time.Millisecond)

	change, _ := NewChange(models.TableTypingIndicators, models.ChangeUpdate, models.TypingIndicator{UserID: "u"}, nil)
	th.publish(change)

	select {
	case <-slow.done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("slow client was not kicked")
	}
	time.Sleep(10 * time.Millisecond)
	if th.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want 0", th.Subscribers())
	}
}

func TestHub_MultipleTables(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	c1, c2 := testClient("u1"), testClient("u2")
	hub.Topic(models.TableMessages).subscribe(c1)
	hub.Topic(models.TableTypingIndicators).subscribe(c2)
	time.Sleep(20 * time.Millisecond)

	if hub.Subscribers(models.TableMessages) != 1 {
		t.Errorf("Subscribers(messages) = %d, want 1", hub.Subscribers(models.TableMessages))
	}
	if hub.Subscribers(models.TableTypingIndicators) != 1 {
		t.Errorf("Subscribers(typing_indicators) = %d, want 1", hub.Subscribers(models.TableTypingIndicators))
	}

	_ = NewLocalPublisher(hub).Publish(context.Background(), models.Change{Table: models.TableMessages, EventType: models.ChangeDelete})
	select {
	case <-c1.send:
	case <-time.After(100 * time.Millisecond):
		t.Error("messages subscriber did not receive change")
	}
	select {
	case <-c2.send:
		t.Error("typing subscriber received a messages change")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestTopicHub_Concurrent(t *testing.T) {
	th := startTopic(t, models.TableMessages)

	var wg sync.WaitGroup
	numClients := 10
	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th.subscribe(testClient("user"))
		}()
	}
	wg.Wait()
	time.Sleep(50 * time.Millisecond)

	if th.Subscribers() != numClients {
		t.Errorf("Subscribers() after concurrent subscribe = %d, want %d", th.Subscribers(), numClients)
	}
}

func TestParseTables(t *testing.T) {
	tests := []struct {
		raw    string
		want   int
		wantOK bool
	}{
		{"", len(Tables), true},
		{"messages", 1, true},
		{"messages, typing_indicators,messages", 2, true},
		{"messages,users", 0, false},
		{" , ", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseTables(tt.raw)
		if ok != tt.wantOK || len(got) != tt.want {
			t.Errorf("ParseTables(%q) = %v, %v; want %d tables, ok=%v", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestEnvelopeKeepsVisibility(t *testing.T) {
	change, _ := NewChange(models.TableMessages, models.ChangeInsert, models.Message{ID: "m1"}, nil)
	change.VisibleTo = "owner"
	b, err := json.Marshal(envelope{Change: change, VisibleTo: change.VisibleTo})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	got, err := decodeEnvelope(b)
	if err != nil {
		t.Fatalf("decodeEnvelope() error = %v", err)
	}
	if got.VisibleTo != "owner" || got.Table != models.TableMessages {
		t.Errorf("decodeEnvelope() = %+v, want table messages visible to owner", got)
	}
}
