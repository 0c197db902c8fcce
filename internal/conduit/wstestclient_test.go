package conduit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// fakeBroker is a minimal in-memory SFS double used only by this
// package's tests, speaking a trivial line protocol over a real
// gorilla/websocket connection:
//
//	client -> broker: "SUB:<topic>" / "PUB:<topic>:<payload>" / "UNSUB:<topic>"
//	broker -> client: "MSG:<topic>:<payload>"
//
// grounded on the read-loop shape of internal/media/plex/websocket.go,
// retargeted from a one-shot notification feed to a tiny pub/sub so
// Conduit's MQTTClient contract can be exercised over a real websocket
// round trip instead of an in-process fake.
type fakeBroker struct {
	srv *httptest.Server

	mu   sync.Mutex
	subs map[string][]*websocket.Conn
}

func newFakeBroker() *fakeBroker {
	fb := &fakeBroker{subs: make(map[string][]*websocket.Conn)}
	upgrader := websocket.Upgrader{}
	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go fb.serve(conn)
	}))
	return fb
}

func (fb *fakeBroker) url() string {
	return "ws" + strings.TrimPrefix(fb.srv.URL, "http")
}

func (fb *fakeBroker) close() { fb.srv.Close() }

func (fb *fakeBroker) serve(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		line := string(msg)
		switch {
		case strings.HasPrefix(line, "SUB:"):
			topic := strings.TrimPrefix(line, "SUB:")
			fb.mu.Lock()
			fb.subs[topic] = append(fb.subs[topic], conn)
			fb.mu.Unlock()
		case strings.HasPrefix(line, "UNSUB:"):
			topic := strings.TrimPrefix(line, "UNSUB:")
			fb.mu.Lock()
			conns := fb.subs[topic]
			for i, c := range conns {
				if c == conn {
					fb.subs[topic] = append(conns[:i], conns[i+1:]...)
					break
				}
			}
			fb.mu.Unlock()
		case strings.HasPrefix(line, "PUB:"):
			// commands published by the client are not echoed back; a
			// real SFS would act on them, the fake just drops them.
		}
	}
}

// push delivers payload to every connection currently subscribed to topic,
// simulating the SFS pushing an init/media segment.
func (fb *fakeBroker) push(topic string, payload []byte) {
	fb.mu.Lock()
	conns := append([]*websocket.Conn(nil), fb.subs[topic]...)
	fb.mu.Unlock()
	for _, c := range conns {
		c.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("MSG:%s:%s", topic, payload)))
	}
}

// wsTestClient implements MQTTClient over a real websocket connection to
// a fakeBroker, for conduit_test.go's integration-style tests.
type wsTestClient struct {
	brokerURL string

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string]func([]byte)
	done     chan struct{}
}

func newWSTestClientFactory() ClientFactory {
	return func(brokerURL string) MQTTClient {
		return &wsTestClient{
			brokerURL: brokerURL,
			handlers:  make(map[string]func([]byte)),
			done:      make(chan struct{}),
		}
	}
}

func (c *wsTestClient) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.brokerURL, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	go c.readLoop()
	return nil
}

func (c *wsTestClient) readLoop() {
	defer c.markDone()
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		line := string(msg)
		if !strings.HasPrefix(line, "MSG:") {
			continue
		}
		rest := strings.TrimPrefix(line, "MSG:")
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			continue
		}
		c.mu.Lock()
		h := c.handlers[parts[0]]
		c.mu.Unlock()
		if h != nil {
			h([]byte(parts[1]))
		}
	}
}

func (c *wsTestClient) Subscribe(ctx context.Context, topic string, handler func([]byte)) error {
	c.mu.Lock()
	c.handlers[topic] = handler
	conn := c.conn
	c.mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, []byte("SUB:"+topic))
}

func (c *wsTestClient) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("PUB:%s:%s", topic, payload)))
}

func (c *wsTestClient) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	conn := c.conn
	delete(c.handlers, topic)
	c.mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, []byte("UNSUB:"+topic))
}

func (c *wsTestClient) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.markDone()
}

func (c *wsTestClient) Done() <-chan struct{} {
	return c.done
}

func (c *wsTestClient) markDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}
