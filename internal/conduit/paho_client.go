package conduit

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// pahoClient implements MQTTClient over github.com/eclipse/paho.mqtt.golang,
// dialing the broker URL over WebSocket transport (ws:// / wss://). It is
// the production ClientFactory target; grounded on the connect/reconnect
// shape of internal/emitter/mqtt.go in the orion-care-sensor reference
// pack (the only paho.mqtt.golang usage in the example corpus), adapted
// from a fire-and-forget publisher to a subscribe-and-deliver conduit.
type pahoClient struct {
	client mqtt.Client

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// NewPahoClientFactory returns a ClientFactory building pahoClient
// instances, each with a fresh client id per §4.4.
func NewPahoClientFactory() ClientFactory {
	return func(brokerURL string) MQTTClient {
		return newPahoClient(brokerURL)
	}
}

func newPahoClient(brokerURL string) *pahoClient {
	pc := &pahoClient{done: make(chan struct{})}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID("clsp-" + uuid.NewString())
	opts.SetAutoReconnect(false) // Conduit owns reconnect/backoff itself
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, _ error) {
		pc.markDone()
	})

	pc.client = mqtt.NewClient(opts)
	return pc
}

func (pc *pahoClient) markDone() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if !pc.closed {
		pc.closed = true
		close(pc.done)
	}
}

func (pc *pahoClient) Connect(ctx context.Context) error {
	token := pc.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("paho: connect timeout")
	}
	return token.Error()
}

func (pc *pahoClient) Subscribe(ctx context.Context, topic string, handler func(payload []byte)) error {
	token := pc.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("paho: subscribe timeout for %s", topic)
	}
	return token.Error()
}

func (pc *pahoClient) Publish(ctx context.Context, topic string, payload []byte) error {
	token := pc.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("paho: publish timeout for %s", topic)
	}
	return token.Error()
}

func (pc *pahoClient) Unsubscribe(ctx context.Context, topic string) error {
	token := pc.client.Unsubscribe(topic)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("paho: unsubscribe timeout for %s", topic)
	}
	return token.Error()
}

func (pc *pahoClient) Disconnect() {
	pc.client.Disconnect(250)
	pc.markDone()
}

func (pc *pahoClient) Done() <-chan struct{} {
	return pc.done
}
