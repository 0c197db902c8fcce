// Package conduit implements the MQTT Conduit (§4.4): one MQTT-over-
// WebSocket connection to an SFS, negotiating a per-session subscription
// topic, publishing play/resync/stop commands, and delivering inbound
// init/media segment payloads in order.
//
// The MQTT-over-WebSocket library itself is an out-of-scope external
// collaborator (§1): Conduit depends only on the MQTTClient
// interface below. MQTTClient is implemented in production by pahoClient
// (paho_client.go), wrapping github.com/eclipse/paho.mqtt.golang, and in
// tests by wsTestClient (wstestclient_test.go) driven over a real
// github.com/gorilla/websocket server, the same way other websocket-backed
// transports in this codebase are exercised against a real listener.
package conduit

import "context"

// MQTTClient is the minimal surface Conduit needs from an MQTT-over-
// WebSocket client library. A fresh MQTTClient is created per connect
// attempt so each carries its own client id (§4.4: "generate a
// fresh client id on every connect").
type MQTTClient interface {
	// Connect dials the broker and blocks until the CONNACK is received
	// or ctx is done.
	Connect(ctx context.Context) error
	// Subscribe subscribes to topic; inbound payloads are delivered to
	// handler until Disconnect or a fatal read error.
	Subscribe(ctx context.Context, topic string, handler func(payload []byte)) error
	// Publish publishes payload to topic.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Unsubscribe unsubscribes from topic.
	Unsubscribe(ctx context.Context, topic string) error
	// Disconnect closes the connection. Idempotent.
	Disconnect()
	// Done returns a channel closed when the underlying connection is
	// lost for any reason other than a caller-initiated Disconnect.
	Done() <-chan struct{}
}

// ClientFactory constructs a fresh MQTTClient for one connection attempt,
// given the SFS broker address. A new client id is generated per call.
type ClientFactory func(brokerURL string) MQTTClient
