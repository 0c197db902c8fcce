package controlplane

import (
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"clspiov/internal/eventbus"
	"clspiov/internal/models"
)

// feedEventNames are the registry-level names GET /api/events relays
// (§4.9: "session created/removed, retry fired, handoff
// completed").
var feedEventNames = []string{
	models.EventSessionCreated,
	models.EventSessionRemoved,
	models.EventRetryFired,
	models.EventHandoffComplete,
	models.EventRetryBudgetExhausted,
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type feedMessage struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// handleEventsFeed upgrades to a websocket connection and relays every
// registry-level event for the connection's lifetime, adapted from the
// gorilla/websocket upgrade-then-write-loop shape used elsewhere in the
// pack for native transport bridging.
func (s *Server) handleEventsFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("controlplane: events feed upgrade: %v", err)
		return
	}
	defer conn.Close()

	// closed guards against sending on out after this handler returns: the
	// bus has no unsubscribe-by-handler primitive (eventbus.RemoveAllListeners
	// is whole-bus only), so the handlers registered below outlive this
	// connection and must check closed before every send.
	var closed atomic.Bool
	defer closed.Store(true)

	out := make(chan feedMessage, 64)
	for _, name := range feedEventNames {
		name := name
		if err := s.bus.On(name, func(ev eventbus.Event) {
			if closed.Load() {
				return
			}
			select {
			case out <- feedMessage{Event: ev.Name, Payload: ev.Payload}:
			default:
				log.Printf("controlplane: events feed: dropping %s, client too slow", ev.Name)
			}
		}); err != nil {
			log.Printf("controlplane: events feed: wiring %s: %v", name, err)
		}
	}

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case msg := <-out:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-pingTicker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
