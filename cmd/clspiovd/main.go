// Command clspiovd is the reference daemon wiring the CLSP IOV core
// (internal/registry, internal/session, internal/playercollection,
// internal/player, internal/conduit) to a real MQTT-over-WebSocket
// transport and an operator-facing control plane, grounded on
// cmd/streammon/main.go's envOr/options/signal-shutdown shape.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clspiov/internal/buildinfo"
	"clspiov/internal/conduit"
	"clspiov/internal/controlplane"
	"clspiov/internal/eventbus"
	"clspiov/internal/geoip"
	"clspiov/internal/headlessdom"
	"clspiov/internal/metricsstore"
	"clspiov/internal/models"
	"clspiov/internal/playercollection"
	"clspiov/internal/registry"
	"clspiov/internal/session"
)

func main() {
	listenAddr := envOr("LISTEN_ADDR", ":7936")
	corsOrigin := os.Getenv("CORS_ORIGIN")
	version := envOr("VERSION", "dev")

	var metrics *metricsstore.Store
	if os.Getenv("ENABLE_METRICS") != "" {
		dbPath := envOr("METRICS_DB_PATH", "./data/clspiov-metrics.db")
		var err error
		metrics, err = metricsstore.New(dbPath)
		if err != nil {
			log.Fatalf("opening metrics database: %v", err)
		}
		defer metrics.Close()
		log.Println("metrics recording enabled")
	}

	geoResolver := geoip.NewResolver(os.Getenv("GEOIP_DB_PATH"))
	defer geoResolver.Close()

	checker := buildinfo.NewChecker(version)
	checkerCtx, stopChecker := context.WithCancel(context.Background())
	defer stopChecker()
	go checker.Start(checkerCtx)

	registryBus := eventbus.New(
		models.EventRetryBudgetExhausted,
		models.EventSessionCreated,
		models.EventSessionRemoved,
		models.EventRetryFired,
		models.EventHandoffComplete,
		models.EventMetric,
	)

	if metrics != nil {
		if err := registryBus.On(models.EventMetric, metrics.Listener()); err != nil {
			log.Printf("clspiovd: wiring registry metrics listener: %v", err)
		}
	}

	reg := registry.New(registryBus, newSessionFactory(metrics, geoResolver))
	defer reg.Destroy()

	cp := controlplane.New(reg, registryBus,
		controlplane.WithCORSOrigin(corsOrigin),
		controlplane.WithBuildChecker(checker),
	)

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           cp,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("clspiovd control plane listening on %s", listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// newSessionFactory builds the registry.SessionFactory wiring a fresh
// Session over the real paho.mqtt.golang transport for each id. metrics
// may be nil, in which case METRIC events are emitted but never
// persisted; geoResolver enriches a persisted metric's Detail with the
// SFS host's approximate location when a database is open.
func newSessionFactory(metrics *metricsstore.Store, geoResolver *geoip.Resolver) registry.SessionFactory {
	return func(id models.SessionId, elements session.ElementsConfig) (*session.Session, error) {
		bus := eventbus.New(
			models.EventFirstFrameShown,
			models.EventVideoReceived,
			models.EventVideoInfoReceived,
			models.EventReinitializeError,
			models.EventRetryError,
			models.EventIframeDestroyedExternally,
			models.EventNoStreamConfiguration,
			models.EventMetric,
		)

		var sess *session.Session
		if metrics != nil {
			handler := func(ev eventbus.Event) {
				payload, ok := ev.Payload.(models.MetricEvent)
				if !ok {
					return
				}
				payload.Detail = enrichWithGeo(geoResolver, sess, payload.Detail)
				if err := metrics.Record(payload); err != nil {
					log.Printf("clspiovd: recording metric: %v", err)
				}
			}
			if err := bus.On(models.EventMetric, handler); err != nil {
				log.Printf("clspiovd: wiring metrics listener for session %d: %v", id, err)
			}
		}

		newCollection := func(collBus *eventbus.Bus) *playercollection.Collection {
			return playercollection.New(collBus, func(conduitBus *eventbus.Bus) *conduit.Conduit {
				return conduit.New(conduitBus, conduit.NewPahoClientFactory(), nil)
			})
		}

		sess = session.New(id, bus, headlessdom.DOM{}, headlessdom.Environment{}, newCollection)
		if err := sess.InitializeElements(elements); err != nil {
			return nil, fmt.Errorf("clspiovd: initializing elements for session %d: %w", id, err)
		}
		return sess, nil
	}
}

// enrichWithGeo appends the SFS host's approximate location to detail,
// when geoResolver has a database open and the session's current target
// resolves to a routable IP.
func enrichWithGeo(geoResolver *geoip.Resolver, sess *session.Session, detail string) string {
	target, ok := sess.LastTarget()
	if !ok {
		return detail
	}
	ips, err := net.LookupIP(target.Host())
	if err != nil || len(ips) == 0 {
		return detail
	}
	geo := geoResolver.Lookup(ips[0])
	if geo == nil {
		return detail
	}
	return fmt.Sprintf("%s sfs_geo=%s,%s", detail, geo.City, geo.Country)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
