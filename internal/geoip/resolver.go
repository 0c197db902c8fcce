// Package geoip resolves the approximate location of an SFS host's IP
// address for control-plane diagnostics, using the same maxminddb-golang
// lookup shape other IP-geolocation code in this codebase uses, applied
// to CLSP METRIC events rather than a media session's client IP. A
// session's retry supervision can recreate and re-resolve the same SFS
// host many times over a lineage's life (every retry, every handoff), so
// lookups are cached per IP rather than re-walked against the database
// on every METRIC event.
package geoip

import (
	"log"
	"net"
	"sync"

	"github.com/oschwald/maxminddb-golang"

	"clspiov/internal/models"
)

// Resolver looks up GeoResults from an optional GeoLite2-City database.
// A Resolver with no database open always returns nil, so geoip
// enrichment degrades silently when GEOIP_DB_PATH is unset.
type Resolver struct {
	db *maxminddb.Reader

	mu    sync.Mutex
	cache map[string]*models.GeoResult
}

type mmdbRecord struct {
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

// NewResolver opens dbPath, if set. A failed open is logged and leaves
// the Resolver in its always-nil-lookup state rather than failing
// startup over an optional diagnostic.
func NewResolver(dbPath string) *Resolver {
	if dbPath == "" {
		return &Resolver{cache: make(map[string]*models.GeoResult)}
	}
	db, err := maxminddb.Open(dbPath)
	if err != nil {
		log.Printf("geoip: failed to open %s: %v", dbPath, err)
		return &Resolver{cache: make(map[string]*models.GeoResult)}
	}
	return &Resolver{db: db, cache: make(map[string]*models.GeoResult)}
}

// Close releases the underlying database file, if one is open.
func (r *Resolver) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Lookup returns an approximate location for ip, or nil when no
// database is open, ip is nil, or ip is not a public address. Results
// (including misses) are cached per IP for the Resolver's lifetime.
func (r *Resolver) Lookup(ip net.IP) *models.GeoResult {
	if ip == nil || r.db == nil || ip.IsPrivate() || ip.IsLoopback() || ip.IsUnspecified() {
		return nil
	}

	key := ip.String()
	r.mu.Lock()
	if cached, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return cached
	}
	r.mu.Unlock()

	result := r.lookupUncached(ip)

	r.mu.Lock()
	r.cache[key] = result
	r.mu.Unlock()
	return result
}

func (r *Resolver) lookupUncached(ip net.IP) *models.GeoResult {
	var record mmdbRecord
	if err := r.db.Lookup(ip, &record); err != nil {
		return nil
	}
	return &models.GeoResult{
		IP:      ip.String(),
		Lat:     record.Location.Latitude,
		Lng:     record.Location.Longitude,
		City:    record.City.Names["en"],
		Country: record.Country.ISOCode,
	}
}
