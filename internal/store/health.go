package store

import (
	"context"
	"time"

	"github.com/hattiebot/familiar/internal/health"
)

// HealthCheck pings the database and verifies the messages table is readable.
func (db *DB) HealthCheck(ctx context.Context) health.ComponentHealth {
	h := health.ComponentHealth{Name: "database", Status: health.StatusOK}
	if err := db.PingContext(ctx); err != nil {
		h.Status = health.StatusError
		h.Message = err.Error()
		h.LastError = time.Now().UTC()
		return h
	}
	if _, err := db.CountMessages(ctx, ""); err != nil {
		h.Status = health.StatusDegraded
		h.Message = "cannot query messages: " + err.Error()
		h.LastError = time.Now().UTC()
		return h
	}
	h.LastOK = time.Now().UTC()
	return h
}
