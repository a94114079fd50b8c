package health

import (
	"context"
	"database/sql"
	"time"
)

// checkTimeout bounds a single dependency probe.
const checkTimeout = 2 * time.Second

// Pinger is anything that can prove it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports name healthy when p answers a ping.
func PingCheck(name string, p Pinger) Checker {
	return func(ctx context.Context) Status {
		ctx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			return Status{Name: name, Healthy: false, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}

// DBCheck pings a database pool.
func DBCheck(name string, db *sql.DB) Checker {
	return func(ctx context.Context) Status {
		ctx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return Status{Name: name, Healthy: false, Detail: err.Error()}
		}
		stats := db.Stats()
		if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			return Status{Name: name, Healthy: true, Detail: "pool saturated"}
		}
		return Status{Name: name, Healthy: true}
	}
}

// Model describes the loaded amplifier model.
type Model interface {
	Available() bool
	ModelVersion() string
}

// ModelCheck reports the amplifier model. Register it with RegisterOptional:
// without a model the engine runs rules only.
func ModelCheck(m Model) Checker {
	return func(context.Context) Status {
		if m == nil || !m.Available() {
			return Status{Name: "model", Healthy: false, Detail: "unavailable, rules only"}
		}
		return Status{Name: "model", Healthy: true, Detail: m.ModelVersion()}
	}
}
