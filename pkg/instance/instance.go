package instance

import (
	"os"

	"github.com/angelmondragon/storefront-core/pkg/env"
)

// ID names this process in logs and lock owners. Platform dyno names win,
// then WORKER_ID, then the hostname.
func ID() string {
	if id := env.First("DYNO", "WORKER_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
