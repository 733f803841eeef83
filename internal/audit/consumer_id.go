package audit

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

// NewConsumerID returns a unique consumer name for the audit worker
// consumer group. Combines hostname and a random suffix so multiple
// replicas and restarts never collide.
func NewConsumerID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "worker"
	}

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return fmt.Sprintf("%s-%d", hostname, os.Getpid())
	}

	return fmt.Sprintf("%s-%s", hostname, hex.EncodeToString(suffix))
}
