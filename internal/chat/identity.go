package chat

import (
	"fmt"
	"os"
	"time"
)

// ServerIdentity returns the identity of this process, fixed for its
// lifetime. It prefers the configured value, then the hostname, then a
// generated fallback.
func ServerIdentity(configured string) string {
	if configured != "" {
		return configured
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fmt.Sprintf("server-%d", time.Now().UnixMilli())
}
