// Package redisconn builds a go-redis client from a connection string,
// accepting both "host:port" and "redis://"/"rediss://" URL forms.
package redisconn

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dial parses addr and returns a configured but unconnected client, or nil
// (with an error) if addr is empty or malformed. Callers that want fail-open
// behavior should treat any error as "no rate limiting" rather than fatal.
func Dial(addr, password string) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	opts := &redis.Options{
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DB:           0,
	}

	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := url.Parse(addr)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts.Addr = parsed.Host
		if parsed.User != nil {
			opts.Username = parsed.User.Username()
			if pw, ok := parsed.User.Password(); ok {
				opts.Password = pw
			}
		}
		if parsed.Scheme == "rediss" {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	} else {
		opts.Addr = addr
		opts.Password = password
	}

	return redis.NewClient(opts), nil
}
