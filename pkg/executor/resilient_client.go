package executor

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ResilienceConfig holds the dial backoff and the per-host breaker settings.
type ResilienceConfig struct {
	BackoffSettings        *backoff.ExponentialBackOff
	MaxDialRetries         uint64
	CircuitBreakerSettings gobreaker.Settings
}

// DefaultResilienceConfig mirrors what has worked against flaky VPS hosts.
func DefaultResilienceConfig() *ResilienceConfig {
	return &ResilienceConfig{
		BackoffSettings: &backoff.ExponentialBackOff{
			InitialInterval:     500 * time.Millisecond,
			MaxInterval:         5 * time.Second,
			MaxElapsedTime:      30 * time.Second,
			Multiplier:          1.5,
			RandomizationFactor: 0.5,
			Stop:                backoff.Stop,
			Clock:               backoff.SystemClock,
		},
		MaxDialRetries: 3,
		CircuitBreakerSettings: gobreaker.Settings{
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		},
	}
}

// newBackOff returns a fresh copy, ExponentialBackOff is stateful.
func (r *ResilienceConfig) newBackOff() backoff.BackOff {
	b := *r.BackoffSettings
	b.Reset()
	if r.MaxDialRetries > 0 {
		return backoff.WithMaxRetries(&b, r.MaxDialRetries)
	}
	return &b
}

// breakers hands out one circuit breaker per endpoint.
type breakers struct {
	settings gobreaker.Settings
	mu       sync.Mutex
	byHost   map[string]*gobreaker.CircuitBreaker
}

func newBreakers(settings gobreaker.Settings) *breakers {
	return &breakers{settings: settings, byHost: make(map[string]*gobreaker.CircuitBreaker)}
}

func (b *breakers) get(endpoint string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.byHost[endpoint]
	if !ok {
		s := b.settings
		s.Name = "ssh-" + endpoint
		cb = gobreaker.NewCircuitBreaker(s)
		b.byHost[endpoint] = cb
	}
	return cb
}

func publicKeyAuth(privateKeyPath, passphrase string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(key)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key %s: %w", privateKeyPath, err)
	}
	return ssh.PublicKeys(signer), nil
}

func hostKeyCallback(knownHostsFile string, insecure bool) (ssh.HostKeyCallback, error) {
	if insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if knownHostsFile == "" {
		return nil, errors.New("known_hosts file is required unless host key checking is disabled")
	}
	cb, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	return cb, nil
}

// isPermanentDialError reports dial failures that retrying cannot fix.
func isPermanentDialError(err error) bool {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain")
}
