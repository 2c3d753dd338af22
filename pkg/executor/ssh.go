package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/andrej220/capstan/pkg/inventory"
	"github.com/andrej220/capstan/pkg/lg"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/crypto/ssh"
)

// SSHConfig describes how to log into hosts.
type SSHConfig struct {
	User                  string
	Password              string
	KeyFile               string
	KeyPassphrase         string
	KnownHostsFile        string
	InsecureIgnoreHostKey bool
	Timeout               time.Duration // per connection attempt
}

// SSHTransport opens one connection per command. Dialing is retried with
// backoff and session creation goes through a per-host circuit breaker;
// the command itself is never retried.
type SSHTransport struct {
	cfg      SSHConfig
	auth     []ssh.AuthMethod
	hostKey  ssh.HostKeyCallback
	resConf  *ResilienceConfig
	breakers *breakers
	logger   lg.Logger
}

var _ Transport = (*SSHTransport)(nil)

func NewSSHTransport(cfg SSHConfig, resConf *ResilienceConfig, logger lg.Logger) (*SSHTransport, error) {
	if resConf == nil {
		resConf = DefaultResilienceConfig()
	}
	if logger == nil {
		logger = lg.Discard
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	var auth []ssh.AuthMethod
	if cfg.KeyFile != "" {
		m, err := publicKeyAuth(cfg.KeyFile, cfg.KeyPassphrase)
		if err != nil {
			return nil, err
		}
		auth = append(auth, m)
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("ssh: no authentication method configured")
	}

	hk, err := hostKeyCallback(cfg.KnownHostsFile, cfg.InsecureIgnoreHostKey)
	if err != nil {
		return nil, err
	}

	return &SSHTransport{
		cfg:      cfg,
		auth:     auth,
		hostKey:  hk,
		resConf:  resConf,
		breakers: newBreakers(resConf.CircuitBreakerSettings),
		logger:   logger,
	}, nil
}

func (t *SSHTransport) Exec(ctx context.Context, host inventory.Host, command string) (Output, error) {
	client, err := t.connect(ctx, host)
	if err != nil {
		if ctx.Err() != nil {
			return Output{}, ctx.Err()
		}
		return Output{}, fmt.Errorf("%w: %s: %v", ErrHostUnreachable, host.Endpoint(), err)
	}
	defer client.Close()

	res, err := t.breakers.get(host.Endpoint()).Execute(func() (any, error) {
		return client.NewSession()
	})
	if err != nil {
		return Output{}, fmt.Errorf("%w: new session: %v", ErrHostUnreachable, err)
	}
	sess := res.(*ssh.Session)
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = client.Close()
		<-done
		return Output{}, ctx.Err()
	case err = <-done:
	}

	out := Output{Stdout: scanLines(&stdout), Stderr: scanLines(&stderr)}
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		out.ExitStatus = exitErr.ExitStatus()
	default:
		// connection dropped or no exit status reported
		return out, fmt.Errorf("%w: %v", ErrHostUnreachable, err)
	}
	return out, nil
}

func (t *SSHTransport) clientConfig(host inventory.Host) *ssh.ClientConfig {
	user := host.User
	if user == "" {
		user = t.cfg.User
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            t.auth,
		HostKeyCallback: t.hostKey,
		Timeout:         t.cfg.Timeout,
		BannerCallback:  func(message string) error { return nil }, //ignore banner
	}
}

func (t *SSHTransport) connect(ctx context.Context, host inventory.Host) (*ssh.Client, error) {
	addr := host.Endpoint()
	cfg := t.clientConfig(host)
	attempt := 0

	operation := func() (*ssh.Client, error) {
		attempt++
		d := net.Dialer{Timeout: t.cfg.Timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			t.logger.Debug("dial failed", lg.String("host", addr), lg.Int("attempt", attempt), lg.Err(err))
			return nil, err
		}
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
		if err != nil {
			conn.Close()
			if isPermanentDialError(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return ssh.NewClient(c, chans, reqs), nil
	}

	return backoff.RetryWithData(operation, backoff.WithContext(t.resConf.newBackOff(), ctx))
}

func scanLines(r io.Reader) []string {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}
