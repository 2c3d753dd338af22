package executor

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSSHTransportRequiresAuth(t *testing.T) {
	_, err := NewSSHTransport(SSHConfig{User: "deploy", InsecureIgnoreHostKey: true}, nil, nil)
	assert.Error(t, err)
}

func TestNewSSHTransportRequiresKnownHosts(t *testing.T) {
	_, err := NewSSHTransport(SSHConfig{User: "deploy", Password: "secret"}, nil, nil)
	assert.Error(t, err)

	tr, err := NewSSHTransport(SSHConfig{User: "deploy", Password: "secret", InsecureIgnoreHostKey: true}, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, tr)
}

func TestPublicKeyAuthMissingFile(t *testing.T) {
	_, err := publicKeyAuth(filepath.Join(t.TempDir(), "id_ed25519"), "")
	assert.Error(t, err)
}

func TestBreakersArePerHost(t *testing.T) {
	b := newBreakers(DefaultResilienceConfig().CircuitBreakerSettings)

	a1 := b.get("a:22")
	a2 := b.get("a:22")
	c := b.get("c:22")

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, c)
	assert.Equal(t, "ssh-a:22", a1.Name())
}

func TestIsPermanentDialError(t *testing.T) {
	assert.True(t, isPermanentDialError(errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none publickey]")))
	assert.False(t, isPermanentDialError(errors.New("dial tcp 10.0.0.1:22: i/o timeout")))
}

func TestScanLines(t *testing.T) {
	assert.Equal(t, []string{"one", "two"}, scanLines(strings.NewReader("one\ntwo\n")))
	assert.Nil(t, scanLines(strings.NewReader("")))
}
