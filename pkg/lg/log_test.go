package lg

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContext(t *testing.T) {
	assert.Equal(t, defaultLogger{}, FromContext(context.Background()))
	assert.Equal(t, defaultLogger{}, FromContext(nil))

	ctx := Attach(context.Background(), Discard)
	assert.Equal(t, Discard, FromContext(ctx))
}

func TestFlatten(t *testing.T) {
	assert.Empty(t, flatten())
	out := flatten(String("task", "deploy:restart"), Int("hosts", 2), Err(errors.New("boom")))
	assert.Contains(t, out, `"task": "deploy:restart"`)
	assert.Contains(t, out, `"hosts": 2`)
	assert.Contains(t, out, `"error": "boom"`)
}

func TestNew(t *testing.T) {
	for _, cfg := range []*Config{
		{ServiceName: "capstan"},
		{ServiceName: "capstan", Debug: true, Format: "console"},
	} {
		l := New(cfg)
		assert.IsType(t, &zapLogger{}, l)
		l.With(String("k", "v")).Debug("hello")
	}
}
