package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	k, err := ParseKey("deploy:restart")
	require.NoError(t, err)
	assert.Equal(t, NewKey("deploy", "restart"), k)
	assert.Equal(t, "deploy:restart", k.String())

	for _, bad := range []string{"restart", "deploy:", ":restart", "Deploy:restart", "deploy:re start"} {
		_, err := ParseKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}
}

func TestDefinitionValidate(t *testing.T) {
	assert.NoError(t, Definition{Key: NewKey("deploy", "start"), Roles: []string{"app"}}.Validate())
	assert.Error(t, Definition{Key: NewKey("deploy", "start"), Roles: []string{"App"}}.Validate())
	assert.Error(t, Definition{Key: NewKey("", "start")}.Validate())
}

func TestPredicate(t *testing.T) {
	facts := map[string]any{"no_release": false, "maintenance": true, "current_path": "/srv/app/current"}

	tests := []struct {
		expr    string
		want    bool
		wantErr bool
	}{
		{expr: "", want: false},
		{expr: "no_release", want: false},
		{expr: "no_release || maintenance", want: true},
		{expr: "!maintenance", want: false},
		{expr: `current_path == "/srv/app/current"`, want: true},
		{expr: "current_path", wantErr: true},
		{expr: "unknown_fact", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			p, err := Except(tt.expr)
			require.NoError(t, err)
			got, err := p.Eval(facts)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPredicate)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExceptSyntaxError(t *testing.T) {
	_, err := Except("no_release ||")
	assert.ErrorIs(t, err, ErrPredicate)
	assert.Panics(t, func() { MustExcept("(") })
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Definition{Key: NewKey("deploy", "stop")})
	reg.Register(Definition{Key: NewKey("db", "migrate")})
	reg.Register(Definition{Key: NewKey("deploy", "restart")})

	var names []string
	for _, d := range reg.Definitions() {
		names = append(names, d.Key.String())
	}
	assert.Equal(t, []string{"db:migrate", "deploy:restart", "deploy:stop"}, names)
}
