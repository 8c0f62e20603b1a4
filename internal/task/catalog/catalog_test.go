package catalog

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, Payload) error { return nil }

func TestRegisterAndLookup(t *testing.T) {
	t.Parallel()
	c := New()
	def, err := c.Register("SendToMyself", Payload{"Email": "a@b.c"}, noop)
	require.NoError(t, err)
	assert.Equal(t, 1, def.Version)

	got, err := c.Lookup("SendToMyself")
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", got.Payload.Get("Email"))
}

func TestRegisterOverwrites(t *testing.T) {
	t.Parallel()
	c := New()
	_, err := c.Register("job", Payload{"k": "old"}, noop)
	require.NoError(t, err)
	def, err := c.Register("job", Payload{"k": "new"}, noop)
	require.NoError(t, err)

	assert.Equal(t, 2, def.Version)
	got, err := c.Lookup("job")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Payload.Get("k"))
	assert.Len(t, c.List(), 1)
}

func TestRegisterInvalid(t *testing.T) {
	t.Parallel()
	c := New()
	_, err := c.Register("  ", nil, noop)
	assert.True(t, errors.Is(err, ErrInvalidJob))
	_, err = c.Register("job", nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidJob))
}

func TestLookupUnknown(t *testing.T) {
	t.Parallel()
	_, err := New().Lookup("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPayloadIsCopied(t *testing.T) {
	t.Parallel()
	c := New()
	in := Payload{"k": "v"}
	_, err := c.Register("job", in, noop)
	require.NoError(t, err)

	in["k"] = "mutated"
	got, _ := c.Lookup("job")
	assert.Equal(t, "v", got.Payload["k"])

	got.Payload["k"] = "mutated again"
	again, _ := c.Lookup("job")
	assert.Equal(t, "v", again.Payload["k"])
}

func TestRemoveAndList(t *testing.T) {
	t.Parallel()
	c := New()
	for _, n := range []string{"b", "a", "c"} {
		_, err := c.Register(n, nil, noop)
		require.NoError(t, err)
	}
	names := []string{}
	for _, d := range c.List() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)

	assert.True(t, c.Remove("b"))
	assert.False(t, c.Remove("b"))
	assert.False(t, c.Has("b"))
}

func TestPayloadGetters(t *testing.T) {
	t.Parallel()
	p := Payload{"port": "587", "bad": "x", "flag": "true"}
	assert.Equal(t, 587, p.Int("port", 0))
	assert.Equal(t, 25, p.Int("bad", 25))
	assert.Equal(t, 25, p.Int("missing", 25))
	assert.True(t, p.Bool("flag", false))
	assert.False(t, p.Bool("bad", false))
}
