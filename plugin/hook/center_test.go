package hook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCenter() *Center { return NewCenter(zap.NewNop()) }

func TestTrigger_NoHandlers(t *testing.T) {
	c := newCenter()
	out, err := c.Trigger(context.Background(), "noop", 42)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestRegister_SingleHandler(t *testing.T) {
	c := newCenter()
	called := false
	c.Register(OnMemberJoined, 0, "h1", func(ctx context.Context, event string, data interface{}) (interface{}, error) {
		called = true
		assert.Equal(t, OnMemberJoined, event)
		return data, nil
	})
	_, err := c.Trigger(context.Background(), OnMemberJoined, "hello")
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 1, c.Count(OnMemberJoined))
}

func TestTrigger_DataPassThrough(t *testing.T) {
	c := newCenter()
	c.Register("ev", 0, "double", func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		return data.(int) * 2, nil
	})
	c.Register("ev", 1, "addTen", func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		return data.(int) + 10, nil
	})
	out, err := c.Trigger(context.Background(), "ev", 5)
	require.NoError(t, err)
	assert.Equal(t, 20, out) // (5*2)+10
}

func TestTrigger_PriorityOrder(t *testing.T) {
	c := newCenter()
	var order []string
	add := func(p int, name string) {
		c.Register("ev", p, name, func(_ context.Context, _ string, d interface{}) (interface{}, error) {
			order = append(order, name)
			return d, nil
		})
	}
	add(10, "late")
	add(1, "early")
	add(5, "mid-a")
	add(5, "mid-b")
	_, _ = c.Trigger(context.Background(), "ev", nil)
	assert.Equal(t, []string{"early", "mid-a", "mid-b", "late"}, order)
}

func TestTrigger_ErrInterrupt(t *testing.T) {
	c := newCenter()
	var secondCalled bool
	c.Register(BeforeGuildCreate, 0, "veto", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		return d, ErrInterrupt
	})
	c.Register(BeforeGuildCreate, 1, "should_not_run", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		secondCalled = true
		return d, nil
	})
	_, err := c.Trigger(context.Background(), BeforeGuildCreate, nil)
	assert.True(t, errors.Is(err, ErrInterrupt))
	assert.False(t, secondCalled)
}

func TestTrigger_ErrorKeepsPriorData(t *testing.T) {
	c := newCenter()
	c.Register("ev", 0, "broken", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		return "garbage", errors.New("some error")
	})
	c.Register("ev", 1, "inc", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		return d.(int) + 1, nil
	})
	out, err := c.Trigger(context.Background(), "ev", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, out)
}

func TestTrigger_PanicRecovered(t *testing.T) {
	c := newCenter()
	var after bool
	c.Register("ev", 0, "boom", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		panic("oops")
	})
	c.Register("ev", 1, "after", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		after = true
		return d, nil
	})
	out, err := c.Trigger(context.Background(), "ev", "payload")
	require.NoError(t, err)
	assert.Equal(t, "payload", out)
	assert.True(t, after)
}

func TestUnregister_OnlyNamed(t *testing.T) {
	c := newCenter()
	var c1, c2 bool
	c.Register("ev", 0, "h1", func(_ context.Context, _ string, d interface{}) (interface{}, error) { c1 = true; return d, nil })
	c.Register("ev", 1, "h2", func(_ context.Context, _ string, d interface{}) (interface{}, error) { c2 = true; return d, nil })
	c.Unregister("ev", "h1")
	_, _ = c.Trigger(context.Background(), "ev", nil)
	assert.False(t, c1)
	assert.True(t, c2)
}

func TestUnregisterAll(t *testing.T) {
	c := newCenter()
	var c1, c2, other bool
	c.Register(OnGuildLevelUp, 0, "plugin", func(_ context.Context, _ string, d interface{}) (interface{}, error) { c1 = true; return d, nil })
	c.Register(AfterReputationChange, 0, "plugin", func(_ context.Context, _ string, d interface{}) (interface{}, error) { c2 = true; return d, nil })
	c.Register(AfterReputationChange, 1, "other", func(_ context.Context, _ string, d interface{}) (interface{}, error) { other = true; return d, nil })
	c.UnregisterAll("plugin")
	_, _ = c.Trigger(context.Background(), OnGuildLevelUp, nil)
	_, _ = c.Trigger(context.Background(), AfterReputationChange, nil)
	assert.False(t, c1)
	assert.False(t, c2)
	assert.True(t, other)
	assert.Equal(t, 0, c.Count(OnGuildLevelUp))
}
