package mqttclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboundAliases(t *testing.T) {
	t.Run("bind and resolve", func(t *testing.T) {
		a := newInboundAliases(10)

		topic, err := a.resolve("sensors/temp", 1)
		require.NoError(t, err)
		assert.Equal(t, "sensors/temp", topic)

		topic, err = a.resolve("", 1)
		require.NoError(t, err)
		assert.Equal(t, "sensors/temp", topic)
	})

	t.Run("alias zero is invalid", func(t *testing.T) {
		a := newInboundAliases(10)

		_, err := a.resolve("test", 0)
		assert.ErrorIs(t, err, ErrTopicAliasInvalid)
	})

	t.Run("alias exceeds maximum", func(t *testing.T) {
		a := newInboundAliases(5)

		_, err := a.resolve("test", 6)
		assert.ErrorIs(t, err, ErrTopicAliasExceeded)

		_, err = a.resolve("test", 5)
		assert.NoError(t, err)
	})

	t.Run("aliases disabled", func(t *testing.T) {
		a := newInboundAliases(0)

		_, err := a.resolve("test", 1)
		assert.ErrorIs(t, err, ErrTopicAliasExceeded)
	})

	t.Run("unknown alias", func(t *testing.T) {
		a := newInboundAliases(10)

		_, err := a.resolve("", 5)
		assert.ErrorIs(t, err, ErrTopicAliasNotFound)
	})

	t.Run("rebind", func(t *testing.T) {
		a := newInboundAliases(10)

		_, err := a.resolve("a/b", 2)
		require.NoError(t, err)
		_, err = a.resolve("c/d", 2)
		require.NoError(t, err)

		topic, err := a.resolve("", 2)
		require.NoError(t, err)
		assert.Equal(t, "c/d", topic)
	})

	t.Run("clear forgets bindings", func(t *testing.T) {
		a := newInboundAliases(10)

		_, err := a.resolve("a/b", 3)
		require.NoError(t, err)
		a.clear()

		_, err = a.resolve("", 3)
		assert.ErrorIs(t, err, ErrTopicAliasNotFound)
	})
}
