package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	n, err := m.Put(ctx, "reports/p1/r1.json", "application/json", []byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	data, err := m.Get(ctx, "reports/p1/r1.json")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))

	require.NoError(t, m.Delete(ctx, "reports/p1/r1.json"))
	require.NoError(t, m.Delete(ctx, "reports/p1/r1.json"))

	_, err = m.Get(ctx, "reports/p1/r1.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreCopiesInput(t *testing.T) {
	m := NewMemory()
	buf := []byte("abc")
	_, err := m.Put(context.Background(), "k", "text/plain", buf)
	require.NoError(t, err)
	buf[0] = 'z'

	data, err := m.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}
