package server

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClients(t *testing.T, hub *Hub, n int) []*Client {
	t.Helper()
	clients := make([]*Client, n)
	for i := range clients {
		clients[i] = NewClient(nil, hub, "127.0.0.1:0")
	}
	return clients
}

func TestSessionRegistryKeepsJoinOrderAndDuplicates(t *testing.T) {
	req := require.New(t)
	hub := NewHub(Config{}, nil)
	c := newTestClients(t, hub, 3)
	reg := NewSessionRegistry()

	reg.Register(c[0], "Alice")
	reg.Register(c[1], "Bob")
	reg.Register(c[2], "Alice")

	req.Equal([]string{"Alice", "Bob", "Alice"}, reg.NamesSnapshot())
	req.Equal([]*Client{c[0], c[1], c[2]}, reg.Clients())
}

func TestSessionRegistryReRegisterOverwritesInPlace(t *testing.T) {
	req := require.New(t)
	hub := NewHub(Config{}, nil)
	c := newTestClients(t, hub, 2)
	reg := NewSessionRegistry()

	reg.Register(c[0], "Alice")
	reg.Register(c[1], "Bob")
	reg.Register(c[0], "Alicia")

	req.Equal(2, reg.Len())
	req.Equal([]string{"Alicia", "Bob"}, reg.NamesSnapshot())
	name, ok := reg.Lookup(c[0])
	req.True(ok)
	req.Equal("Alicia", name)
}

func TestSessionRegistryUnregister(t *testing.T) {
	req := require.New(t)
	hub := NewHub(Config{}, nil)
	c := newTestClients(t, hub, 3)
	reg := NewSessionRegistry()

	reg.Register(c[0], "Alice")
	reg.Register(c[1], "Bob")
	reg.Register(c[2], "Carol")

	req.True(reg.Unregister(c[1]))
	req.False(reg.Unregister(c[1]))
	req.Equal([]string{"Alice", "Carol"}, reg.NamesSnapshot())

	_, ok := reg.Lookup(c[1])
	req.False(ok)
	name, ok := reg.Lookup(c[2])
	req.True(ok)
	req.Equal("Carol", name)
}

func TestSessionRegistryEmptySnapshotIsNotNil(t *testing.T) {
	names := NewSessionRegistry().NamesSnapshot()
	require.NotNil(t, names)
	require.Empty(t, names)
}
