package app

import (
	"testing"
	"time"

	"github.com/dkeye/relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRejectsDuplicateID(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("a", newQueue(0), time.Now())
	require.NoError(t, err)

	_, err = r.Register("a", newQueue(0), time.Now())
	assert.ErrorIs(t, err, ErrDuplicateConnection)
	assert.Equal(t, 1, r.Count())
}

func TestBindUnknownConnectionIsNoop(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Bind("ghost", "u1", "ann", time.Now())
	assert.False(t, ok)
	_, found := r.ActiveUser("u1")
	assert.False(t, found)
}

func TestLastAuthenticateWins(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	_, _ = r.Register("tab1", newQueue(0), now)
	_, _ = r.Register("tab2", newQueue(0), now)

	first, ok := r.Bind("tab1", "u1", "ann", now)
	require.True(t, ok)
	assert.Empty(t, first.Superseded)

	second, ok := r.Bind("tab2", "u1", "ann", now)
	require.True(t, ok)
	assert.Equal(t, domain.ConnID("tab1"), second.Superseded)

	au, ok := r.ActiveUser("u1")
	require.True(t, ok)
	assert.Equal(t, domain.ConnID("tab2"), au.ConnID)

	// The superseded tab closing must not clear presence.
	c, res := r.Unregister("tab1", now)
	require.NotNil(t, c)
	assert.False(t, res.Owned)
	au, ok = r.ActiveUser("u1")
	require.True(t, ok)
	assert.Equal(t, domain.ConnID("tab2"), au.ConnID)

	_, res = r.Unregister("tab2", now)
	assert.True(t, res.Owned)
	assert.Nil(t, res.Successor)
	_, ok = r.ActiveUser("u1")
	assert.False(t, ok)
}

func TestUnregisterHandsPresenceToLiveConnection(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	for _, id := range []domain.ConnID{"tab1", "tab2", "tab3", "other"} {
		_, _ = r.Register(id, newQueue(0), now)
	}
	_, _ = r.Bind("tab1", "u1", "ann", now)
	_, _ = r.Bind("other", "u2", "bob", now.Add(time.Second))
	_, _ = r.Bind("tab2", "u1", "ann", now.Add(2*time.Second))
	_, _ = r.Bind("tab3", "u1", "ann", now.Add(3*time.Second))
	_, ok := r.SetStatus("tab2", domain.StatusIdle)
	assert.False(t, ok)

	later := now.Add(time.Minute)
	_, res := r.Unregister("tab3", later)
	assert.True(t, res.Owned)
	require.NotNil(t, res.Successor)
	assert.Equal(t, domain.ConnID("tab2"), res.Successor.ID)
	assert.Equal(t, domain.StatusIdle, res.Active.Status)
	assert.Equal(t, later, res.Active.Since)

	au, ok := r.ActiveUser("u1")
	require.True(t, ok)
	assert.Equal(t, domain.ConnID("tab2"), au.ConnID)

	_, res = r.Unregister("tab2", later)
	require.NotNil(t, res.Successor)
	assert.Equal(t, domain.ConnID("tab1"), res.Successor.ID)

	_, res = r.Unregister("tab1", later)
	assert.True(t, res.Owned)
	assert.Nil(t, res.Successor)
	_, ok = r.ActiveUser("u1")
	assert.False(t, ok)
	_, ok = r.ActiveUser("u2")
	assert.True(t, ok)
}

func TestRebindToAnotherUserReleasesPresence(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	_, _ = r.Register("a", newQueue(0), now)
	_, _ = r.Bind("a", "u1", "ann", now)

	res, ok := r.Bind("a", "u2", "bob", now)
	require.True(t, ok)
	assert.Equal(t, domain.UserID("u1"), res.Released)
	_, ok = r.ActiveUser("u1")
	assert.False(t, ok)
	au, ok := r.ActiveUser("u2")
	require.True(t, ok)
	assert.Equal(t, "bob", au.Username)
}

func TestSetStatusRequiresOwnership(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	_, _ = r.Register("tab1", newQueue(0), now)
	_, _ = r.Register("tab2", newQueue(0), now)
	_, _ = r.Bind("tab1", "u1", "ann", now)
	_, _ = r.Bind("tab2", "u1", "ann", now)

	_, ok := r.SetStatus("tab1", domain.StatusIdle)
	assert.False(t, ok)

	au, ok := r.SetStatus("tab2", domain.StatusDND)
	require.True(t, ok)
	assert.Equal(t, domain.StatusDND, au.Status)
}

func TestResolve(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	_, _ = r.Register("conn-b", newQueue(0), now)
	_, _ = r.Bind("conn-b", "u2", "bob", now)

	c, ok := r.Resolve("conn-b")
	require.True(t, ok)
	assert.Equal(t, domain.ConnID("conn-b"), c.ID)

	c, ok = r.Resolve("u2")
	require.True(t, ok)
	assert.Equal(t, domain.ConnID("conn-b"), c.ID)

	_, ok = r.Resolve("nobody")
	assert.False(t, ok)
}
