package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/dkeye/relay/internal/protocol"
)

var ErrNoIdentity = errors.New("no cached identity and no identity provider")

type Identity struct {
	UserID   protocol.ID `json:"userId"`
	Username string      `json:"username"`
}

func (i Identity) valid() bool { return !i.UserID.IsZero() && i.Username != "" }

type IdentityProvider interface {
	Identity(ctx context.Context) (Identity, error)
}

// HTTPIdentity fetches the identity from a user profile endpoint returning
// {"userId": ..., "username": ...}.
type HTTPIdentity struct {
	URL    string
	Client *http.Client
}

func (h HTTPIdentity) Identity(ctx context.Context) (Identity, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("identity request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("identity request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("identity request: status %d", resp.StatusCode)
	}
	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return Identity{}, fmt.Errorf("identity decode: %w", err)
	}
	if !id.valid() {
		return Identity{}, errors.New("identity response lacks userId or username")
	}
	return id, nil
}

// identityCache holds the identity once known. A failed fetch is retried
// on the next connect.
type identityCache struct {
	provider IdentityProvider

	mu     sync.Mutex
	cached *Identity
}

func (c *identityCache) get(ctx context.Context) (Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached != nil {
		return *c.cached, nil
	}
	if c.provider == nil {
		return Identity{}, ErrNoIdentity
	}
	id, err := c.provider.Identity(ctx)
	if err != nil {
		return Identity{}, err
	}
	c.cached = &id
	return id, nil
}
