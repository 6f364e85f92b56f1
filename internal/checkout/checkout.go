package checkout

import (
	"context"
	"fmt"

	"fundline/internal/domain"
)

// Session is an opened provider checkout. Reference becomes the intent's
// provider reference; RedirectURL is where the supporter completes payment.
type Session struct {
	Reference   string
	RedirectURL string
}

// Client opens a hosted checkout session at a payment provider.
type Client interface {
	Provider() domain.Provider
	Open(ctx context.Context, intent domain.Intent, project domain.Project) (Session, error)
}

// Registry maps providers to their checkout clients.
type Registry struct {
	clients map[domain.Provider]Client
}

func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[domain.Provider]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Provider()] = c
	}
	return r
}

func (r *Registry) For(p domain.Provider) (Client, error) {
	c, ok := r.clients[p]
	if !ok {
		return nil, fmt.Errorf("no checkout client for provider %q", p)
	}
	return c, nil
}
