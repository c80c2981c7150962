package vendors

import (
	"strings"

	"github.com/vitalsync/vitalsync/internal/cgm/domain"
)

// Registry dispatches to the vendor client matching a connection's
// vendor name.
type Registry struct {
	clients map[string]domain.Client
}

func NewRegistry(clients ...domain.Client) *Registry {
	registry := &Registry{clients: map[string]domain.Client{}}
	for _, client := range clients {
		if client == nil {
			continue
		}
		vendor := strings.ToLower(strings.TrimSpace(client.Vendor()))
		if vendor == "" {
			continue
		}
		registry.clients[vendor] = client
	}
	return registry
}

func (r *Registry) Client(vendor string) (domain.Client, error) {
	if r == nil {
		return nil, domain.ErrUnsupportedDevice
	}
	vendor = strings.ToLower(strings.TrimSpace(vendor))
	client, ok := r.clients[vendor]
	if !ok {
		return nil, domain.ErrUnsupportedDevice
	}
	return client, nil
}
