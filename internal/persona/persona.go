// Package persona resolves agent personas from the agent profile service.
package persona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/kaya7oast/FSDP-sub000/internal/model"
)

// ErrNotFound is returned when the agent does not exist.
var ErrNotFound = errors.New("agent not found")

// Gateway fetches agent personas.
type Gateway interface {
	FetchPersona(ctx context.Context, agentID string) (*model.Persona, error)
}

// HTTPGateway reads personas from GET {baseURL}/agents/{id}.
type HTTPGateway struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPGateway creates a gateway for the agent service at baseURL.
func NewHTTPGateway(baseURL string, httpClient *http.Client) *HTTPGateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// FetchPersona implements Gateway.
func (g *HTTPGateway) FetchPersona(ctx context.Context, agentID string) (*model.Persona, error) {
	endpoint := g.baseURL + "/agents/" + url.PathEscape(agentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch agent %s: %w", agentID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("agent service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var p model.Persona
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode agent %s: %w", agentID, err)
	}
	if p.ID == "" {
		p.ID = agentID
	}
	return &p, nil
}

// MemoryGateway serves personas held in memory.
type MemoryGateway struct {
	mu       sync.RWMutex
	personas map[string]model.Persona
}

// NewMemoryGateway creates a gateway seeded with personas.
func NewMemoryGateway(personas ...model.Persona) *MemoryGateway {
	g := &MemoryGateway{personas: make(map[string]model.Persona, len(personas))}
	for _, p := range personas {
		g.Put(p)
	}
	return g
}

// LoadFile seeds a MemoryGateway from a JSON array of personas.
func LoadFile(path string) (*MemoryGateway, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}

	var personas []model.Persona
	if err := json.Unmarshal(data, &personas); err != nil {
		return nil, fmt.Errorf("parse persona file: %w", err)
	}
	for i, p := range personas {
		if p.ID == "" {
			return nil, fmt.Errorf("persona file entry %d has no id", i)
		}
	}
	return NewMemoryGateway(personas...), nil
}

// Put adds or replaces a persona.
func (g *MemoryGateway) Put(p model.Persona) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.personas[p.ID] = p
}

// FetchPersona implements Gateway.
func (g *MemoryGateway) FetchPersona(_ context.Context, agentID string) (*model.Persona, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p, ok := g.personas[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}
