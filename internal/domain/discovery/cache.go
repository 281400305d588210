package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mcp-chat-server/internal/domain/llm"
)

// DefaultTTL bounds how long a built tool map stays valid.
const DefaultTTL = 5 * time.Minute

// Cache maps tool names to the server hosting them. The map carries a single
// build timestamp: it is rebuilt wholesale on expiry, never patched for
// individual tools. Duplicate tool names across servers resolve to the last
// discovered server.
type Cache struct {
	client Client
	ttl    time.Duration
	log    zerolog.Logger

	mu          sync.Mutex
	toolServers map[string]string
	definitions []llm.ToolDefinition
	builtAt     time.Time
	hits        uint64
	misses      uint64
}

// NewCache constructs a discovery cache over the given client.
func NewCache(client Client, ttl time.Duration, log zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		client:      client,
		ttl:         ttl,
		log:         log,
		toolServers: make(map[string]string),
	}
}

// FindServer resolves a tool name to a server identifier. An expired or
// never-built map triggers a synchronous wholesale rebuild; a tool absent
// from a valid map is reported as not found without rebuilding, so discovery
// outages are not hammered inside one TTL window.
func (c *Cache) FindServer(ctx context.Context, toolName string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.validLocked() {
		c.misses++
		c.rebuildLocked(ctx)
		serverID, ok := c.toolServers[toolName]
		return serverID, ok
	}

	serverID, ok := c.toolServers[toolName]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return serverID, ok
}

// ToolDefinitions returns the tool contracts discovered during the last
// rebuild, rebuilding first if the map has expired.
func (c *Cache) ToolDefinitions(ctx context.Context) []llm.ToolDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.validLocked() {
		c.rebuildLocked(ctx)
	}
	defs := make([]llm.ToolDefinition, len(c.definitions))
	copy(defs, c.definitions)
	return defs
}

// Invalidate forces a rebuild on the next lookup. Safe to call at any time,
// including while another caller is mid-rebuild; the next read simply
// triggers another rebuild.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.toolServers = make(map[string]string)
	c.definitions = nil
	c.builtAt = time.Time{}
	c.mu.Unlock()
}

// Reset invalidates the cache and zeroes the lookup counters.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.toolServers = make(map[string]string)
	c.definitions = nil
	c.builtAt = time.Time{}
	c.hits = 0
	c.misses = 0
	c.mu.Unlock()
}

// HandleMemoryPressure is registered against the memory-pressure signal and
// evicts the tool map early.
func (c *Cache) HandleMemoryPressure() {
	c.log.Warn().Msg("memory pressure signal received, evicting discovery cache")
	c.Invalidate()
}

// Stats returns the cumulative lookup counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Hits: c.hits, Misses: c.misses}
	if total := c.hits + c.misses; total > 0 {
		s.Rate = float64(c.hits) / float64(total)
	}
	return s
}

func (c *Cache) validLocked() bool {
	return !c.builtAt.IsZero() && time.Since(c.builtAt) < c.ttl
}

// rebuildLocked replaces the whole map from the discovery endpoint. A server
// that fails to answer is skipped; its tools are simply absent until the next
// rebuild. A discovery endpoint failure leaves the map empty but still stamps
// it valid for the TTL window, so callers see not-found instead of retry
// storms during an outage.
func (c *Cache) rebuildLocked(ctx context.Context) {
	newMap := make(map[string]string)
	defsByName := make(map[string]llm.ToolDefinition)
	var order []string

	servers, err := c.client.ListServers(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("tool server discovery failed, caching empty map")
		c.toolServers = newMap
		c.definitions = nil
		c.builtAt = time.Now()
		return
	}

	for _, server := range servers {
		tools, err := c.client.ListServerTools(ctx, server.ID)
		if err != nil {
			c.log.Warn().
				Err(err).
				Str("server_id", server.ID).
				Str("server_name", server.Name).
				Msg("skipping unreachable server during discovery rebuild")
			continue
		}
		for _, t := range tools {
			if !t.Enabled {
				continue
			}
			// Last discovered server wins for duplicate tool names.
			if _, seen := newMap[t.Name]; !seen {
				order = append(order, t.Name)
			}
			newMap[t.Name] = server.ID
			defsByName[t.Name] = llm.ToolDefinition{
				Type: "function",
				Function: llm.ToolFunctionSchema{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.InputSchema,
				},
			}
		}
	}

	defs := make([]llm.ToolDefinition, 0, len(order))
	for _, name := range order {
		defs = append(defs, defsByName[name])
	}

	c.toolServers = newMap
	c.definitions = defs
	c.builtAt = time.Now()

	c.log.Info().
		Int("servers", len(servers)).
		Int("tools", len(newMap)).
		Msg("discovery cache rebuilt")
}
