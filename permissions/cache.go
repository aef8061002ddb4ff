// Package permissions translates between the backend's permission ids and
// resource/action pairs.
package permissions

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/kb-console/internal/clock"
	apperrors "github.com/jrsteele09/kb-console/internal/errors"
	"github.com/jrsteele09/kb-console/internal/logging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL         = 5 * time.Minute
	defaultLoadTimeout = 30 * time.Second
)

// Permission is one entry of the backend's permission catalogue.
type Permission struct {
	ID          string `json:"id"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

// Loader fetches the full permission catalogue.
type Loader interface {
	Load(ctx context.Context) ([]Permission, error)
}

// Requester performs an authenticated JSON call.
type Requester interface {
	JSON(ctx context.Context, method, url string, in, out any) error
}

// HTTPLoader reads the catalogue from GET {baseURL}/permissions.
type HTTPLoader struct {
	requester Requester
	url       string
}

func NewHTTPLoader(requester Requester, baseURL string) *HTTPLoader {
	return &HTTPLoader{requester: requester, url: strings.TrimRight(baseURL, "/") + "/permissions"}
}

func (l *HTTPLoader) Load(ctx context.Context) ([]Permission, error) {
	var catalogue []Permission
	if err := l.requester.JSON(ctx, http.MethodGet, l.url, nil, &catalogue); err != nil {
		return nil, apperrors.Wrapf(err, "[permissions HTTPLoader.Load] loading catalogue")
	}
	return catalogue, nil
}

// MappingCache holds the catalogue for a fixed TTL. Concurrent lookups that
// find it stale share a single load.
type MappingCache struct {
	loader      Loader
	ttl         time.Duration
	loadTimeout time.Duration
	clock       clock.Clock
	log         zerolog.Logger
	group       singleflight.Group

	mu      sync.RWMutex
	current *snapshot
	// generation advances on Invalidate; a load begun before it is not kept
	generation uint64
}

type resourceAction struct {
	resource string
	action   string
}

// snapshot is one loaded catalogue. It is never modified after a load.
type snapshot struct {
	byID     map[string]Permission
	byKey    map[resourceAction]string
	loadedAt time.Time
}

type CacheOption func(*MappingCache)

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *MappingCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLoadTimeout bounds a single catalogue load.
func WithLoadTimeout(d time.Duration) CacheOption {
	return func(c *MappingCache) {
		if d > 0 {
			c.loadTimeout = d
		}
	}
}

func WithClock(cl clock.Clock) CacheOption {
	return func(c *MappingCache) {
		c.clock = cl
	}
}

func WithLogger(log zerolog.Logger) CacheOption {
	return func(c *MappingCache) {
		c.log = logging.Component(log, "permissions")
	}
}

func NewMappingCache(loader Loader, options ...CacheOption) *MappingCache {
	c := &MappingCache{
		loader:      loader,
		ttl:         DefaultTTL,
		loadTimeout: defaultLoadTimeout,
		clock:       clock.Real(),
		log:         zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// PermissionID returns the id of the permission granting action on resource.
func (c *MappingCache) PermissionID(ctx context.Context, resource, action string) (string, error) {
	snap, err := c.ensure(ctx)
	if err != nil {
		return "", err
	}
	id, ok := snap.byKey[resourceAction{resource, action}]
	if !ok {
		return "", fmt.Errorf("%w: permission %q on %q", apperrors.ErrNotFound, action, resource)
	}
	return id, nil
}

// ResourceAction returns the permission with the given id.
func (c *MappingCache) ResourceAction(ctx context.Context, id string) (Permission, error) {
	snap, err := c.ensure(ctx)
	if err != nil {
		return Permission{}, err
	}
	p, ok := snap.byID[id]
	if !ok {
		return Permission{}, fmt.Errorf("%w: permission %s", apperrors.ErrNotFound, id)
	}
	return p, nil
}

// ResolveAll maps ids to permissions in order. Unknown ids are left out and
// reported in an ErrNotFound error alongside the ones that resolved.
func (c *MappingCache) ResolveAll(ctx context.Context, ids []string) ([]Permission, error) {
	snap, err := c.ensure(ctx)
	if err != nil {
		return nil, err
	}

	resolved := make([]Permission, 0, len(ids))
	var missing []string
	for _, id := range ids {
		if p, ok := snap.byID[id]; ok {
			resolved = append(resolved, p)
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return resolved, fmt.Errorf("%w: permissions %s", apperrors.ErrNotFound, strings.Join(missing, ", "))
	}
	return resolved, nil
}

// Invalidate drops the cached catalogue; the next lookup reloads it.
func (c *MappingCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	c.generation++
}

func (c *MappingCache) ensure(ctx context.Context) (*snapshot, error) {
	c.mu.RLock()
	current, generation := c.current, c.generation
	c.mu.RUnlock()
	if current != nil && c.clock.Now().Sub(current.loadedAt) < c.ttl {
		return current, nil
	}

	// Lookups after an Invalidate must not join a load that began before it.
	key := "catalogue/" + strconv.FormatUint(generation, 10)
	ch := c.group.DoChan(key, func() (any, error) {
		// The load is shared, so it outlives the caller that started it.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()
		return c.load(loadCtx, generation)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *MappingCache) load(ctx context.Context, generation uint64) (*snapshot, error) {
	catalogue, err := c.loader.Load(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("permission catalogue load failed")
		return nil, err
	}

	snap := &snapshot{
		byID:     make(map[string]Permission, len(catalogue)),
		byKey:    make(map[resourceAction]string, len(catalogue)),
		loadedAt: c.clock.Now(),
	}
	for _, p := range catalogue {
		snap.byID[p.ID] = p
		snap.byKey[resourceAction{p.Resource, p.Action}] = p.ID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		c.log.Debug().Msg("catalogue invalidated during load, not caching it")
		return snap, nil
	}
	c.current = snap
	c.log.Debug().Int("permissions", len(catalogue)).Msg("permission catalogue loaded")
	return snap, nil
}
