package upstream

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/fallback"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/failsafe-go/failsafe-go/timeout"
	"gopkg.in/yaml.v3"

	"github.com/davidcastilloc/unify-protect-events-extension-sub000/internal/protect"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/cache"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/logging"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/models"
)

const camerasKey = "cameras"

var defaultCameras = []models.Camera{
	{ID: "camera-front-door", Name: "Front Door", Type: "G4 Doorbell", Location: "Entrance"},
	{ID: "camera-driveway", Name: "Driveway", Type: "G4 Bullet", Location: "Exterior"},
	{ID: "camera-backyard", Name: "Backyard", Type: "G3 Flex", Location: "Garden"},
	{ID: "camera-garage", Name: "Garage", Type: "G4 Instant", Location: "Garage"},
}

// DefaultCameras returns the built-in camera list
func DefaultCameras() []models.Camera {
	return append([]models.Camera(nil), defaultCameras...)
}

type cameraFile struct {
	Cameras []models.Camera `yaml:"cameras"`
}

// LoadCamerasFile reads a static camera list:
//
//	cameras:
//	  - id: cam-1
//	    name: Front Door
//	    type: G4 Doorbell
//	    location: Entrance
func LoadCamerasFile(path string) ([]models.Camera, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cameras file: %w", err)
	}
	var f cameraFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse cameras file %s: %w", path, err)
	}
	seen := make(map[string]struct{}, len(f.Cameras))
	for i, c := range f.Cameras {
		if c.ID == "" {
			return nil, fmt.Errorf("cameras file %s: entry %d has no id", path, i)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("cameras file %s: duplicate id %q", path, c.ID)
		}
		seen[c.ID] = struct{}{}
		if c.Name == "" {
			f.Cameras[i].Name = c.ID
		}
	}
	if len(f.Cameras) == 0 {
		return nil, fmt.Errorf("cameras file %s: no cameras listed", path)
	}
	return f.Cameras, nil
}

func camerasFromBootstrap(b *protect.Bootstrap) []models.Camera {
	out := make([]models.Camera, 0, len(b.Cameras))
	for _, c := range b.Cameras {
		typ := c.MarketName
		if typ == "" {
			typ = c.Type
		}
		out = append(out, models.Camera{ID: c.ID, Name: c.Name, Type: typ})
	}
	return out
}

// cameraCatalog serves the camera list. Reads go through a cache backed by
// the upstream bootstrap; failures degrade to the last good list and then to
// the static list.
type cameraCatalog struct {
	cache   *cache.Cache[[]models.Camera]
	ttl     time.Duration
	static  []models.Camera
	fetch   func(ctx context.Context) ([]models.Camera, error)
	loadExe failsafe.Executor[[]models.Camera]
	getExe  failsafe.Executor[[]models.Camera]
	logger  logging.Logger

	mu    sync.RWMutex
	known []models.Camera
	byID  map[string]models.Camera
}

func newCameraCatalog(ttl time.Duration, static []models.Camera, fetch func(ctx context.Context) ([]models.Camera, error), hooks cache.MetricsHooks, logger logging.Logger) *cameraCatalog {
	if len(static) == 0 {
		static = DefaultCameras()
	}
	cc := &cameraCatalog{
		cache: cache.New[[]models.Camera](cache.Options{
			TTL:                  ttl,
			StaleWhileRevalidate: ttl,
			NegativeTTL:          5 * time.Second,
			MaxEntries:           1,
		}, hooks),
		ttl:    ttl,
		static: static,
		fetch:  fetch,
		logger: logger,
	}
	cc.setKnown(static)

	retry := retrypolicy.NewBuilder[[]models.Camera]().
		WithMaxRetries(1).
		WithBackoff(200*time.Millisecond, time.Second).
		ReturnLastFailure().
		Build()
	cc.loadExe = failsafe.With[[]models.Camera](retry, timeout.New[[]models.Camera](10*time.Second))

	degrade := fallback.NewWithFunc(func(exec failsafe.Execution[[]models.Camera]) ([]models.Camera, error) {
		cc.logger.WithError(exec.LastError()).Warn("Camera list unavailable, serving fallback")
		if last, ok := cc.cache.LastGood(camerasKey); ok {
			return last, nil
		}
		return cc.Known(), nil
	})
	cc.getExe = failsafe.With[[]models.Camera](degrade)
	return cc
}

// List returns the camera list, best effort. It never fails.
func (cc *cameraCatalog) List(ctx context.Context) []models.Camera {
	list, err := cc.getExe.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[[]models.Camera]) ([]models.Camera, error) {
		v, _, err := cc.cache.Get(exec.Context(), camerasKey, cc.load)
		return v, err
	})
	if err != nil || list == nil {
		return cc.Known()
	}
	return append([]models.Camera(nil), list...)
}

func (cc *cameraCatalog) load(ctx context.Context, _ string) ([]models.Camera, bool, error) {
	list, err := cc.loadExe.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[[]models.Camera]) ([]models.Camera, error) {
		return cc.fetch(exec.Context())
	})
	if err != nil {
		return nil, false, err
	}
	if len(list) > 0 {
		cc.setKnown(list)
	}
	return list, true, nil
}

// Store records a list obtained outside the cache, e.g. during connect
func (cc *cameraCatalog) Store(list []models.Camera) {
	if len(list) == 0 {
		return
	}
	cc.cache.Set(camerasKey, list, cc.ttl)
	cc.setKnown(list)
}

func (cc *cameraCatalog) setKnown(list []models.Camera) {
	byID := make(map[string]models.Camera, len(list))
	for _, c := range list {
		byID[c.ID] = c
	}
	cc.mu.Lock()
	cc.known = append([]models.Camera(nil), list...)
	cc.byID = byID
	cc.mu.Unlock()
}

// Known returns the most recent list without any I/O
func (cc *cameraCatalog) Known() []models.Camera {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return append([]models.Camera(nil), cc.known...)
}

// Lookup resolves a camera id against the most recent list
func (cc *cameraCatalog) Lookup(id string) (models.Camera, bool) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	c, ok := cc.byID[id]
	return c, ok
}

// CameraCacheInfo describes the cached camera list for the health endpoint
type CameraCacheInfo struct {
	Cached    bool      `json:"cached"`
	Negative  bool      `json:"negative,omitempty"`
	Error     string    `json:"error,omitempty"`
	Cameras   int       `json:"cameras"`
	ExpiresAt time.Time `json:"expires_at"`
	StaleAt   time.Time `json:"stale_at"`
	Known     int       `json:"known"`
}

// Info reports the cache entry, if any, and the size of the known list
func (cc *cameraCatalog) Info() CameraCacheInfo {
	info := CameraCacheInfo{Known: len(cc.Known())}
	for _, e := range cc.cache.Snapshot() {
		if e.Key != camerasKey {
			continue
		}
		info.Cached = true
		info.Negative = e.Negative
		info.Cameras = len(e.Value)
		info.ExpiresAt = e.ExpiresAt
		info.StaleAt = e.StaleAt
		if e.Err != nil {
			info.Error = e.Err.Error()
		}
	}
	return info
}
