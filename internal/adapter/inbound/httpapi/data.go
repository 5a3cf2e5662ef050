package httpapi

import (
	"net/http"
	"time"

	"github.com/rhymu8354/alfred/internal/domain/access"
	"github.com/rhymu8354/alfred/internal/domain/document"
)

// StoreReader is the narrow Store capability the HTTP API needs: a
// role-projected read. Satisfied by *store.Store.
type StoreReader interface {
	Get(path []string, held access.RoleSet) document.Value
}

// publicRole is the role the spec's GET /data resource reads as (spec
// §4.5): an anonymous HTTP caller holds exactly the "public" role, never
// the admin-equivalent empty set.
var publicRole = access.NewRoleSet("public")

// DataOption configures RegisterDataResource.
type DataOption func(*dataConfig)

type dataConfig struct {
	onProjection func(time.Duration)
}

// WithProjectionObserver calls fn with the wall-clock duration of every
// Store.Get behind GET /data, backing the alfred_projection_duration_seconds
// histogram.
func WithProjectionObserver(fn func(time.Duration)) DataOption {
	return func(c *dataConfig) { c.onProjection = fn }
}

// RegisterDataResource wires the catch-all 404 resource and the GET
// /data resource spec §4.5 names onto rt.
func RegisterDataResource(rt *Router, store StoreReader, opts ...DataOption) {
	cfg := dataConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	rt.Register(NewResource(nil, nil, func(r *http.Request) any {
		return map[string]string{"message": "No such resource defined"}
	}))

	rt.Register(NewResource([]string{"data"}, []string{http.MethodGet}, func(r *http.Request) any {
		start := time.Now()
		v := store.Get(splitPath(r.URL.Path), publicRole)
		if cfg.onProjection != nil {
			cfg.onProjection(time.Since(start))
		}
		return v.ToAny()
	}))
}
