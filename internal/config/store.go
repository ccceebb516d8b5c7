package config

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/corestash/corestash/errs"
	"github.com/corestash/corestash/internal/event"
	"github.com/corestash/corestash/internal/store"
	"github.com/corestash/corestash/internal/store/fsstore"
	"github.com/corestash/corestash/internal/store/joinstore"
	"github.com/corestash/corestash/internal/store/memstore"
	"github.com/corestash/corestash/internal/store/mountstore"
	"github.com/corestash/corestash/internal/store/sqlstore"
	"github.com/corestash/corestash/internal/store/urlstore"
)

// MountConfig describes a mounted composite: mount is served (and
// alone writable) under point, falling back read-only to backing.
type MountConfig struct {
	Point   string       `mapstructure:"point"`
	Mount   *StoreConfig `mapstructure:"mount"`
	Backing *StoreConfig `mapstructure:"backing"`
}

// BuildStore constructs the Store graph cfg describes, recursing
// through store.join and store.mount for the joined and mounted
// backends. It does not Connect the result — callers decide when,
// passing whatever credentials the chosen backend wants (see
// HTTPConfig.Client for the HTTP backends).
func BuildStore(cfg StoreConfig, bus *event.Bus) (store.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return memstore.New(bus), nil

	case "fs":
		return fsstore.New(bus, cfg.Root, cfg.Marker), nil

	case "fs-locking":
		return fsstore.NewLocking(bus, cfg.Root, cfg.Marker, cfg.LockTimeout), nil

	case "sqlite":
		return sqlstore.New(bus, cfg.Root, cfg.Sqlite.Table, sqlstore.IndexMode(cfg.Sqlite.Index), cfg.Sqlite.IndexColumns), nil

	case "url-static":
		return urlstore.New(bus, cfg.URL.Base, cfg.URL.DataPath, cfg.URL.Query, cfg.URL.PollInterval), nil

	case "url-dynamic":
		return urlstore.NewDynamic(bus, cfg.URL.Base, cfg.URL.Query), nil

	case "joined":
		if len(cfg.Join) == 0 {
			return nil, fmt.Errorf("config: joined backend needs store.join entries: %w", errs.ErrInvalidStore)
		}
		subs := make([]store.Store, len(cfg.Join))
		for i, sub := range cfg.Join {
			s, err := BuildStore(sub, bus)
			if err != nil {
				return nil, err
			}
			subs[i] = s
		}
		return joinstore.New(bus, subs), nil

	case "mounted":
		if cfg.Mount == nil || cfg.Mount.Mount == nil || cfg.Mount.Backing == nil {
			return nil, fmt.Errorf("config: mounted backend needs store.mount.{mount,backing}: %w", errs.ErrInvalidStore)
		}
		mountSub, err := BuildStore(*cfg.Mount.Mount, bus)
		if err != nil {
			return nil, err
		}
		backingSub, err := BuildStore(*cfg.Mount.Backing, bus)
		if err != nil {
			return nil, err
		}
		return mountstore.New(bus, cfg.Mount.Point, mountSub, backingSub), nil

	default:
		return nil, fmt.Errorf("config: unknown store backend %q: %w", cfg.Backend, errs.ErrInvalidStore)
	}
}

// authTransport attaches a fixed Authorization header to every
// request, the credential shape the HTTP backends' Connect expects in
// place of original_source's (user_tag, session) pair.
type authTransport struct {
	header string
	base   http.RoundTripper
}

func (t *authTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	req := r.Clone(r.Context())
	req.Header.Set("Authorization", t.header)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// Client builds an *http.Client carrying this config's credentials, or
// nil if none are set — the value url-static/url-dynamic Store.Connect
// accepts as credentials.
func (c HTTPConfig) Client() *http.Client {
	var header string
	switch {
	case c.Token != "":
		header = "Bearer " + c.Token
	case c.Username != "" || c.Password != "":
		header = "Basic " + basicAuth(c.Username, c.Password)
	default:
		return nil
	}
	return &http.Client{Transport: &authTransport{header: header}}
}

func basicAuth(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
