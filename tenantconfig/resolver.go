// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

package tenantconfig

import (
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/arclab/eln/eln"
)

var tenantName = regexp.MustCompile(`^[a-z0-9]+$`)

// envOverrides maps infrastructure identifiers to the environment variables
// that override them. Only identifiers known at provisioning time are
// overridable; policy keys are not.
var envOverrides = map[string]string{
	"storage.root":    "ELN_STORAGE_ROOT",
	"storage.prefix":  "ELN_STORAGE_PREFIX",
	"storage.region":  "ELN_STORAGE_REGION",
	"auth.pool_id":    "ELN_AUTH_POOL_ID",
	"auth.client_id":  "ELN_AUTH_CLIENT_ID",
	"auth.issuer_url": "ELN_AUTH_ISSUER_URL",
	"auth.jwks_url":   "ELN_AUTH_JWKS_URL",
	"auth.region":     "ELN_AUTH_REGION",
}

// baseFile is the process-level configuration: host bindings plus the base
// environment record that tenant overrides merge onto.
type baseFile struct {
	Environment   string            `mapstructure:"environment"`
	DefaultTenant string            `mapstructure:"default_tenant"`
	Hosts         map[string]string `mapstructure:"hosts"`
	Defaults      map[string]any    `mapstructure:"defaults"`
}

// Resolver lazily resolves and caches per-tenant configuration. Failures are
// cached as negative results until process restart.
type Resolver struct {
	log *zap.Logger
	dir string

	mu    sync.Mutex
	base  *baseFile
	cache map[string]*resolved
}

type resolved struct {
	config *Config
	err    error
}

// NewResolver creates a resolver reading from dir, which must contain
// base.yaml and a tenants/ directory with one yaml file per tenant.
func NewResolver(log *zap.Logger, dir string) *Resolver {
	return &Resolver{
		log:   log,
		dir:   dir,
		cache: map[string]*resolved{},
	}
}

// TenantForHost maps a request host to a tenant using the configured host
// bindings, falling back to the default tenant.
func (resolver *Resolver) TenantForHost(host string) (string, error) {
	base, err := resolver.loadBase()
	if err != nil {
		return "", err
	}
	if h, _, splitErr := net.SplitHostPort(host); splitErr == nil {
		host = h
	}
	if tenant, ok := base.Hosts[strings.ToLower(host)]; ok {
		return tenant, nil
	}
	if base.DefaultTenant == "" {
		return "", eln.ErrNotFound.Wrap(Error.New("no tenant bound to host %q", host))
	}
	return base.DefaultTenant, nil
}

// Resolve returns the resolved record for tenant, consulting the cache
// first. Both success and failure are cached.
func (resolver *Resolver) Resolve(tenant string) (*Config, error) {
	resolver.mu.Lock()
	defer resolver.mu.Unlock()

	if cached, ok := resolver.cache[tenant]; ok {
		return cached.config, cached.err
	}

	config, err := resolver.resolveLocked(tenant)
	if err != nil {
		resolver.log.Error("tenant resolution failed; caching negative result",
			zap.String("tenant", tenant), zap.Error(err))
	}
	resolver.cache[tenant] = &resolved{config: config, err: err}
	return config, err
}

func (resolver *Resolver) resolveLocked(tenant string) (*Config, error) {
	if !tenantName.MatchString(tenant) {
		return nil, eln.ErrInvalid.Wrap(Error.New("invalid tenant name %q", tenant))
	}
	base, err := resolver.loadBaseLocked()
	if err != nil {
		return nil, err
	}

	merged := deepCopy(base.Defaults)

	override, err := loadYAML(filepath.Join(resolver.dir, "tenants", tenant+".yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eln.ErrNotFound.Wrap(Error.New("tenant %q has no configuration", tenant))
		}
		return nil, eln.ErrIO.Wrap(Error.Wrap(err))
	}
	merged = deepMerge(merged, override)

	applyEnv(merged)

	config := &Config{Tenant: tenant, Environment: base.Environment}
	if err := decode(merged, config); err != nil {
		return nil, eln.ErrInvalid.Wrap(Error.Wrap(err))
	}
	if err := config.Validate(); err != nil {
		return nil, eln.ErrInvalid.Wrap(err)
	}
	return config, nil
}

func (resolver *Resolver) loadBase() (*baseFile, error) {
	resolver.mu.Lock()
	defer resolver.mu.Unlock()
	return resolver.loadBaseLocked()
}

func (resolver *Resolver) loadBaseLocked() (*baseFile, error) {
	if resolver.base != nil {
		return resolver.base, nil
	}
	raw, err := loadYAML(filepath.Join(resolver.dir, "base.yaml"))
	if err != nil {
		return nil, eln.ErrIO.Wrap(Error.Wrap(err))
	}
	base := &baseFile{}
	if err := decode(raw, base); err != nil {
		return nil, eln.ErrInvalid.Wrap(Error.Wrap(err))
	}
	resolver.base = base
	return base, nil
}

// loadYAML reads a yaml mapping preserving key case; viper is not used here
// because it lower-cases nested keys, which would mangle group names and
// host bindings.
func loadYAML(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decode(raw map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: "mapstructure",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

// deepMerge merges override onto base: mappings recurse, scalars and
// sequences from override win.
func deepMerge(base, override map[string]any) map[string]any {
	out := deepCopy(base)
	for key, value := range override {
		if overrideMap, ok := asMap(value); ok {
			if baseMap, ok := asMap(out[key]); ok {
				out[key] = deepMerge(baseMap, overrideMap)
				continue
			}
		}
		out[key] = value
	}
	return out
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		if valueMap, ok := asMap(value); ok {
			out[key] = deepCopy(valueMap)
			continue
		}
		out[key] = value
	}
	return out
}

func asMap(value any) (map[string]any, bool) {
	switch typed := value.(type) {
	case map[string]any:
		return typed, true
	case map[any]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = v
		}
		return out, true
	}
	return nil, false
}

// applyEnv overlays infrastructure identifiers from the process environment
// onto the merged record.
func applyEnv(merged map[string]any) {
	for dotted, envKey := range envOverrides {
		value, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}
		section, key, _ := strings.Cut(dotted, ".")
		child, ok := asMap(merged[section])
		if !ok {
			child = map[string]any{}
		}
		child[key] = value
		merged[section] = child
	}
}
