/*
Logic:       Worker credential resolution: a narrow read-only
             secret-fetch contract so a worker's upstream API key never
             has to be read from os.Getenv directly inside transport
             code, plus an env-var default and a trimmed Vault-backed
             implementation for deployments that have one.
Root Cause:  SPEC_FULL.md §11 "Secrets for worker credentials": a
             pluggable SecretResolver, with an env-var resolver as the
             default/dev implementation. Registry itself does not call
             a resolver; worker calls take their key from
             workers.Endpoint.APIKey.
Context:     The cached-read-with-TTL shape is grounded on tokenhub's
             internal/vault.Vault (Argon2id-derived key, AES-GCM secrets
             at rest, an auto-locking in-memory store) narrowed to a
             single read-one-secret path; HashiCorp Vault's KV v2 HTTP
             protocol itself has no analogue anywhere in the pack and is
             implemented directly against Vault's documented API.
             SPEC_FULL.md §12's multi-tenant-isolation Non-goal is why
             only a read-only fetch contract is kept, not a full
             write/rotate/list/BYOK credential-management surface.
*/
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// SecretResolver fetches the credential a worker's SecretRef names. No
// component in this module calls a resolver: Registry does not, and the
// worker transports use workers.Endpoint.APIKey.
type SecretResolver interface {
	Resolve(ctx context.Context, secretRef string) (string, error)
}

// EnvSecretResolver resolves secretRef as an environment variable name
// directly — the default/dev implementation.
type EnvSecretResolver struct{}

func (EnvSecretResolver) Resolve(_ context.Context, secretRef string) (string, error) {
	if secretRef == "" {
		return "", nil
	}
	v, ok := os.LookupEnv(secretRef)
	if !ok {
		return "", fmt.Errorf("secret ref %q not set in environment", secretRef)
	}
	return v, nil
}

// VaultConfig configures a read-only VaultSecretResolver.
type VaultConfig struct {
	Address    string
	Token      string
	MountPath  string
	Namespace  string
	MaxRetries int
	CacheTTL   time.Duration
}

// VaultSecretResolver resolves a secretRef as a Vault KV v2 path,
// caching successful reads for CacheTTL.
type VaultSecretResolver struct {
	cfg    VaultConfig
	client *http.Client

	mu    sync.Mutex
	cache map[string]cachedSecret
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

// NewVaultSecretResolver constructs a resolver against a running Vault
// instance, applying this module's defaults (mount_path=secret,
// max_retries=3) where unset.
func NewVaultSecretResolver(cfg VaultConfig) *VaultSecretResolver {
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &VaultSecretResolver{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		cache:  make(map[string]cachedSecret),
	}
}

// Resolve reads secretRef ("<path>#<field>") from Vault's KV v2 data
// endpoint, retrying any failed read (including a non-200 status) up to
// MaxRetries times.
func (v *VaultSecretResolver) Resolve(ctx context.Context, secretRef string) (string, error) {
	v.mu.Lock()
	if cached, ok := v.cache[secretRef]; ok && time.Now().Before(cached.expiresAt) {
		v.mu.Unlock()
		return cached.value, nil
	}
	v.mu.Unlock()

	path, field, ok := strings.Cut(secretRef, "#")
	if !ok {
		return "", fmt.Errorf("secret ref %q must be path#field", secretRef)
	}

	data, err := v.readSecret(ctx, path)
	if err != nil {
		return "", err
	}
	value, ok := data[field]
	if !ok {
		return "", fmt.Errorf("field %q not present at vault path %q", field, path)
	}

	v.mu.Lock()
	v.cache[secretRef] = cachedSecret{value: value, expiresAt: time.Now().Add(v.cfg.CacheTTL)}
	v.mu.Unlock()
	return value, nil
}

func (v *VaultSecretResolver) readSecret(ctx context.Context, path string) (map[string]string, error) {
	url := fmt.Sprintf("%s/v1/%s/data/%s", v.cfg.Address, v.cfg.MountPath, path)

	var lastErr error
	for attempt := 0; attempt <= v.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		data, err := v.readSecretOnce(ctx, url, path)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("vault read %s failed after %d retries: %w", path, v.cfg.MaxRetries, lastErr)
}

func (v *VaultSecretResolver) readSecretOnce(ctx context.Context, url, path string) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Vault-Token", v.cfg.Token)
	if v.cfg.Namespace != "" {
		req.Header.Set("X-Vault-Namespace", v.cfg.Namespace)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vault read %s: status %d", path, resp.StatusCode)
	}
	var decoded struct {
		Data struct {
			Data map[string]string `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode vault secret %s: %w", path, err)
	}
	return decoded.Data.Data, nil
}
