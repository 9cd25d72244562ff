package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const defaultFallbackPath = ".secrets.local"

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references via Google Secret Manager, with an
// optional local fallback file for development environments.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger
	projectID  string

	fallbackPath string
	fallbackOnce sync.Once
	fallbackVals map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]string
}

type fetcherConfig struct {
	logger       *zap.Logger
	projectID    string
	fallbackPath string
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) { cfg.logger = logger }
}

// WithProject sets the Secret Manager project secrets are read from.
func WithProject(projectID string) Option {
	return func(cfg *fetcherConfig) { cfg.projectID = strings.TrimSpace(projectID) }
}

// WithFallbackFile points at a local key=value file consulted when Secret
// Manager is unreachable or the secret is absent.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) { cfg.fallbackPath = strings.TrimSpace(path) }
}

// WithClient injects a Secret Manager client, mainly for tests.
func WithClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) { cfg.client = client }
}

// WithClientOptions appends options used when dialing the real client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// NewFetcher constructs a Fetcher, dialing Secret Manager unless a client was
// injected.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:       zap.NewNop(),
		fallbackPath: defaultFallbackPath,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	client := cfg.client
	owns := false
	if client == nil {
		real, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("secrets: dial secret manager: %w", err)
		}
		client = real
		owns = true
	}

	return &Fetcher{
		client:       client,
		ownsClient:   owns,
		logger:       cfg.logger,
		projectID:    cfg.projectID,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]string),
	}, nil
}

// Close releases the underlying client when owned by the fetcher.
func (f *Fetcher) Close() error {
	if f == nil || f.client == nil || !f.ownsClient {
		return nil
	}
	return f.client.Close()
}

// Resolve fetches the value behind a secret://name[?version=N] reference.
// Results are cached for the process lifetime; secrets are not hot-reloaded.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	if f == nil {
		return "", errors.New("secrets: fetcher is nil")
	}
	name, version, err := parseReference(ref)
	if err != nil {
		return "", err
	}

	key := name + "@" + version
	f.mu.RLock()
	cached, ok := f.cache[key]
	f.mu.RUnlock()
	if ok {
		return cached, nil
	}

	value, err := f.fetchRemote(ctx, name, version)
	if err != nil {
		if fallback, ok := f.lookupFallback(name); ok {
			f.logger.Warn("secrets: using fallback value", zap.String("secret", name))
			return fallback, nil
		}
		return "", err
	}

	f.mu.Lock()
	f.cache[key] = value
	f.mu.Unlock()
	return value, nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, name, version string) (string, error) {
	if strings.TrimSpace(f.projectID) == "" {
		return "", errors.New("secrets: project id not configured")
	}
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", f.projectID, name, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", fmt.Errorf("secrets: access %s: %w", name, err)
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secrets: empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) lookupFallback(name string) (string, bool) {
	f.fallbackOnce.Do(f.loadFallback)
	if f.fallbackErr != nil {
		return "", false
	}
	value, ok := f.fallbackVals[name]
	return value, ok
}

func (f *Fetcher) loadFallback() {
	f.fallbackVals = make(map[string]string)
	if f.fallbackPath == "" {
		return
	}
	file, err := os.Open(f.fallbackPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.fallbackErr = err
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		f.fallbackVals[key] = strings.TrimSpace(parts[1])
	}
	f.fallbackErr = scanner.Err()
}

func parseReference(ref string) (name, version string, err error) {
	trimmed := strings.TrimSpace(ref)
	trimmed = strings.TrimPrefix(trimmed, "secret://")
	if trimmed == "" {
		return "", "", fmt.Errorf("secrets: invalid reference %q", ref)
	}
	version = "latest"
	if idx := strings.Index(trimmed, "?"); idx >= 0 {
		query := trimmed[idx+1:]
		trimmed = trimmed[:idx]
		if v, ok := strings.CutPrefix(query, "version="); ok && strings.TrimSpace(v) != "" {
			version = strings.TrimSpace(v)
		}
	}
	name = strings.ReplaceAll(strings.Trim(trimmed, "/"), "/", "-")
	if name == "" {
		return "", "", fmt.Errorf("secrets: invalid reference %q", ref)
	}
	return name, version, nil
}
