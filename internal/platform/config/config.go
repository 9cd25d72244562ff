package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultCarrierTimeout       = 20 * time.Second
	defaultCurrency             = "USD"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultPackagePresets       = "standard:30x23x15:120"
	defaultPackagePresetID      = "standard"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firestore     FirestoreConfig
	PSP           PSPConfig
	Carriers      CarrierConfig
	Shipping      ShippingConfig
	Webhooks      WebhookConfig
	Notifications NotificationConfig
	Idempotency   IdempotencyConfig
	Environment   string
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PSPConfig collects secrets for the payment processor.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
}

// CarrierConfig collects credentials and switches for the shipping carriers.
// The secondary carrier may be disabled entirely; mock mode is an explicit
// switch so a missing credential in a live environment still fails loudly.
type CarrierConfig struct {
	EasyPostAPIKey  string
	EasyPostBaseURL string
	ShippoAPIToken  string
	ShippoBaseURL   string
	ShippoEnabled   bool
	MockEnabled     bool
	RequestTimeout  time.Duration
}

// ShippingConfig holds the warehouse origin and the package presets used to
// build parcels for rate shopping.
type ShippingConfig struct {
	FromName       string
	FromStreet1    string
	FromStreet2    string
	FromCity       string
	FromRegion     string
	FromPostalCode string
	FromCountry    string
	FromPhone      string

	Presets         []PackagePreset
	DefaultPresetID string
	Currency        string
}

// PackagePreset is a configured box selectable at rate-shopping time.
type PackagePreset struct {
	ID        string
	LengthCM  float64
	WidthCM   float64
	HeightCM  float64
	TareGrams float64
}

// WebhookConfig contains inbound webhook security parameters.
type WebhookConfig struct {
	TrackingSharedSecret string
}

// NotificationConfig configures the Pub/Sub customer notification publisher.
type NotificationConfig struct {
	ProjectID string
	Topic     string
}

// IdempotencyConfig tunes the idempotency replay store.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves secret:// references to their plaintext values.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to the SecretResolver interface.
type SecretResolverFunc func(ctx context.Context, ref string) (string, error)

// ResolveSecret implements SecretResolver.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError reports configuration fields that failed validation.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: invalid fields: %s", strings.Join(e.fields, ", "))
}

// Fields returns the invalid field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// MissingSecretsError lists the required secrets that could not be resolved.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("config: missing required secrets: %s", strings.Join(e.names, ", "))
}

// Names returns the missing secret identifiers.
func (e *MissingSecretsError) Names() []string {
	return append([]string(nil), e.names...)
}

var errSecretResolverNotConfigured = errors.New("config: secret resolver not configured")

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// Option customises configuration loading.
type Option func(*loaderOptions)

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects an explicit key/value map taking precedence over the
// system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading os environment variables.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks the provided config identifiers as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// Load assembles the application configuration from defaults, .env overrides,
// environment variables, and secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	presets, defaultPreset, err := parsePresets(
		stringWithDefault(lookup, "API_SHIPPING_PACKAGE_PRESETS", defaultPackagePresets),
		stringWithDefault(lookup, "API_SHIPPING_DEFAULT_PRESET", defaultPackagePresetID),
	)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey:        stringWithDefault(lookup, "API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "API_PSP_STRIPE_WEBHOOK_SECRET", ""),
		},
		Carriers: CarrierConfig{
			EasyPostAPIKey:  stringWithDefault(lookup, "API_CARRIER_EASYPOST_API_KEY", ""),
			EasyPostBaseURL: stringWithDefault(lookup, "API_CARRIER_EASYPOST_BASE_URL", ""),
			ShippoAPIToken:  stringWithDefault(lookup, "API_CARRIER_SHIPPO_API_TOKEN", ""),
			ShippoBaseURL:   stringWithDefault(lookup, "API_CARRIER_SHIPPO_BASE_URL", ""),
			ShippoEnabled:   boolWithDefault(lookup, "API_CARRIER_SHIPPO_ENABLED", false),
			MockEnabled:     boolWithDefault(lookup, "API_CARRIER_MOCK_ENABLED", false),
			RequestTimeout:  durationWithDefault(lookup, "API_CARRIER_REQUEST_TIMEOUT", defaultCarrierTimeout),
		},
		Shipping: ShippingConfig{
			FromName:        stringWithDefault(lookup, "API_SHIPPING_FROM_NAME", ""),
			FromStreet1:     stringWithDefault(lookup, "API_SHIPPING_FROM_STREET1", ""),
			FromStreet2:     stringWithDefault(lookup, "API_SHIPPING_FROM_STREET2", ""),
			FromCity:        stringWithDefault(lookup, "API_SHIPPING_FROM_CITY", ""),
			FromRegion:      stringWithDefault(lookup, "API_SHIPPING_FROM_REGION", ""),
			FromPostalCode:  stringWithDefault(lookup, "API_SHIPPING_FROM_POSTAL_CODE", ""),
			FromCountry:     stringWithDefault(lookup, "API_SHIPPING_FROM_COUNTRY", "US"),
			FromPhone:       stringWithDefault(lookup, "API_SHIPPING_FROM_PHONE", ""),
			Presets:         presets,
			DefaultPresetID: defaultPreset,
			Currency:        strings.ToUpper(stringWithDefault(lookup, "API_SHIPPING_CURRENCY", defaultCurrency)),
		},
		Webhooks: WebhookConfig{
			TrackingSharedSecret: stringWithDefault(lookup, "API_WEBHOOK_TRACKING_SECRET", ""),
		},
		Notifications: NotificationConfig{
			ProjectID: stringWithDefault(lookup, "API_NOTIFICATIONS_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "API_NOTIFICATIONS_TOPIC", ""),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Environment: strings.ToLower(stringWithDefault(lookup, "API_ENVIRONMENT", "local")),
	}

	resolved := make(map[string]string)
	secretFields := map[string]*string{
		"PSP.StripeAPIKey":              &cfg.PSP.StripeAPIKey,
		"PSP.StripeWebhookSecret":       &cfg.PSP.StripeWebhookSecret,
		"Carriers.EasyPostAPIKey":       &cfg.Carriers.EasyPostAPIKey,
		"Carriers.ShippoAPIToken":       &cfg.Carriers.ShippoAPIToken,
		"Webhooks.TrackingSharedSecret": &cfg.Webhooks.TrackingSharedSecret,
	}
	for name, field := range secretFields {
		value, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, fmt.Errorf("config: resolve %s: %w", name, err)
		}
		*field = value
		if strings.TrimSpace(value) != "" {
			resolved[name] = value
		}
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Preset returns the preset with the given id, falling back to the default
// preset when id is empty, and reports whether a preset was found.
func (s ShippingConfig) Preset(id string) (PackagePreset, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = s.DefaultPresetID
	}
	for _, preset := range s.Presets {
		if strings.EqualFold(preset.ID, id) {
			return preset, true
		}
	}
	return PackagePreset{}, false
}

func validate(cfg Config) error {
	var invalid []string
	if strings.TrimSpace(cfg.Server.Port) == "" {
		invalid = append(invalid, "Server.Port")
	}
	if len(cfg.Shipping.Presets) == 0 {
		invalid = append(invalid, "Shipping.Presets")
	}
	if _, ok := cfg.Shipping.Preset(cfg.Shipping.DefaultPresetID); !ok {
		invalid = append(invalid, "Shipping.DefaultPresetID")
	}
	if cfg.Carriers.ShippoEnabled && strings.TrimSpace(cfg.Carriers.ShippoAPIToken) == "" {
		invalid = append(invalid, "Carriers.ShippoAPIToken")
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return &ValidationError{fields: invalid}
	}
	return nil
}

// parsePresets parses "id:LxWxH:tare" entries separated by commas, dimensions
// in centimetres and tare in grams.
func parsePresets(raw, defaultID string) ([]PackagePreset, string, error) {
	presets := make([]PackagePreset, 0, 4)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, "", fmt.Errorf("config: malformed package preset %q", entry)
		}
		dims := strings.Split(parts[1], "x")
		if len(dims) != 3 {
			return nil, "", fmt.Errorf("config: malformed preset dimensions %q", parts[1])
		}
		values := make([]float64, 3)
		for i, dim := range dims {
			v, err := strconv.ParseFloat(strings.TrimSpace(dim), 64)
			if err != nil || v <= 0 {
				return nil, "", fmt.Errorf("config: invalid preset dimension %q", dim)
			}
			values[i] = v
		}
		tare, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil || tare < 0 {
			return nil, "", fmt.Errorf("config: invalid preset tare %q", parts[2])
		}
		presets = append(presets, PackagePreset{
			ID:        strings.ToLower(strings.TrimSpace(parts[0])),
			LengthCM:  values[0],
			WidthCM:   values[1],
			HeightCM:  values[2],
			TareGrams: tare,
		})
	}
	defaultID = strings.ToLower(strings.TrimSpace(defaultID))
	return presets, defaultID, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !isSecretReference(trimmed) {
		return trimmed, nil
	}
	if resolver == nil {
		return "", errSecretResolverNotConfigured
	}
	return resolver.ResolveSecret(ctx, normalizeSecretReference(trimmed))
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := resolved[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	return strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://")
}

func normalizeSecretReference(value string) string {
	if strings.HasPrefix(value, "sm://") {
		return "secret://" + strings.TrimPrefix(value, "sm://")
	}
	return value
}

func loadDotEnv(path string) (map[string]string, error) {
	values := make(map[string]string)
	if strings.TrimSpace(path) == "" {
		return values, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}
		return nil, fmt.Errorf("config: open env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, `"'`)
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read env file: %w", err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}
