package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "5000"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 90 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultOrderStore          = "firestore"
	defaultDraftTTL            = 30 * time.Minute
	defaultDraftSweepInterval  = time.Minute
	defaultPricePerPage        = 2.0
	defaultCurrency            = "INR"
	defaultPaymentsProvider    = "razorpay"
	defaultSignedURLTTL        = 24 * time.Hour
	defaultConversionTimeout   = 60 * time.Second
	defaultUploadMaxBytes      = 25 << 20
	defaultNATSSubject         = "quickprint.orders"
	defaultAdminTokenTTL       = 12 * time.Hour
	defaultRatePerMinute       = 30
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = time.Hour
	defaultIdempotencyInterval = 10 * time.Minute
)

var defaultConversionBinaries = []string{"soffice", "libreoffice"}

// Config captures runtime configuration grouped by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Orders      OrdersConfig
	Payments    PaymentsConfig
	Storage     StorageConfig
	Conversion  ConversionConfig
	Events      EventsConfig
	Admin       AdminConfig
	RateLimits  RateLimitConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	PublicBaseURL string
}

// FirebaseConfig controls customer token verification.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	RequireAuth     bool
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// OrdersConfig tunes the order lifecycle.
type OrdersConfig struct {
	Store              string
	DraftTTL           time.Duration
	DraftSweepInterval time.Duration
	PricePerPage       float64
	Currency           string
}

// PaymentsConfig carries gateway credentials.
type PaymentsConfig struct {
	Provider             string
	RazorpayKeyID        string
	RazorpayKeySecret    string
	StripeAPIKey         string
	StripePublishableKey string
}

// StorageConfig selects where uploaded files are kept.
type StorageConfig struct {
	UploadsBucket string
	LocalDir      string
	SignerEmail   string
	SignedURLTTL  time.Duration
}

// ConversionConfig controls the external document converter.
type ConversionConfig struct {
	Binaries       []string
	Timeout        time.Duration
	UploadMaxBytes int64
}

// EventsConfig lists optional order event sinks.
type EventsConfig struct {
	PubSubTopic string
	NATSURL     string
	NATSSubject string
}

// AdminConfig protects the admin-only routes when PasswordHash is set.
type AdminConfig struct {
	PasswordHash string
	JWTSecret    string
	TokenTTL     time.Duration
}

// RateLimitConfig throttles order creation per client.
type RateLimitConfig struct {
	OrdersPerMinute int
}

// IdempotencyConfig controls replay of order initiation.
type IdempotencyConfig struct {
	Header          string
	TTL             time.Duration
	CleanupInterval time.Duration
}

// SecretResolver resolves secret:// references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls f.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists configuration fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes a failed secret lookup.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError reports required secrets that resolved to empty values.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.names, ", "))
}

// Names returns the missing secret field names.
func (e *MissingSecretsError) Names() []string {
	return append([]string(nil), e.names...)
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the dotenv path.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks secret fields (e.g. "Payments.RazorpayKeySecret") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// EnvironmentValues returns the merged key/value view Load would see (dotenv < OS env < explicit map).
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotEnv, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(dotEnv))
	for k, v := range dotEnv {
		values[k] = v
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if ok && strings.TrimSpace(key) != "" {
				values[key] = value
			}
		}
	}
	for k, v := range options.envMap {
		values[k] = v
	}
	return values, nil
}

// Load assembles configuration from defaults, the dotenv file, the environment and secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	dotEnv, err := readDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:          stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:   durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:  durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:   durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			PublicBaseURL: strings.TrimRight(stringWithDefault(lookup, "API_PUBLIC_BASE_URL", ""), "/"),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
			RequireAuth:     boolWithDefault(lookup, "API_AUTH_REQUIRE_FIREBASE", false),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Orders: OrdersConfig{
			Store:              strings.ToLower(stringWithDefault(lookup, "API_ORDER_STORE", defaultOrderStore)),
			DraftTTL:           durationWithDefault(lookup, "API_DRAFT_TTL", defaultDraftTTL),
			DraftSweepInterval: durationWithDefault(lookup, "API_DRAFT_SWEEP_INTERVAL", defaultDraftSweepInterval),
			PricePerPage:       floatWithDefault(lookup, "API_PRICE_PER_PAGE", defaultPricePerPage),
			Currency:           strings.ToUpper(stringWithDefault(lookup, "API_CURRENCY", defaultCurrency)),
		},
		Payments: PaymentsConfig{
			Provider:             strings.ToLower(stringWithDefault(lookup, "API_PAYMENTS_PROVIDER", defaultPaymentsProvider)),
			RazorpayKeyID:        stringWithDefault(lookup, "RAZORPAY_KEY_ID", ""),
			RazorpayKeySecret:    stringWithDefault(lookup, "RAZORPAY_KEY_SECRET", ""),
			StripeAPIKey:         stringWithDefault(lookup, "API_STRIPE_API_KEY", ""),
			StripePublishableKey: stringWithDefault(lookup, "API_STRIPE_PUBLISHABLE_KEY", ""),
		},
		Storage: StorageConfig{
			UploadsBucket: stringWithDefault(lookup, "API_STORAGE_UPLOADS_BUCKET", ""),
			LocalDir:      stringWithDefault(lookup, "API_STORAGE_LOCAL_DIR", "uploads"),
			SignerEmail:   stringWithDefault(lookup, "API_STORAGE_SIGNER_EMAIL", ""),
			SignedURLTTL:  durationWithDefault(lookup, "API_STORAGE_SIGNED_URL_TTL", defaultSignedURLTTL),
		},
		Conversion: ConversionConfig{
			Binaries:       csvWithDefault(lookup, "API_CONVERSION_BINARIES", defaultConversionBinaries),
			Timeout:        durationWithDefault(lookup, "API_CONVERSION_TIMEOUT", defaultConversionTimeout),
			UploadMaxBytes: int64(intWithDefault(lookup, "API_UPLOAD_MAX_BYTES", defaultUploadMaxBytes)),
		},
		Events: EventsConfig{
			PubSubTopic: stringWithDefault(lookup, "API_EVENTS_PUBSUB_TOPIC", ""),
			NATSURL:     stringWithDefault(lookup, "API_EVENTS_NATS_URL", ""),
			NATSSubject: stringWithDefault(lookup, "API_EVENTS_NATS_SUBJECT", defaultNATSSubject),
		},
		Admin: AdminConfig{
			PasswordHash: stringWithDefault(lookup, "API_ADMIN_PASSWORD_HASH", ""),
			JWTSecret:    stringWithDefault(lookup, "API_ADMIN_JWT_SECRET", ""),
			TokenTTL:     durationWithDefault(lookup, "API_ADMIN_TOKEN_TTL", defaultAdminTokenTTL),
		},
		RateLimits: RateLimitConfig{
			OrdersPerMinute: intWithDefault(lookup, "API_RATELIMIT_PER_MINUTE", defaultRatePerMinute),
		},
		Idempotency: IdempotencyConfig{
			Header:          stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:             durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval: durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Payments.RazorpayKeySecret", &cfg.Payments.RazorpayKeySecret},
		{"Payments.StripeAPIKey", &cfg.Payments.StripeAPIKey},
		{"Admin.PasswordHash", &cfg.Admin.PasswordHash},
		{"Admin.JWTSecret", &cfg.Admin.JWTSecret},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	var missing []string
	for _, name := range options.requiredSecrets {
		name = strings.TrimSpace(name)
		if name != "" && resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Config{}, &MissingSecretsError{names: missing}
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") && !strings.HasPrefix(trimmed, "sm://") {
		return value, nil
	}
	ref := "secret://" + strings.TrimPrefix(strings.TrimPrefix(trimmed, "sm://"), "secret://")
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	switch cfg.Orders.Store {
	case "firestore":
		if cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Firestore.ProjectID")
		}
	case "memory":
	default:
		invalid = append(invalid, "Orders.Store")
	}
	if cfg.Orders.DraftTTL <= 0 {
		invalid = append(invalid, "Orders.DraftTTL")
	}
	if cfg.Orders.DraftSweepInterval <= 0 {
		invalid = append(invalid, "Orders.DraftSweepInterval")
	}
	if cfg.Orders.PricePerPage <= 0 {
		invalid = append(invalid, "Orders.PricePerPage")
	}
	if len(cfg.Orders.Currency) != 3 {
		invalid = append(invalid, "Orders.Currency")
	}
	switch cfg.Payments.Provider {
	case "razorpay":
		if cfg.Payments.RazorpayKeyID == "" {
			invalid = append(invalid, "Payments.RazorpayKeyID")
		}
	case "stripe":
		if cfg.Payments.StripePublishableKey == "" {
			invalid = append(invalid, "Payments.StripePublishableKey")
		}
	default:
		invalid = append(invalid, "Payments.Provider")
	}
	if cfg.Admin.PasswordHash != "" && cfg.Admin.JWTSecret == "" {
		invalid = append(invalid, "Admin.JWTSecret")
	}
	if cfg.Conversion.UploadMaxBytes <= 0 {
		invalid = append(invalid, "Conversion.UploadMaxBytes")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		invalid = append(invalid, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		invalid = append(invalid, "Idempotency.CleanupInterval")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
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
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string, fallback []string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
