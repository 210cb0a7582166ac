package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the full process configuration.
type Config struct {
	Server    Server
	Database  Database
	Redis     RedisConfig
	Kafka     Kafka
	RateLimit RateLimit
	Custody   Custody
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	Environment   string
	JWTSigningKey string
	JWTIssuer     string
	LogLevel      string
}

// IsDevelopment reports whether the process runs with development defaults.
func (s Server) IsDevelopment() bool {
	return s.Environment == "" || s.Environment == "development"
}

// Database configures the PostgreSQL pools. An empty URL keeps every store in memory.
type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the eligibility stores. An empty URL keeps them in memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the audit stream. No brokers disables streaming.
type Kafka struct {
	Brokers    []string
	AuditTopic string
	Partitions int32
}

// RateLimit sets per-caller sliding-window budgets. Windows live in Redis
// when it is configured.
type RateLimit struct {
	Disabled      bool
	ReadRequests  int
	WriteRequests int
	Window        time.Duration
}

// Custody carries the domain accounts and limits.
type Custody struct {
	CustodyAccount        common.Address
	EscrowAccount         common.Address
	IssuedToken           common.Address
	IdentityRegistry      common.Address
	DefaultAdmin          common.Address
	DefaultFundManager    common.Address
	MaxWalletsPerIdentity int
	IDSalt                string
	// Assets are the in-process token ledgers besides the issued token.
	Assets []common.Address
	// Allocations fund ledgers at start-up. The zero asset is the native
	// currency.
	Allocations []Allocation
}

// Allocation is one start-up balance, written as asset:holder:amount.
type Allocation struct {
	Asset  common.Address
	Holder common.Address
	Amount *big.Int
}

// FromEnv builds the configuration from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var cfg Config
	var err error

	cfg.Server = Server{
		Addr:          getEnv("CUSTODY_ADDR", ":8080"),
		Environment:   getEnv("CUSTODY_ENV", "development"),
		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
		JWTIssuer:     getEnv("JWT_ISSUER", "custody"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
	if cfg.Server.JWTSigningKey == "" {
		if !cfg.Server.IsDevelopment() {
			return Config{}, fmt.Errorf("JWT_SIGNING_KEY is required outside development")
		}
		// Use a default for development - should be overridden in production
		cfg.Server.JWTSigningKey = "dev-secret-key-change-in-production"
	}

	cfg.Database = Database{URL: os.Getenv("DATABASE_URL")}
	if cfg.Database.MaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 20); err != nil {
		return Config{}, err
	}
	if cfg.Database.MaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 5); err != nil {
		return Config{}, err
	}
	if cfg.Database.ConnMaxLifetime, err = getDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute); err != nil {
		return Config{}, err
	}

	cfg.Redis = RedisConfig{URL: os.Getenv("REDIS_URL")}
	if cfg.Redis.PoolSize, err = getInt("REDIS_POOL_SIZE", 10); err != nil {
		return Config{}, err
	}
	if cfg.Redis.MinIdleConns, err = getInt("REDIS_MIN_IDLE_CONNS", 2); err != nil {
		return Config{}, err
	}
	if cfg.Redis.DialTimeout, err = getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Redis.ReadTimeout, err = getDuration("REDIS_READ_TIMEOUT", 3*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Redis.WriteTimeout, err = getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second); err != nil {
		return Config{}, err
	}

	cfg.Kafka = Kafka{
		Brokers:    splitList(os.Getenv("KAFKA_BROKERS")),
		AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "custody.audit"),
	}
	partitions, err := getInt("KAFKA_AUDIT_PARTITIONS", 3)
	if err != nil {
		return Config{}, err
	}
	cfg.Kafka.Partitions = int32(partitions)

	cfg.RateLimit = RateLimit{Disabled: os.Getenv("RATE_LIMIT_DISABLED") == "true"}
	if cfg.RateLimit.ReadRequests, err = getInt("RATE_LIMIT_READS", 600); err != nil {
		return Config{}, err
	}
	if cfg.RateLimit.WriteRequests, err = getInt("RATE_LIMIT_WRITES", 60); err != nil {
		return Config{}, err
	}
	if cfg.RateLimit.Window, err = getDuration("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RateLimit.ReadRequests <= 0 || cfg.RateLimit.WriteRequests <= 0 || cfg.RateLimit.Window <= 0 {
		return Config{}, fmt.Errorf("rate limit budgets and window must be positive")
	}

	cfg.Custody = Custody{IDSalt: getEnv("CUSTODY_ID_SALT", "custody")}
	if cfg.Custody.MaxWalletsPerIdentity, err = getInt("MAX_WALLETS_PER_IDENTITY", 10); err != nil {
		return Config{}, err
	}
	if cfg.Custody.MaxWalletsPerIdentity <= 0 {
		return Config{}, fmt.Errorf("MAX_WALLETS_PER_IDENTITY must be positive")
	}
	accounts := []struct {
		env      string
		fallback string
		dst      *common.Address
	}{
		{"CUSTODY_ACCOUNT", "0x000000000000000000000000000000000000c057", &cfg.Custody.CustodyAccount},
		{"ESCROW_ACCOUNT", "0x000000000000000000000000000000000000e5c0", &cfg.Custody.EscrowAccount},
		{"ISSUED_TOKEN", "0x0000000000000000000000000000000000007043", &cfg.Custody.IssuedToken},
		{"IDENTITY_REGISTRY", "0x0000000000000000000000000000000000001d00", &cfg.Custody.IdentityRegistry},
		{"DEFAULT_ADMIN", "", &cfg.Custody.DefaultAdmin},
		{"DEFAULT_FUND_MANAGER", "", &cfg.Custody.DefaultFundManager},
	}
	for _, a := range accounts {
		if *a.dst, err = getAddress(a.env, a.fallback); err != nil {
			return Config{}, err
		}
	}
	if cfg.Custody.CustodyAccount == cfg.Custody.EscrowAccount {
		return Config{}, fmt.Errorf("CUSTODY_ACCOUNT and ESCROW_ACCOUNT must differ")
	}
	if cfg.Custody.IssuedToken == (common.Address{}) {
		return Config{}, fmt.Errorf("ISSUED_TOKEN must not be the zero address")
	}
	if cfg.Custody.Assets, err = parseAssets(os.Getenv("CUSTODY_ASSETS"), cfg.Custody.IssuedToken); err != nil {
		return Config{}, err
	}
	if cfg.Custody.Allocations, err = parseAllocations(os.Getenv("CUSTODY_ALLOCATIONS"), cfg.Custody); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getAddress(key, fallback string) (common.Address, error) {
	v := getEnv(key, fallback)
	if v == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s: not a hex address: %q", key, v)
	}
	return common.HexToAddress(v), nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAssets(v string, issued common.Address) ([]common.Address, error) {
	var out []common.Address
	seen := make(map[common.Address]bool)
	for _, part := range splitList(v) {
		if !common.IsHexAddress(part) {
			return nil, fmt.Errorf("CUSTODY_ASSETS: not a hex address: %q", part)
		}
		asset := common.HexToAddress(part)
		switch {
		case asset == (common.Address{}):
			return nil, fmt.Errorf("CUSTODY_ASSETS: the zero address is the native currency")
		case asset == issued:
			return nil, fmt.Errorf("CUSTODY_ASSETS: %s is the issued token", asset.Hex())
		case seen[asset]:
			return nil, fmt.Errorf("CUSTODY_ASSETS: %s listed twice", asset.Hex())
		}
		seen[asset] = true
		out = append(out, asset)
	}
	return out, nil
}

// parseAllocations reads asset:holder:amount entries. Assets must be the
// native currency or one of the configured ledgers; the issued token only
// changes supply through approved mint requests.
func parseAllocations(v string, c Custody) ([]Allocation, error) {
	known := map[common.Address]bool{{}: true}
	for _, a := range c.Assets {
		known[a] = true
	}
	var out []Allocation
	for _, entry := range splitList(v) {
		fields := strings.Split(entry, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("CUSTODY_ALLOCATIONS: want asset:holder:amount, got %q", entry)
		}
		var a Allocation
		var err error
		if a.Asset, err = parseAllocationAsset(fields[0]); err != nil {
			return nil, err
		}
		if !known[a.Asset] {
			return nil, fmt.Errorf("CUSTODY_ALLOCATIONS: %s is not a configured asset", a.Asset.Hex())
		}
		if !common.IsHexAddress(fields[1]) || common.HexToAddress(fields[1]) == (common.Address{}) {
			return nil, fmt.Errorf("CUSTODY_ALLOCATIONS: bad holder %q", fields[1])
		}
		a.Holder = common.HexToAddress(fields[1])
		amount, ok := new(big.Int).SetString(fields[2], 10)
		if !ok || amount.Sign() <= 0 {
			return nil, fmt.Errorf("CUSTODY_ALLOCATIONS: bad amount %q", fields[2])
		}
		a.Amount = amount
		out = append(out, a)
	}
	return out, nil
}

func parseAllocationAsset(v string) (common.Address, error) {
	if v == "native" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("CUSTODY_ALLOCATIONS: bad asset %q", v)
	}
	return common.HexToAddress(v), nil
}
