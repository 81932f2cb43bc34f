package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// BSC mainnet contract defaults.
const (
	DefaultPancakeRouter = "0x1b81D678ffb9C0263b24A97847620C99d213eB14"
	DefaultPancakeQuoter = "0xB048Bbc1Ee6b733FFfCFb9e9CeF7375518e25997"
	DefaultUniswapRouter = "0xB971eF87ede563556b2ED4b1C0b0019111Dd85d2"
	DefaultUniswapQuoter = "0x78D78E420Da98ad378D7799bE8f4AF69033EB077"
)

// Venue holds the router and quoter addresses for one exchange.
type Venue struct {
	Router string
	Quoter string
}

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL            string
	WSURL             string
	PostgresDSN       string
	ListenAddr        string
	MinSpreadBps      int64
	TradeFractionBps  int64
	SlippageBps       int64
	PollInterval      time.Duration
	TraderKeys        []string
	SeedPools         []string
	SimulatorKey      string
	SimulatorInterval time.Duration
	MetricsOut        string
	MaxRetries        int
	RetryBackoff      time.Duration
	LogLevel          string
	Uniswap           Venue
	Pancake           Venue
}

// Load merges .env, config file, environment variables, and flags into
// Config. Environment variables use the ARBTRADER_ prefix with underscores,
// e.g. ARBTRADER_MIN_SPREAD_BPS.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	// A missing .env file is fine; explicit env always wins over it.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ARBTRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", ":8080")
	v.SetDefault("min-spread-bps", int64(0))
	v.SetDefault("trade-fraction-bps", int64(200))
	v.SetDefault("slippage-bps", int64(50))
	v.SetDefault("poll-interval", 5*time.Second)
	v.SetDefault("simulator-interval", 5*time.Second)
	v.SetDefault("metrics-out", "./data/trader_metrics.jsonl")
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")
	v.SetDefault("uniswap-router", DefaultUniswapRouter)
	v.SetDefault("uniswap-quoter", DefaultUniswapQuoter)
	v.SetDefault("pancake-router", DefaultPancakeRouter)
	v.SetDefault("pancake-quoter", DefaultPancakeQuoter)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:            v.GetString("rpc"),
		WSURL:             v.GetString("ws"),
		PostgresDSN:       v.GetString("pg-dsn"),
		ListenAddr:        v.GetString("listen"),
		MinSpreadBps:      v.GetInt64("min-spread-bps"),
		TradeFractionBps:  v.GetInt64("trade-fraction-bps"),
		SlippageBps:       v.GetInt64("slippage-bps"),
		PollInterval:      v.GetDuration("poll-interval"),
		TraderKeys:        getStringSlice(v, "trader-keys"),
		SeedPools:         getStringSlice(v, "seed-pools"),
		SimulatorKey:      v.GetString("simulator-key"),
		SimulatorInterval: v.GetDuration("simulator-interval"),
		MetricsOut:        v.GetString("metrics-out"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		LogLevel:          v.GetString("log-level"),
		Uniswap: Venue{
			Router: v.GetString("uniswap-router"),
			Quoter: v.GetString("uniswap-quoter"),
		},
		Pancake: Venue{
			Router: v.GetString("pancake-router"),
			Quoter: v.GetString("pancake-quoter"),
		},
	}

	return cfg, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
