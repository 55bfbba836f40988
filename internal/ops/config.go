package ops

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"execution-core/internal/pipeline"
	"execution-core/internal/recon"
	"execution-core/internal/recorder"
	"execution-core/internal/risk"
	"execution-core/internal/schema"
	"execution-core/internal/venue"
	"execution-core/pkg/conn"
)

const envPrefix = "execd"

// FileConfig mirrors the config file layout. Numeric money fields are
// decimal strings resolved to scaled integers per symbol.
type FileConfig struct {
	Registry  RegistryConfig  `mapstructure:"registry"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Venue     VenueConfigs    `mapstructure:"venue"`
	Recon     ReconConfig     `mapstructure:"recon"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
	Intents   []IntentConfig  `mapstructure:"intents"`
}

// LedgerConfig seeds the position ledger.
type LedgerConfig struct {
	InitialCash string `mapstructure:"initial_cash"`
}

// VenueConfigs tunes the built-in adapters.
type VenueConfigs struct {
	FeeBps     int64             `mapstructure:"fee_bps"`
	MarkPrices map[string]string `mapstructure:"mark_prices"`
	Chaos      ChaosConfig       `mapstructure:"chaos"`
}

// ChaosConfig mirrors venue.ChaosConfig with file-friendly keys.
type ChaosConfig struct {
	Seed        int64         `mapstructure:"seed"`
	TimeoutRate float64       `mapstructure:"timeout_rate"`
	RejectRate  float64       `mapstructure:"reject_rate"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// RegistryConfig defines venue and symbol mappings.
type RegistryConfig struct {
	Venues  []VenueConfig  `mapstructure:"venues"`
	Symbols []SymbolConfig `mapstructure:"symbols"`
}

// VenueConfig describes a venue entry.
type VenueConfig struct {
	Name string `mapstructure:"name"`
}

// SymbolConfig describes a symbol entry.
type SymbolConfig struct {
	Name  string      `mapstructure:"name"`
	Venue string      `mapstructure:"venue"`
	Scale ScaleConfig `mapstructure:"scale"`
}

// ScaleConfig mirrors schema.ScaleSpec with file-friendly keys.
type ScaleConfig struct {
	Price    int32 `mapstructure:"price"`
	Quantity int32 `mapstructure:"quantity"`
	Notional int32 `mapstructure:"notional"`
	Fee      int32 `mapstructure:"fee"`
}

// RiskConfig carries static risk limits as decimal strings.
type RiskConfig struct {
	KillSwitch       bool          `mapstructure:"kill_switch"`
	PauseSwitch      bool          `mapstructure:"pause_switch"`
	MaxOrderQty      string        `mapstructure:"max_order_qty"`
	MaxOrderNotional string        `mapstructure:"max_order_notional"`
	MaxPosition      string        `mapstructure:"max_position"`
	OrderRateLimit   int           `mapstructure:"order_rate_limit"`
	OrderRateWindow  time.Duration `mapstructure:"order_rate_window"`
}

// PipelineConfig selects the execution mode and dispatch behavior.
type PipelineConfig struct {
	Mode            string        `mapstructure:"mode"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	DispatchRetries int           `mapstructure:"dispatch_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
}

// ReconConfig controls reconciliation thresholds and the scheduler.
// ExternalSnapshot points at the venue snapshot file the scheduler reads
// each run; when empty the scheduler stays off.
type ReconConfig struct {
	WarnBps          int64         `mapstructure:"warn_bps"`
	FailBps          int64         `mapstructure:"fail_bps"`
	Interval         time.Duration `mapstructure:"interval"`
	TopN             int           `mapstructure:"top_n"`
	SessionID        string        `mapstructure:"session_id"`
	ExternalSnapshot string        `mapstructure:"external_snapshot"`
}

// AuditConfig controls WAL persistence and the archive queue.
type AuditConfig struct {
	WALDir             string        `mapstructure:"wal_dir"`
	SegmentMaxBytes    int64         `mapstructure:"segment_max_bytes"`
	SegmentMaxDuration time.Duration `mapstructure:"segment_max_duration"`
	QueueSize          int           `mapstructure:"queue_size"`
	FlushInterval      time.Duration `mapstructure:"flush_interval"`
	SyncInterval       time.Duration `mapstructure:"sync_interval"`
	BusQueueSize       int           `mapstructure:"bus_queue_size"`
}

// ArchiveConfig controls the optional PostgreSQL archiver.
type ArchiveConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	Database      string        `mapstructure:"database"`
	SSLMode       string        `mapstructure:"ssl_mode"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// ProfilingConfig controls continuous profiling.
type ProfilingConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	ServerAddress   string `mapstructure:"server_address"`
	ApplicationName string `mapstructure:"application_name"`
}

// IntentConfig describes one demo intent to publish.
type IntentConfig struct {
	StrategyID  uint32        `mapstructure:"strategy_id"`
	Symbol      string        `mapstructure:"symbol"`
	Side        string        `mapstructure:"side"`
	Type        string        `mapstructure:"type"`
	TimeInForce string        `mapstructure:"time_in_force"`
	Price       string        `mapstructure:"price"`
	Qty         string        `mapstructure:"qty"`
	Nonce       uint64        `mapstructure:"nonce"`
	Repeat      int           `mapstructure:"repeat"`
	Interval    time.Duration `mapstructure:"interval"`
}

// IntentSpec is a resolved demo intent.
type IntentSpec struct {
	Intent   schema.OrderIntent
	Repeat   int
	Interval time.Duration
}

// ArchiveSpec is the resolved archive wiring.
type ArchiveSpec struct {
	Enabled       bool
	Conn          conn.Option
	BatchSize     int
	FlushInterval time.Duration
}

// VenueSpec is the resolved adapter tuning.
type VenueSpec struct {
	FeeBps     int64
	MarkPrices map[schema.SymbolID]schema.Price
	Chaos      venue.ChaosConfig
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Registry         *schema.Registry
	InitialCash      schema.Notional
	Risk             risk.Config
	Pipeline         pipeline.Config
	Venue            VenueSpec
	Thresholds       recon.Thresholds
	Scheduler        recon.SchedulerConfig
	ExternalSnapshot string
	Recorder         recorder.Config
	BusQueue         int
	Archive          ArchiveSpec
	Profiling        ProfilingConfig
	Intents          []IntentSpec
}

// Load reads the config file, applies execd_* environment overrides and
// resolves everything against the registry.
func Load(path string) (Loaded, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return Loaded{}, fmt.Errorf("config file not found: %s", path)
		}
		return Loaded{}, fmt.Errorf("read config: %w", err)
	}

	var cfg FileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return Loaded{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return Resolve(cfg)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ledger.initial_cash", "1000000")

	v.SetDefault("pipeline.mode", "")
	v.SetDefault("pipeline.dispatch_timeout", "2s")
	v.SetDefault("pipeline.dispatch_retries", 2)
	v.SetDefault("pipeline.retry_backoff", "100ms")

	v.SetDefault("recon.warn_bps", 100)
	v.SetDefault("recon.fail_bps", 500)
	v.SetDefault("recon.interval", "1m")
	v.SetDefault("recon.top_n", 20)

	v.SetDefault("audit.wal_dir", "data/audit")
	v.SetDefault("audit.queue_size", 4096)
	v.SetDefault("audit.flush_interval", "100ms")
	v.SetDefault("audit.sync_interval", "1s")
	v.SetDefault("audit.bus_queue_size", 8192)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.batch_size", 256)
	v.SetDefault("archive.flush_interval", "1s")

	v.SetDefault("profiling.enabled", false)
	v.SetDefault("profiling.application_name", "execution-core")
}

// Resolve builds the registry and converts decimal strings into scaled
// integers.
func Resolve(cfg FileConfig) (Loaded, error) {
	registry, err := buildRegistry(cfg.Registry)
	if err != nil {
		return Loaded{}, err
	}
	riskCfg, err := resolveRisk(cfg.Risk)
	if err != nil {
		return Loaded{}, err
	}
	pipelineCfg, err := resolvePipeline(cfg.Pipeline)
	if err != nil {
		return Loaded{}, err
	}
	venueSpec, err := resolveVenue(cfg.Venue, registry)
	if err != nil {
		return Loaded{}, err
	}
	intents, err := resolveIntents(cfg.Intents, registry)
	if err != nil {
		return Loaded{}, err
	}
	initialCash := int64(0)
	if cfg.Ledger.InitialCash != "" {
		initialCash, err = schema.ParseScaled(cfg.Ledger.InitialCash, schema.DefaultScaleSpec().NotionalScale)
		if err != nil {
			return Loaded{}, fmt.Errorf("ledger.initial_cash: %w", err)
		}
	}

	return Loaded{
		Registry:    registry,
		InitialCash: schema.Notional(initialCash),
		Risk:        riskCfg,
		Pipeline:    pipelineCfg,
		Venue:       venueSpec,
		Thresholds:  recon.Thresholds{WarnBps: cfg.Recon.WarnBps, FailBps: cfg.Recon.FailBps},
		Scheduler: recon.SchedulerConfig{
			Interval:  cfg.Recon.Interval,
			TopN:      cfg.Recon.TopN,
			SessionID: cfg.Recon.SessionID,
		},
		ExternalSnapshot: cfg.Recon.ExternalSnapshot,
		Recorder: recorder.Config{
			Dir:                cfg.Audit.WALDir,
			SegmentMaxBytes:    cfg.Audit.SegmentMaxBytes,
			SegmentMaxDuration: cfg.Audit.SegmentMaxDuration,
			QueueSize:          cfg.Audit.QueueSize,
			FlushInterval:      cfg.Audit.FlushInterval,
			SyncInterval:       cfg.Audit.SyncInterval,
		},
		BusQueue: cfg.Audit.BusQueueSize,
		Archive: ArchiveSpec{
			Enabled: cfg.Archive.Enabled,
			Conn: conn.Option{
				Host:     cfg.Archive.Host,
				Port:     cfg.Archive.Port,
				User:     cfg.Archive.User,
				Password: cfg.Archive.Password,
				Database: cfg.Archive.Database,
				SSLMode:  cfg.Archive.SSLMode,
			},
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
		},
		Profiling: cfg.Profiling,
		Intents:   intents,
	}, nil
}

func buildRegistry(cfg RegistryConfig) (*schema.Registry, error) {
	reg := schema.NewRegistry()
	for _, venue := range cfg.Venues {
		if _, err := reg.AddVenue(venue.Name); err != nil {
			return nil, err
		}
	}
	for _, sym := range cfg.Symbols {
		venueID, ok := reg.VenueIDByName(sym.Venue)
		if !ok {
			return nil, fmt.Errorf("venue not found: %s", sym.Venue)
		}
		if _, err := reg.AddSymbol(sym.Name, venueID, sym.Scale.spec()); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (c ScaleConfig) spec() schema.ScaleSpec {
	if c == (ScaleConfig{}) {
		return schema.DefaultScaleSpec()
	}
	return schema.ScaleSpec{
		PriceScale:    schema.Scale(c.Price),
		QuantityScale: schema.Scale(c.Quantity),
		NotionalScale: schema.Scale(c.Notional),
		FeeScale:      schema.Scale(c.Fee),
	}
}

func resolveVenue(cfg VenueConfigs, reg *schema.Registry) (VenueSpec, error) {
	spec := VenueSpec{
		FeeBps:     cfg.FeeBps,
		MarkPrices: make(map[schema.SymbolID]schema.Price, len(cfg.MarkPrices)),
		Chaos: venue.ChaosConfig{
			Seed:        cfg.Chaos.Seed,
			TimeoutRate: cfg.Chaos.TimeoutRate,
			RejectRate:  cfg.Chaos.RejectRate,
			MaxDelay:    cfg.Chaos.MaxDelay,
		},
	}
	if err := spec.Chaos.Validate(); err != nil {
		return VenueSpec{}, fmt.Errorf("venue.chaos: %w", err)
	}
	for symbol, raw := range cfg.MarkPrices {
		symbolID, ok := reg.SymbolIDByName(symbol)
		if !ok {
			// viper lowercases map keys read from the config file.
			symbolID, ok = reg.SymbolIDByName(strings.ToUpper(symbol))
		}
		if !ok {
			return VenueSpec{}, fmt.Errorf("venue.mark_prices: symbol not found: %s", symbol)
		}
		price, err := schema.ParseScaled(raw, reg.SymbolScale(symbolID).PriceScale)
		if err != nil {
			return VenueSpec{}, fmt.Errorf("venue.mark_prices[%s]: %w", symbol, err)
		}
		spec.MarkPrices[symbolID] = schema.Price(price)
	}
	return spec, nil
}

func resolveRisk(cfg RiskConfig) (risk.Config, error) {
	spec := schema.DefaultScaleSpec()
	out := risk.Config{
		KillSwitch:      cfg.KillSwitch,
		PauseSwitch:     cfg.PauseSwitch,
		OrderRateLimit:  cfg.OrderRateLimit,
		OrderRateWindow: cfg.OrderRateWindow,
	}
	if cfg.MaxOrderQty != "" {
		qty, err := schema.ParseScaled(cfg.MaxOrderQty, spec.QuantityScale)
		if err != nil {
			return risk.Config{}, fmt.Errorf("risk.max_order_qty: %w", err)
		}
		out.MaxOrderQty = schema.Quantity(qty)
	}
	if cfg.MaxOrderNotional != "" {
		notional, err := schema.ParseScaled(cfg.MaxOrderNotional, spec.NotionalScale)
		if err != nil {
			return risk.Config{}, fmt.Errorf("risk.max_order_notional: %w", err)
		}
		out.MaxOrderNotional = schema.Notional(notional)
	}
	if cfg.MaxPosition != "" {
		pos, err := schema.ParseScaled(cfg.MaxPosition, spec.QuantityScale)
		if err != nil {
			return risk.Config{}, fmt.Errorf("risk.max_position: %w", err)
		}
		out.MaxPosition = schema.Quantity(pos)
	}
	return out, nil
}

func resolvePipeline(cfg PipelineConfig) (pipeline.Config, error) {
	mode, err := parseMode(cfg.Mode)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		Mode:            mode,
		DispatchTimeout: cfg.DispatchTimeout,
		DispatchRetries: cfg.DispatchRetries,
		RetryBackoff:    cfg.RetryBackoff,
	}, nil
}

func resolveIntents(cfgs []IntentConfig, reg *schema.Registry) ([]IntentSpec, error) {
	specs := make([]IntentSpec, 0, len(cfgs))
	for i, cfg := range cfgs {
		spec, err := resolveIntent(cfg, reg)
		if err != nil {
			return nil, fmt.Errorf("intents[%d]: %w", i, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func resolveIntent(cfg IntentConfig, reg *schema.Registry) (IntentSpec, error) {
	if cfg.Symbol == "" {
		return IntentSpec{}, fmt.Errorf("symbol is empty")
	}
	symbolID, ok := reg.SymbolIDByName(cfg.Symbol)
	if !ok {
		return IntentSpec{}, fmt.Errorf("symbol not found: %s", cfg.Symbol)
	}
	scale := reg.SymbolScale(symbolID)

	side, err := parseSide(cfg.Side)
	if err != nil {
		return IntentSpec{}, err
	}
	orderType, err := parseType(cfg.Type)
	if err != nil {
		return IntentSpec{}, err
	}
	tif, err := parseTimeInForce(cfg.TimeInForce)
	if err != nil {
		return IntentSpec{}, err
	}

	qty, err := schema.ParseScaled(cfg.Qty, scale.QuantityScale)
	if err != nil {
		return IntentSpec{}, fmt.Errorf("qty: %w", err)
	}
	if qty <= 0 {
		return IntentSpec{}, fmt.Errorf("qty must be > 0")
	}

	var price int64
	if cfg.Price != "" {
		price, err = schema.ParseScaled(cfg.Price, scale.PriceScale)
		if err != nil {
			return IntentSpec{}, fmt.Errorf("price: %w", err)
		}
	}
	if orderType == schema.OrderTypeLimit && price <= 0 {
		return IntentSpec{}, fmt.Errorf("price must be > 0 for limit orders")
	}

	strategyID := cfg.StrategyID
	if strategyID == 0 {
		strategyID = 1
	}
	repeat := cfg.Repeat
	if repeat <= 0 {
		repeat = 1
	}

	return IntentSpec{
		Intent: schema.OrderIntent{
			SymbolID:    symbolID,
			StrategyID:  strategyID,
			Side:        side,
			Type:        orderType,
			TimeInForce: tif,
			Price:       schema.Price(price),
			Qty:         schema.Quantity(qty),
			Nonce:       cfg.Nonce,
		},
		Repeat:   repeat,
		Interval: cfg.Interval,
	}, nil
}

func parseMode(s string) (schema.ExecutionMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "LIVE_BLOCKED":
		return schema.ExecutionModeLiveBlocked, nil
	case "PAPER":
		return schema.ExecutionModePaper, nil
	case "SHADOW":
		return schema.ExecutionModeShadow, nil
	case "TESTNET":
		return schema.ExecutionModeTestnet, nil
	default:
		return schema.ExecutionModeLiveBlocked, fmt.Errorf("unknown execution mode: %s", s)
	}
}

func parseSide(s string) (schema.OrderSide, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return schema.OrderSideBuy, nil
	case "SELL":
		return schema.OrderSideSell, nil
	default:
		return schema.OrderSideUnknown, fmt.Errorf("unknown order side: %s", s)
	}
}

func parseType(s string) (schema.OrderType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LIMIT":
		return schema.OrderTypeLimit, nil
	case "MARKET":
		return schema.OrderTypeMarket, nil
	default:
		return schema.OrderTypeUnknown, fmt.Errorf("unknown order type: %s", s)
	}
}

func parseTimeInForce(s string) (schema.TimeInForce, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GTC":
		return schema.TimeInForceGTC, nil
	case "IOC":
		return schema.TimeInForceIOC, nil
	case "FOK":
		return schema.TimeInForceFOK, nil
	default:
		return schema.TimeInForceUnknown, fmt.Errorf("unknown time in force: %s", s)
	}
}
