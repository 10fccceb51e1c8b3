package ops

import (
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"

	"main/internal/account"
	"main/internal/engine"
	"main/internal/pricing"
	"main/internal/quote"
	"main/internal/registry"
	"main/internal/rolls"
)

// FileConfig mirrors the JSON config layout. Quoter and Rolls are each
// optional; a file configures whichever daemons it runs.
type FileConfig struct {
	Venue  VenueConfig   `json:"venue"`
	Quoter *QuoterConfig `json:"quoter"`
	Rolls  *RollsConfig  `json:"rolls"`
	Store  *StoreConfig  `json:"store"`
}

// VenueConfig selects the exchange endpoint and session identity.
type VenueConfig struct {
	URL       string `json:"url"`
	Token     string `json:"token"`
	Account   string `json:"account"`
	CODSecs   int    `json:"cancelOnDisconnectSecs"`
	Label     string `json:"label"`
	Pyroscope string `json:"pyroscope"`
}

// QuoterConfig holds the option quoter tuning knobs.
type QuoterConfig struct {
	Underlying                string       `json:"underlying"`
	QuotedExpiries            int          `json:"quotedExpiries"`
	SubscribeInterval         string       `json:"subscribeInterval"`
	UnquotedSubscribeInterval string       `json:"unquotedSubscribeInterval"`
	DeltaRange                [2]float64   `json:"deltaRange"`
	Spread                    float64      `json:"spread"`
	SpreadFactor              float64      `json:"spreadFactor"`
	Lots                      float64      `json:"lots"`
	AmendThreshold            float64      `json:"amendThreshold"`
	IndexRecalcThreshold      float64      `json:"indexRecalcThreshold"`
	Retreat                   float64      `json:"retreat"`
	MaxMargin                 float64      `json:"maxMargin"`
	MaxDeltas                 float64      `json:"maxDeltas"`
	MaxOpenOptionDeltas       float64      `json:"maxOpenOptionDeltas"`
	DeltaSkew                 float64      `json:"deltaSkew"`
	VegaSkew                  float64      `json:"vegaSkew"`
	GammaSkew                 float64      `json:"gammaSkew"`
	MaxVega                   float64      `json:"maxVega"`
	MaxGamma                  float64      `json:"maxGamma"`
	GreeksPeriodSecs          float64      `json:"greeksPeriodSecs"`
	GreeksPrintPeriodSecs     float64      `json:"greeksPrintPeriodSecs"`
	Hedge                     *HedgeConfig `json:"hedge"`
}

// HedgeConfig enables the periodic portfolio delta hedger.
type HedgeConfig struct {
	Instrument string  `json:"instrument"`
	Band       float64 `json:"band"`
}

// RollsConfig holds the roll quoter tuning knobs.
type RollsConfig struct {
	Underlying             string  `json:"underlying"`
	SubscribeInterval      string  `json:"subscribeInterval"`
	Window1DTESecs         float64 `json:"window1dteSecs"`
	Window3DTESecs         float64 `json:"window3dteSecs"`
	FundingLongterm        float64 `json:"fundingLongterm"`
	FundingCap             float64 `json:"fundingCap"`
	FundingRecalcThreshold float64 `json:"fundingRecalcThreshold"`
	IndexRecalcThreshold   float64 `json:"indexRecalcThreshold"`
	Spread1DTE             float64 `json:"spread1dte"`
	Spread3DTE             float64 `json:"spread3dte"`
	SpreadLongterm         float64 `json:"spreadLongterm"`
	MaxDTE                 float64 `json:"maxDte"`
	Size                   float64 `json:"size"`
	MaxPosition            float64 `json:"maxPosition"`
	AmendThreshold         float64 `json:"amendThreshold"`
	MaxGapSecs             float64 `json:"maxGapSecs"`
	Label                  string  `json:"label"`
}

// StoreConfig points at the Postgres funding-rate history.
type StoreConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
}

// Loaded is the resolved configuration ready for engine construction.
// Everything here is immutable for the lifetime of a session.
type Loaded struct {
	Venue  VenueConfig
	Quoter *QuoterLoaded
	Rolls  *rolls.Config
	Store  *StoreConfig
}

// QuoterLoaded bundles the resolved option-quoter configuration.
type QuoterLoaded struct {
	Registry registry.Config
	Account  account.Config
	Pricing  pricing.Config
	Quote    quote.Config
	Engine   engine.Config
}

// Load reads a JSON config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// Resolve validates a FileConfig and fills defaults.
func Resolve(cfg FileConfig) (Loaded, error) {
	loaded := Loaded{Venue: cfg.Venue, Store: cfg.Store}

	if cfg.Quoter != nil {
		resolved, err := resolveQuoter(cfg.Venue, *cfg.Quoter)
		if err != nil {
			return Loaded{}, err
		}
		loaded.Quoter = &resolved
	}
	if cfg.Rolls != nil {
		resolved, err := resolveRolls(*cfg.Rolls)
		if err != nil {
			return Loaded{}, err
		}
		loaded.Rolls = &resolved
	}
	if loaded.Quoter == nil && loaded.Rolls == nil {
		return Loaded{}, fmt.Errorf("config has neither a quoter nor a rolls section")
	}
	return loaded, nil
}

func resolveQuoter(venue VenueConfig, q QuoterConfig) (QuoterLoaded, error) {
	if q.Underlying == "" {
		return QuoterLoaded{}, fmt.Errorf("quoter underlying is empty")
	}
	if q.QuotedExpiries <= 0 {
		q.QuotedExpiries = 5
	}
	if q.SubscribeInterval == "" {
		q.SubscribeInterval = "200ms"
	}
	if q.UnquotedSubscribeInterval == "" {
		q.UnquotedSubscribeInterval = "5000ms"
	}
	if q.DeltaRange[0] >= q.DeltaRange[1] {
		return QuoterLoaded{}, fmt.Errorf("delta range must be ascending, got %v", q.DeltaRange)
	}
	if q.Lots <= 0 {
		return QuoterLoaded{}, fmt.Errorf("lots must be > 0")
	}
	if q.Spread <= 0 {
		return QuoterLoaded{}, fmt.Errorf("spread must be > 0")
	}
	if q.AmendThreshold <= 0 {
		q.AmendThreshold = 3
	}
	if q.MaxVega <= 0 || q.MaxGamma <= 0 {
		return QuoterLoaded{}, fmt.Errorf("maxVega and maxGamma must be > 0")
	}
	if q.MaxMargin <= 0 {
		return QuoterLoaded{}, fmt.Errorf("maxMargin must be > 0")
	}
	if q.GreeksPeriodSecs <= 0 {
		q.GreeksPeriodSecs = 30
	}
	if q.GreeksPrintPeriodSecs <= 0 {
		q.GreeksPrintPeriodSecs = 600
	}
	label := venue.Label
	if label == "" {
		label = "X"
	}

	resolved := QuoterLoaded{
		Registry: registry.Config{
			Underlying:     q.Underlying,
			QuotedExpiries: q.QuotedExpiries,
		},
		Account: account.Config{
			MaxMargin: q.MaxMargin,
		},
		Pricing: pricing.Config{
			DeltaRangeMin:       q.DeltaRange[0],
			DeltaRangeMax:       q.DeltaRange[1],
			Spread:              q.Spread,
			SpreadFactor:        q.SpreadFactor,
			Lots:                q.Lots,
			Retreat:             q.Retreat,
			MaxDeltas:           q.MaxDeltas,
			MaxOpenOptionDeltas: q.MaxOpenOptionDeltas,
			DeltaSkew:           q.DeltaSkew,
			VegaSkew:            q.VegaSkew,
			GammaSkew:           q.GammaSkew,
			MaxVega:             q.MaxVega,
			MaxGamma:            q.MaxGamma,
		},
		Quote: quote.Config{
			AmendThreshold: q.AmendThreshold,
			Label:          label,
			Lots:           q.Lots,
		},
		Engine: engine.Config{
			Underlying:                q.Underlying,
			Label:                     label,
			SubscribeInterval:         q.SubscribeInterval,
			UnquotedSubscribeInterval: q.UnquotedSubscribeInterval,
			IndexRecalcThreshold:      q.IndexRecalcThreshold,
			GreeksPeriod:              secs(q.GreeksPeriodSecs),
			GreeksPrintPeriod:         secs(q.GreeksPrintPeriodSecs),
		},
	}
	if q.Hedge != nil {
		if q.Hedge.Instrument == "" || q.Hedge.Band <= 0 {
			return QuoterLoaded{}, fmt.Errorf("hedge needs an instrument and a positive band")
		}
		resolved.Engine.Hedge = engine.HedgeConfig{
			Enabled:    true,
			Instrument: q.Hedge.Instrument,
			Band:       q.Hedge.Band,
		}
	}
	return resolved, nil
}

func resolveRolls(cfg RollsConfig) (rolls.Config, error) {
	if cfg.Underlying == "" {
		return rolls.Config{}, fmt.Errorf("rolls underlying is empty")
	}
	if cfg.Size <= 0 {
		return rolls.Config{}, fmt.Errorf("rolls size must be > 0")
	}
	if cfg.Window1DTESecs <= 0 {
		cfg.Window1DTESecs = 5
	}
	if cfg.Window3DTESecs <= 0 {
		cfg.Window3DTESecs = 60
	}
	if cfg.Window3DTESecs <= cfg.Window1DTESecs {
		return rolls.Config{}, fmt.Errorf("window3dteSecs must exceed window1dteSecs")
	}
	if cfg.AmendThreshold <= 0 {
		cfg.AmendThreshold = 3
	}
	if cfg.MaxDTE <= 0 {
		cfg.MaxDTE = 32
	}
	if cfg.MaxGapSecs <= 0 {
		cfg.MaxGapSecs = 10
	}
	if cfg.SubscribeInterval == "" {
		cfg.SubscribeInterval = "1000ms"
	}
	label := cfg.Label
	if label == "" {
		label = "R"
	}
	return rolls.Config{
		Underlying:             cfg.Underlying,
		SubscribeInterval:      cfg.SubscribeInterval,
		Window1DTE:             cfg.Window1DTESecs,
		Window3DTE:             cfg.Window3DTESecs,
		FundingLongterm:        cfg.FundingLongterm,
		FundingCap:             cfg.FundingCap,
		FundingRecalcThreshold: cfg.FundingRecalcThreshold,
		IndexRecalcThreshold:   cfg.IndexRecalcThreshold,
		Spread1DTE:             cfg.Spread1DTE,
		Spread3DTE:             cfg.Spread3DTE,
		SpreadLongterm:         cfg.SpreadLongterm,
		MaxDTE:                 cfg.MaxDTE,
		Size:                   cfg.Size,
		MaxPosition:            cfg.MaxPosition,
		AmendThreshold:         cfg.AmendThreshold,
		MaxGapSecs:             cfg.MaxGapSecs,
		Label:                  label,
	}, nil
}

func secs(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
