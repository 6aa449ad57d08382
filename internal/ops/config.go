package ops

import (
	"os"
	"strconv"
	"time"

	"main/internal/feed"
	"main/internal/journal"
	"main/internal/replay"
	"main/internal/schedule"
	"main/internal/schema"
	"main/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

// FileConfig mirrors the JSON run config layout.
type FileConfig struct {
	Symbol     string        `json:"symbol"`
	Date       string        `json:"date"`
	StartTime  string        `json:"startTime"`
	EndTime    string        `json:"endTime"`
	CacheDir   string        `json:"cacheDir"`
	FilePrefix string        `json:"filePrefix"`
	Source     SourceConfig  `json:"source"`
	Feed       FeedConfig    `json:"feed"`
	Replay     ReplayConfig  `json:"replay"`
	Journal    JournalConfig `json:"journal"`
}

// SourceConfig locates the raw dataset.
type SourceConfig struct {
	Path   string `json:"path"`
	Format string `json:"format"` // delimited | binary | columnar
}

// FeedConfig describes the feed-specific canonicalization tables.
type FeedConfig struct {
	BaseTime       string            `json:"baseTime"`
	Direction      map[string]string `json:"direction"`
	TypeCodes      map[string]string `json:"typeCodes"`
	TypeNames      map[string]string `json:"typeNames"`
	SizeMultiplier int64             `json:"sizeMultiplier"`
	PriceScale     int               `json:"priceScale"`
}

// ReplayConfig describes driver behavior.
type ReplayConfig struct {
	SizePolicy             string `json:"sizePolicy"` // absolute | delta
	ImpactConservation     bool   `json:"impactConservation"`
	RestoreTag             string `json:"restoreTag"`
	StartingCash           int64  `json:"startingCash"`
	SynthesizeCompensation bool   `json:"synthesizeCompensation"`
}

// JournalConfig describes the optional postgres journal.
type JournalConfig struct {
	Enabled    bool   `json:"enabled"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	User       string `json:"user"`
	Password   string `json:"password"`
	Database   string `json:"database"`
	SSLMode    string `json:"sslMode"`
	ConnString string `json:"connString"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Processor    schedule.ProcessorConfig
	Feed         feed.Config
	SourcePath   string
	SourceFormat string
	Replay       replay.Config
	Journal      *journal.Config
	MarketOpen   time.Time
}

// Load reads a JSON run config and resolves every table and timestamp.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "decode run config")
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	date, err := time.Parse("2006-01-02", cfg.Date)
	if err != nil {
		return Loaded{}, errors.Wrapf(exception.ErrInvalidArgument, "date: %s", cfg.Date)
	}
	start, err := clockOn(date, cfg.StartTime)
	if err != nil {
		return Loaded{}, err
	}
	end, err := clockOn(date, cfg.EndTime)
	if err != nil {
		return Loaded{}, err
	}

	feedCfg, err := resolveFeed(cfg.Feed, date)
	if err != nil {
		return Loaded{}, err
	}

	replayCfg, err := resolveReplay(cfg.Replay, cfg.Symbol)
	if err != nil {
		return Loaded{}, err
	}

	switch cfg.Source.Format {
	case "delimited", "binary", "columnar":
	default:
		return Loaded{}, errors.Wrapf(exception.ErrInvalidArgument, "source format: %s", cfg.Source.Format)
	}
	if cfg.Source.Path == "" {
		return Loaded{}, errors.Wrap(exception.ErrInvalidArgument, "source path is empty")
	}

	prefix := cfg.FilePrefix
	if prefix == "" {
		prefix = "marketreplay"
	}

	loaded := Loaded{
		Processor: schedule.ProcessorConfig{
			Symbol:                 cfg.Symbol,
			Date:                   date,
			Start:                  start,
			End:                    end,
			CacheDir:               cfg.CacheDir,
			FilePrefix:             prefix,
			SynthesizeCompensation: cfg.Replay.SynthesizeCompensation,
		},
		Feed:         feedCfg,
		SourcePath:   cfg.Source.Path,
		SourceFormat: cfg.Source.Format,
		Replay:       replayCfg,
		MarketOpen:   start,
	}
	if err := loaded.Processor.Validate(); err != nil {
		return Loaded{}, err
	}
	if cfg.Journal.Enabled {
		loaded.Journal = &journal.Config{
			Host:       cfg.Journal.Host,
			Port:       cfg.Journal.Port,
			User:       cfg.Journal.User,
			Password:   cfg.Journal.Password,
			Database:   cfg.Journal.Database,
			SSLMode:    cfg.Journal.SSLMode,
			ConnString: cfg.Journal.ConnString,
		}
	}
	return loaded, nil
}

func clockOn(date time.Time, clock string) (time.Time, error) {
	t, err := time.Parse("15:04:05", clock)
	if err != nil {
		return time.Time{}, errors.Wrapf(exception.ErrInvalidArgument, "clock: %s", clock)
	}
	return date.Add(time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second), nil
}

func resolveFeed(cfg FeedConfig, date time.Time) (feed.Config, error) {
	baseTime := date
	if cfg.BaseTime != "" {
		parsed, err := time.Parse("2006-01-02 15:04:05", cfg.BaseTime)
		if err != nil {
			return feed.Config{}, errors.Wrapf(exception.ErrInvalidArgument, "baseTime: %s", cfg.BaseTime)
		}
		baseTime = parsed
	}

	direction := make(map[int64]schema.Direction, len(cfg.Direction))
	for flag, name := range cfg.Direction {
		value, err := strconv.ParseInt(flag, 10, 64)
		if err != nil {
			return feed.Config{}, errors.Wrapf(exception.ErrInvalidArgument, "direction flag: %s", flag)
		}
		side, err := parseDirection(name)
		if err != nil {
			return feed.Config{}, err
		}
		direction[value] = side
	}

	typeCodes := make(map[int64]schema.Kind, len(cfg.TypeCodes))
	for code, name := range cfg.TypeCodes {
		value, err := strconv.ParseInt(code, 10, 64)
		if err != nil {
			return feed.Config{}, errors.Wrapf(exception.ErrInvalidArgument, "type code: %s", code)
		}
		kind, err := parseKind(name)
		if err != nil {
			return feed.Config{}, err
		}
		typeCodes[value] = kind
	}

	typeNames := make(map[string]schema.Kind, len(cfg.TypeNames))
	for code, name := range cfg.TypeNames {
		kind, err := parseKind(name)
		if err != nil {
			return feed.Config{}, err
		}
		typeNames[code] = kind
	}

	resolved := feed.Config{
		BaseTime:       baseTime,
		Direction:      direction,
		TypeCodes:      typeCodes,
		TypeNames:      typeNames,
		SizeMultiplier: cfg.SizeMultiplier,
		PriceScale:     cfg.PriceScale,
	}
	return resolved, resolved.Validate()
}

func resolveReplay(cfg ReplayConfig, symbol string) (replay.Config, error) {
	var policy replay.SizePolicy
	switch cfg.SizePolicy {
	case "", "absolute":
		policy = replay.SizePolicyAbsolute
	case "delta":
		policy = replay.SizePolicyDelta
	default:
		return replay.Config{}, errors.Wrapf(exception.ErrInvalidArgument, "size policy: %s", cfg.SizePolicy)
	}
	return replay.Config{
		Symbol:             symbol,
		SizePolicy:         policy,
		ImpactConservation: cfg.ImpactConservation,
		RestoreTag:         cfg.RestoreTag,
		StartingCash:       cfg.StartingCash,
	}, nil
}

func parseDirection(name string) (schema.Direction, error) {
	switch name {
	case "BUY":
		return schema.DirectionBuy, nil
	case "SELL":
		return schema.DirectionSell, nil
	default:
		return schema.DirectionUnknown, errors.Wrapf(exception.ErrInvalidArgument, "direction: %s", name)
	}
}

func parseKind(name string) (schema.Kind, error) {
	switch name {
	case "NEW":
		return schema.KindNew, nil
	case "MODIFY":
		return schema.KindModify, nil
	case "CANCEL":
		return schema.KindCancel, nil
	case "R":
		return schema.KindResting, nil
	case "REJECT":
		return schema.KindReject, nil
	case "COMPENSATION":
		return schema.KindCompensation, nil
	default:
		return schema.KindUnknown, errors.Wrapf(exception.ErrInvalidArgument, "kind: %s", name)
	}
}
