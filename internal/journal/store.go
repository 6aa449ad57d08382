package journal

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	defaultHost    = "localhost"
	defaultPort    = 5432
	defaultSSLMode = "disable"
)

// Config defines the postgres connection for the fill journal.
type Config struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	ConnString string
}

// FillRecord is one executed trade observed during a replay run.
type FillRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	RunID     string `gorm:"size:36;index"`
	TsNano    int64
	OrderID   int64
	Price     int64
	Quantity  int64
	IsBuy     bool
	CreatedAt time.Time
}

// HoldingsRecord is one holdings/cash update from reject bookkeeping.
type HoldingsRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	RunID     string `gorm:"size:36;index"`
	TsNano    int64
	Symbol    string `gorm:"size:32"`
	Position  int64
	Cash      int64
	CreatedAt time.Time
}

// Store persists replay bookkeeping, one uuid per run.
type Store struct {
	db    *gorm.DB
	runID string
}

// Open connects, migrates the journal tables and starts a new run.
func Open(cfg Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.dsn()), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&FillRecord{}, &HoldingsRecord{}); err != nil {
		return nil, err
	}
	return &Store{db: db, runID: uuid.NewString()}, nil
}

// RunID returns this run's identifier.
func (s *Store) RunID() string {
	return s.runID
}

// Fill records one execution.
func (s *Store) Fill(tsNano, orderID, price, quantity int64, isBuy bool) error {
	return s.db.Create(&FillRecord{
		RunID:    s.runID,
		TsNano:   tsNano,
		OrderID:  orderID,
		Price:    price,
		Quantity: quantity,
		IsBuy:    isBuy,
	}).Error
}

// HoldingsUpdated records one holdings/cash change.
func (s *Store) HoldingsUpdated(tsNano int64, symbol string, position, cash int64) error {
	return s.db.Create(&HoldingsRecord{
		RunID:    s.runID,
		TsNano:   tsNano,
		Symbol:   symbol,
		Position: position,
		Cash:     cash,
	}).Error
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (cfg Config) dsn() string {
	if cfg.ConnString != "" {
		return cfg.ConnString
	}

	host := cfg.Host
	if host == "" {
		host = defaultHost
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}
	if cfg.Database != "" {
		u.Path = "/" + cfg.Database
	}
	query := url.Values{}
	query.Set("sslmode", sslMode)
	u.RawQuery = query.Encode()

	return u.String()
}
