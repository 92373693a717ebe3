package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"auction-service/internal/auctionerrors"
	model "auction-service/internal/models"
	"auction-service/utils"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const pgUniqueViolation = "23505"

var _ AuctionDB = (*GormRepo)(nil)

// GormRepo persists auctions and bids in PostgreSQL using GORM
type GormRepo struct {
	db *gorm.DB
}

// PostgresOptions tunes the connection pool opened by ConnectPostgres
type PostgresOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// ConnectPostgres opens a PostgreSQL connection via GORM and verifies connectivity.
// A failure here is a startup fault the caller should not recover from.
func ConnectPostgres(ctx context.Context, dsn string, opts PostgresOptions) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap postgres pool: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the auctions and bids tables
func Migrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("migrate: nil database")
	}
	return db.AutoMigrate(&auctionRecord{}, &bidRecord{})
}

// NewGormRepo wires a PostgreSQL-backed repository. Caller manages DB lifecycle.
func NewGormRepo(db *gorm.DB) *GormRepo {
	return &GormRepo{db: db}
}

// auctionRecord maps an auction to the auctions table.
type auctionRecord struct {
	ID         string          `gorm:"primaryKey;column:id;size:64"`
	ProductID  string          `gorm:"column:product_id;size:64;not null"`
	StartPrice decimal.Decimal `gorm:"column:start_price;type:numeric(20,4);not null"`
	StartDate  time.Time       `gorm:"column:start_date;index;not null"`
	EndDate    time.Time       `gorm:"column:end_date;not null"`
	Status     string          `gorm:"column:status;type:varchar(16);index;not null"`
	Version    int64           `gorm:"column:version;not null"`
	CreatedAt  time.Time       `gorm:"column:created_at"`
	UpdatedAt  time.Time       `gorm:"column:updated_at"`
}

func (auctionRecord) TableName() string { return "auctions" }

// bidRecord maps a bid to the bids table.
type bidRecord struct {
	ID        string          `gorm:"primaryKey;column:id;size:64"`
	AuctionID string          `gorm:"column:auction_id;size:64;index;not null"`
	BidderID  string          `gorm:"column:bidder_id;size:64;not null"`
	Amount    decimal.Decimal `gorm:"column:amount;type:numeric(20,4);not null"`
	DateSent  time.Time       `gorm:"column:date_sent;not null"`
	CreatedAt time.Time       `gorm:"column:created_at"`
}

func (bidRecord) TableName() string { return "bids" }

// GetAuctionByID fetches an auction by identifier
func (r *GormRepo) GetAuctionByID(ctx context.Context, id string) (model.Auction, error) {
	if err := r.ensureDB(); err != nil {
		return model.Auction{}, err
	}
	var record auctionRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Auction{}, fmt.Errorf("get auction %s: %w", id, auctionerrors.ErrAuctionNotFound)
		}
		return model.Auction{}, fmt.Errorf("get auction %s: %w", id, classify(err))
	}
	return record.toDomain(), nil
}

// GetAuctionsByStatus lists auctions in status
func (r *GormRepo) GetAuctionsByStatus(ctx context.Context, status model.AuctionStatus) ([]model.Auction, error) {
	return r.findAuctions(ctx, "get auctions by status", "status = ?", string(status))
}

// GetAllAuctions lists every auction
func (r *GormRepo) GetAllAuctions(ctx context.Context) ([]model.Auction, error) {
	return r.findAuctions(ctx, "get all auctions", nil)
}

// GetAuctionsInRange lists auctions starting in [from, to)
func (r *GormRepo) GetAuctionsInRange(ctx context.Context, from, to time.Time) ([]model.Auction, error) {
	if to.IsZero() {
		return r.findAuctions(ctx, "get auctions in range", "start_date >= ?", from)
	}
	return r.findAuctions(ctx, "get auctions in range", "start_date >= ? AND start_date < ?", from, to)
}

// AddAuction inserts a new auction at version 1
func (r *GormRepo) AddAuction(ctx context.Context, auction *model.Auction) error {
	if err := r.ensureDB(); err != nil {
		return err
	}
	if auction == nil {
		return fmt.Errorf("add auction: %w: nil auction", auctionerrors.ErrInvalidAuction)
	}
	if err := auction.Validate(); err != nil {
		return fmt.Errorf("add auction: %w", err)
	}
	if auction.ID == "" {
		auction.ID = utils.GenerateID()
	}
	auction.Version = 1

	record := toAuctionRecord(*auction)
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("add auction %s: %w: id already in use", auction.ID, auctionerrors.ErrInvalidAuction)
		}
		return fmt.Errorf("add auction %s: %w", auction.ID, classify(err))
	}
	return nil
}

// ReplaceAuction overwrites every mutable column when the stored version matches
func (r *GormRepo) ReplaceAuction(ctx context.Context, id string, auction *model.Auction) error {
	if err := r.ensureDB(); err != nil {
		return err
	}
	if auction == nil {
		return fmt.Errorf("replace auction %s: %w: nil auction", id, auctionerrors.ErrInvalidAuction)
	}

	result := r.db.WithContext(ctx).
		Model(&auctionRecord{}).
		Where("id = ? AND version = ?", id, auction.Version).
		Updates(map[string]any{
			"product_id":  auction.ProductID,
			"start_price": auction.StartPrice,
			"start_date":  auction.StartDate.UTC(),
			"end_date":    auction.EndDate.UTC(),
			"status":      string(auction.Status),
			"version":     gorm.Expr("version + 1"),
			"updated_at":  gorm.Expr("NOW()"),
		})
	if result.Error != nil {
		return fmt.Errorf("replace auction %s: %w", id, classify(result.Error))
	}
	if result.RowsAffected == 0 {
		return r.conditionalMiss(ctx, "replace auction", id, auction.Version)
	}

	auction.ID = id
	auction.Version++
	return nil
}

// UpdateAuctionStatus writes only the status column when the stored version matches
func (r *GormRepo) UpdateAuctionStatus(ctx context.Context, id string, status model.AuctionStatus, version int64) error {
	if err := r.ensureDB(); err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Model(&auctionRecord{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]any{
			"status":     string(status),
			"version":    gorm.Expr("version + 1"),
			"updated_at": gorm.Expr("NOW()"),
		})
	if result.Error != nil {
		return fmt.Errorf("update status of auction %s: %w", id, classify(result.Error))
	}
	if result.RowsAffected == 0 {
		return r.conditionalMiss(ctx, "update status of auction", id, version)
	}
	return nil
}

// DeleteAuction removes an auction by identifier
func (r *GormRepo) DeleteAuction(ctx context.Context, id string) error {
	if err := r.ensureDB(); err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Delete(&auctionRecord{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("delete auction %s: %w", id, classify(result.Error))
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("delete auction %s: %w", id, auctionerrors.ErrAuctionNotFound)
	}
	return nil
}

// InsertBid records a bid after confirming the referenced auction exists
func (r *GormRepo) InsertBid(ctx context.Context, bid model.Bid) error {
	if err := r.ensureDB(); err != nil {
		return err
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&auctionRecord{}).Where("id = ?", bid.AuctionID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return auctionerrors.ErrAuctionNotFound
		}
		record := toBidRecord(bid)
		return tx.Create(&record).Error
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, auctionerrors.ErrAuctionNotFound):
		return fmt.Errorf("insert bid for auction %s: %w", bid.AuctionID, err)
	case isUniqueViolation(err):
		return fmt.Errorf("insert bid %s: %w", bid.ID, auctionerrors.ErrDuplicateBid)
	default:
		return fmt.Errorf("insert bid for auction %s: %w", bid.AuctionID, classify(err))
	}
}

// GetBidsByAuction lists the bids referencing an auction
func (r *GormRepo) GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	if err := r.ensureDB(); err != nil {
		return nil, err
	}
	var records []bidRecord
	if err := r.db.WithContext(ctx).Where("auction_id = ?", auctionID).Order("date_sent, id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, classify(err))
	}
	bids := make([]model.Bid, 0, len(records))
	for i := range records {
		bids = append(bids, records[i].toDomain())
	}
	return bids, nil
}

func (r *GormRepo) findAuctions(ctx context.Context, op string, query any, args ...any) ([]model.Auction, error) {
	if err := r.ensureDB(); err != nil {
		return nil, err
	}
	tx := r.db.WithContext(ctx).Order("start_date, id")
	if query != nil {
		tx = tx.Where(query, args...)
	}
	var records []auctionRecord
	if err := tx.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	auctions := make([]model.Auction, 0, len(records))
	for i := range records {
		auctions = append(auctions, records[i].toDomain())
	}
	return auctions, nil
}

// conditionalMiss tells a missing row apart from a stale version after a conditional update touched nothing.
func (r *GormRepo) conditionalMiss(ctx context.Context, op, id string, version int64) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&auctionRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("%s %s: %w", op, id, classify(err))
	}
	if count == 0 {
		return fmt.Errorf("%s %s: %w", op, id, auctionerrors.ErrAuctionNotFound)
	}
	return fmt.Errorf("%s %s at version %d: %w", op, id, version, auctionerrors.ErrVersionConflict)
}

func (r *GormRepo) ensureDB() error {
	if r == nil || r.db == nil {
		return errors.New("postgres auction repository not configured")
	}
	return nil
}

// classify wraps connectivity faults in ErrStoreUnavailable and leaves every other error untouched.
func classify(err error) error {
	if err == nil || !isConnectivityFault(err) {
		return err
	}
	return fmt.Errorf("%w: %w", auctionerrors.ErrStoreUnavailable, err)
}

func isConnectivityFault(err error) bool {
	var connectErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connectErr),
		errors.As(err, &netErr),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded),
		pgconn.Timeout(err),
		pgconn.SafeToRetry(err):
		return true
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func toAuctionRecord(a model.Auction) auctionRecord {
	return auctionRecord{
		ID:         a.ID,
		ProductID:  a.ProductID,
		StartPrice: a.StartPrice,
		StartDate:  a.StartDate.UTC(),
		EndDate:    a.EndDate.UTC(),
		Status:     string(a.Status),
		Version:    a.Version,
	}
}

func (r auctionRecord) toDomain() model.Auction {
	return model.Auction{
		ID:         r.ID,
		ProductID:  r.ProductID,
		StartPrice: r.StartPrice,
		StartDate:  r.StartDate.UTC(),
		EndDate:    r.EndDate.UTC(),
		Status:     model.AuctionStatus(r.Status),
		Version:    r.Version,
	}
}

func toBidRecord(b model.Bid) bidRecord {
	return bidRecord{
		ID:        b.ID,
		AuctionID: b.AuctionID,
		BidderID:  b.BidderID,
		Amount:    b.Amount,
		DateSent:  b.DateSent.UTC(),
	}
}

func (r bidRecord) toDomain() model.Bid {
	return model.Bid{
		ID:        r.ID,
		AuctionID: r.AuctionID,
		BidderID:  r.BidderID,
		Amount:    r.Amount,
		DateSent:  r.DateSent.UTC(),
	}
}
