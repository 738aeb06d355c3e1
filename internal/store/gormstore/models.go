package gormstore

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	indexEntrySequence  = "uniq_ledger_entries_customer_sequence"
	indexEntryReference = "uniq_ledger_entries_customer_type_reference"
	indexAttemptOpenKey = "uniq_payment_attempts_open_key"
	indexVisitAttempt   = "uniq_visit_requests_payment_attempt"
	defaultMetadataJSON = "{}"
)

// CustomerAccount mirrors the customer_accounts table.
type CustomerAccount struct {
	CustomerID   string    `gorm:"primaryKey"`
	Balance      int64     `gorm:"not null"`
	LastSequence int64     `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (CustomerAccount) TableName() string { return "customer_accounts" }

// LedgerEntry mirrors the append-only ledger_entries table.
type LedgerEntry struct {
	EntryID         string         `gorm:"type:uuid;primaryKey"`
	CustomerID      string         `gorm:"not null;index:uniq_ledger_entries_customer_sequence,unique,priority:1;index:uniq_ledger_entries_customer_type_reference,unique,priority:1"`
	Sequence        int64          `gorm:"not null;index:uniq_ledger_entries_customer_sequence,unique,priority:2"`
	Amount          int64          `gorm:"not null"`
	TransactionType string         `gorm:"not null;index:uniq_ledger_entries_customer_type_reference,unique,priority:2"`
	ReferenceID     string         `gorm:"not null;index:uniq_ledger_entries_customer_type_reference,unique,priority:3"`
	Description     string         `gorm:"not null"`
	Metadata        datatypes.JSON `gorm:"type:jsonb;not null"`
	BalanceAfter    int64          `gorm:"not null"`
	CreatedAt       time.Time      `gorm:"not null;autoCreateTime:false"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// PaymentAttempt mirrors the payment_attempts table. OpenKey is NULL once the attempt is terminal.
type PaymentAttempt struct {
	AttemptID     string     `gorm:"primaryKey"`
	CustomerID    string     `gorm:"not null;index"`
	TargetID      string     `gorm:"not null"`
	Amount        int64      `gorm:"not null"`
	Currency      string     `gorm:"not null"`
	PhoneNumber   string     `gorm:"not null"`
	Method        string     `gorm:"not null"`
	State         string     `gorm:"not null"`
	CodeHash      string     `gorm:"not null"`
	CodeIssuedAt  *time.Time `gorm:""`
	CodeExpiresAt *time.Time `gorm:""`
	AttemptCount  int        `gorm:"not null"`
	ResendCount   int        `gorm:"not null"`
	OpenKey       *string    `gorm:"uniqueIndex:uniq_payment_attempts_open_key"`
	CapturedAt    *time.Time `gorm:""`
	CreatedAt     time.Time  `gorm:"not null;autoCreateTime:false"`
	UpdatedAt     time.Time  `gorm:"not null;autoUpdateTime:false"`
}

func (PaymentAttempt) TableName() string { return "payment_attempts" }

// VisitRequest mirrors the visit_requests table.
type VisitRequest struct {
	RequestID        string     `gorm:"primaryKey"`
	CustomerID       string     `gorm:"not null;index"`
	TargetID         string     `gorm:"not null"`
	PaymentAttemptID string     `gorm:"not null;uniqueIndex:uniq_visit_requests_payment_attempt"`
	Amount           int64      `gorm:"not null"`
	Outcome          string     `gorm:"not null;index:idx_visit_requests_outcome_created,priority:1"`
	CreatedAt        time.Time  `gorm:"not null;autoCreateTime:false;index:idx_visit_requests_outcome_created,priority:2"`
	ResolvedAt       *time.Time `gorm:""`
}

func (VisitRequest) TableName() string { return "visit_requests" }

// RefundRequest mirrors the refund_requests table.
type RefundRequest struct {
	RequestID  string     `gorm:"primaryKey"`
	CustomerID string     `gorm:"not null;index"`
	Amount     int64      `gorm:"not null"`
	Reason     string     `gorm:"not null"`
	Status     string     `gorm:"not null;index"`
	AdminNote  string     `gorm:"not null"`
	DecidedBy  string     `gorm:"not null"`
	DecidedAt  *time.Time `gorm:""`
	CreatedAt  time.Time  `gorm:"not null;autoCreateTime:false"`
}

func (RefundRequest) TableName() string { return "refund_requests" }

// AutoMigrate creates or updates every table the store uses.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&CustomerAccount{}, &LedgerEntry{}, &PaymentAttempt{}, &VisitRequest{}, &RefundRequest{})
}
