package domain

import (
	"time"
)

// TxStatus is the lifecycle state of a persisted transaction record.
type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusCompleted TxStatus = "completed"
	StatusFailed    TxStatus = "failed"
)

// TransactionRecord is the audit-log row for one attempted transaction. It is
// keyed by the deterministic transaction id and moves pending → completed or
// pending → failed. Rows are never deleted.
//
// Payload, Metadata and Result hold JSON text so the log stays readable from
// any SQL client.
type TransactionRecord struct {
	ID        string    `json:"id"        gorm:"type:varchar(64);primaryKey"`
	Sender    string    `json:"sender"    gorm:"type:varchar(128);not null;index:idx_tx_sender,priority:1"`
	Action    Action    `json:"action"    gorm:"type:varchar(32);not null;index"`
	Payload   string    `json:"payload"   gorm:"type:text;not null"`
	Metadata  string    `json:"metadata"  gorm:"type:text;not null"`
	Signature string    `json:"signature,omitempty" gorm:"type:text"`
	Timestamp string    `json:"timestamp" gorm:"type:varchar(64);not null"`
	Status    TxStatus  `json:"status"    gorm:"type:varchar(16);not null;index;check:chk_tx_status,status IN ('pending','completed','failed')"`
	Result    *string   `json:"result,omitempty" gorm:"type:text"`
	Error     string    `json:"error,omitempty"  gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_tx_sender,priority:2"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for TransactionRecord.
func (TransactionRecord) TableName() string { return "transactions" }

// TokenBalance is a principal's holding of one token.
type TokenBalance struct {
	UserID    string    `json:"user_id"  gorm:"type:varchar(128);primaryKey"`
	TokenID   string    `json:"token_id" gorm:"type:varchar(64);primaryKey"`
	Amount    float64   `json:"amount"   gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for TokenBalance.
func (TokenBalance) TableName() string { return "token_balances" }

// TokenTransfer records a completed movement of tokens between principals.
type TokenTransfer struct {
	ID                   string    `json:"id"           gorm:"type:char(36);primaryKey"`
	FromUserID           string    `json:"from_user_id" gorm:"type:varchar(128);not null;index"`
	ToUserID             string    `json:"to_user_id"   gorm:"type:varchar(128);not null;index"`
	TokenID              string    `json:"token_id"     gorm:"type:varchar(64);not null"`
	Amount               float64   `json:"amount"       gorm:"not null"`
	Reason               string    `json:"reason,omitempty" gorm:"type:text"`
	Status               string    `json:"status"       gorm:"type:varchar(16);not null"`
	TransactionID        string    `json:"transaction_id" gorm:"type:varchar(64);not null;index"`
	TransactionTimestamp string    `json:"transaction_timestamp" gorm:"type:varchar(64)"`
	CreatedAt            time.Time `json:"created_at"`
}

// TableName returns the database table name for TokenTransfer.
func (TokenTransfer) TableName() string { return "token_transfers" }

// TokenClaim records tokens credited to a principal, typically for a challenge.
type TokenClaim struct {
	ID                   string    `json:"id"       gorm:"type:char(36);primaryKey"`
	UserID               string    `json:"user_id"  gorm:"type:varchar(128);not null;index"`
	TokenID              string    `json:"token_id" gorm:"type:varchar(64);not null"`
	Amount               float64   `json:"amount"   gorm:"not null"`
	Reason               string    `json:"reason,omitempty" gorm:"type:text"`
	ChallengeID          string    `json:"challenge_id,omitempty" gorm:"type:varchar(128);index"`
	Status               string    `json:"status"   gorm:"type:varchar(16);not null"`
	TransactionID        string    `json:"transaction_id" gorm:"type:varchar(64);not null;index"`
	TransactionTimestamp string    `json:"transaction_timestamp" gorm:"type:varchar(64)"`
	CreatedAt            time.Time `json:"created_at"`
}

// TableName returns the database table name for TokenClaim.
func (TokenClaim) TableName() string { return "token_claims" }

// Petition is a governance proposal open for voting.
type Petition struct {
	ID                   string    `json:"id"          gorm:"type:char(36);primaryKey"`
	Title                string    `json:"title"       gorm:"type:varchar(255);not null"`
	Description          string    `json:"description" gorm:"type:text"`
	CreatorID            string    `json:"creator_id"  gorm:"type:varchar(128);not null;index"`
	Status               string    `json:"status"      gorm:"type:varchar(16);not null;default:'active'"`
	TransactionID        string    `json:"transaction_id" gorm:"type:varchar(64);not null;index"`
	TransactionTimestamp string    `json:"transaction_timestamp" gorm:"type:varchar(64)"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TableName returns the database table name for Petition.
func (Petition) TableName() string { return "petitions" }

// PetitionVote is one principal's vote on a petition. A voter may vote at
// most once per petition (unique index).
type PetitionVote struct {
	ID                   string    `json:"id"          gorm:"type:char(36);primaryKey"`
	PetitionID           string    `json:"petition_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_vote_petition_voter,priority:1"`
	VoterID              string    `json:"voter_id"    gorm:"type:varchar(128);not null;uniqueIndex:ux_vote_petition_voter,priority:2"`
	VoteType             string    `json:"vote_type"   gorm:"type:varchar(32);not null"`
	TransactionID        string    `json:"transaction_id" gorm:"type:varchar(64);not null;index"`
	TransactionTimestamp string    `json:"transaction_timestamp" gorm:"type:varchar(64)"`
	CreatedAt            time.Time `json:"created_at"`
}

// TableName returns the database table name for PetitionVote.
func (PetitionVote) TableName() string { return "petition_votes" }
