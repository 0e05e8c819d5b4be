// Package model holds the wire/storage types shared across the indexer:
// accounts, transactions, balances, anomalies, and sync progress.
package model

import "math/big"

// TransactionKind discriminates the payload carried by a Transaction.
type TransactionKind string

const (
	KindTransfer TransactionKind = "transfer"
	KindMint     TransactionKind = "mint"
	KindBurn     TransactionKind = "burn"
	KindApprove  TransactionKind = "approve"
	KindNotify   TransactionKind = "notify"
)

// StatusCompleted and StatusSuccess are the only status values that let a
// transaction affect balances. Absent status also counts as applied.
const (
	StatusCompleted = "COMPLETED"
	StatusSuccess   = "SUCCESS"
)

// Account is the raw (owner, subaccount) pair as received from the source,
// before normalization. Owner is an opaque principal string; Subaccount, if
// present, is 32 bytes.
type Account struct {
	Owner      string `bson:"owner" json:"owner"`
	Subaccount []byte `bson:"subaccount,omitempty" json:"subaccount,omitempty"`
}

// Transfer carries a transfer transaction's fields.
type Transfer struct {
	From          Account  `bson:"from" json:"from"`
	To            Account  `bson:"to" json:"to"`
	Amount        string   `bson:"amount" json:"amount"`
	Fee           *string  `bson:"fee,omitempty" json:"fee,omitempty"`
	Spender       *Account `bson:"spender,omitempty" json:"spender,omitempty"`
	Memo          []byte   `bson:"memo,omitempty" json:"memo,omitempty"`
	CreatedAtTime *uint64  `bson:"created_at_time,omitempty" json:"created_at_time,omitempty"`
}

// Mint carries a mint transaction's fields.
type Mint struct {
	To            Account `bson:"to" json:"to"`
	Amount        string  `bson:"amount" json:"amount"`
	Memo          []byte  `bson:"memo,omitempty" json:"memo,omitempty"`
	CreatedAtTime *uint64 `bson:"created_at_time,omitempty" json:"created_at_time,omitempty"`
}

// Burn carries a burn transaction's fields.
type Burn struct {
	From          Account  `bson:"from" json:"from"`
	Amount        string   `bson:"amount" json:"amount"`
	Spender       *Account `bson:"spender,omitempty" json:"spender,omitempty"`
	Memo          []byte   `bson:"memo,omitempty" json:"memo,omitempty"`
	CreatedAtTime *uint64  `bson:"created_at_time,omitempty" json:"created_at_time,omitempty"`
}

// Approve carries an approve transaction's fields.
type Approve struct {
	From              Account `bson:"from" json:"from"`
	Spender           Account `bson:"spender" json:"spender"`
	Amount            string  `bson:"amount" json:"amount"`
	Fee               *string `bson:"fee,omitempty" json:"fee,omitempty"`
	ExpectedAllowance *string `bson:"expected_allowance,omitempty" json:"expected_allowance,omitempty"`
	ExpiresAt         *uint64 `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	Memo              []byte  `bson:"memo,omitempty" json:"memo,omitempty"`
	CreatedAtTime     *uint64 `bson:"created_at_time,omitempty" json:"created_at_time,omitempty"`
}

// Transaction is an immutable record in the per-token log. Index is the
// unique, source-assigned position; exactly one of Transfer/Mint/Burn/
// Approve/Notify is populated depending on Kind.
type Transaction struct {
	Index     uint64          `bson:"index" json:"index"`
	Timestamp uint64          `bson:"timestamp" json:"timestamp"`
	Kind      TransactionKind `bson:"kind" json:"kind"`
	Status    string          `bson:"status,omitempty" json:"status,omitempty"`

	Transfer *Transfer      `bson:"transfer,omitempty" json:"transfer,omitempty"`
	Mint     *Mint          `bson:"mint,omitempty" json:"mint,omitempty"`
	Burn     *Burn          `bson:"burn,omitempty" json:"burn,omitempty"`
	Approve  *Approve       `bson:"approve,omitempty" json:"approve,omitempty"`
	Notify   *NotifyPayload `bson:"notify,omitempty" json:"notify,omitempty"`
}

// NotifyPayload is recorded verbatim; notify never affects balances.
type NotifyPayload struct {
	Raw []byte `bson:"raw,omitempty" json:"raw,omitempty"`
}

// AppliesToBalance reports whether a transaction's status allows it to
// affect balance replay: absent status, or COMPLETED/SUCCESS.
func (t *Transaction) AppliesToBalance() bool {
	return t.Status == "" || t.Status == StatusCompleted || t.Status == StatusSuccess
}

// AccountRecord tracks every transaction index that has ever referenced an
// account. TransactionIndices grows monotonically and is never pruned.
type AccountRecord struct {
	Account            string   `bson:"account" json:"account"`
	TransactionIndices []uint64 `bson:"transaction_indices" json:"transaction_indices"`
}

// BalanceRecord is the latest computed balance for a normalized account.
type BalanceRecord struct {
	Account     string `bson:"account" json:"account"`
	Balance     string `bson:"balance" json:"balance"`
	LastUpdated int64  `bson:"last_updated" json:"last_updated"`
}

// BalanceAnomaly records an attempted debit that would have gone negative.
type BalanceAnomaly struct {
	Account       string `bson:"account" json:"account"`
	TxIndex       uint64 `bson:"tx_index" json:"tx_index"`
	TxType        string `bson:"tx_type" json:"tx_type"`
	AnomalyType   string `bson:"anomaly_type" json:"anomaly_type"`
	BalanceBefore string `bson:"balance_before" json:"balance_before"`
	Amount        string `bson:"amount" json:"amount"`
	Description   string `bson:"description" json:"description"`
	Timestamp     int64  `bson:"timestamp" json:"timestamp"`
}

// TotalSupply is the single per-token aggregate document.
type TotalSupply struct {
	ID    string `bson:"_id" json:"id"`
	Value string `bson:"value" json:"value"`
}

// SyncMode distinguishes a bootstrap/reset pass from steady-state resume.
type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

// SyncStatus is the per-token progress record, keyed by (StatusType, Token).
type SyncStatus struct {
	StatusType               string   `bson:"status_type" json:"status_type"`
	Token                    string   `bson:"token" json:"token"`
	LastSyncedIndex          int64    `bson:"last_synced_index" json:"last_synced_index"`
	LastSyncedTimestamp      uint64   `bson:"last_synced_timestamp" json:"last_synced_timestamp"`
	LastBalanceCalculatedIdx int64    `bson:"last_balance_calculated_index" json:"last_balance_calculated_index"`
	UpdatedAt                int64    `bson:"updated_at" json:"updated_at"`
	SyncMode                 SyncMode `bson:"sync_mode" json:"sync_mode"`
}

// SyncStatusType is the fixed discriminator value used in the composite key.
const SyncStatusType = "sync_state"

// ArchiveInfo describes one archive canister's contiguous index range.
type ArchiveInfo struct {
	CanisterID string
	RangeStart uint64
	RangeEnd   uint64
}

// FetchResult is what LedgerClient.FetchLedger returns: the decoded
// transactions plus the live ledger's reported window.
type FetchResult struct {
	Transactions []Transaction
	FirstIndex   uint64
	LogLength    uint64
}

// ZeroNat is the big.Int zero value used throughout balance replay.
func ZeroNat() *big.Int { return new(big.Int) }
