package models

import (
	"time"

	"github.com/pitabwire/frame"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	StateNew             = "NEW"
	StateOrgResolved     = "ORG_RESOLVED"
	StateBankLinkPending = "BANK_LINK_PENDING"
	StateTokenObtained   = "TOKEN_OBTAINED"
	StateReadyToPay      = "READY_TO_PAY"
)

const (
	TxnStatusPending    = "pending"
	TxnStatusProcessing = "processing"
	TxnStatusCompleted  = "completed"
	TxnStatusFailed     = "failed"
	TxnStatusRefunded   = "refunded"
	TxnStatusCancelled  = "cancelled"
)

const (
	ScopeMerchant  = "merchant"
	ScopePurchaser = "purchaser"
)

const (
	OrderStateAwaitingPayment = "awaiting_payment"
	OrderStatePaid            = "paid"
	OrderStatePaymentFailed   = "payment_failed"
	OrderStateRefunded        = "refunded"
	OrderStateCancelled       = "cancelled"
)

// Identity Table binds a shopper to their Monarch purchaser organization
// and whatever payment token they have linked.
type Identity struct {
	frame.BaseModel

	UserID          string `gorm:"type:varchar(250);uniqueIndex"`
	OrgID           string `gorm:"type:varchar(250)"`
	ProviderUserID  string `gorm:"type:varchar(250)"`
	PayTokenID      string `gorm:"type:varchar(250)"`
	RegisteredEmail string `gorm:"type:varchar(250)"`

	PurchaserAPIKey string `gorm:"type:varchar(250)"`
	PurchaserAppID  string `gorm:"type:varchar(250)"`

	// merchant context the org was created under, used to detect
	// credential rotation and environment switches
	MerchantOrgID string `gorm:"type:varchar(250)"`
	Sandbox       bool

	BankLinkingURL string `gorm:"type:text"`
	LinkState      string `gorm:"type:varchar(50)"`
	ConnectedAt    *time.Time

	Extra datatypes.JSONMap `gorm:"index:,type:gin,option:jsonb_path_ops" json:"extra"`
}

func (model *Identity) IsConnected() bool {
	return model.OrgID != "" && model.PayTokenID != ""
}

// Transaction Table holds every sale we originated and its latest
// provider-reported state.
type Transaction struct {
	frame.BaseModel

	OrderID       string              `gorm:"type:varchar(250);index"`
	TransactionID string              `gorm:"type:varchar(250);uniqueIndex"`
	OrgID         string              `gorm:"type:varchar(250)"`
	PayTokenID    string              `gorm:"type:varchar(250)"`
	Amount        decimal.NullDecimal `gorm:"type:numeric" json:"amount"`
	Currency      string              `gorm:"type:varchar(10)"`
	Status        string              `gorm:"type:varchar(50);index"`
	OrderState    string              `gorm:"type:varchar(50)"`

	// which credential set originated the sale
	CredentialScope string `gorm:"type:varchar(20)"`

	// set when the provider returned no transaction id and we stamped a
	// placeholder reference instead
	NeedsReview bool

	Response datatypes.JSONMap `gorm:"index:,type:gin,option:jsonb_path_ops" json:"response"`
}

func (model *Transaction) IsSettled() bool {
	return model.Status == TxnStatusCompleted || model.Status == TxnStatusRefunded ||
		model.Status == TxnStatusCancelled
}

var providerStatusMap = map[string]string{
	"completed":  TxnStatusCompleted,
	"success":    TxnStatusCompleted,
	"settled":    TxnStatusCompleted,
	"approved":   TxnStatusCompleted,
	"pending":    TxnStatusPending,
	"processing": TxnStatusProcessing,
	"submitted":  TxnStatusProcessing,
	"failed":     TxnStatusFailed,
	"declined":   TxnStatusFailed,
	"rejected":   TxnStatusFailed,
	"returned":   TxnStatusFailed,
	"refunded":   TxnStatusRefunded,
	"reversed":   TxnStatusRefunded,
	"voided":     TxnStatusCancelled,
	"cancelled":  TxnStatusCancelled,
}

// MapProviderStatus translates a provider status string into our
// transaction status vocabulary. Unknown statuses are reported as unmapped
// rather than guessed at.
func MapProviderStatus(providerStatus string) (string, bool) {
	mapped, ok := providerStatusMap[providerStatus]
	return mapped, ok
}

var orderStateMap = map[string]string{
	TxnStatusPending:    OrderStateAwaitingPayment,
	TxnStatusProcessing: OrderStateAwaitingPayment,
	TxnStatusCompleted:  OrderStatePaid,
	TxnStatusFailed:     OrderStatePaymentFailed,
	TxnStatusRefunded:   OrderStateRefunded,
	TxnStatusCancelled:  OrderStateCancelled,
}

// OrderStateFor maps a transaction status onto the host order lifecycle.
func OrderStateFor(status string) string {
	if state, ok := orderStateMap[status]; ok {
		return state
	}
	return OrderStateAwaitingPayment
}
