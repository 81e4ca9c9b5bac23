package domain

import "time"

// Transaction is the decrypted view of one stored transaction. On reads the
// storage layer has already transparently decrypted the protected fields, so
// Amount, Description, Counterparty and the date fields arrive as plain
// strings here. BookingDate and ValueDate are date-only (YYYY-MM-DD).
type Transaction struct {
	ID              string   `bson:"_id" json:"id"`
	UserID          string   `bson:"userId" json:"userId"`
	AccountID       string   `bson:"accountId,omitempty" json:"accountId,omitempty"`
	TransactionID   string   `bson:"transactionId,omitempty" json:"transactionId,omitempty"`
	Category        Category `bson:"category" json:"category"`
	Exclude         bool     `bson:"exclude" json:"exclude"`
	BookingDate     string   `bson:"bookingDate,omitempty" json:"bookingDate,omitempty"`
	ValueDate       string   `bson:"valueDate,omitempty" json:"valueDate,omitempty"`
	BookingDateTime string   `bson:"bookingDateTime,omitempty" json:"bookingDateTime,omitempty"`
	Amount          string   `bson:"amount,omitempty" json:"amount,omitempty"`
	Currency        string   `bson:"currency,omitempty" json:"currency,omitempty"`
	Description     string   `bson:"description,omitempty" json:"description,omitempty"`
	Counterparty    string   `bson:"counterparty,omitempty" json:"counterparty,omitempty"`
	Raw             string   `bson:"raw,omitempty" json:"-"`
	CreatedAt       string   `bson:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt       string   `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

// BankAccount is one linked open-banking account. AccountID doubles as the
// natural key; Status is soft state ("active" / "expired") rather than a
// deletion marker.
type BankAccount struct {
	ID            string `bson:"_id" json:"id"`
	UserID        string `bson:"userId" json:"userId"`
	InstitutionID string `bson:"institutionId,omitempty" json:"institutionId,omitempty"`
	AccountID     string `bson:"accountId" json:"accountId"`
	IBAN          string `bson:"iban,omitempty" json:"iban,omitempty"`
	AccountName   string `bson:"accountName,omitempty" json:"accountName,omitempty"`
	Currency      string `bson:"currency,omitempty" json:"currency,omitempty"`
	Status        string `bson:"status,omitempty" json:"status,omitempty"`
}

// Balance is one (account, balanceType) snapshot. Re-syncs update
// BalanceAmount/ReferenceDate/Currency in place instead of inserting
// duplicates.
type Balance struct {
	ID            string `bson:"_id" json:"id"`
	UserID        string `bson:"userId" json:"userId"`
	AccountID     string `bson:"accountId" json:"accountId"`
	BalanceType   string `bson:"balanceType" json:"balanceType"`
	ReferenceDate string `bson:"referenceDate,omitempty" json:"referenceDate,omitempty"`
	BalanceAmount string `bson:"balanceAmount,omitempty" json:"balanceAmount,omitempty"`
	Currency      string `bson:"currency,omitempty" json:"currency,omitempty"`
}

// TransactionUpdate captures a user- or rule-driven mutation of a stored
// transaction. Nil pointers mean "leave unchanged".
type TransactionUpdate struct {
	Category     *Category `json:"category,omitempty"`
	Exclude      *bool     `json:"exclude,omitempty"`
	Description  *string   `json:"description,omitempty"`
	Counterparty *string   `json:"counterparty,omitempty"`
}

// IsZero reports whether the update would change nothing.
func (u TransactionUpdate) IsZero() bool {
	return u.Category == nil && u.Exclude == nil && u.Description == nil && u.Counterparty == nil
}

// Timestamp renders t the way documents store createdAt/updatedAt.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
