// internal/models/application.go
package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ApplicationStatus is the review state of an application.
type ApplicationStatus string

const (
	StatusPending  ApplicationStatus = "Pending"
	StatusApproved ApplicationStatus = "Approved"
	StatusRejected ApplicationStatus = "Rejected"
)

// FeeStatus is the application-fee settlement state.
type FeeStatus string

const (
	FeeUnpaid FeeStatus = "Unpaid"
	FeePaid   FeeStatus = "Paid"
)

// ApplicationFee is the flat fee charged per application, in dollars.
var ApplicationFee = decimal.NewFromInt(10)

// LoanRef is the application's loan. The backend sends either the id or the
// populated loan document.
type LoanRef struct {
	ID       string `json:"_id"`
	Title    string `json:"title,omitempty"`
	Category string `json:"category,omitempty"`
}

func (r LoanRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ID)
}

func (r *LoanRef) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &r.ID)
	}
	type populated LoanRef
	var p populated
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = LoanRef(p)
	return nil
}

// ApplicationForm holds the requester fields of an application.
type ApplicationForm struct {
	FirstName     string          `json:"firstName"`
	LastName      string          `json:"lastName"`
	ContactNumber string          `json:"contactNumber"`
	NationalID    string          `json:"nationalId"`
	IncomeSource  string          `json:"incomeSource"`
	MonthlyIncome decimal.Decimal `json:"monthlyIncome"`
	LoanAmount    decimal.Decimal `json:"loanAmount"`
	Reason        string          `json:"reason"`
	Address       string          `json:"address"`
	Notes         string          `json:"notes,omitempty"`
}

// ApplicationInput is the raw form as typed by the borrower.
type ApplicationInput struct {
	FirstName     string `json:"firstName" form:"firstName"`
	LastName      string `json:"lastName" form:"lastName"`
	ContactNumber string `json:"contactNumber" form:"contactNumber"`
	NationalID    string `json:"nationalId" form:"nationalId"`
	IncomeSource  string `json:"incomeSource" form:"incomeSource"`
	MonthlyIncome string `json:"monthlyIncome" form:"monthlyIncome"`
	LoanAmount    string `json:"loanAmount" form:"loanAmount"`
	Reason        string `json:"reason" form:"reason"`
	Address       string `json:"address" form:"address"`
	Notes         string `json:"notes" form:"notes"`
}

// PaymentDetails records a settled application fee.
type PaymentDetails struct {
	TransactionID string          `json:"transactionId"`
	Amount        decimal.Decimal `json:"amount"`
	PaidAt        time.Time       `json:"paidAt"`
}

// LoanApplication is a borrower's request for a loan.
type LoanApplication struct {
	ID           string          `json:"_id,omitempty"`
	Loan         LoanRef         `json:"loanId"`
	LoanTitle    string          `json:"loanTitle"`
	InterestRate decimal.Decimal `json:"interestRate"`
	ApplicationForm
	Status               ApplicationStatus `json:"status"`
	ApplicationFeeStatus FeeStatus         `json:"applicationFeeStatus"`
	PaymentDetails       *PaymentDetails   `json:"paymentDetails,omitempty"`
	UserEmail            string            `json:"userEmail,omitempty"`
	CreatedAt            *time.Time        `json:"createdAt,omitempty"`
}

// CanCancel reports whether the owner may still withdraw the application.
func (a *LoanApplication) CanCancel() bool {
	return a.Status == StatusPending
}

// CanDecide reports whether a manager may approve or reject.
func (a *LoanApplication) CanDecide() bool {
	return a.Status == StatusPending
}

// CanPay reports whether the fee is still owed.
func (a *LoanApplication) CanPay() bool {
	return a.ApplicationFeeStatus == FeeUnpaid
}

// IsPaid reports a settled fee backed by a processor transaction.
func (a *LoanApplication) IsPaid() bool {
	return a.ApplicationFeeStatus == FeePaid &&
		a.PaymentDetails != nil &&
		a.PaymentDetails.TransactionID != ""
}

// Clone returns a copy that does not share PaymentDetails.
func (a *LoanApplication) Clone() *LoanApplication {
	c := *a
	if a.PaymentDetails != nil {
		pd := *a.PaymentDetails
		c.PaymentDetails = &pd
	}
	return &c
}

// NewApplicationRequest builds the POST /applications body for loan.
func NewApplicationRequest(loan *Loan, form ApplicationForm) *LoanApplication {
	return &LoanApplication{
		Loan:                 LoanRef{ID: loan.ID},
		LoanTitle:            loan.Title,
		InterestRate:         loan.Interest,
		ApplicationForm:      form,
		Status:               StatusPending,
		ApplicationFeeStatus: FeeUnpaid,
	}
}

// ApplicationList is the payload of the application list endpoints.
type ApplicationList struct {
	Success      bool               `json:"success"`
	Applications []*LoanApplication `json:"applications"`
}

// ApplicationEnvelope wraps a single application.
type ApplicationEnvelope struct {
	Success     bool             `json:"success"`
	Application *LoanApplication `json:"application"`
	Message     string           `json:"message,omitempty"`
}
