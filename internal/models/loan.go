package models

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// the backend sends and expects plain JSON numbers for money
	decimal.MarshalJSONWithoutQuotes = true
}

// Loan is a loan product published by a manager.
type Loan struct {
	ID                string          `json:"_id,omitempty"`
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	Category          string          `json:"category"`
	Interest          decimal.Decimal `json:"interest"`
	MaxLimit          decimal.Decimal `json:"maxLimit"`
	RequiredDocuments []string        `json:"requiredDocuments"`
	EMIPlans          []string        `json:"emiPlans"`
	Images            []string        `json:"images"`
	ShowOnHome        bool            `json:"showOnHome"`
	CreatedBy         string          `json:"createdBy,omitempty"`
	CreatedAt         *time.Time      `json:"createdAt,omitempty"`
}

// LoanPage is the payload of GET /loans.
type LoanPage struct {
	Success     bool    `json:"success"`
	Loans       []*Loan `json:"loans"`
	TotalPages  int     `json:"totalPages"`
	CurrentPage int     `json:"currentPage,omitempty"`
	Total       int     `json:"total,omitempty"`
}

// LoanEnvelope is the payload of GET /loans/:id.
type LoanEnvelope struct {
	Success bool  `json:"success"`
	Loan    *Loan `json:"loan"`
}

// LoanDraftInput is the raw add-loan form. List fields are comma separated.
type LoanDraftInput struct {
	Title             string `json:"title" form:"title"`
	Description       string `json:"description" form:"description"`
	Category          string `json:"category" form:"category"`
	Interest          string `json:"interest" form:"interest"`
	MaxLimit          string `json:"maxLimit" form:"maxLimit"`
	RequiredDocuments string `json:"requiredDocuments" form:"requiredDocuments"`
	EMIPlans          string `json:"emiPlans" form:"emiPlans"`
	Images            string `json:"images" form:"images"`
	ShowOnHome        bool   `json:"showOnHome" form:"showOnHome"`
}
