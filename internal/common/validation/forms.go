package validation

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"microloan-client/internal/models"
)

const emailPattern = `^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`

// parseNumber parses a typed amount with decimal rules. The schema gets the
// float value only when the text is a plain decimal; anything else (hex
// floats, digit separators, NaN) is kept as a string and fails the type check.
func parseNumber(s string) (decimal.Decimal, interface{}) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ""
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, s
	}
	return d, d.InexactFloat64()
}

// ==========================
// Loan application
// ==========================

var applicationOrder = []string{
	"firstName", "lastName", "contactNumber", "nationalId", "incomeSource",
	"monthlyIncome", "loanAmount", "reason", "address", "notes",
}

func applicationSchema(maxLimit decimal.Decimal) *FormSchema {
	limit := maxLimit.InexactFloat64()
	str := map[string]interface{}{"type": "string"}

	s := NewFormSchema(map[string]interface{}{
		"firstName":     str,
		"lastName":      str,
		"contactNumber": str,
		"nationalId":    str,
		"incomeSource":  str,
		"monthlyIncome": map[string]interface{}{"type": "number", "minimum": 0},
		"loanAmount":    map[string]interface{}{"type": "number", "exclusiveMinimum": 0, "maximum": limit},
		"reason":        str,
		"address":       str,
		"notes":         str,
	}, []string{
		"firstName", "lastName", "contactNumber", "nationalId", "incomeSource",
		"monthlyIncome", "loanAmount", "reason", "address",
	}, applicationOrder)

	s.Message("firstName", "required", "First name is required").
		Message("lastName", "required", "Last name is required").
		Message("contactNumber", "required", "Contact number is required").
		Message("nationalId", "required", "National ID is required").
		Message("incomeSource", "required", "Income source is required").
		Message("monthlyIncome", "required", "Monthly income is required").
		Message("monthlyIncome", "invalid_type", "Monthly income must be a number").
		Message("monthlyIncome", "number_gte", "Must be positive").
		Message("loanAmount", "required", "Loan amount is required").
		Message("loanAmount", "invalid_type", "Loan amount must be a number").
		Message("loanAmount", "number_gt", "Loan amount must be greater than zero").
		Message("loanAmount", "number_lte", "Maximum "+maxLimit.String()).
		Message("reason", "required", "Reason is required").
		Message("address", "required", "Address is required")

	return s
}

// ValidateApplication checks the borrower's form against the loan's limit.
// When valid, the parsed form is returned.
func ValidateApplication(in models.ApplicationInput, maxLimit decimal.Decimal) (*ValidationResult, models.ApplicationForm) {
	income, incomeDoc := parseNumber(in.MonthlyIncome)
	amount, amountDoc := parseNumber(in.LoanAmount)

	doc := compact(map[string]interface{}{
		"firstName":     in.FirstName,
		"lastName":      in.LastName,
		"contactNumber": in.ContactNumber,
		"nationalId":    in.NationalID,
		"incomeSource":  in.IncomeSource,
		"monthlyIncome": incomeDoc,
		"loanAmount":    amountDoc,
		"reason":        in.Reason,
		"address":       in.Address,
		"notes":         in.Notes,
	})

	result := applicationSchema(maxLimit).Validate(doc)
	if !result.Valid {
		return result, models.ApplicationForm{}
	}

	// the schema compares floats; recheck the limit exactly
	if amount.GreaterThan(maxLimit) {
		result.Add("loanAmount", "NUMBER_LTE", "Maximum "+maxLimit.String())
		return result, models.ApplicationForm{}
	}

	return result, models.ApplicationForm{
		FirstName:     strings.TrimSpace(in.FirstName),
		LastName:      strings.TrimSpace(in.LastName),
		ContactNumber: strings.TrimSpace(in.ContactNumber),
		NationalID:    strings.TrimSpace(in.NationalID),
		IncomeSource:  strings.TrimSpace(in.IncomeSource),
		MonthlyIncome: income,
		LoanAmount:    amount,
		Reason:        strings.TrimSpace(in.Reason),
		Address:       strings.TrimSpace(in.Address),
		Notes:         strings.TrimSpace(in.Notes),
	}
}

// ==========================
// Authentication forms
// ==========================

var loginSchema = NewFormSchema(map[string]interface{}{
	"email":    map[string]interface{}{"type": "string"},
	"password": map[string]interface{}{"type": "string"},
}, []string{"email", "password"}, []string{"email", "password"}).
	Message("email", "required", "Email is required").
	Message("password", "required", "Password is required")

// ValidateLogin checks that both credentials were entered.
func ValidateLogin(email, password string) *ValidationResult {
	return loginSchema.Validate(compact(map[string]interface{}{
		"email":    email,
		"password": password,
	}))
}

var registrationSchema = NewFormSchema(map[string]interface{}{
	"name":     map[string]interface{}{"type": "string"},
	"email":    map[string]interface{}{"type": "string", "pattern": emailPattern},
	"photoURL": map[string]interface{}{"type": "string"},
	"role":     map[string]interface{}{"type": "string", "enum": []string{string(models.RoleBorrower), string(models.RoleManager)}},
	"password": map[string]interface{}{"type": "string"},
}, []string{"name", "email", "role", "password"}, []string{"name", "email", "photoURL", "role", "password"}).
	Message("name", "required", "Name is required").
	Message("email", "required", "Email is required").
	Message("email", "pattern", "Invalid email address").
	Message("role", "required", "Please select a role").
	Message("role", "enum", "Please select a role").
	Message("password", "required", "Password is required")

// ValidateRegistration checks the sign-up form. Admin accounts cannot be
// self-registered.
func ValidateRegistration(email, password, name, photoURL string, role models.Role) *ValidationResult {
	result := registrationSchema.Validate(compact(map[string]interface{}{
		"name":     name,
		"email":    email,
		"photoURL": photoURL,
		"role":     string(role),
		"password": password,
	}))

	if password != "" {
		if msg := PasswordProblem(password); msg != "" {
			result.Add("password", "WEAK_PASSWORD", msg)
		}
	}
	return result
}

// PasswordProblem returns the first unmet password rule, or "".
func PasswordProblem(password string) string {
	if strings.IndexFunc(password, unicode.IsUpper) < 0 {
		return "Password must contain an uppercase letter"
	}
	if strings.IndexFunc(password, unicode.IsLower) < 0 {
		return "Password must contain a lowercase letter"
	}
	if len(password) < 6 {
		return "Password must be at least 6 characters"
	}
	return ""
}

// ==========================
// Manager and admin forms
// ==========================

var loanDraftOrder = []string{
	"title", "description", "category", "interest", "maxLimit",
	"requiredDocuments", "emiPlans", "images",
}

var loanDraftSchema = NewFormSchema(map[string]interface{}{
	"title":             map[string]interface{}{"type": "string"},
	"description":       map[string]interface{}{"type": "string"},
	"category":          map[string]interface{}{"type": "string"},
	"interest":          map[string]interface{}{"type": "number", "minimum": 0},
	"maxLimit":          map[string]interface{}{"type": "number", "exclusiveMinimum": 0},
	"requiredDocuments": map[string]interface{}{"type": "string"},
	"emiPlans":          map[string]interface{}{"type": "string"},
	"images":            map[string]interface{}{"type": "string"},
}, loanDraftOrder, loanDraftOrder).
	Message("title", "required", "Title is required").
	Message("description", "required", "Description is required").
	Message("category", "required", "Category is required").
	Message("interest", "required", "Interest rate is required").
	Message("interest", "invalid_type", "Interest rate must be a number").
	Message("interest", "number_gte", "Interest rate cannot be negative").
	Message("maxLimit", "required", "Max limit is required").
	Message("maxLimit", "invalid_type", "Max limit must be a number").
	Message("maxLimit", "number_gt", "Max limit must be greater than zero").
	Message("requiredDocuments", "required", "Required documents are required").
	Message("emiPlans", "required", "EMI plans are required").
	Message("images", "required", "Images are required")

// ValidateLoanDraft checks the add-loan form and parses it into a Loan.
func ValidateLoanDraft(in models.LoanDraftInput) (*ValidationResult, *models.Loan) {
	interest, interestDoc := parseNumber(in.Interest)
	maxLimit, maxLimitDoc := parseNumber(in.MaxLimit)

	result := loanDraftSchema.Validate(compact(map[string]interface{}{
		"title":             in.Title,
		"description":       in.Description,
		"category":          in.Category,
		"interest":          interestDoc,
		"maxLimit":          maxLimitDoc,
		"requiredDocuments": in.RequiredDocuments,
		"emiPlans":          in.EMIPlans,
		"images":            in.Images,
	}))
	if !result.Valid {
		return result, nil
	}

	return result, &models.Loan{
		Title:             strings.TrimSpace(in.Title),
		Description:       strings.TrimSpace(in.Description),
		Category:          strings.TrimSpace(in.Category),
		Interest:          interest,
		MaxLimit:          maxLimit,
		RequiredDocuments: SplitCSV(in.RequiredDocuments),
		EMIPlans:          SplitCSV(in.EMIPlans),
		Images:            SplitCSV(in.Images),
		ShowOnHome:        in.ShowOnHome,
	}
}

// SplitCSV splits a comma separated list, trimming entries and dropping blanks.
func SplitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var suspendSchema = NewFormSchema(map[string]interface{}{
	"suspendReason": map[string]interface{}{"type": "string"},
}, []string{"suspendReason"}, []string{"suspendReason"}).
	Message("suspendReason", "required", "Please provide a suspension reason")

// ValidateSuspension requires a non-blank reason.
func ValidateSuspension(reason string) *ValidationResult {
	return suspendSchema.Validate(compact(map[string]interface{}{"suspendReason": reason}))
}

var roles = map[models.Role]bool{
	models.RoleAdmin: true, models.RoleManager: true, models.RoleBorrower: true,
}

// ValidateRole checks an admin role change.
func ValidateRole(role models.Role) *ValidationResult {
	r := &ValidationResult{Valid: true}
	if !roles[role] {
		r.Add("role", "ENUM", "Unknown role")
	}
	return r
}
