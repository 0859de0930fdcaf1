package recon

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ratioAC  = decimal.RequireFromString("0.80")
	ratioPAC = decimal.RequireFromString("0.20")
)

// Classify derives the line category from the item description, with a
// site qualifier separating field work orders from serviced ones.
// Matching is case insensitive.
func Classify(itemDescription, siteName string) string {
	desc := strings.ToLower(itemDescription)
	switch {
	case strings.Contains(desc, "survey"):
		return CategorySurvey
	case strings.Contains(desc, "transportation"):
		return CategoryTransportation
	case strings.Contains(desc, "work order") && strings.Contains(strings.ToLower(siteName), "non du"):
		return CategorySiteEngineer
	default:
		return CategoryService
	}
}

// PaymentCategoryFor maps payment terms text to the billing split label.
// Terms that name neither COD nor AC1 yield an empty category.
func PaymentCategoryFor(paymentTerms string) string {
	terms := strings.ToUpper(paymentTerms)
	switch {
	case strings.Contains(terms, "COD"):
		return PaymentACPAC100
	case strings.Contains(terms, "AC1") && strings.Contains(terms, "AC2"):
		return PaymentAC80PAC20
	case strings.Contains(terms, "AC1"):
		return PaymentACPAC100
	default:
		return ""
	}
}

// AccountNameFor maps a project name to its billing account by operator
// keyword. Unrecognised projects fall into AccountOther.
func AccountNameFor(projectName string) string {
	name := strings.ToLower(projectName)
	switch {
	case strings.Contains(name, "iam"):
		return AccountIAM
	case strings.Contains(name, "orange"):
		return AccountOrange
	case strings.Contains(name, "inwi"):
		return AccountINWI
	default:
		return AccountOther
	}
}

// singleMilestone reports whether the terms settle in one payment.
func singleMilestone(paymentTerms string) bool {
	terms := strings.ToUpper(paymentTerms)
	if strings.Contains(terms, "COD") {
		return true
	}
	return strings.Contains(terms, "AC1") && !strings.Contains(terms, "AC2")
}

// twoMilestone reports whether the terms settle in an 80/20 split.
func twoMilestone(paymentTerms string) bool {
	terms := strings.ToUpper(paymentTerms)
	return strings.Contains(terms, "AC1") && strings.Contains(terms, "AC2")
}

// SplitAmounts returns the 80% and 20% milestone amounts for a line,
// each rounded to two decimals.
func SplitAmounts(lineAmount decimal.Decimal) (ac, pac decimal.Decimal) {
	return lineAmount.Mul(ratioAC).Round(2), lineAmount.Mul(ratioPAC).Round(2)
}

// DeriveStatus computes the billing status and the unbilled remaining
// amount for a line. The payment terms pick one of two disjoint regimes;
// terms outside both regimes yield Unknown with nothing outstanding.
func DeriveStatus(paymentTerms string, requestedQty decimal.Decimal, poStatus string, acDate, pacDate *time.Time, lineAmount decimal.Decimal) (string, decimal.Decimal) {
	switch {
	case singleMilestone(paymentTerms):
		if requestedQty.IsZero() {
			return StatusCancelled, decimal.Zero
		}
		if acDate != nil {
			return StatusClosed, decimal.Zero
		}
		return StatusPendingACPAC, lineAmount

	case twoMilestone(paymentTerms):
		upper := strings.ToUpper(poStatus)
		if upper == StatusCancelled || upper == StatusClosed {
			return upper, decimal.Zero
		}
		if acDate == nil {
			return StatusPendingAC80, lineAmount
		}
		if pacDate == nil {
			return StatusPendingPAC20, lineAmount.Mul(ratioPAC).Round(2)
		}
		return StatusClosed, decimal.Zero

	default:
		return StatusUnknown, decimal.Zero
	}
}
