package recon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func datePtr(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestClassify(t *testing.T) {
	cases := []struct {
		desc string
		site string
		want string
	}{
		{"Site Survey Package", "DU-021", CategorySurvey},
		{"TRANSPORTATION of materials", "DU-021", CategoryTransportation},
		{"Work Order batch 3", "Non DU Cluster West", CategorySiteEngineer},
		{"Work Order batch 3", "DU-021", CategoryService},
		{"work order (lowercase)", "NON DU east", CategorySiteEngineer},
		{"Installation service", "Non DU Cluster", CategoryService},
		{"", "", CategoryService},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.desc, tc.site), "desc=%q site=%q", tc.desc, tc.site)
	}
}

func TestPaymentCategoryFor(t *testing.T) {
	assert.Equal(t, PaymentACPAC100, PaymentCategoryFor("COD 30 days"))
	assert.Equal(t, PaymentAC80PAC20, PaymentCategoryFor("AC1,AC2"))
	assert.Equal(t, PaymentAC80PAC20, PaymentCategoryFor("ac1 80% / ac2 20%"))
	assert.Equal(t, PaymentACPAC100, PaymentCategoryFor("AC1 only"))
	assert.Equal(t, "", PaymentCategoryFor("Net 60"))
	assert.Equal(t, "", PaymentCategoryFor(""))
}

func TestAccountNameFor(t *testing.T) {
	assert.Equal(t, AccountIAM, AccountNameFor("IAM Fiber North"))
	assert.Equal(t, AccountOrange, AccountNameFor("orange ftth phase 2"))
	assert.Equal(t, AccountINWI, AccountNameFor("Backbone INWI South"))
	assert.Equal(t, AccountOther, AccountNameFor("Harbour Works"))
	assert.Equal(t, AccountOther, AccountNameFor(""))
}

func TestSplitAmounts(t *testing.T) {
	ac, pac := SplitAmounts(d("1000"))
	assert.True(t, ac.Equal(d("800")))
	assert.True(t, pac.Equal(d("200")))

	// 80/20 split must rebuild the line amount up to rounding.
	ac, pac = SplitAmounts(d("99.99"))
	assert.True(t, ac.Equal(d("79.99")), "got %s", ac)
	assert.True(t, pac.Equal(d("20.00")), "got %s", pac)
	assert.True(t, ac.Add(pac).Sub(d("99.99")).Abs().LessThanOrEqual(d("0.01")))
}

func TestDeriveStatusSingleMilestone(t *testing.T) {
	// COD with zero requested quantity is a cancellation.
	status, remaining := DeriveStatus("COD", decimal.Zero, "OPEN", nil, nil, d("500"))
	assert.Equal(t, StatusCancelled, status)
	assert.True(t, remaining.IsZero())

	// Accepted COD line is fully billed.
	status, remaining = DeriveStatus("COD", d("1"), "OPEN", datePtr("2024-01-10"), nil, d("500"))
	assert.Equal(t, StatusClosed, status)
	assert.True(t, remaining.IsZero())

	// Unaccepted COD line still owes the full amount.
	status, remaining = DeriveStatus("COD", d("1"), "OPEN", nil, nil, d("500"))
	assert.Equal(t, StatusPendingACPAC, status)
	assert.True(t, remaining.Equal(d("500")))

	// AC1 without AC2 follows the same single payment regime.
	status, remaining = DeriveStatus("AC1", d("1"), "OPEN", nil, nil, d("500"))
	assert.Equal(t, StatusPendingACPAC, status)
	assert.True(t, remaining.Equal(d("500")))
}

func TestDeriveStatusTwoMilestone(t *testing.T) {
	// Upstream PO status wins over acceptance dates.
	status, remaining := DeriveStatus("AC1,AC2", d("1"), "CANCELLED", datePtr("2024-01-10"), nil, d("1000"))
	assert.Equal(t, StatusCancelled, status)
	assert.True(t, remaining.IsZero())

	status, remaining = DeriveStatus("AC1,AC2", d("1"), "closed", nil, nil, d("1000"))
	assert.Equal(t, StatusClosed, status)
	assert.True(t, remaining.IsZero())

	// No milestones billed yet.
	status, remaining = DeriveStatus("AC1,AC2", d("1"), "OPEN", nil, nil, d("1000"))
	assert.Equal(t, StatusPendingAC80, status)
	assert.True(t, remaining.Equal(d("1000")))

	// First milestone billed, final 20% outstanding.
	status, remaining = DeriveStatus("AC1,AC2", d("1"), "OPEN", datePtr("2024-01-10"), nil, d("1000"))
	assert.Equal(t, StatusPendingPAC20, status)
	assert.True(t, remaining.Equal(d("200")))

	// Both milestones billed.
	status, remaining = DeriveStatus("AC1,AC2", d("1"), "OPEN", datePtr("2024-01-10"), datePtr("2024-03-02"), d("1000"))
	assert.Equal(t, StatusClosed, status)
	assert.True(t, remaining.IsZero())
}

func TestDeriveStatusUnknownTerms(t *testing.T) {
	status, remaining := DeriveStatus("Net 60", d("1"), "OPEN", nil, nil, d("1000"))
	assert.Equal(t, StatusUnknown, status)
	assert.True(t, remaining.IsZero())
}
