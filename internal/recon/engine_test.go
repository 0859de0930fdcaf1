package recon

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildLedgerNoAcceptances(t *testing.T) {
	batch := uuid.New()
	lines := []PurchaseOrderLine{{
		PONumber:        "1001",
		POLineNo:        "1",
		ItemDescription: "Work Order batch",
		SiteName:        "DU-021",
		LineAmount:      d("1000"),
		RequestedQty:    d("4"),
		PaymentTerms:    "AC1,AC2",
		POStatus:        "OPEN",
	}}

	result := BuildLedger(lines, nil, nil, batch, testLogger())
	require.Len(t, result.Entries, 1)
	assert.Zero(t, result.Skipped)

	entry := result.Entries[0]
	assert.Equal(t, "1001-1", entry.POID)
	assert.Equal(t, StatusPendingAC80, entry.Status)
	assert.True(t, entry.Remaining.Equal(d("1000")))
	assert.True(t, entry.ACAmount.Equal(d("800")))
	assert.True(t, entry.PACAmount.Equal(d("200")))
	assert.Equal(t, PaymentAC80PAC20, entry.PaymentCategory)
	assert.Equal(t, CategoryService, entry.Category)
	assert.Nil(t, entry.ACDate)
	assert.Nil(t, entry.PACDate)
	assert.Equal(t, batch, entry.BatchID)
	assert.False(t, entry.IsAssigned)
	assert.False(t, entry.HasExternalPO)
}

func TestBuildLedgerMinAggregation(t *testing.T) {
	lines := []PurchaseOrderLine{{
		PONumber:     "1001",
		POLineNo:     "1",
		LineAmount:   d("1000"),
		RequestedQty: d("1"),
		PaymentTerms: "AC1,AC2",
		POStatus:     "OPEN",
	}}
	records := []AcceptanceRecord{
		{PONumber: "1001", POLineNo: "1", MilestoneType: MilestoneAC1, ApplicationProcessed: datePtr("2024-02-01")},
		{PONumber: "1001", POLineNo: "1", MilestoneType: MilestoneAC1, ApplicationProcessed: datePtr("2024-01-10")},
		{PONumber: "1001", POLineNo: "1", MilestoneType: MilestonePAC, ApplicationProcessed: datePtr("2024-04-05")},
		{PONumber: "1001", POLineNo: "1", MilestoneType: MilestoneAC2, ApplicationProcessed: datePtr("2024-03-02")},
		// Different line, must not bleed in.
		{PONumber: "1001", POLineNo: "2", MilestoneType: MilestoneAC1, ApplicationProcessed: datePtr("2023-06-06")},
	}

	result := BuildLedger(lines, records, nil, uuid.New(), testLogger())
	require.Len(t, result.Entries, 1)

	entry := result.Entries[0]
	require.NotNil(t, entry.ACDate)
	require.NotNil(t, entry.PACDate)
	assert.Equal(t, "2024-01-10", entry.ACDate.Format("2006-01-02"))
	assert.Equal(t, "2024-03-02", entry.PACDate.Format("2006-01-02"))
	assert.Equal(t, StatusClosed, entry.Status)
	assert.True(t, entry.Remaining.IsZero())
}

func TestBuildLedgerPartialBilling(t *testing.T) {
	lines := []PurchaseOrderLine{{
		PONumber:     "1001",
		POLineNo:     "1",
		LineAmount:   d("1000"),
		RequestedQty: d("1"),
		PaymentTerms: "AC1,AC2",
		POStatus:     "OPEN",
	}}
	records := []AcceptanceRecord{
		{PONumber: "1001", POLineNo: "1", MilestoneType: MilestoneAC1, ApplicationProcessed: datePtr("2024-01-10")},
	}

	result := BuildLedger(lines, records, nil, uuid.New(), testLogger())
	require.Len(t, result.Entries, 1)
	entry := result.Entries[0]
	assert.Equal(t, StatusPendingPAC20, entry.Status)
	assert.True(t, entry.Remaining.Equal(d("200")))
	assert.Nil(t, entry.PACDate)
}

func TestBuildLedgerSingleMilestoneMirrorsDate(t *testing.T) {
	lines := []PurchaseOrderLine{{
		PONumber:     "2002",
		POLineNo:     "1",
		LineAmount:   d("300"),
		RequestedQty: d("1"),
		PaymentTerms: "COD",
		POStatus:     "OPEN",
	}}
	records := []AcceptanceRecord{
		{PONumber: "2002", POLineNo: "1", MilestoneType: MilestoneAC1, ApplicationProcessed: datePtr("2024-05-01")},
	}

	result := BuildLedger(lines, records, nil, uuid.New(), testLogger())
	require.Len(t, result.Entries, 1)
	entry := result.Entries[0]
	assert.Equal(t, StatusClosed, entry.Status)
	require.NotNil(t, entry.PACDate)
	assert.True(t, entry.PACDate.Equal(*entry.ACDate))
}

func TestBuildLedgerSingleMilestoneOverridesStraySecondDate(t *testing.T) {
	lines := []PurchaseOrderLine{{
		PONumber:     "2003",
		POLineNo:     "1",
		LineAmount:   d("300"),
		RequestedQty: d("1"),
		PaymentTerms: "COD",
		POStatus:     "OPEN",
	}}
	records := []AcceptanceRecord{
		{PONumber: "2003", POLineNo: "1", MilestoneType: MilestoneAC1, ApplicationProcessed: datePtr("2024-05-01")},
		{PONumber: "2003", POLineNo: "1", MilestoneType: MilestoneAC2, ApplicationProcessed: datePtr("2024-07-15")},
	}

	result := BuildLedger(lines, records, nil, uuid.New(), testLogger())
	require.Len(t, result.Entries, 1)
	entry := result.Entries[0]
	require.NotNil(t, entry.ACDate)
	require.NotNil(t, entry.PACDate)
	assert.Equal(t, "2024-05-01", entry.ACDate.Format("2006-01-02"))
	assert.Equal(t, "2024-05-01", entry.PACDate.Format("2006-01-02"))
}

func TestBuildLedgerSkipsRowsWithoutIdentity(t *testing.T) {
	lines := []PurchaseOrderLine{
		{PONumber: "", POLineNo: "1", LineAmount: d("100"), PaymentTerms: "COD", RequestedQty: d("1")},
		{PONumber: "1001", POLineNo: "", LineAmount: d("100"), PaymentTerms: "COD", RequestedQty: d("1")},
		{PONumber: "1001", POLineNo: "1", LineAmount: d("100"), PaymentTerms: "COD", RequestedQty: d("1")},
	}

	result := BuildLedger(lines, nil, nil, uuid.New(), testLogger())
	assert.Len(t, result.Entries, 1)
	assert.Equal(t, 2, result.Skipped)
}

func TestBuildLedgerSplitInvariant(t *testing.T) {
	amounts := []string{"1000", "99.99", "0.01", "12345.67", "0"}
	for _, amt := range amounts {
		lines := []PurchaseOrderLine{{
			PONumber: "1", POLineNo: "1", LineAmount: d(amt), RequestedQty: d("1"), PaymentTerms: "AC1,AC2", POStatus: "OPEN",
		}}
		result := BuildLedger(lines, nil, nil, uuid.New(), testLogger())
		entry := result.Entries[0]
		diff := entry.ACAmount.Add(entry.PACAmount).Sub(d(amt)).Abs()
		assert.True(t, diff.LessThanOrEqual(d("0.01")), "amount %s split drifted by %s", amt, diff)
	}
}

func TestBuildLedgerAccountMapping(t *testing.T) {
	lines := []PurchaseOrderLine{
		{PONumber: "1", POLineNo: "1", ProjectName: "IAM Fiber North", LineAmount: d("10"), RequestedQty: d("1"), PaymentTerms: "COD"},
		{PONumber: "1", POLineNo: "2", ProjectName: "  Legacy Rollout ", LineAmount: d("10"), RequestedQty: d("1"), PaymentTerms: "COD"},
		{PONumber: "1", POLineNo: "3", ProjectName: "Legacy Rollout", LineAmount: d("10"), RequestedQty: d("1"), PaymentTerms: "COD"},
		{PONumber: "2", POLineNo: "1", ProjectName: "", LineAmount: d("10"), RequestedQty: d("1"), PaymentTerms: "COD"},
	}
	accounts := map[string]string{"Legacy Rollout": "Migrated Account"}

	result := BuildLedger(lines, nil, accounts, uuid.New(), testLogger())
	require.Len(t, result.Entries, 4)

	assert.Equal(t, AccountIAM, result.Entries[0].AccountName)
	assert.Equal(t, "Migrated Account", result.Entries[1].AccountName)
	assert.Equal(t, "Migrated Account", result.Entries[2].AccountName)
	assert.Equal(t, AccountOther, result.Entries[3].AccountName)

	// Known mappings stay out of NewAccounts; duplicates collapse.
	require.Len(t, result.NewAccounts, 2)
	assert.Equal(t, "IAM Fiber North", result.NewAccounts[0].ProjectName)
	assert.False(t, result.NewAccounts[0].NeedsReview)
	assert.Equal(t, UnknownProject, result.NewAccounts[1].ProjectName)
	assert.True(t, result.NewAccounts[1].NeedsReview)
}

func TestBuildLedgerTimestamps(t *testing.T) {
	before := time.Now().UTC().Add(-time.Second)
	lines := []PurchaseOrderLine{{PONumber: "1", POLineNo: "1", LineAmount: d("10"), RequestedQty: d("1"), PaymentTerms: "COD"}}
	result := BuildLedger(lines, nil, nil, uuid.New(), testLogger())
	require.Len(t, result.Entries, 1)
	assert.True(t, result.Entries[0].CreatedAt.After(before))
}
