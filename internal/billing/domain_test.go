package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCalculateVAT(t *testing.T) {
	cases := []struct {
		amount string
		rate   string
		want   string
	}{
		{"100", "0.21", "21"},
		{"100", "0.19", "19"},
		{"33.33", "0.19", "6.33"},
		{"0.01", "0.19", "0"},
		{"1234.56", "0.05", "61.73"},
	}
	for _, tc := range cases {
		amount := decimal.RequireFromString(tc.amount)
		rate := decimal.RequireFromString(tc.rate)
		got := CalculateVAT(amount, rate)
		require.True(t, got.Equal(decimal.RequireFromString(tc.want)),
			"VAT(%s, %s) = %s, want %s", tc.amount, tc.rate, got, tc.want)
	}
}

func TestLineItemCompute(t *testing.T) {
	item := LineItem{
		Quantity:  decimal.NewFromInt(3),
		UnitPrice: decimal.RequireFromString("19.99"),
		TaxRate:   decimal.RequireFromString("0.21"),
	}
	item.Compute()

	require.True(t, item.NetTotal.Equal(decimal.RequireFromString("59.97")))
	require.True(t, item.TaxAmount.Equal(decimal.RequireFromString("12.59")))
}

func TestComputeTotalsAggregatesLines(t *testing.T) {
	doc := Document{Items: []LineItem{
		{Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(50), TaxRate: decimal.RequireFromString("0.21")},
		{Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("10.50"), TaxRate: decimal.RequireFromString("0.19")},
	}}
	doc.ComputeTotals()

	require.True(t, doc.TotalNet.Equal(decimal.RequireFromString("110.50")))
	require.True(t, doc.TotalTax.Equal(decimal.RequireFromString("23.00")), "tax = %s", doc.TotalTax)
	require.True(t, doc.Total.Equal(decimal.RequireFromString("133.50")))
}

func TestValidateRejectsEmptyAndNonPositive(t *testing.T) {
	doc := Document{}
	require.ErrorIs(t, doc.Validate(), ErrNoLineItems)

	doc.Items = []LineItem{{Quantity: decimal.Zero, UnitPrice: decimal.NewFromInt(10)}}
	doc.ComputeTotals()
	require.ErrorIs(t, doc.Validate(), ErrNonPositiveTotal)
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusDraft, StatusIssued, true},
		{StatusDraft, StatusCancelled, true},
		{StatusDraft, StatusPaid, false},
		{StatusIssued, StatusPaid, true},
		{StatusIssued, StatusCancelled, true},
		{StatusIssued, StatusConverted, true},
		{StatusIssued, StatusDraft, false},
		{StatusPaid, StatusCancelled, false},
		{StatusCancelled, StatusIssued, false},
		{StatusConverted, StatusPaid, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.allowed, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStates(t *testing.T) {
	require.False(t, StatusDraft.Terminal())
	require.False(t, StatusIssued.Terminal())
	require.True(t, StatusPaid.Terminal())
	require.True(t, StatusCancelled.Terminal())
	require.True(t, StatusConverted.Terminal())
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	doc := Document{Status: StatusPaid}
	err := doc.Transition(StatusCancelled)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, StatusPaid, doc.Status)
}

func TestMarkIssuedRecordsRemoteIdentity(t *testing.T) {
	doc := Document{Status: StatusDraft, Series: "PF"}
	require.NoError(t, doc.MarkIssued("sb-123", "0042", ""))

	require.Equal(t, StatusIssued, doc.Status)
	require.Equal(t, "sb-123", doc.RemoteID)
	require.Equal(t, "0042", doc.Number)
	require.Equal(t, "PF", doc.Series, "empty series must not clobber the existing one")
}

func TestMarkPaidRecordsSettlement(t *testing.T) {
	doc := Document{Status: StatusIssued}
	paidAt := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, doc.MarkPaid(decimal.NewFromInt(150), paidAt))

	require.Equal(t, StatusPaid, doc.Status)
	require.True(t, doc.PaidAmount.Equal(decimal.NewFromInt(150)))
	require.NotNil(t, doc.PaidAt)
	require.Equal(t, paidAt, *doc.PaidAt)

	doc2 := Document{Status: StatusDraft}
	require.ErrorIs(t, doc2.MarkPaid(decimal.NewFromInt(1), paidAt), ErrInvalidTransition)
}
