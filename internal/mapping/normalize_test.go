package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_Date(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"2024-12-18", "2024-12-18"},
		{"Date: 12/18/2024", "2024-12-18"},
		{"12-18-2024", "2024-12-18"},
		{"18.12.2024", "2024-12-18"},
		{"18 Dec 2024", "2024-12-18"},
		{"5 september 2023", "2023-09-05"},
		{"31 Feb 2024", "31 Feb 2024"},
		{"13/45/2024", "13/45/2024"},
		{"sometime soon", "sometime soon"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(NormalizeDate, tt.in))
		})
	}
}

func TestNormalize_Amount(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"$1,234.56", "1234.56"},
		{"HKD 500", "500.00"},
		{"12,5", "12.50"},
		{"1,234,567", "1234567.00"},
		{"-42.1", "-42.10"},
		{"n/a", "n/a"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(NormalizeAmount, tt.in))
		})
	}
}

func TestNormalize_Weight(t *testing.T) {
	assert.Equal(t, "1250.50", Normalize(NormalizeWeight, "1,250.5 KGS"))
	assert.Equal(t, "20.00", Normalize(NormalizeWeight, "20lbs."))
	assert.Equal(t, "heavy", Normalize(NormalizeWeight, "heavy"))
}

func TestNormalize_NoneTrims(t *testing.T) {
	assert.Equal(t, "abc", Normalize(NormalizeNone, "  abc "))
	assert.Equal(t, "", Normalize(NormalizeDate, "   "))
}

func TestNormalizerFor(t *testing.T) {
	assert.Equal(t, NormalizeDate, normalizerFor("", "Invoice_Date"))
	assert.Equal(t, NormalizeAmount, normalizerFor("", "freight_charge"))
	assert.Equal(t, NormalizeAmount, normalizerFor("", "duty"))
	assert.Equal(t, NormalizeWeight, normalizerFor("", "net_weight"))
	assert.Equal(t, NormalizeNone, normalizerFor("", "carrier"))
	assert.Equal(t, NormalizeNone, normalizerFor(NormalizeNone, "invoice_date"))
}
