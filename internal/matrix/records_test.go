package matrix_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing-matrix/internal/matrix"
)

var testScope = matrix.Scope{ProductID: 7, FieldID: 3, SiteID: 1}

func mustGrid(t *testing.T, raw string) matrix.Grid {
	t.Helper()
	grid, err := matrix.Parse(raw)
	require.NoError(t, err)
	return grid
}

func TestBuildRecordsDropsBlankCells(t *testing.T) {
	grid := mustGrid(t, ",100,200\n50,10.00, \n100,15.00,18.004\n")
	records, err := matrix.BuildRecords(testScope, matrix.Promotional, grid)
	require.NoError(t, err)
	require.Len(t, records, 3)

	for _, r := range records {
		require.Equal(t, testScope, r.Scope)
		require.Equal(t, matrix.Promotional, r.Tier)
		require.False(t, r.Width == 200 && r.Height == 50, "blank cell must not be stored")
	}
	last := records[2]
	require.Equal(t, 200, last.Width)
	require.Equal(t, 100, last.Height)
	require.True(t, decimal.RequireFromString("18.00").Equal(last.Price))
}

func TestBuildRecordsValidatesTokens(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "non numeric width", raw: ",abc\n10,1.00"},
		{name: "negative height", raw: ",10\n-5,1.00"},
		{name: "width past int4", raw: ",3000000000\n10,1.00"},
		{name: "height at int4 max", raw: ",10\n2147483647,1.00"},
		{name: "currency symbol", raw: ",10\n10,$10.00"},
		{name: "bad price", raw: ",10\n10,ten"},
		{name: "negative price", raw: ",10\n10,-1"},
		{name: "duplicate width", raw: ",10,10\n10,1,2"},
		{name: "duplicate height", raw: ",10\n10,1\n10,2"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := matrix.BuildRecords(testScope, matrix.Standard, mustGrid(t, tc.raw))
			require.ErrorIs(t, err, matrix.ErrMalformedMatrix)
		})
	}
}

func TestBuildRecordsAcceptsLargestDimension(t *testing.T) {
	records, err := matrix.BuildRecords(testScope, matrix.Standard, mustGrid(t, ",2147483646\n2147483646,1.00"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, matrix.MaxDimension, records[0].Width)
	require.Equal(t, matrix.MaxDimension, records[0].Height)
}

func TestBuildRecordsEmptyGrid(t *testing.T) {
	records, err := matrix.BuildRecords(testScope, matrix.Standard, mustGrid(t, ",10,20"))
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestParseTier(t *testing.T) {
	tier, err := matrix.ParseTier("Promo")
	require.NoError(t, err)
	require.Equal(t, matrix.Promotional, tier)

	tier, err = matrix.ParseTier("")
	require.NoError(t, err)
	require.Equal(t, matrix.Standard, tier)

	_, err = matrix.ParseTier("clearance")
	require.Error(t, err)
}

func TestScopeValidate(t *testing.T) {
	require.NoError(t, testScope.Validate())
	require.ErrorIs(t, matrix.Scope{ProductID: 1, SiteID: 1}.Validate(), matrix.ErrInvalidScope)
	require.ErrorIs(t, matrix.Scope{FieldID: 1, SiteID: 1}.Validate(), matrix.ErrInvalidScope)
}
