package matrix

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// PricePlaces is the number of fractional digits stored for a price.
const PricePlaces = 2

// MaxDimension is the largest width or height accepted. Stores keep dimensions in 32-bit columns
// and nearest fit adds one to the request.
const MaxDimension = math.MaxInt32 - 1

// ValidDimension reports whether v fits between 0 and MaxDimension.
func ValidDimension(v int) bool {
	return v >= 0 && v <= MaxDimension
}

// BuildRecords validates the grid and converts every non-blank cell into a record of the given
// tier. Blank cells are dropped. Dimensions must be integers within 0..MaxDimension and may not
// repeat. Prices must be plain non-negative decimals; a currency symbol fails the whole grid.
func BuildRecords(scope Scope, tier Tier, grid Grid) ([]Record, error) {
	widths := make([]int, len(grid.Widths))
	seenWidth := make(map[int]struct{}, len(grid.Widths))
	headerLine := grid.HeaderLine
	for i, token := range grid.Widths {
		w, err := parseDimension(token)
		if err != nil {
			return nil, malformed(headerLine, "width %q: %v", token, err)
		}
		if _, dup := seenWidth[w]; dup {
			return nil, malformed(headerLine, "duplicate width %d", w)
		}
		seenWidth[w] = struct{}{}
		widths[i] = w
	}

	records := make([]Record, 0, len(grid.Widths)*len(grid.Rows))
	seenHeight := make(map[int]struct{}, len(grid.Rows))
	for _, row := range grid.Rows {
		h, err := parseDimension(row.Height)
		if err != nil {
			return nil, malformed(row.Line, "height %q: %v", row.Height, err)
		}
		if _, dup := seenHeight[h]; dup {
			return nil, malformed(row.Line, "duplicate height %d", h)
		}
		seenHeight[h] = struct{}{}

		for i, raw := range row.Cells {
			if i >= len(widths) {
				break
			}
			value := strings.TrimSpace(raw)
			if value == "" {
				continue
			}
			price, err := decimal.NewFromString(value)
			if err != nil {
				return nil, malformed(row.Line, "price %q at width %d: not a decimal", value, widths[i])
			}
			if price.IsNegative() {
				return nil, malformed(row.Line, "price %s at width %d is negative", value, widths[i])
			}
			records = append(records, Record{
				Scope:  scope,
				Width:  widths[i],
				Height: h,
				Price:  price.Round(PricePlaces),
				Tier:   tier,
			})
		}
	}
	return records, nil
}

func parseDimension(token string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(token))
	if err != nil {
		return 0, strconv.ErrSyntax
	}
	if !ValidDimension(v) {
		return 0, strconv.ErrRange
	}
	return v, nil
}
