package review

import "github.com/shopspring/decimal"

// Summary is an aggregate of star ratings.
type Summary struct {
	Average decimal.Decimal
	Count   int
}

// Summarize averages ratings. An empty slice yields a zero Summary.
func Summarize(ratings []int) Summary {
	if len(ratings) == 0 {
		return Summary{}
	}

	var sum int64
	for _, r := range ratings {
		sum += int64(r)
	}

	return Summary{
		Average: decimal.NewFromInt(sum).Div(decimal.NewFromInt(int64(len(ratings)))),
		Count:   len(ratings),
	}
}

// String renders the average with one decimal place.
func (s Summary) String() string {
	if s.Count == 0 {
		return "no reviews"
	}
	return s.Average.StringFixed(1)
}
