package cart

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var rupiahPrinter = message.NewPrinter(language.Indonesian)

// FormatRupiah renders amount in whole rupiah with Indonesian digit
// grouping, e.g. "Rp 150.000".
func FormatRupiah(amount decimal.Decimal) string {
	rounded := amount.Round(0).IntPart()
	return rupiahPrinter.Sprintf("Rp %v", number.Decimal(rounded))
}
