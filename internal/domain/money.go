package domain

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// CurrencyNGN is the only currency the marketplace trades in. Amounts are held
// as whole naira; kobo precision only exists at the payment-provider boundary.
const CurrencyNGN = "NGN"

var nairaPrinter = message.NewPrinter(language.English)

// FormatNaira renders a whole-naira amount with the ₦ sign and digit grouping
// for receipts and event payloads, e.g. 2300 -> "₦2,300".
func FormatNaira(amount int64) string {
	return nairaPrinter.Sprintf("₦%d", amount)
}

// ToKobo converts a whole-naira amount to minor units for payment providers.
func ToKobo(amount int64) int64 {
	return amount * 100
}
