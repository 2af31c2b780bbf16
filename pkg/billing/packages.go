package billing

import (
	"fmt"
	"strings"

	"github.com/cloudcareercoach/api/pkg/domain"
)

// Package ids accepted at checkout
const (
	PackageMonthly = "monthly"
	PackageYearly  = "yearly"
)

// Package is a one-off premium purchase offered on the pricing page.
// Amounts are in minor currency units.
type Package struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

var catalog = []Package{
	{
		ID:          PackageMonthly,
		Name:        "Monthly Premium",
		Description: "AI-powered study plans for 1 month",
		Amount:      2999,
		Currency:    "usd",
	},
	{
		ID:          PackageYearly,
		Name:        "Yearly Premium",
		Description: "AI-powered study plans for 1 year",
		Amount:      29999,
		Currency:    "usd",
	},
}

// Packages returns the catalog in display order
func Packages() []Package {
	out := make([]Package, len(catalog))
	copy(out, catalog)
	return out
}

// LookupPackage returns the package for id, or an INVALID_PACKAGE error
func LookupPackage(id string) (Package, error) {
	for _, p := range catalog {
		if p.ID == id {
			return p, nil
		}
	}
	return Package{}, domain.NewInvalidPackageError(id)
}

// PackageForAmount finds the package a paid amount corresponds to
func PackageForAmount(amount int64, currency string) (Package, bool) {
	for _, p := range catalog {
		if p.Amount == amount && strings.EqualFold(p.Currency, currency) {
			return p, true
		}
	}
	return Package{}, false
}

// DisplayAmount renders the package price for the UI, e.g. "$29.99"
func (p Package) DisplayAmount() string {
	return FormatAmount(p.Amount, p.Currency)
}

// FormatAmount renders minor units as a human readable price
func FormatAmount(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	value := fmt.Sprintf("%d.%02d", amount/100, amount%100)

	switch strings.ToLower(currency) {
	case "usd":
		return sign + "$" + value
	case "eur":
		return sign + "€" + value
	case "gbp":
		return sign + "£" + value
	case "":
		return sign + value
	default:
		return sign + value + " " + strings.ToUpper(currency)
	}
}
