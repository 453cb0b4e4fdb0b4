package services

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/markjakearzadon/propertypay-gobackend/internal/models"
)

const DefaultAmountUnit int64 = 5

// AmountNormalizer rounds charges up to the gateway settlement unit and picks the currency.
type AmountNormalizer struct {
	unit            int64
	minimum         int64
	defaultCurrency string
	methods         map[string]models.PaymentMethod
}

func NewAmountNormalizer(unit, minimum int64, defaultCurrency string, methods map[string]models.PaymentMethod) *AmountNormalizer {
	if unit <= 0 {
		unit = DefaultAmountUnit
	}
	if minimum <= 0 {
		minimum = unit
	}
	return &AmountNormalizer{
		unit:            unit,
		minimum:         minimum,
		defaultCurrency: strings.ToUpper(defaultCurrency),
		methods:         methods,
	}
}

var maxChargeable = decimal.NewFromInt(math.MaxInt64)

// Normalize never undercharges: the result is >= amount, >= the minimum and a multiple of the unit.
func (n *AmountNormalizer) Normalize(amount float64) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, validationErr("amount must be a finite number")
	}
	if amount <= 0 {
		return 0, validationErr("amount must be positive")
	}
	return NormalizeAmount(decimal.NewFromFloat(amount), n.unit, n.minimum)
}

// NormalizeAmount rejects amounts whose rounded value does not fit in an int64.
func NormalizeAmount(amount decimal.Decimal, unit, minimum int64) (int64, error) {
	if unit <= 0 {
		unit = DefaultAmountUnit
	}
	u := decimal.NewFromInt(unit)
	roundUp := func(d decimal.Decimal) decimal.Decimal {
		return d.Div(u).Ceil().Mul(u)
	}

	out := roundUp(amount)
	if floor := roundUp(decimal.NewFromInt(minimum)); out.LessThan(floor) {
		out = floor
	}
	if out.GreaterThan(maxChargeable) {
		return 0, validationErr("amount is too large")
	}
	return out.IntPart(), nil
}

// PaymentMethod resolves a client supplied method code against the configured table.
func (n *AmountNormalizer) PaymentMethod(code string) (models.PaymentMethod, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return models.PaymentMethod{}, validationErr("payment method is required")
	}
	m, ok := n.methods[code]
	if !ok {
		return models.PaymentMethod{}, validationErr("unsupported payment method " + code)
	}
	return m, nil
}

// ResolveCurrency prefers the requested currency, then the method's, then the default.
func (n *AmountNormalizer) ResolveCurrency(requested string, method models.PaymentMethod) string {
	if c := strings.ToUpper(strings.TrimSpace(requested)); c != "" {
		return c
	}
	if method.Currency != "" {
		return method.Currency
	}
	return n.defaultCurrency
}
