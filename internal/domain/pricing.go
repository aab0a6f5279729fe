package domain

import "math"

// refundTolerancePct is the share of the order total by which a gateway refund
// may deviate and still be accepted (rounding and gateway fee adjustments).
const refundTolerancePct = 0.02

// Subtotal sums the line totals of the given items in paise.
func Subtotal(items []OrderItem) int64 {
	var sum int64
	for _, item := range items {
		sum += item.LineTotal
	}
	return sum
}

// ValidatePricing reports whether the supplied pricing is internally
// consistent with the order items. Amounts are integer paise, so the checks
// are exact.
func ValidatePricing(items []OrderItem, pricing Pricing) bool {
	for _, item := range items {
		if item.LineTotal != item.UnitPrice*item.Quantity {
			return false
		}
	}
	if pricing.Subtotal != Subtotal(items) {
		return false
	}
	if pricing.ShippingFee < 0 || pricing.Tax < 0 {
		return false
	}
	return pricing.Total == pricing.Subtotal+pricing.ShippingFee+pricing.Tax
}

// RefundTolerance returns the maximum acceptable absolute difference, in
// paise, between the order total and a gateway refund amount.
func RefundTolerance(totalPaise int64) int64 {
	return int64(math.Round(float64(totalPaise) * refundTolerancePct))
}

// WithinRefundTolerance reports whether refundPaise is close enough to
// totalPaise to count as a full refund.
func WithinRefundTolerance(totalPaise, refundPaise int64) bool {
	diff := totalPaise - refundPaise
	if diff < 0 {
		diff = -diff
	}
	return diff <= RefundTolerance(totalPaise)
}
