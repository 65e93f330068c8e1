package payment

// StatusForRefund classifies a refund against the original payment
// amount. Both values are integer minor units so the comparison is
// exact, no rounding tolerance is involved.
func StatusForRefund(refundAmount, paymentAmount int64) PaymentStatus {
	if refundAmount >= paymentAmount {
		return PaymentStatusRefunded
	}
	return PaymentStatusPartiallyRefunded
}

// RequestStatusFor maps a payment status onto the owning request.
func RequestStatusFor(s PaymentStatus) RequestStatus {
	switch s {
	case PaymentStatusRefunded:
		return RequestStatusRefunded
	case PaymentStatusPartiallyRefunded:
		return RequestStatusPartiallyRefunded
	default:
		return RequestStatusPaid
	}
}
