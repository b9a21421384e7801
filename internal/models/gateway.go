package models

// ConfirmationForm is the classic ePayco confirmation payload, delivered as
// application/x-www-form-urlencoded (or the same fields as flat JSON). The
// merchant reference travels in x_extra4; x_ref_payco is the gateway's own id.
type ConfirmationForm struct {
	RefPayco      string `json:"x_ref_payco"`
	TransactionID string `json:"x_transaction_id"`
	Response      string `json:"x_response"`
	ResponseCode  string `json:"x_cod_response"`
	Reference     string `json:"x_extra4"`
	RaffleID      string `json:"x_extra1"`
	Amount        string `json:"x_amount"`
	Currency      string `json:"x_currency_code"`
}

// CheckoutNotification is the checkout v2 JSON shape: the same transaction
// fields nested under "data".
type CheckoutNotification struct {
	Success bool             `json:"success"`
	Data    ConfirmationForm `json:"data"`
}

// ReferenceNotification is the bare-reference shape: only the gateway's
// transaction id, the full state must be fetched back from the gateway.
type ReferenceNotification struct {
	RefPayco string `json:"ref_payco"`
}

// PaymentSession is the subset of the gateway session-create response the
// checkout flow hands back to the frontend.
type PaymentSession struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

// TransactionDetail is the gateway's stored state for one payment, fetched
// by ref_payco when a notification carries no payload of its own.
type TransactionDetail struct {
	RefPayco     string `json:"x_ref_payco"`
	Reference    string `json:"x_extra4"`
	Response     string `json:"x_response"`
	ResponseCode string `json:"x_cod_response"`
}
