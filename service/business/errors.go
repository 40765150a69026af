package business

import "errors"

var (
	ErrorBankNotConnected = errors.New("No bank account is connected. Please link your bank account before paying.")

	ErrorReconnectRequired = errors.New("Your bank connection was set up under a different configuration. Please reconnect your bank account.")

	ErrorOrderAlreadyPaid = errors.New("A payment for this order is already in progress or completed.")

	ErrorInvalidAmount = errors.New("The payment amount is missing or invalid.")
)
