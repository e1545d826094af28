package app

type Response struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Message string `json:"message,omitempty"`
}

type CreateValidatorRequest struct {
	WithdrawalAccount string `json:"withdrawalAccount"`
}

type CreateValidatorResult struct {
	Account     string `json:"account"`
	Passphrase  string `json:"passphrase"`
	PublicKey   string `json:"publicKey"`
	DepositData string `json:"depositData"`
}

type CreateWithdrawalAccountRequest struct {
	Name       string `json:"name"`
	Passphrase string `json:"passphrase"`
}
