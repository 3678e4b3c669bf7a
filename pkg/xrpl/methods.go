package xrpl

// JSON-RPC method names used against the ledger's public API.
// All method strings are consolidated here so callers and the cacheable
// allow-list reference a single set of constants.
const (
	// Liveness and network state
	MethodServerInfo    = "server_info"
	MethodFee           = "fee"
	MethodLedgerCurrent = "ledger_current"

	// Account queries
	MethodAccountInfo = "account_info"
	MethodAccountTx   = "account_tx"

	// Transaction submission and lookup
	MethodSubmit = "submit"
	MethodTx     = "tx"
)
