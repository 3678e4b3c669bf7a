package xrpl

import "encoding/json"

// --- Request types

// Request is the JSON-RPC envelope the ledger's public API expects:
// a method name plus a single-element params array.
type Request struct {
	Method string `json:"method"`
	Params []any  `json:"params,omitempty"`
}

// SubmitParams carries an already-signed transaction blob.
type SubmitParams struct {
	TxBlob string `json:"tx_blob"`
}

// TxParams looks up a transaction by hash.
type TxParams struct {
	Transaction string `json:"transaction"`
	Binary      bool   `json:"binary"`
}

// AccountInfoParams queries the current state of an account.
type AccountInfoParams struct {
	Account     string `json:"account"`
	LedgerIndex string `json:"ledger_index,omitempty"`
}

// --- Response types

// envelope is the outer JSON-RPC response wrapper.
type envelope struct {
	Result json.RawMessage `json:"result"`
}

// resultHeader is the common trailer every result object carries.
// Status is "success" or "error"; on error the Error* fields are set.
type resultHeader struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// ValidatedLedger is the subset of validated-ledger info the core reads.
// Reserve values are reported in drops.
type ValidatedLedger struct {
	Seq         uint64      `json:"seq"`
	BaseReserve json.Number `json:"reserve_base_xrp"`
	IncReserve  json.Number `json:"reserve_inc_xrp"`
}

// ServerInfoResult is the answer to a server_info call.
type ServerInfoResult struct {
	Info struct {
		ServerState     string           `json:"server_state"`
		BuildVersion    string           `json:"build_version"`
		LoadFactor      float64          `json:"load_factor"`
		ValidatedLedger *ValidatedLedger `json:"validated_ledger"`
	} `json:"info"`
}

// FeeResult is the answer to a fee call. Drop amounts come back as strings.
type FeeResult struct {
	CurrentLedgerSize string `json:"current_ledger_size"`
	Drops             struct {
		BaseFee       string `json:"base_fee"`
		MedianFee     string `json:"median_fee"`
		MinimumFee    string `json:"minimum_fee"`
		OpenLedgerFee string `json:"open_ledger_fee"`
	} `json:"drops"`
}

// LedgerCurrentResult is the answer to a ledger_current call.
type LedgerCurrentResult struct {
	LedgerCurrentIndex uint64 `json:"ledger_current_index"`
}

// SubmitResult is the answer to a submit call. The engine result reports
// the provisional outcome; final state only exists once the transaction
// appears in a validated ledger.
type SubmitResult struct {
	EngineResult        string `json:"engine_result"`
	EngineResultCode    int    `json:"engine_result_code"`
	EngineResultMessage string `json:"engine_result_message"`
	TxBlob              string `json:"tx_blob"`
	TxJSON              struct {
		Hash     string `json:"hash"`
		Sequence uint32 `json:"Sequence"`
	} `json:"tx_json"`
}

// TxResult is the answer to a tx lookup.
type TxResult struct {
	Hash        string `json:"hash"`
	LedgerIndex uint64 `json:"ledger_index"`
	Validated   bool   `json:"validated"`
	Meta        struct {
		TransactionResult string `json:"TransactionResult"`
	} `json:"meta"`
}
