package xrpl

import "strings"

// EngineClass groups the ledger's engine result codes by what a submitter
// may safely do next with the same signed blob.
type EngineClass int

const (
	// EngineUnknown is returned for codes outside the known prefixes.
	EngineUnknown EngineClass = iota
	// EngineSuccess: the transaction was provisionally applied (tes).
	EngineSuccess
	// EngineQueued: accepted into the open-ledger queue (terQUEUED);
	// treated as a dispatch, confirmation tracking should begin.
	EngineQueued
	// EngineRetryable: not applied now but might apply later (ter, tel).
	// Resubmitting the identical blob is safe.
	EngineRetryable
	// EngineFailed: a definitive rejection (tem, tef, tec). tem is
	// malformed, tef cannot ever apply, tec was applied with failure and
	// claimed its fee. None of these may be retried.
	EngineFailed
)

// ClassifyEngineResult maps an engine result code such as "tesSUCCESS" or
// "temBAD_FEE" to its class. Classification is by prefix, the way the
// ledger defines its code families.
func ClassifyEngineResult(code string) EngineClass {
	switch {
	case code == "terQUEUED":
		return EngineQueued
	case strings.HasPrefix(code, "tes"):
		return EngineSuccess
	case strings.HasPrefix(code, "ter"), strings.HasPrefix(code, "tel"):
		return EngineRetryable
	case strings.HasPrefix(code, "tec"), strings.HasPrefix(code, "tem"), strings.HasPrefix(code, "tef"):
		return EngineFailed
	default:
		return EngineUnknown
	}
}

func (c EngineClass) String() string {
	switch c {
	case EngineSuccess:
		return "success"
	case EngineQueued:
		return "queued"
	case EngineRetryable:
		return "retryable"
	case EngineFailed:
		return "failed"
	default:
		return "unknown"
	}
}
