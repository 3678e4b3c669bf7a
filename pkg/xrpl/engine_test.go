package xrpl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyEngineResult(t *testing.T) {
	tests := []struct {
		code string
		want EngineClass
	}{
		{code: "tesSUCCESS", want: EngineSuccess},
		{code: "terQUEUED", want: EngineQueued},
		{code: "terRETRY", want: EngineRetryable},
		{code: "terPRE_SEQ", want: EngineRetryable},
		{code: "telINSUF_FEE_P", want: EngineRetryable},
		{code: "telCAN_NOT_QUEUE", want: EngineRetryable},
		{code: "tecUNFUNDED_PAYMENT", want: EngineFailed},
		{code: "tecPATH_DRY", want: EngineFailed},
		{code: "temBAD_FEE", want: EngineFailed},
		{code: "temMALFORMED", want: EngineFailed},
		{code: "tefPAST_SEQ", want: EngineFailed},
		{code: "tefMAX_LEDGER", want: EngineFailed},
		{code: "", want: EngineUnknown},
		{code: "bogus", want: EngineUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyEngineResult(tt.code))
		})
	}
}

func TestEngineClassString(t *testing.T) {
	assert.Equal(t, "success", EngineSuccess.String())
	assert.Equal(t, "queued", EngineQueued.String())
	assert.Equal(t, "retryable", EngineRetryable.String())
	assert.Equal(t, "failed", EngineFailed.String())
	assert.Equal(t, "unknown", EngineUnknown.String())
}
