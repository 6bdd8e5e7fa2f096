package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := New(ErrCodeDataGap, "gap detected")
	assert.Equal(t, "[201] gap detected", err.Error())

	cause := stderrors.New("boom")
	wrapped := Wrap(ErrCodeQueryFailed, "query failed", cause)
	assert.Equal(t, "[205] query failed: boom", wrapped.Error())
	assert.Equal(t, cause, stderrors.Unwrap(wrapped))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeStrategyTimeout, GetCode(New(ErrCodeStrategyTimeout, "slow")))
	assert.Equal(t, ErrCodeUnknown, GetCode(stderrors.New("plain")))

	// Code survives wrapping with fmt-style chains.
	inner := Newf(ErrCodeOrderRejected, "rejected by exchange: %s", "BTCUSDT")
	outer := Wrap(ErrCodeOrderFailed, "submit failed", inner)
	assert.True(t, HasCode(outer, ErrCodeOrderFailed))
}

func TestCategory(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		category ErrorCategory
	}{
		{ErrCodeInvalidConfiguration, CategoryConfig},
		{ErrCodeDataDuplicate, CategoryDataIntegrity},
		{ErrCodeHeartbeatTimeout, CategoryConnectivity},
		{ErrCodeStrategyPanic, CategoryStrategy},
		{ErrCodeRiskRejected, CategoryRisk},
		{ErrCodeOrderFailed, CategoryExecution},
		{ErrCodeLedgerWriteFailed, CategoryLedger},
		{ErrCodeUnknown, CategoryUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.category, tt.code.Category())
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrCodeStreamDisconnected, "ws closed")))
	assert.True(t, IsRetryable(New(ErrCodeFillTimeout, "no fill")))
	assert.False(t, IsRetryable(New(ErrCodeOrderRejected, "insufficient balance")))
	assert.False(t, IsRetryable(New(ErrCodeInvalidConfiguration, "bad config")))
	assert.False(t, IsRetryable(New(ErrCodeRiskRejected, "confidence floor")))
	assert.False(t, IsRetryable(stderrors.New("plain")))
}
