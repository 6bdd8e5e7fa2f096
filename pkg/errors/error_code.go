package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

// ErrorCategory groups error codes by the hundred they live in.
type ErrorCategory string

const (
	CategoryUnknown       ErrorCategory = "unknown"
	CategoryConfig        ErrorCategory = "config"
	CategoryDataIntegrity ErrorCategory = "data_integrity"
	CategoryConnectivity  ErrorCategory = "connectivity"
	CategoryStrategy      ErrorCategory = "strategy"
	CategoryRisk          ErrorCategory = "risk"
	CategoryExecution     ErrorCategory = "execution"
	CategoryLedger        ErrorCategory = "ledger"
)

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Config errors (100-199)
	ErrCodeInvalidConfiguration ErrorCode = 100
	ErrCodeMissingParameter     ErrorCode = 101
	ErrCodeInvalidParameter     ErrorCode = 102
	ErrCodeMissingCredentials   ErrorCode = 103
	ErrCodeSchemaVersion        ErrorCode = 104
	ErrCodePreflightFailed      ErrorCode = 105

	// Data integrity errors (200-299)
	ErrCodeDataNotFound    ErrorCode = 200
	ErrCodeDataGap         ErrorCode = 201
	ErrCodeDataDuplicate   ErrorCode = 202
	ErrCodeDataOutOfOrder  ErrorCode = 203
	ErrCodeInvalidCandle   ErrorCode = 204
	ErrCodeQueryFailed     ErrorCode = 205
	ErrCodeBackfillFailed  ErrorCode = 206
	ErrCodeCheckpointError ErrorCode = 207

	// Connectivity errors (300-399)
	ErrCodeStreamDisconnected ErrorCode = 300
	ErrCodeHeartbeatTimeout   ErrorCode = 301
	ErrCodeExchangeUnreachable ErrorCode = 302
	ErrCodeHandshakeFailed     ErrorCode = 303
	ErrCodeStreamOverflow      ErrorCode = 304

	// Strategy errors (400-499)
	ErrCodeStrategyNotFound ErrorCode = 400
	ErrCodeStrategyPanic    ErrorCode = 401
	ErrCodeStrategyTimeout  ErrorCode = 402
	ErrCodeStrategyFault    ErrorCode = 403
	ErrCodeInvalidSignal    ErrorCode = 404

	// Risk errors (500-599)
	ErrCodeRiskRejected   ErrorCode = 500
	ErrCodeKillSwitch     ErrorCode = 501
	ErrCodeExposureExceeded ErrorCode = 502

	// Execution errors (600-699)
	ErrCodeOrderFailed       ErrorCode = 600
	ErrCodeOrderRejected     ErrorCode = 601
	ErrCodeInvalidExecuteOrder ErrorCode = 602
	ErrCodeDuplicateOrderKey ErrorCode = 603
	ErrCodeFillTimeout       ErrorCode = 604

	// Ledger errors (700-799)
	ErrCodeLedgerWriteFailed  ErrorCode = 700
	ErrCodePositionNotFound   ErrorCode = 701
	ErrCodeSummaryWriteFailed ErrorCode = 702
)

// Category returns the ErrorCategory the code belongs to.
func (c ErrorCode) Category() ErrorCategory {
	switch {
	case c >= 100 && c < 200:
		return CategoryConfig
	case c >= 200 && c < 300:
		return CategoryDataIntegrity
	case c >= 300 && c < 400:
		return CategoryConnectivity
	case c >= 400 && c < 500:
		return CategoryStrategy
	case c >= 500 && c < 600:
		return CategoryRisk
	case c >= 600 && c < 700:
		return CategoryExecution
	case c >= 700 && c < 800:
		return CategoryLedger
	default:
		return CategoryUnknown
	}
}
