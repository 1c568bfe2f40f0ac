package models

import (
	"errors"
	"fmt"
)

// 账本交互与交易循环中的错误分类
var (
	ErrTransport           = errors.New("ledger transport error")
	ErrNotConnected        = errors.New("ledger client not connected")
	ErrPoolNotFound        = errors.New("amm pool not found")
	ErrOracleUnavailable   = errors.New("price oracle unavailable")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSubmissionRejected  = errors.New("submission rejected by ledger")
	ErrCancellationNoop    = errors.New("offer already gone")
)

// LedgerError 定义了账本返回的错误 (RPC 错误标识或交易结果码)
type LedgerError struct {
	Code    string `json:"error"`
	Message string `json:"error_message"`
}

// Error 方法使得 LedgerError 实现了 error 接口
func (e *LedgerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ledger error: code=%s", e.Code)
	}
	return fmt.Sprintf("ledger error: code=%s, msg=%s", e.Code, e.Message)
}
