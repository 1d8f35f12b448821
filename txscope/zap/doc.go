// Package zap adapts go.uber.org/zap to the txscope log.Logger contract.
package zap
