package internal

import (
	"log"
	"os"
)

// NewLogger returns a component-prefixed logger writing to stdout.
func NewLogger(component string) *log.Logger {
	prefix := "reviewhook"
	if component != "" {
		prefix = prefix + "/" + component
	}
	return log.New(os.Stdout, prefix+" ", log.LstdFlags|log.Lmicroseconds)
}

// WithDeliveryID returns a logger whose prefix carries the webhook delivery
// id, so every line written while processing one delivery can be correlated.
func WithDeliveryID(logger *log.Logger, deliveryID string) *log.Logger {
	if logger == nil {
		logger = log.Default()
	}
	if deliveryID == "" {
		return logger
	}
	return log.New(logger.Writer(), logger.Prefix()+"delivery="+deliveryID+" ", logger.Flags())
}
