// Package logger builds the zap logger used across the service.
//
// Logs always go to stderr. In stdio transport mode stdout belongs to the
// MCP protocol stream.
//
// Usage:
//
//	log, err := logger.New("production", "info")
//	if err != nil {
//	    panic(err)
//	}
//	log.Info("runner registry ready", zap.Int("languages", 2))
package logger
