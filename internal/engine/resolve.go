package engine

import (
	"encoding/json"
	"log/slog"

	"github.com/agentworkforce/pushmirror/internal/e2ee"
	"github.com/agentworkforce/pushmirror/internal/push"
)

// resolve returns rec with its encrypted payload merged in. Without a key, or
// when decryption fails, the record is returned untouched and still encrypted.
func resolve(rec push.Record, key []byte, logger *slog.Logger) push.Record {
	if !rec.Encrypted {
		return rec
	}
	if len(key) == 0 {
		logger.Warn("encrypted push received but end-to-end encryption is not enabled")
		return rec
	}
	plaintext, err := e2ee.Decrypt(rec.Ciphertext, key)
	if err != nil {
		logger.Warn("decrypt push failed", "error", err)
		return rec
	}
	merged := rec
	if err := json.Unmarshal(plaintext, &merged); err != nil {
		logger.Warn("decrypted push has unexpected shape", "error", err)
		return rec
	}
	merged.Encrypted = false
	merged.Ciphertext = ""
	return merged
}
