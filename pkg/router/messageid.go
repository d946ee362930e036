package router

import "encoding/json"

// messageID extracts the "message_id" field from a JSON payload for
// deduplication purposes, per spec.md §4.2. Payloads that aren't a
// JSON object, or that omit the field, yield "" (never deduplicated).
func messageID(payload []byte) string {
	var envelope struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return ""
	}
	return envelope.MessageID
}
