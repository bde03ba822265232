package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/tbourn/go-txsim/internal/domain"
)

// idInput is the hashed tuple. Field order does not matter: the JSON is
// canonicalized (RFC 8785) before hashing.
type idInput struct {
	Action    domain.Action  `json:"action"`
	Payload   domain.Payload `json:"payload"`
	Sender    string         `json:"sender"`
	Timestamp string         `json:"timestamp"`
}

// TransactionID derives the deterministic id of a transaction: the hex
// SHA-256 of the canonical JSON of (action, payload, sender, timestamp).
func TransactionID(sender string, action domain.Action, payload domain.Payload, timestamp string) (string, error) {
	raw, err := json.Marshal(idInput{
		Action:    action,
		Payload:   payload,
		Sender:    sender,
		Timestamp: timestamp,
	})
	if err != nil {
		return "", fmt.Errorf("encode transaction id input: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize transaction id input: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
