// Package service implements the user and order CRUD services that back the
// mesh's command handlers. Each service validates inputs, enforces its
// entity's rules and talks to an abstract storage.Repository; documents are
// stored schema-less with RFC 3339 timestamps so every repository driver can
// carry them.
package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"

	"ordermesh/rpc"
	"ordermesh/storage"
)

// DeleteResult confirms a successful remove. A delete of an absent id never
// produces this record; it fails with NotFound instead.
type DeleteResult struct {
	Deleted bool   `json:"deleted"`
	Message string `json:"message"`
}

// idPayload is the wire shape of get_*/delete_* commands.
type idPayload struct {
	ID string `json:"id"`
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return rpc.ValidationFailed("missing payload")
	}
	if err := sonic.Unmarshal(payload, v); err != nil {
		return rpc.ValidationFailed("invalid payload: %v", err)
	}
	return nil
}

func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func docString(doc storage.Document, key string) string {
	s, _ := doc[key].(string)
	return s
}

func docBool(doc storage.Document, key string) bool {
	b, _ := doc[key].(bool)
	return b
}

func docFloat(doc storage.Document, key string) float64 {
	f, _ := doc[key].(float64)
	return f
}

func docTime(doc storage.Document, key string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, docString(doc, key))
	if err != nil {
		return time.Time{}
	}
	return ts
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
