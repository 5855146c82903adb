package store

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/jackc/pgx/v5"
)

type JSONBytes = json.RawMessage

// jcsPayload returns both representations required by the event_log schema:
// - payload_json: regular JSON bytes (cast to jsonb in SQL)
// - payload_canonical: RFC 8785 canonical JSON string (JCS)
func jcsPayload(v any) (payloadJSON JSONBytes, payloadCanonical string, err error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, "", err
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, "", err
	}
	return JSONBytes(raw), string(canon), nil
}

// PayloadHash is the digest stored next to every canonical payload.
func PayloadHash(canonical string) [32]byte {
	return sha256.Sum256([]byte(canonical))
}

// GenesisHash is the prev_hash of the first event in the log.
var GenesisHash [32]byte

// ChainHash links an event to its predecessor. It mirrors the
// event_log_chain trigger: sha256(prev || payloadHash).
func ChainHash(prev, payloadHash [32]byte) [32]byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, prev[:]...)
	buf = append(buf, payloadHash[:]...)
	return sha256.Sum256(buf)
}

// insertEvent is the single entry point for event_log inserts. seq,
// prev_hash and hash are filled in by the chain trigger.
func insertEvent(
	ctx context.Context,
	tx pgx.Tx,
	eventType, aggregateType, aggregateID, correlationID string,
	payload any,
) error {
	if strings.TrimSpace(eventType) == "" ||
		strings.TrimSpace(aggregateType) == "" ||
		strings.TrimSpace(aggregateID) == "" ||
		strings.TrimSpace(correlationID) == "" {
		return fmt.Errorf("event_log: incomplete event %q", eventType)
	}

	payloadJSON, payloadCanonical, err := jcsPayload(payload)
	if err != nil {
		return err
	}
	hash := PayloadHash(payloadCanonical)

	_, err = tx.Exec(ctx,
		`INSERT INTO event_log(
			event_id, event_type, aggregate_type, aggregate_id, correlation_id,
			payload_json, payload_canonical, payload_hash
		) VALUES($1,$2,$3,$4,$5,$6::jsonb,$7,$8)`,
		uuid.New(), eventType, aggregateType, aggregateID, correlationID,
		string(payloadJSON), payloadCanonical, hash[:],
	)
	return classify(err)
}
