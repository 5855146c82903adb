package store

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCSPayload_SortsKeysAndKeepsRawJSON(t *testing.T) {
	payload := struct {
		To     string `json:"to"`
		Amount string `json:"amount"`
		From   string `json:"from"`
	}{To: "b", Amount: "10.00", From: "a"}

	raw, canon, err := jcsPayload(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"to":"b","amount":"10.00","from":"a"}`, string(raw))
	assert.Equal(t, `{"amount":"10.00","from":"a","to":"b"}`, canon)
}

func TestJCSPayload_StableAcrossMapOrder(t *testing.T) {
	a := map[string]any{"z": 1, "a": []int{3, 2, 1}, "m": map[string]string{"y": "1", "b": "2"}}
	b := map[string]any{"m": map[string]string{"b": "2", "y": "1"}, "a": []int{3, 2, 1}, "z": 1}

	_, ca, err := jcsPayload(a)
	require.NoError(t, err)
	_, cb, err := jcsPayload(b)
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
	assert.Equal(t, `{"a":[3,2,1],"m":{"b":"2","y":"1"},"z":1}`, ca)
}

func TestPayloadHash(t *testing.T) {
	const canon = `{"amount":"1.00"}`
	sum := PayloadHash(canon)
	want := sha256.Sum256([]byte(canon))
	assert.Equal(t, hex.EncodeToString(want[:]), hex.EncodeToString(sum[:]))
	assert.NotEqual(t, sum, PayloadHash(`{"amount":"1.01"}`))
}

func TestChainHash(t *testing.T) {
	p1 := PayloadHash(`{"a":1}`)
	p2 := PayloadHash(`{"b":2}`)

	h1 := ChainHash(GenesisHash, p1)
	want := sha256.Sum256(append(make([]byte, 32), p1[:]...))
	assert.Equal(t, want, h1)

	h2 := ChainHash(h1, p2)
	assert.NotEqual(t, h2, ChainHash(GenesisHash, p2))
	assert.NotEqual(t, h2, ChainHash(h1, p1))
	assert.Equal(t, h2, ChainHash(h1, p2))
}
