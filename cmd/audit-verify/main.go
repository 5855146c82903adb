// Command audit-verify checks a CSV export of event_log_proof_export_v
// offline. Every payload must be in RFC 8785 canonical form and hash to its
// payload_hash, every row must link to the previous one through
// hash = sha256(prev_hash || payload_hash), seq must run 1, 2, 3... and the
// last hash must equal the head recorded independently with -head.
package main

import (
	"bufio"
	"encoding/csv"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"funds-ledger/internal/store"

	"github.com/gowebpki/jcs"
)

type row struct {
	Seq        int64
	Canonical  string
	PayloadHex string
	PrevHex    string
	HashHex    string
}

var columns = []string{"seq", "payload_canonical", "payload_hash_hex", "prev_hash_hex", "hash_hex"}

func main() {
	var (
		inPath    = flag.String("in", "", "CSV exported from event_log_proof_export_v")
		headHash  = flag.String("head", "", "expected head hash hex (event_chain_head.head_hash)")
		wantCount = flag.Int("count", -1, "expected number of rows (optional)")
	)
	flag.Parse()

	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "missing -in")
		os.Exit(2)
	}
	if *headHash == "" {
		fmt.Fprintln(os.Stderr, "missing -head")
		os.Exit(2)
	}

	f, err := os.Open(*inPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(2)
	}
	defer f.Close()

	n, head, err := verify(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, "FAIL:", err)
		os.Exit(1)
	}
	if want := strings.ToLower(strings.TrimSpace(*headHash)); want != head {
		fmt.Fprintf(os.Stderr, "FAIL: head hash mismatch\nexpected=%s\ngot=%s\n", want, head)
		os.Exit(1)
	}
	if *wantCount >= 0 && n != *wantCount {
		fmt.Fprintf(os.Stderr, "FAIL: row count mismatch expected=%d got=%d\n", *wantCount, n)
		os.Exit(1)
	}
	fmt.Printf("OK: chain verified (%d rows). head=%s\n", n, head)
}

// verify walks the export from genesis and returns the row count and the
// hex hash of the last row.
func verify(in io.Reader) (int, string, error) {
	r := csv.NewReader(bufio.NewReader(in))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return 0, "", fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, need := range columns {
		if _, ok := col[need]; !ok {
			return 0, "", fmt.Errorf("missing column: %s", need)
		}
	}

	var (
		lineNo = 1
		prev   = store.GenesisHash
		rows   int
	)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		lineNo++
		if err != nil {
			return rows, "", fmt.Errorf("csv read: %w", err)
		}
		if len(rec) < len(header) {
			return rows, "", fmt.Errorf("line %d: expected %d fields, got %d", lineNo, len(header), len(rec))
		}

		seq, err := strconv.ParseInt(strings.TrimSpace(rec[col["seq"]]), 10, 64)
		if err != nil {
			return rows, "", fmt.Errorf("line %d: invalid seq: %w", lineNo, err)
		}
		cur := row{
			Seq:        seq,
			Canonical:  rec[col["payload_canonical"]],
			PayloadHex: normHex(rec[col["payload_hash_hex"]]),
			PrevHex:    normHex(rec[col["prev_hash_hex"]]),
			HashHex:    normHex(rec[col["hash_hex"]]),
		}
		if want := int64(rows) + 1; cur.Seq != want {
			return rows, "", fmt.Errorf("line %d: seq %d, expected %d", lineNo, cur.Seq, want)
		}
		next, err := checkRow(cur, prev)
		if err != nil {
			return rows, "", fmt.Errorf("line %d (seq=%d): %w", lineNo, cur.Seq, err)
		}
		prev = next
		rows++
	}

	if rows == 0 {
		return 0, "", fmt.Errorf("empty export")
	}
	return rows, hex.EncodeToString(prev[:]), nil
}

func normHex(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func decodeHash(name, s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid %s: %w", name, err)
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("invalid %s: %d bytes", name, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// checkRow validates one row against the hash of its predecessor and
// returns the row's own hash.
func checkRow(r row, prev [32]byte) ([32]byte, error) {
	var zero [32]byte
	payload, err := decodeHash("payload_hash_hex", r.PayloadHex)
	if err != nil {
		return zero, err
	}
	prevHash, err := decodeHash("prev_hash_hex", r.PrevHex)
	if err != nil {
		return zero, err
	}
	hash, err := decodeHash("hash_hex", r.HashHex)
	if err != nil {
		return zero, err
	}

	canon, err := jcs.Transform([]byte(r.Canonical))
	if err != nil {
		return zero, fmt.Errorf("payload is not JSON: %w", err)
	}
	if string(canon) != r.Canonical {
		return zero, fmt.Errorf("payload is not in canonical form")
	}
	if got := store.PayloadHash(r.Canonical); got != payload {
		return zero, fmt.Errorf("payload hash mismatch\nexpected=%s\ngot=%s", r.PayloadHex, hex.EncodeToString(got[:]))
	}
	if prevHash != prev {
		return zero, fmt.Errorf("prev_hash mismatch\nexpected=%s\ngot=%s", hex.EncodeToString(prev[:]), r.PrevHex)
	}
	if got := store.ChainHash(prev, payload); got != hash {
		return zero, fmt.Errorf("hash mismatch\nexpected=%s\ngot=%s", r.HashHex, hex.EncodeToString(got[:]))
	}
	return hash, nil
}
