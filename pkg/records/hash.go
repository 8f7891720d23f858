package records

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

const hashSep = "\x1f"

// Hash computes a deterministic SHA-256 over a record's key=value pairs in
// record order.
//
// Canonicalization rules:
//   - Components are joined with ASCII Unit Separator (0x1f).
//   - nil values are encoded as a single NUL byte so missing differs from "".
//   - Values go through FormatValue.
//   - Output is a lowercase hex string (length 64).
func Hash(r Record) string {
	var b strings.Builder
	for i, k := range r.keys {
		if i > 0 {
			b.WriteString(hashSep)
		}
		b.WriteString(k)
		b.WriteByte('=')
		v := r.vals[k]
		if v == nil {
			b.WriteByte(0)
			continue
		}
		b.WriteString(FormatValue(v))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Fingerprint hashes a record set as a multiset: row order does not affect
// the result but duplicate rows do. Two fetches of an unchanged table yield
// the same fingerprint even if the backend returned rows in another order.
func Fingerprint(rs []Record) string {
	hs := make([]string, len(rs))
	for i, r := range rs {
		hs[i] = Hash(r)
	}
	sort.Strings(hs)

	h := sha256.New()
	for _, s := range hs {
		h.Write([]byte(s))
		h.Write([]byte(hashSep))
	}
	return hex.EncodeToString(h.Sum(nil))
}
