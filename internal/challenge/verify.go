package challenge

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// hijackPrefix guards JSON responses against script inclusion.
const hijackPrefix = ")]}'\n"

// VerifyOutcome classifies a verification response.
type VerifyOutcome int

const (
	VerifyUnknown VerifyOutcome = iota
	VerifyFailed
	VerifyPassed
)

func (v VerifyOutcome) String() string {
	switch v {
	case VerifyPassed:
		return "passed"
	case VerifyFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Passed reports whether the outcome counts as solved.
func (v VerifyOutcome) Passed() bool {
	return v == VerifyPassed
}

// ParseVerification reads the pass flag at index 2 of the userverify
// payload. A flag other than 0 or 1 yields VerifyUnknown with a nil error; a
// malformed body yields VerifyUnknown with the parse error.
func ParseVerification(body []byte) (VerifyOutcome, error) {
	body = bytes.TrimPrefix(body, []byte(hijackPrefix))

	var payload []json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return VerifyUnknown, fmt.Errorf("decode verification payload: %w", err)
	}
	if len(payload) < 3 {
		return VerifyUnknown, fmt.Errorf("verification payload has %d elements, want at least 3", len(payload))
	}

	var flag any
	dec := json.NewDecoder(bytes.NewReader(payload[2]))
	dec.UseNumber()
	if err := dec.Decode(&flag); err != nil {
		return VerifyUnknown, nil
	}
	n, ok := flag.(json.Number)
	if !ok {
		return VerifyUnknown, nil
	}
	switch n.String() {
	case "1":
		return VerifyPassed, nil
	case "0":
		return VerifyFailed, nil
	default:
		return VerifyUnknown, nil
	}
}
