package protocol

import (
	"github.com/cockroachdb/errors"
)

// Pre-allocated responses.
var (
	respOK       = []byte("OK\n")
	respNotFound = []byte("NOTFOUND\n")
)

// ValuePolicy decides what GET does with a value longer than MaxValueSize.
type ValuePolicy string

const (
	// PolicyTruncate returns the first MaxValueSize bytes, silently.
	PolicyTruncate ValuePolicy = "truncate"
	// PolicyReject answers "ERROR value too large".
	PolicyReject ValuePolicy = "reject"
)

// ReasonValueTooLarge is the error reason under PolicyReject.
const ReasonValueTooLarge = "value too large"

// ParseValuePolicy validates a configured policy name.
func ParseValuePolicy(s string) (ValuePolicy, error) {
	switch p := ValuePolicy(s); p {
	case PolicyTruncate, PolicyReject:
		return p, nil
	}
	return "", errors.Newf("unknown value policy %q", s)
}

// OK is the success response of SET and DEL.
func OK() []byte { return respOK }

// NotFound is the GET response for a missing key.
func NotFound() []byte { return respNotFound }

// Error formats "ERROR <reason>\n".
func Error(reason string) []byte {
	buf := make([]byte, 0, len("ERROR ")+len(reason)+1)
	buf = append(buf, "ERROR "...)
	buf = append(buf, reason...)
	return append(buf, '\n')
}

// Value formats a successful GET response, applying policy to values
// longer than MaxValueSize.
func Value(v []byte, policy ValuePolicy) []byte {
	if len(v) > MaxValueSize {
		if policy == PolicyReject {
			return Error(ReasonValueTooLarge)
		}
		v = v[:MaxValueSize]
	}
	// Single buffer, one write on the connection.
	buf := make([]byte, 0, len(respOK)+len(v)+1)
	buf = append(buf, respOK...)
	buf = append(buf, v...)
	return append(buf, '\n')
}
