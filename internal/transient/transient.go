// Package transient classifies captured command output as a transient
// transport failure or a fatal application failure.
//
// The backend's control socket flaps while the VM scheduler settles, so
// broad end-of-stream tolerance keeps cosmetic blips from escalating to
// fatal. Anything not on the list (permission denied, image not found,
// malformed command) surfaces immediately instead of being masked by
// retries.
package transient

import "strings"

// Kind is the classification verdict for a captured failure.
type Kind int

const (
	// Fatal failures are surfaced immediately, never retried.
	Fatal Kind = iota

	// Transient failures are expected to self-resolve with remediation.
	Transient
)

func (k Kind) String() string {
	if k == Transient {
		return "transient"
	}
	return "fatal"
}

// markers are the transport-level failure indicators, matched
// case-insensitively against the captured output.
var markers = []string{
	"eof",
	"unexpected end of json",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"tls handshake timeout",
	"request canceled",
	"context canceled",
	"context deadline exceeded",
	"connection refused",
	"cannot connect to the docker daemon",
	"error during connect",
	"closed network connection",
	"connection closed",
}

// socketContexts qualify a missing-file failure as transport-level. A
// control socket that has not been created yet is transient; a missing
// binary or config file is not.
var socketContexts = []string{
	".sock",
	"dial unix",
}

// Classify labels captured error text. Empty text is fatal: a failure
// with no output carries no transport signature to match.
func Classify(text string) Kind {
	lower := strings.ToLower(text)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return Transient
		}
	}
	if strings.Contains(lower, "no such file or directory") {
		for _, c := range socketContexts {
			if strings.Contains(lower, c) {
				return Transient
			}
		}
	}
	return Fatal
}
