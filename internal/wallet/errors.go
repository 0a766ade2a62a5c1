package wallet

import "strings"

// Transient provider failures are retried; anything that implies the call
// itself is wrong (revert, funds, gas, nonce reuse) is not. A reused nonce
// should be impossible under the queue discipline, so it is treated as fatal
// rather than papered over.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"server error",
	"internal error",
	"bad gateway",
	"service unavailable",
	"network",
	"connection refused",
	"connection reset",
	"broken pipe",
	"eof",
	"header not found",
}

var terminalMarkers = []string{
	"execution reverted",
	"insufficient funds",
	"gas required exceeds",
	"always failing transaction",
	"nonce too low",
	"nonce already used",
	"replacement transaction underpriced",
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range terminalMarkers {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Reason flattens a provider error into a single human-readable line.
func Reason(err error) string {
	if err == nil {
		return "unknown error"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "execution reverted"):
		return "execution reverted"
	case strings.Contains(msg, "insufficient funds"):
		return "insufficient funds for gas"
	case strings.Contains(msg, "gas required exceeds"), strings.Contains(msg, "always failing transaction"):
		return "gas estimation failed (call would revert)"
	case strings.Contains(msg, "nonce too low"), strings.Contains(msg, "nonce already used"):
		return "wallet nonce already used"
	case isTransient(err):
		return "rpc unavailable after retries"
	default:
		line := strings.SplitN(strings.TrimSpace(err.Error()), "\n", 2)[0]
		if len(line) > 200 {
			line = line[:200]
		}
		return line
	}
}
