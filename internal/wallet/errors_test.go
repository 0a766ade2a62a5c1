package wallet

import (
	"fmt"
	"math/big"
	"testing"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  string
		want bool
	}{
		{"Post \"https://rpc\": context deadline exceeded", true},
		{"502 Bad Gateway", true},
		{"dial tcp: connection refused", true},
		{"header not found", true},
		{"read tcp: connection reset by peer", true},
		{"execution reverted: ERC20: transfer amount exceeds balance", false},
		{"insufficient funds for gas * price + value", false},
		{"gas required exceeds allowance (0)", false},
		{"nonce too low", false},
		// A revert surfaced through a 500 response is still terminal.
		{"server error: execution reverted", false},
	}
	for _, tc := range cases {
		if got := isTransient(fmt.Errorf("%s", tc.err)); got != tc.want {
			t.Fatalf("isTransient(%q) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestReason(t *testing.T) {
	cases := []struct {
		err  string
		want string
	}{
		{"rpc call failed: execution reverted: bad call", "execution reverted"},
		{"insufficient funds for gas * price + value", "insufficient funds for gas"},
		{"gas required exceeds allowance (0)", "gas estimation failed (call would revert)"},
		{"nonce too low", "wallet nonce already used"},
		{"Post \"https://rpc\": context deadline exceeded", "rpc unavailable after retries"},
	}
	for _, tc := range cases {
		if got := Reason(fmt.Errorf("%s", tc.err)); got != tc.want {
			t.Fatalf("Reason(%q) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestClampTip(t *testing.T) {
	gwei := big.NewInt(1_000_000_000)

	low := new(big.Int).Mul(big.NewInt(5), gwei)
	if got := clampTip(low); got.Cmp(priorityFeeFloorWei) != 0 {
		t.Fatalf("tip below floor not clamped: got %s", got)
	}

	if got := clampTip(nil); got.Cmp(priorityFeeFloorWei) != 0 {
		t.Fatalf("nil tip not floored: got %s", got)
	}

	mid := new(big.Int).Mul(big.NewInt(80), gwei)
	if got := clampTip(mid); got.Cmp(mid) != 0 {
		t.Fatalf("in-range tip modified: got %s", got)
	}

	high := new(big.Int).Mul(big.NewInt(900), gwei)
	if got := clampTip(high); got.Cmp(feeCapWei) != 0 {
		t.Fatalf("tip above cap not clamped: got %s", got)
	}
}
