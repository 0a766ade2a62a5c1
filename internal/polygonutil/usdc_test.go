package polygonutil

import (
	"math"
	"math/big"
	"testing"
)

func TestInt64FromUint256Saturating(t *testing.T) {
	if got := int64FromUint256Saturating(nil); got != 0 {
		t.Fatalf("nil: got %d", got)
	}
	if got := int64FromUint256Saturating(big.NewInt(5_000_000)); got != 5_000_000 {
		t.Fatalf("small: got %d", got)
	}
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if got := int64FromUint256Saturating(max); got != math.MaxInt64 {
		t.Fatalf("max uint256: got %d", got)
	}
}

func TestRPCURLFromEnv(t *testing.T) {
	t.Setenv("RPC_URL", "")
	t.Setenv("POLYGON_RPC_URL", "")
	if _, err := RPCURLFromEnv(); err == nil {
		t.Fatalf("expected error when RPC_URL unset")
	}

	t.Setenv("RPC_URL", "https://polygon-rpc.example")
	got, err := RPCURLFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://polygon-rpc.example" {
		t.Fatalf("unexpected url: %q", got)
	}

	t.Setenv("RPC_URL", "ftp://bad")
	if _, err := RPCURLFromEnv(); err == nil {
		t.Fatalf("expected error for non-http scheme")
	}
}
