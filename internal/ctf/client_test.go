package ctf

import (
	"context"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func mustABIs(t *testing.T) (abi.ABI, abi.ABI) {
	t.Helper()
	ctfParsed, err := abi.JSON(strings.NewReader(ctfABIJSON))
	if err != nil {
		t.Fatalf("ctf abi parse: %v", err)
	}
	erc20Parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		t.Fatalf("erc20 abi parse: %v", err)
	}
	return ctfParsed, erc20Parsed
}

func TestCTFABISelectors(t *testing.T) {
	ctfParsed, erc20Parsed := mustABIs(t)

	cases := []struct {
		parsed abi.ABI
		method string
		sig    string
	}{
		{ctfParsed, "splitPosition", "splitPosition(address,bytes32,bytes32,uint256[],uint256)"},
		{ctfParsed, "mergePositions", "mergePositions(address,bytes32,bytes32,uint256[],uint256)"},
		{ctfParsed, "redeemPositions", "redeemPositions(address,bytes32,bytes32,uint256[])"},
		{ctfParsed, "balanceOf", "balanceOf(address,uint256)"},
		{ctfParsed, "payoutDenominator", "payoutDenominator(bytes32)"},
		{ctfParsed, "payoutNumerators", "payoutNumerators(bytes32,uint256)"},
		{ctfParsed, "setApprovalForAll", "setApprovalForAll(address,bool)"},
		{ctfParsed, "isApprovedForAll", "isApprovedForAll(address,address)"},
		{erc20Parsed, "approve", "approve(address,uint256)"},
		{erc20Parsed, "allowance", "allowance(address,address)"},
	}
	for _, tc := range cases {
		method, ok := tc.parsed.Methods[tc.method]
		if !ok {
			t.Fatalf("method %s missing", tc.method)
		}
		want := crypto.Keccak256([]byte(tc.sig))[:4]
		if string(method.ID) != string(want) {
			t.Fatalf("%s selector mismatch: got %x want %x", tc.method, method.ID, want)
		}
	}
}

func TestBinaryPartition(t *testing.T) {
	if len(binaryPartition) != 2 {
		t.Fatalf("binary partition must have 2 index sets")
	}
	if binaryPartition[0].Int64() != 1 || binaryPartition[1].Int64() != 2 {
		t.Fatalf("unexpected partition: %v", binaryPartition)
	}
}

func TestSplitRejectsBelowMinimum(t *testing.T) {
	// 2.0 collateral per side is below the 2.5 venue minimum.
	c := &Client{}
	ctfParsed, erc20Parsed := mustABIs(t)
	c.ctfABI = ctfParsed
	c.erc20ABI = erc20Parsed

	err := c.Split(context.Background(), common.Hash{}, 4_000_000)
	if err == nil {
		t.Fatalf("expected split rejection")
	}
	if !strings.Contains(err.Error(), "MM_TRADE_SIZE below minimum") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseTokenID(t *testing.T) {
	id, err := parseTokenID("43577760886052680570334039145361508464602899119356427453668205933543171672461")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.BitLen() <= 160 {
		t.Fatalf("expected full-width token id, got %d bits", id.BitLen())
	}
	if _, err := parseTokenID("0xabc"); err == nil {
		t.Fatalf("expected error for hex token id")
	}
	if _, err := parseTokenID(""); err == nil {
		t.Fatalf("expected error for empty token id")
	}
}
