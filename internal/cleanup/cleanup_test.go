package cleanup

import (
	"testing"

	"poly-gomm/internal/dataapi"
)

const condA = "0x1111111111111111111111111111111111111111111111111111111111111111"
const condB = "0x2222222222222222222222222222222222222222222222222222222222222222"

func TestGroupByCondition(t *testing.T) {
	positions := []dataapi.Position{
		{ConditionID: condA, Asset: "11", OutcomeIndex: 0, OppositeAsset: "22"},
		{ConditionID: condA, Asset: "22", OutcomeIndex: 1, OppositeAsset: "11"},
		{ConditionID: condB, Asset: "33", OutcomeIndex: 1, NegativeRisk: true},
		{ConditionID: "garbage", Asset: "44", OutcomeIndex: 0},
	}

	groups := groupByCondition(positions)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}

	a := groups[0]
	if a.ConditionID.Hex() != condA {
		t.Fatalf("unexpected first condition: %s", a.ConditionID.Hex())
	}
	if len(a.Tokens) != 2 {
		t.Fatalf("condition A tokens: got %d want 2 (%+v)", len(a.Tokens), a.Tokens)
	}
	if a.Tokens[0].TokenID != "11" || a.Tokens[0].OutcomeIndex != 0 {
		t.Fatalf("unexpected yes token: %+v", a.Tokens[0])
	}
	if a.Tokens[1].TokenID != "22" || a.Tokens[1].OutcomeIndex != 1 {
		t.Fatalf("unexpected no token: %+v", a.Tokens[1])
	}

	b := groups[1]
	if !b.NegRisk {
		t.Fatalf("expected neg-risk flag on condition B")
	}
	if len(b.Tokens) != 1 {
		t.Fatalf("condition B tokens: got %d want 1", len(b.Tokens))
	}
}

func TestGroupByCondition_OppositeAssetFillsMissingLeg(t *testing.T) {
	// Only one side is held; the opposite leg still needs to be known so the
	// startup pass can read both on-chain balances before deciding to merge.
	positions := []dataapi.Position{
		{ConditionID: condA, Asset: "11", OutcomeIndex: 0, OppositeAsset: "22"},
	}

	groups := groupByCondition(positions)
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if len(groups[0].Tokens) != 2 {
		t.Fatalf("expected both legs, got %+v", groups[0].Tokens)
	}
	if groups[0].Tokens[1].TokenID != "22" || groups[0].Tokens[1].OutcomeIndex != 1 {
		t.Fatalf("unexpected opposite leg: %+v", groups[0].Tokens[1])
	}
}

func TestParseConditionID(t *testing.T) {
	if _, err := parseConditionID(condA); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, bad := range []string{"", "0x12", condA[2:], "0xzz11111111111111111111111111111111111111111111111111111111111111"} {
		if _, err := parseConditionID(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
