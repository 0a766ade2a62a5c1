package clob

import (
	"fmt"
	"testing"
)

func TestIsMissingOrderErr(t *testing.T) {
	cases := []struct {
		err  string
		want bool
	}{
		{"clob DELETE /order: status 404: order not found", true},
		{"clob DELETE /order: status 400: order does not exist", true},
		{"clob DELETE /order: status 400: order already canceled", true},
		{"clob DELETE /order: status 500: internal error", false},
		{"network is unreachable", false},
	}
	for _, tc := range cases {
		if got := isMissingOrderErr(fmt.Errorf("%s", tc.err)); got != tc.want {
			t.Fatalf("isMissingOrderErr(%q) = %v, want %v", tc.err, got, tc.want)
		}
	}
	if isMissingOrderErr(nil) {
		t.Fatalf("nil error must not be a missing-order error")
	}
}

func TestOrderInfoSizeMatchedMicros(t *testing.T) {
	info := &OrderInfo{SizeMatched: "4.95"}
	if got := info.SizeMatchedMicros(); got != 4_950_000 {
		t.Fatalf("size matched: got %d", got)
	}
	var nilInfo *OrderInfo
	if got := nilInfo.SizeMatchedMicros(); got != 0 {
		t.Fatalf("nil order info: got %d", got)
	}
	empty := &OrderInfo{}
	if got := empty.SizeMatchedMicros(); got != 0 {
		t.Fatalf("empty size matched: got %d", got)
	}
}
