// Package cleanup reconciles the wallet against the venue at startup and
// periodically redeems resolved positions. The startup pass runs before any
// position task starts, so no live task races it for order or token state;
// the periodic redeemer runs alongside the position tasks.
package cleanup

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"poly-gomm/internal/clob"
	"poly-gomm/internal/ctf"
	"poly-gomm/internal/dataapi"
)

const (
	positionsPageLimit = 500
	maxPositionsOffset = 10_000

	// dustMicros: conditions whose total balance is below 0.001 shares are
	// not worth a redemption transaction.
	dustMicros = 1_000
)

// conditionGroup collects the held outcome tokens of one condition.
type conditionGroup struct {
	ConditionID common.Hash
	NegRisk     bool
	Tokens      []heldToken
}

type heldToken struct {
	TokenID      string
	OutcomeIndex int
}

// OrderCanceller cancels all open CLOB orders for the wallet.
type OrderCanceller interface {
	CancelAll(ctx context.Context) error
}

type Cleaner struct {
	data     *dataapi.Client
	ctf      *ctf.Client
	orders   OrderCanceller
	funder   common.Address
	interval time.Duration
	dryRun   bool
}

func New(data *dataapi.Client, ctfClient *ctf.Client, orders OrderCanceller, funder common.Address, redeemInterval time.Duration, dryRun bool) *Cleaner {
	if redeemInterval <= 0 {
		redeemInterval = time.Minute
	}
	return &Cleaner{
		data:     data,
		ctf:      ctfClient,
		orders:   orders,
		funder:   funder,
		interval: redeemInterval,
		dryRun:   dryRun,
	}
}

// Startup cancels all open orders and merges stranded complementary tokens
// of unresolved conditions back to collateral. Resolved conditions are left
// to the periodic redeemer.
func (c *Cleaner) Startup(ctx context.Context) error {
	if c.dryRun {
		log.Printf("[cleanup] dry-run: skipping startup cancel/merge")
		return nil
	}

	if c.orders != nil {
		if err := c.orders.CancelAll(ctx); err != nil {
			log.Printf("[warn] cleanup cancel-all: %v", err)
		} else {
			log.Printf("[cleanup] cancelled all open orders")
		}
	}

	groups, err := c.heldConditions(ctx)
	if err != nil {
		return err
	}

	skippedNeg := 0
	for _, group := range groups {
		if group.NegRisk {
			// Neg-risk conditions settle through the adapter, not the plain
			// CTF merge path.
			skippedNeg++
			continue
		}
		if len(group.Tokens) < 2 {
			continue
		}
		denom, err := c.ctf.PayoutDenominator(ctx, group.ConditionID)
		if err != nil {
			log.Printf("[warn] cleanup denominator %s: %v", group.ConditionID.Hex(), err)
			continue
		}
		if denom != 0 {
			continue
		}

		yesBal, err := c.ctf.BalanceOf(ctx, c.funder, group.Tokens[0].TokenID)
		if err != nil {
			log.Printf("[warn] cleanup balance %s: %v", group.Tokens[0].TokenID, err)
			continue
		}
		noBal, err := c.ctf.BalanceOf(ctx, c.funder, group.Tokens[1].TokenID)
		if err != nil {
			log.Printf("[warn] cleanup balance %s: %v", group.Tokens[1].TokenID, err)
			continue
		}
		if yesBal < ctf.MinSharesPerSideMicros || noBal < ctf.MinSharesPerSideMicros {
			continue
		}

		mergeable := yesBal
		if noBal < mergeable {
			mergeable = noBal
		}
		if err := c.ctf.Merge(ctx, group.ConditionID, mergeable); err != nil {
			log.Printf("[warn] cleanup merge %s: %v", group.ConditionID.Hex(), err)
			continue
		}
		log.Printf("[cleanup] merged %s stranded shares condition=%s", clob.FormatUnits(mergeable), group.ConditionID.Hex())
	}
	if skippedNeg > 0 {
		log.Printf("[cleanup] skipped %d neg-risk conditions", skippedNeg)
	}
	return nil
}

// RunRedeemer redeems resolved conditions on a timer until ctx is cancelled.
// Failures are logged and retried on the next tick.
func (c *Cleaner) RunRedeemer(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.redeemOnce(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[warn] redeem pass: %v", err)
			}
		}
	}
}

// RedeemOnce runs a single redemption pass; the claim CLI uses it directly.
func (c *Cleaner) RedeemOnce(ctx context.Context) error {
	return c.redeemOnce(ctx)
}

func (c *Cleaner) redeemOnce(ctx context.Context) error {
	if c.dryRun {
		return nil
	}

	groups, err := c.heldConditions(ctx)
	if err != nil {
		return err
	}

	for _, group := range groups {
		if group.NegRisk {
			continue
		}
		denom, err := c.ctf.PayoutDenominator(ctx, group.ConditionID)
		if err != nil {
			log.Printf("[warn] redeem denominator %s: %v", group.ConditionID.Hex(), err)
			continue
		}
		if denom == 0 {
			// Unresolved; retry next tick.
			continue
		}

		var total, expected int64
		for _, token := range group.Tokens {
			bal, err := c.ctf.BalanceOf(ctx, c.funder, token.TokenID)
			if err != nil {
				log.Printf("[warn] redeem balance %s: %v", token.TokenID, err)
				continue
			}
			total += bal
			num, err := c.ctf.PayoutNumerator(ctx, group.ConditionID, token.OutcomeIndex)
			if err != nil {
				log.Printf("[warn] redeem numerator %s[%d]: %v", group.ConditionID.Hex(), token.OutcomeIndex, err)
				continue
			}
			expected += bal * num / denom
		}
		if total < dustMicros {
			continue
		}

		if err := c.ctf.Redeem(ctx, group.ConditionID); err != nil {
			log.Printf("[warn] redeem %s: %v", group.ConditionID.Hex(), err)
			continue
		}
		log.Printf("[redeem] condition=%s expected_collateral=%s", group.ConditionID.Hex(), clob.FormatUnits(expected))
	}
	return nil
}

func (c *Cleaner) heldConditions(ctx context.Context) ([]conditionGroup, error) {
	positions, err := c.fetchPositions(ctx)
	if err != nil {
		return nil, err
	}
	return groupByCondition(positions), nil
}

func (c *Cleaner) fetchPositions(ctx context.Context) ([]dataapi.Position, error) {
	offset := 0
	out := make([]dataapi.Position, 0, positionsPageLimit)
	for {
		batch, err := c.data.GetPositions(ctx, dataapi.PositionsParams{
			User:   c.funder.Hex(),
			Limit:  positionsPageLimit,
			Offset: offset,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if len(batch) < positionsPageLimit {
			break
		}
		offset += len(batch)
		if offset >= maxPositionsOffset {
			break
		}
	}
	return out, nil
}

// groupByCondition buckets held positions per condition id, deduplicating
// token ids and carrying the opposite leg when the API exposes it.
func groupByCondition(positions []dataapi.Position) []conditionGroup {
	buckets := make(map[string]*conditionGroup)
	for _, pos := range positions {
		cond, err := parseConditionID(pos.ConditionID)
		if err != nil {
			log.Printf("[warn] skip position: invalid conditionId %q", pos.ConditionID)
			continue
		}
		key := cond.Hex()
		bucket := buckets[key]
		if bucket == nil {
			bucket = &conditionGroup{ConditionID: cond}
			buckets[key] = bucket
		}
		if pos.NegativeRisk {
			bucket.NegRisk = true
		}
		bucket.addToken(pos.Asset, pos.OutcomeIndex)
		if strings.TrimSpace(pos.OppositeAsset) != "" {
			bucket.addToken(pos.OppositeAsset, 1-pos.OutcomeIndex)
		}
	}

	out := make([]conditionGroup, 0, len(buckets))
	for _, bucket := range buckets {
		sort.Slice(bucket.Tokens, func(i, j int) bool {
			return bucket.Tokens[i].OutcomeIndex < bucket.Tokens[j].OutcomeIndex
		})
		out = append(out, *bucket)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConditionID.Hex() < out[j].ConditionID.Hex()
	})
	return out
}

func (g *conditionGroup) addToken(tokenID string, outcomeIndex int) {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return
	}
	for _, t := range g.Tokens {
		if t.TokenID == tokenID {
			return
		}
	}
	g.Tokens = append(g.Tokens, heldToken{TokenID: tokenID, OutcomeIndex: outcomeIndex})
}

func parseConditionID(raw string) (common.Hash, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return common.Hash{}, errors.New("empty condition id")
	}
	if !strings.HasPrefix(s, "0x") {
		return common.Hash{}, fmt.Errorf("condition id missing 0x prefix: %q", s)
	}
	hexStr := strings.TrimPrefix(s, "0x")
	if len(hexStr) != 64 {
		return common.Hash{}, fmt.Errorf("condition id length %d", len(hexStr))
	}
	if _, err := hex.DecodeString(hexStr); err != nil {
		return common.Hash{}, fmt.Errorf("condition id hex: %w", err)
	}
	return common.HexToHash(s), nil
}
