package ctf

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	orderconfig "github.com/polymarket/go-order-utils/pkg/config"
)

// Addresses is the contract address book, resolved once at startup and passed
// explicitly; nothing in this module reads addresses from globals.
type Addresses struct {
	Collateral      common.Address
	Conditional     common.Address
	Exchange        common.Address
	NegRiskExchange common.Address
}

// ResolveAddresses builds the address book for a chain from the exchange
// deployment registry.
func ResolveAddresses(chainID int64) (Addresses, error) {
	contracts, err := orderconfig.GetContracts(chainID)
	if err != nil {
		return Addresses{}, fmt.Errorf("contracts for chain %d: %w", chainID, err)
	}

	addrs := Addresses{
		Collateral:      contracts.Collateral,
		Conditional:     contracts.Conditional,
		Exchange:        contracts.Exchange,
		NegRiskExchange: contracts.NegRiskExchange,
	}
	if addrs.Collateral == (common.Address{}) {
		return Addresses{}, fmt.Errorf("collateral address missing for chain %d", chainID)
	}
	if addrs.Conditional == (common.Address{}) {
		return Addresses{}, fmt.Errorf("conditional tokens address missing for chain %d", chainID)
	}
	return addrs, nil
}
