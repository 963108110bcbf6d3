// Package address recognizes withdrawal wallet formats of the supported chains.
package address

import (
	"regexp"
	"strings"

	"github.com/tonkeeper/tongo/ton"
)

type Chain string

const (
	ChainEVM     Chain = "EVM (ETH/BSC/Polygon/Arbitrum/etc.)"
	ChainTron    Chain = "TRON (TRC20)"
	ChainBitcoin Chain = "Bitcoin"
	ChainTON     Chain = "TON"
	ChainSolana  Chain = "Solana"
)

var (
	evmRegex     = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	tronRegex    = regexp.MustCompile(`^T[1-9A-HJ-NP-Za-km-z]{33}$`)
	bitcoinRegex = regexp.MustCompile(`^[13][a-km-zA-HJ-NP-Z1-9]{25,34}$`)
	bech32Regex  = regexp.MustCompile(`^bc1[02-9ac-hj-np-z]{11,71}$`)
	tonRegex     = regexp.MustCompile(`^([EU]Q[0-9A-Za-z_-]{46}|-?[0-9]+:[0-9a-fA-F]{64})$`)
	solanaRegex  = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// Classification is a recognized wallet address
type Classification struct {
	Chain   Chain
	Address string // normalized form to store
}

// Classify returns the chain of a wallet string. TON addresses are verified
// with tongo and stored in the bounceable user-friendly form; testnet
// kQ/0Q forms are not accepted.
func Classify(candidate string) (Classification, bool) {
	a := strings.TrimSpace(candidate)

	switch {
	case evmRegex.MatchString(a):
		return Classification{Chain: ChainEVM, Address: a}, true
	case tronRegex.MatchString(a):
		return Classification{Chain: ChainTron, Address: a}, true
	case bitcoinRegex.MatchString(a) || bech32Regex.MatchString(a):
		return Classification{Chain: ChainBitcoin, Address: a}, true
	case tonRegex.MatchString(a):
		acc, err := ton.ParseAccountID(a)
		if err != nil {
			return Classification{}, false
		}
		return Classification{Chain: ChainTON, Address: acc.ToHuman(true, false)}, true
	case solanaRegex.MatchString(a) && !strings.HasPrefix(a, "T"):
		return Classification{Chain: ChainSolana, Address: a}, true
	}

	return Classification{}, false
}
