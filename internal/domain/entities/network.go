package entities

import (
	"fmt"
	"strings"
)

// Network identifies a settlement chain
type Network string

const (
	NetworkEthereum Network = "ethereum"
	NetworkTron     Network = "tron"
	NetworkRipple   Network = "ripple"
)

// AllNetworks lists the supported networks in a stable order
var AllNetworks = []Network{NetworkEthereum, NetworkTron, NetworkRipple}

// ParseNetwork accepts the canonical name or a common ticker alias
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ethereum", "eth":
		return NetworkEthereum, nil
	case "tron", "trx":
		return NetworkTron, nil
	case "ripple", "xrp":
		return NetworkRipple, nil
	}
	return "", fmt.Errorf("unsupported network: %s", s)
}

func (n Network) String() string { return string(n) }

// SupportsSweeping reports whether user deposit wallets on this network hold
// funds that must be pooled. Ripple deposits land directly on the treasury.
func (n Network) SupportsSweeping() bool {
	return n == NetworkEthereum || n == NetworkTron
}

// NativeToken returns the fee-paying asset of the network
func (n Network) NativeToken() Token {
	switch n {
	case NetworkEthereum:
		return TokenETH
	case NetworkTron:
		return TokenTRX
	case NetworkRipple:
		return TokenXRP
	}
	return ""
}

// Token identifies an asset settled by the service
type Token string

const (
	TokenETH       Token = "ETH"
	TokenUSDT      Token = "USDT"
	TokenUSDC      Token = "USDC"
	TokenTRX       Token = "TRX"
	TokenUSDTTRC20 Token = "USDT_TRC20"
	TokenXRP       Token = "XRP"
)

// TokenInfo describes static properties of a token
type TokenInfo struct {
	Symbol   Token
	Network  Network
	Decimals int32
	Native   bool
}

var tokenInfo = map[Token]TokenInfo{
	TokenETH:       {Symbol: TokenETH, Network: NetworkEthereum, Decimals: 18, Native: true},
	TokenUSDT:      {Symbol: TokenUSDT, Network: NetworkEthereum, Decimals: 6},
	TokenUSDC:      {Symbol: TokenUSDC, Network: NetworkEthereum, Decimals: 6},
	TokenTRX:       {Symbol: TokenTRX, Network: NetworkTron, Decimals: 6, Native: true},
	TokenUSDTTRC20: {Symbol: TokenUSDTTRC20, Network: NetworkTron, Decimals: 6},
	TokenXRP:       {Symbol: TokenXRP, Network: NetworkRipple, Decimals: 6, Native: true},
}

// Info returns the static token description
func (t Token) Info() (TokenInfo, bool) {
	info, ok := tokenInfo[t]
	return info, ok
}

// IsValid checks if the token is known
func (t Token) IsValid() bool {
	_, ok := tokenInfo[t]
	return ok
}

// IsNative reports whether the token is its network's fee asset
func (t Token) IsNative() bool {
	return tokenInfo[t].Native
}

// RequiresAllowance reports whether sweeping the token needs an on-chain
// approve step (ERC20 and TRC20 contracts).
func (t Token) RequiresAllowance() bool {
	info, ok := tokenInfo[t]
	return ok && !info.Native && info.Network != NetworkRipple
}

// Network returns the network the token lives on
func (t Token) Network() Network {
	return tokenInfo[t].Network
}

// TokensFor lists the known tokens of a network, native first
func TokensFor(n Network) []Token {
	out := []Token{n.NativeToken()}
	for _, t := range []Token{TokenUSDT, TokenUSDC, TokenUSDTTRC20} {
		if tokenInfo[t].Network == n {
			out = append(out, t)
		}
	}
	return out
}

// Process is the kind of outbound transaction
type Process string

const (
	ProcessFund       Process = "fund"
	ProcessApprove    Process = "approve"
	ProcessPool       Process = "pool"
	ProcessWithdrawal Process = "withdrawal"
)

// IsValid checks if the process is known
func (p Process) IsValid() bool {
	switch p {
	case ProcessFund, ProcessApprove, ProcessPool, ProcessWithdrawal:
		return true
	}
	return false
}
