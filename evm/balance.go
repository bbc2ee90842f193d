package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/agent0-labs/agent0-go"
)

// erc20ReadABI covers the two read-only calls the balance reader performs.
const erc20ReadABI = `[
	{
		"type": "function",
		"name": "balanceOf",
		"stateMutability": "view",
		"inputs": [{"name": "account", "type": "address"}],
		"outputs": [{"name": "", "type": "uint256"}]
	},
	{
		"type": "function",
		"name": "decimals",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint8"}]
	}
]`

// ContractCaller is the subset of the Ethereum client the balance reader
// needs. *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// DialContractCaller dials an Ethereum RPC endpoint. This function can be
// overridden in tests.
var DialContractCaller = func(rpcURL string) (ContractCaller, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// BalanceReader reads a holder's token balance on one chain. Reads are
// stateless chain queries, so a BalanceReader is safe for concurrent use.
type BalanceReader struct {
	caller ContractCaller
	token  common.Address
	parsed abi.ABI
}

// NewBalanceReader creates a reader for the USDC token of the chain
// identified by chainID, connected through the given RPC endpoint.
func NewBalanceReader(rpcURL string, chainID uint64) (*BalanceReader, error) {
	chain, err := agent0.ChainByID(chainID)
	if err != nil {
		return nil, err
	}

	caller, err := DialContractCaller(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC client: %w", err)
	}

	return NewBalanceReaderForToken(caller, chain.USDCAddress)
}

// NewBalanceReaderForToken creates a reader for an arbitrary ERC-20 token
// using an already connected caller.
func NewBalanceReaderForToken(caller ContractCaller, tokenAddress string) (*BalanceReader, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ReadABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC-20 ABI: %w", err)
	}

	return &BalanceReader{
		caller: caller,
		token:  common.HexToAddress(tokenAddress),
		parsed: parsed,
	}, nil
}

// Balance returns the holder's token balance in display units: the on-chain
// integer balance divided by 10^decimals. It performs two read-only chain
// calls and propagates connectivity errors rather than returning zero.
func (r *BalanceReader) Balance(ctx context.Context, holder string) (*big.Float, error) {
	raw, err := r.RawBalance(ctx, holder)
	if err != nil {
		return nil, err
	}

	decimals, err := r.Decimals(ctx)
	if err != nil {
		return nil, err
	}

	balance := new(big.Float).SetInt(raw)
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	return balance.Quo(balance, divisor), nil
}

// RawBalance returns the holder's balance in atomic token units.
func (r *BalanceReader) RawBalance(ctx context.Context, holder string) (*big.Int, error) {
	data, err := r.parsed.Pack("balanceOf", common.HexToAddress(holder))
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf call data: %w", err)
	}

	result, err := r.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &r.token,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get token balance: %w", err)
	}
	if len(result) != 32 {
		return nil, fmt.Errorf("failed to get token balance: result is %d bytes, want 32", len(result))
	}

	return new(big.Int).SetBytes(result), nil
}

// Decimals returns the token's decimal precision.
func (r *BalanceReader) Decimals(ctx context.Context) (uint8, error) {
	data, err := r.parsed.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("failed to pack decimals call data: %w", err)
	}

	result, err := r.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &r.token,
		Data: data,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get token decimals: %w", err)
	}
	if len(result) != 32 {
		return 0, fmt.Errorf("failed to get token decimals: result is %d bytes, want 32", len(result))
	}

	return uint8(new(big.Int).SetBytes(result).Uint64()), nil
}
