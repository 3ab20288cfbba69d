package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainSnapshot represents summarized network metadata for health reporting.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// Client defines the common interface that any chain implementation must
// provide so the payment layer can verify and settle against different
// networks uniformly.
type Client interface {
	// TransactionReceipt returns the receipt of a mined transaction, or an
	// error when the transaction is unknown or still pending.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	// TransactionByHash returns the transaction along with a flag indicating
	// whether it is still pending.
	TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error)

	// TransferToken sends an ERC-20 transfer from the configured signing key
	// and returns the transaction hash. Token amounts are in base units.
	TransferToken(ctx context.Context, token, recipient common.Address, amount *big.Int) (common.Hash, error)

	// WaitMined blocks until the transaction is mined or the context is
	// cancelled.
	WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	// FetchChainSnapshot gathers lightweight metadata from the chain.
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)

	Close()
}
