package ethereum

import (
	"context"
	"math/big"
	"testing"
	"time"

	"ChainBazaar/internal/payment"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/shopspring/decimal"
)

func TestClientTransferTokenOnSimulatedChain(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	backend := simulated.NewBackend(coretypes.GenesisAlloc{
		from: {Balance: big.NewInt(1_000_000_000_000_000_000)},
	})
	t.Cleanup(func() { backend.Close() })

	chainID := big.NewInt(1337)
	client := NewSimulatedClient("simulated", chainID, key, backend.Client())
	t.Cleanup(client.Close)

	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	recipient := common.HexToAddress("0x2222222222222222222222222222222222222222")

	txHash, err := client.TransferToken(ctx, token, recipient, big.NewInt(10_000))
	if err != nil {
		t.Fatalf("transfer token: %v", err)
	}
	backend.Commit()

	receipt, err := client.WaitMined(ctx, txHash)
	if err != nil {
		t.Fatalf("wait mined: %v", err)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		t.Fatalf("unexpected receipt status %d", receipt.Status)
	}

	tx, pending, err := client.TransactionByHash(ctx, txHash)
	if err != nil {
		t.Fatalf("transaction by hash: %v", err)
	}
	if pending {
		t.Fatal("expected transaction to be mined")
	}
	if tx.To() == nil || *tx.To() != token {
		t.Fatalf("unexpected transaction target %v", tx.To())
	}

	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snapshot.ChainID != "0x"+chainID.Text(16) {
		t.Fatalf("unexpected chain id %s", snapshot.ChainID)
	}
	if snapshot.BlockNumber == "0x0" {
		t.Fatal("expected block number to advance after commit")
	}

	// 目标地址没有合约代码,交易不会产生 Transfer 日志,校验层应当以
	// 缺失转账事件为由拒绝。
	verifier := payment.NewVerifier(client)
	result, err := verifier.Verify(ctx, txHash.Hex(), payment.Expectation{
		Token:         token,
		Recipient:     recipient,
		PriceUSD:      decimal.RequireFromString("0.01"),
		TokenDecimals: 6,
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Valid {
		t.Fatal("expected verification to fail without a transfer event")
	}
	if result.Reason != payment.ReasonNoTransferEvent {
		t.Fatalf("unexpected rejection reason %s", result.Reason)
	}
}

// stubBackend 模拟一条未启用 EIP-1559 的链:区块头不带 BaseFee。
type stubBackend struct {
	gasPrice *big.Int
	sent     *coretypes.Transaction
}

func (s *stubBackend) ChainID(context.Context) (*big.Int, error)     { return big.NewInt(1), nil }
func (s *stubBackend) BlockNumber(context.Context) (uint64, error)   { return 1, nil }
func (s *stubBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(s.gasPrice), nil
}
func (s *stubBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return nil, gethcore.NotFound
}
func (s *stubBackend) HeaderByNumber(context.Context, *big.Int) (*coretypes.Header, error) {
	return &coretypes.Header{Number: big.NewInt(1)}, nil
}
func (s *stubBackend) TransactionReceipt(context.Context, common.Hash) (*coretypes.Receipt, error) {
	return nil, gethcore.NotFound
}
func (s *stubBackend) TransactionByHash(context.Context, common.Hash) (*coretypes.Transaction, bool, error) {
	return nil, false, gethcore.NotFound
}
func (s *stubBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}
func (s *stubBackend) EstimateGas(context.Context, gethcore.CallMsg) (uint64, error) {
	return 60_000, nil
}
func (s *stubBackend) SendTransaction(_ context.Context, tx *coretypes.Transaction) error {
	s.sent = tx
	return nil
}

func TestTransferTokenFallsBackToLegacyPricing(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	node := &stubBackend{gasPrice: big.NewInt(3_000_000_000)}
	client := NewSimulatedClient("legacy", big.NewInt(1), key, node)
	t.Cleanup(client.Close)

	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	recipient := common.HexToAddress("0x2222222222222222222222222222222222222222")

	if _, err := client.TransferToken(context.Background(), token, recipient, big.NewInt(10_000)); err != nil {
		t.Fatalf("transfer token: %v", err)
	}
	if node.sent == nil {
		t.Fatal("expected a transaction to be broadcast")
	}
	if node.sent.Type() != coretypes.LegacyTxType {
		t.Fatalf("expected legacy transaction, got type %d", node.sent.Type())
	}
	if node.sent.GasPrice().Cmp(node.gasPrice) != 0 {
		t.Fatalf("unexpected gas price %s", node.sent.GasPrice())
	}
}
