package payment

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// 校验失败的机器可读原因，会原样出现在 HTTP 响应里。
const (
	ReasonTxNotFoundOrFailed = "TX_NOT_FOUND_OR_FAILED"
	ReasonWrongToken         = "WRONG_TOKEN"
	ReasonNoTransferEvent    = "NO_TRANSFER_EVENT"
	ReasonWrongRecipient     = "WRONG_RECIPIENT"
	ReasonInsufficientAmount = "INSUFFICIENT_AMOUNT"
)

// ERC-20 Transfer(address,address,uint256) 事件的 topic0。
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ChainReader 描述校验所需的最小链上读取能力。
type ChainReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error)
}

// Expectation 描述一笔合法支付必须满足的条件。
type Expectation struct {
	Token         common.Address
	Recipient     common.Address
	PriceUSD      decimal.Decimal
	TokenDecimals int32
}

// Result 是一次校验的结论。Valid 为 false 时 Reason 携带拒绝原因。
type Result struct {
	Valid   bool
	Reason  string
	Message string
	// 实际转账金额（代币最小单位）与付款方，只在校验通过时有值。
	Amount *big.Int
	From   common.Address
}

// Verifier 对照期望条件校验链上交易。它不落库也不去重:
// 同一笔交易的重复使用由存储层的唯一约束裁决。
type Verifier struct {
	reader ChainReader
}

// NewVerifier 创建校验器。
func NewVerifier(reader ChainReader) *Verifier {
	return &Verifier{reader: reader}
}

// Verify 校验 txHash 是否构成对 expected 的一次有效支付。
// 语义层面的拒绝通过 Result 返回；RPC 故障等基础设施错误通过 error 返回。
func (v *Verifier) Verify(ctx context.Context, txHash string, expected Expectation) (Result, error) {
	hash := common.HexToHash(txHash)

	receipt, err := v.reader.TransactionReceipt(ctx, hash)
	if err != nil || receipt == nil {
		// 未找到与仍在 pending 的交易同样视为不可用。
		return reject(ReasonTxNotFoundOrFailed, "Transaction not found or not yet mined"), nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return reject(ReasonTxNotFoundOrFailed, "Transaction reverted on chain"), nil
	}

	tx, pending, err := v.reader.TransactionByHash(ctx, hash)
	if err != nil || tx == nil || pending {
		return reject(ReasonTxNotFoundOrFailed, "Transaction not found or not yet mined"), nil
	}
	if tx.To() == nil || !equalAddress(*tx.To(), expected.Token) {
		return reject(ReasonWrongToken, fmt.Sprintf("Transaction is not a %s call", expected.Token.Hex())), nil
	}

	transfer, ok := findTransfer(receipt.Logs, expected.Token)
	if !ok {
		return reject(ReasonNoTransferEvent, "No token transfer event found in transaction"), nil
	}
	if !equalAddress(transfer.to, expected.Recipient) {
		return reject(ReasonWrongRecipient, "Transfer recipient does not match payment address"), nil
	}

	required := expected.PriceUSD.Shift(expected.TokenDecimals).BigInt()
	if transfer.value.Cmp(required) < 0 {
		return reject(ReasonInsufficientAmount,
			fmt.Sprintf("Transfer amount %s is below required %s", transfer.value, required)), nil
	}

	return Result{Valid: true, Amount: transfer.value, From: transfer.from}, nil
}

type transferEvent struct {
	from  common.Address
	to    common.Address
	value *big.Int
}

// findTransfer 在回执日志中寻找由目标代币合约发出的 Transfer 事件。
func findTransfer(logs []*types.Log, token common.Address) (transferEvent, bool) {
	for _, log := range logs {
		if log == nil || !equalAddress(log.Address, token) {
			continue
		}
		if len(log.Topics) < 3 || log.Topics[0] != transferTopic {
			continue
		}
		return transferEvent{
			from:  common.BytesToAddress(log.Topics[1].Bytes()[12:]),
			to:    common.BytesToAddress(log.Topics[2].Bytes()[12:]),
			value: new(big.Int).SetBytes(log.Data),
		}, true
	}
	return transferEvent{}, false
}

func equalAddress(a, b common.Address) bool {
	return strings.EqualFold(a.Hex(), b.Hex())
}

func reject(reason, message string) Result {
	return Result{Valid: false, Reason: reason, Message: message}
}
