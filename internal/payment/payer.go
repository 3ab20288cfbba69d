package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"ChainBazaar/pkg/logger"
)

// TokenSender 描述付款所需的最小链上写入能力。
type TokenSender interface {
	TransferToken(ctx context.Context, token, recipient common.Address, amount *big.Int) (common.Hash, error)
	WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Payer 代表买方钱包发起稳定币支付，演示智能体用它来满足 402 要求。
type Payer struct {
	sender      TokenSender
	waitTimeout time.Duration
}

// NewPayer 创建付款器。waitTimeout 限制等待上链的最长时间，零值取 90 秒。
func NewPayer(sender TokenSender, waitTimeout time.Duration) *Payer {
	if waitTimeout <= 0 {
		waitTimeout = 90 * time.Second
	}
	return &Payer{sender: sender, waitTimeout: waitTimeout}
}

// Pay 按美元价签发起一笔代币转账并等待其上链，返回交易哈希。
func (p *Payer) Pay(ctx context.Context, priceUSD decimal.Decimal, token, recipient common.Address, decimals int32) (string, error) {
	if priceUSD.Sign() <= 0 {
		return "", errors.New("支付金额必须为正数")
	}
	amount := priceUSD.Shift(decimals).BigInt()

	txHash, err := p.sender.TransferToken(ctx, token, recipient, amount)
	if err != nil {
		return "", fmt.Errorf("发起支付转账失败: %w", err)
	}
	logger.L().Info("支付转账已广播",
		"tx_hash", txHash.Hex(),
		"amount_usd", priceUSD.String(),
		"recipient", recipient.Hex(),
	)

	waitCtx, cancel := context.WithTimeout(ctx, p.waitTimeout)
	defer cancel()

	receipt, err := p.sender.WaitMined(waitCtx, txHash)
	if err != nil {
		return "", fmt.Errorf("等待支付上链失败: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("支付交易 %s 执行失败", txHash.Hex())
	}
	return txHash.Hex(), nil
}
