package bybit

import (
	"context"
	"fmt"
)

// AccountType represents different account types in Bybit
type AccountType string

const (
	AccountTypeUnified  AccountType = "UNIFIED"
	AccountTypeContract AccountType = "CONTRACT"
)

// GetWalletBalance retrieves the account summary for accountType
func (c *Client) GetWalletBalance(ctx context.Context, accountType AccountType) (*WalletInfo, error) {
	params := map[string]interface{}{
		"accountType": string(accountType),
	}

	var list walletList
	err := c.readWithRetry(ctx, func() error {
		response, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
		if err != nil {
			return fmt.Errorf("failed to get wallet balance: %w", err)
		}
		return decodeResult("wallet balance", response, &list)
	})
	if err != nil {
		return nil, err
	}
	if len(list.List) == 0 {
		return nil, fmt.Errorf("no account data found")
	}
	return &list.List[0], nil
}
