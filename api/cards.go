package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

func (c *Client) CreditCards(ctx context.Context) ([]CreditCard, error) {
	var cards []CreditCard
	if err := c.get(ctx, "CreditCards", RouteCreditCards, nil, &cards); err != nil {
		return nil, err
	}
	return cards, nil
}

func (c *Client) CardTransactions(ctx context.Context, cardID int) ([]Transaction, error) {
	var txs []Transaction
	if err := c.get(ctx, "CardTransactions", RouteCardTransactions, idQuery(cardID), &txs); err != nil {
		return nil, err
	}
	return txs, nil
}

func (c *Client) CreateCreditCard(ctx context.Context, req CreateCreditCardRequest) (string, error) {
	return c.text(ctx, "CreateCreditCard", http.MethodPost, RouteCreateCreditCard, nil, req)
}

func (c *Client) RemoveCreditCard(ctx context.Context, cardID int) (string, error) {
	return c.text(ctx, "RemoveCreditCard", http.MethodDelete, RouteRemoveCreditCard, idQuery(cardID), nil)
}

// AddBalance credits a card. name is optional and labels the movement.
func (c *Client) AddBalance(ctx context.Context, cardID int, amount float64, category AddBalanceCategory, name string) (string, error) {
	query := url.Values{}
	query.Set("id", strconv.Itoa(cardID))
	query.Set("balance", strconv.FormatFloat(amount, 'f', -1, 64))
	query.Set("addbalanceCategory", strconv.Itoa(int(category)))
	if name = strings.TrimSpace(name); name != "" {
		query.Set("name", name)
	}
	return c.text(ctx, "AddBalance", http.MethodPut, RouteAddBalance, query, nil)
}
