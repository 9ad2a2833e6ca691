package api

import (
	"context"
	"net/http"
)

func (c *Client) ExpensesWithPayment(ctx context.Context) ([]Expense, error) {
	var expenses []Expense
	if err := c.get(ctx, "ExpensesWithPayment", RouteExpensesWithPayment, nil, &expenses); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (c *Client) CreateExpense(ctx context.Context, req CreateExpenseRequest) (string, error) {
	return c.text(ctx, "CreateExpense", http.MethodPost, RouteCreateExpense, nil, req)
}

func (c *Client) LastThreeExpenses(ctx context.Context) ([]Expense, error) {
	var expenses []Expense
	if err := c.get(ctx, "LastThreeExpenses", RouteLast3Expenses, nil, &expenses); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (c *Client) LastMonthExpenseTotal(ctx context.Context) (float64, error) {
	var total float64
	if err := c.get(ctx, "LastMonthExpenseTotal", RouteLastMonthTotal, nil, &total); err != nil {
		return 0, err
	}
	return total, nil
}

func (c *Client) DailyNetProfit(ctx context.Context) ([]DailyProfitLoss, error) {
	var days []DailyProfitLoss
	if err := c.get(ctx, "DailyNetProfit", RouteDailyNetProfit, nil, &days); err != nil {
		return nil, err
	}
	return days, nil
}
