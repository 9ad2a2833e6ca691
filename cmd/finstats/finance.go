package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/jrsteele09/go-finstats-client/api"
	"github.com/spf13/cobra"
)

var cardsCmd = &cobra.Command{
	Use:   "cards",
	Short: "List your credit cards",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := financeClient()
		if err != nil {
			return err
		}
		cards, err := client.CreditCards(commandContext(cmd))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(cards) == 0 {
			printf(out, "%s\n", dimStyle.Render("No credit cards yet."))
			return nil
		}
		printf(out, "%s\n", headerStyle.Render(fmt.Sprintf("Credit cards (%d)", len(cards))))
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		printf(w, "ID\tCARD\tVALID\tNAME\tBALANCE\n")
		for _, c := range cards {
			printf(w, "%d\t%s\t%s\t%s\t%s\n", c.CardID, maskCard(c.CardNo), c.ValidDate, c.NameOnCard, amountStyle.Render(money(c.Balance)))
		}
		return w.Flush()
	},
}

var cardTransactionsCmd = &cobra.Command{
	Use:   "transactions <card-id>",
	Short: "List the transactions of a card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cardID, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("card id must be a number: %w", err)
		}
		client, err := financeClient()
		if err != nil {
			return err
		}
		txs, err := client.CardTransactions(commandContext(cmd), cardID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(txs) == 0 {
			printf(out, "%s\n", dimStyle.Render("No transactions."))
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		printf(w, "DATE\tDESCRIPTION\tAMOUNT\n")
		for _, tx := range txs {
			printf(w, "%s\t%s\t%s\n", tx.PaymentDate, describe(tx), signedAmount(tx))
		}
		return w.Flush()
	},
}

var expensesCmd = &cobra.Command{
	Use:   "expenses",
	Short: "Summarise recent expenses",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := financeClient()
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)
		last, err := client.LastThreeExpenses(ctx)
		if err != nil {
			return err
		}
		total, err := client.LastMonthExpenseTotal(ctx)
		if err != nil {
			return err
		}
		days, err := client.DailyNetProfit(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		printf(out, "%s\n", headerStyle.Render("Latest expenses"))
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, e := range last {
			printf(w, "%s\t%s\t%s\n", e.PaidDate, e.Name, amountStyle.Render(money(e.Amount)))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		printf(out, "\nLast month total: %s\n\n", amountStyle.Render(money(total)))

		printf(out, "%s\n", headerStyle.Render("Net profit, last 7 days"))
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, d := range days {
			style := okStyle
			if d.NetProfit < 0 {
				style = errorStyle
			}
			printf(w, "%s\t%s\n", d.Date, style.Render(money(d.NetProfit)))
		}
		return w.Flush()
	},
}

func financeClient() (*api.Client, error) {
	if _, err := current.requireSession(); err != nil {
		return nil, err
	}
	return current.apiClient()
}

func maskCard(cardNo string) string {
	if len(cardNo) < 4 {
		return cardNo
	}
	return "**** " + cardNo[len(cardNo)-4:]
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func describe(tx api.Transaction) string {
	switch {
	case tx.SubscriptionPlanName != nil:
		return fmt.Sprintf("%s (%s)", tx.DigitalPlatformName, *tx.SubscriptionPlanName)
	case tx.AddBalanceCategory != nil && tx.DigitalPlatformName != tx.AddBalanceCategory.String():
		return fmt.Sprintf("%s (%s)", tx.DigitalPlatformName, tx.AddBalanceCategory)
	default:
		return tx.DigitalPlatformName
	}
}

// signedAmount shows money added to the card as positive and payments as negative.
func signedAmount(tx api.Transaction) string {
	if tx.AddBalanceCategory != nil {
		return okStyle.Render("+" + money(tx.Amount))
	}
	return errorStyle.Render("-" + money(tx.Amount))
}

func init() {
	cardsCmd.AddCommand(cardTransactionsCmd)
	rootCmd.AddCommand(cardsCmd, expensesCmd)
}
