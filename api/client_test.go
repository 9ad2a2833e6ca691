package api_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-finstats-client/api"
	"github.com/jrsteele09/go-finstats-client/auth"
	"github.com/jrsteele09/go-finstats-client/internal/devbackend"
	apperrors "github.com/jrsteele09/go-finstats-client/internal/errors"
	fakesessionrepo "github.com/jrsteele09/go-finstats-client/sessions/repofakes"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	testEmail    = "demo@finstats.net"
	testPassword = "Demo1234"
)

type testConfig struct{}

func (testConfig) GetAppName() string                   { return "finstats" }
func (testConfig) GetEnv() string                       { return "TEST" }
func (testConfig) GetPort() string                      { return ":0" }
func (testConfig) GetJWTSecret() string                 { return "test-secret" }
func (testConfig) GetAccessTokenExpiry() time.Duration  { return 15 * time.Minute }
func (testConfig) GetRefreshTokenExpiry() time.Duration { return time.Hour }
func (testConfig) GetReplyDelay() time.Duration         { return 0 }

type clock struct {
	lock sync.Mutex
	now  time.Time
}

func (c *clock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

// testFixture holds all test dependencies
type testFixture struct {
	ts     *httptest.Server
	store  *auth.SessionStore
	client *api.Client
	clock  *clock
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	clk := &clock{now: time.Now()}
	srv, err := devbackend.New(testConfig{},
		devbackend.WithLogger(zerolog.Nop()),
		devbackend.WithNowTime(clk.Now),
		devbackend.WithUser(testEmail, testPassword, "Demo User"),
	)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})

	baseURL := ts.URL + devbackend.RouteAPIPrefix
	store, err := auth.NewSessionStore(auth.NewHTTPBackend(baseURL), fakesessionrepo.NewFakeSessionRepo(), auth.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	_, err = store.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)

	client, err := api.NewClient(baseURL, store, api.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	return &testFixture{ts: ts, store: store, client: client, clock: clk}
}

func (f *testFixture) addCard(t *testing.T, cardNo string) api.CreditCard {
	t.Helper()
	ctx := context.Background()
	msg, err := f.client.CreateCreditCard(ctx, api.CreateCreditCardRequest{
		CardNo:     cardNo,
		ValidDate:  "08/29",
		CVV:        "123",
		NameOnCard: "Demo User",
	})
	require.NoError(t, err)
	require.Equal(t, "Credit card created", msg)

	cards, err := f.client.CreditCards(ctx)
	require.NoError(t, err)
	stored := strings.ReplaceAll(cardNo, " ", "")
	for _, c := range cards {
		if c.CardNo == stored {
			return c
		}
	}
	require.FailNow(t, "card not listed", cardNo)
	return api.CreditCard{}
}

func requireMessages(t *testing.T, err error, expected ...string) {
	t.Helper()
	var statusErr *apperrors.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, expected, statusErr.Messages)
}

func TestNewClient(t *testing.T) {
	_, err := api.NewClient("", &staticStore{})
	require.Error(t, err)

	_, err = api.NewClient("http://localhost/api", nil)
	require.Error(t, err)

	_, err = api.NewClient("http://localhost/api", &staticStore{})
	require.NoError(t, err)
}

func TestCreditCards(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	card := f.addCard(t, "4111 1111 1111 1111")
	require.Equal(t, "4111111111111111", card.CardNo)
	require.Zero(t, card.Balance)

	t.Run("Validation", func(t *testing.T) {
		_, err := f.client.CreateCreditCard(ctx, api.CreateCreditCardRequest{CardNo: "1234", ValidDate: "08/29", CVV: "123", NameOnCard: "x"})
		requireMessages(t, err, "Card number must be 16 digits")
	})

	t.Run("AddBalance", func(t *testing.T) {
		msg, err := f.client.AddBalance(ctx, card.CardID, 250, api.BalanceSalary, "")
		require.NoError(t, err)
		require.Equal(t, "Balance added", msg)

		txs, err := f.client.CardTransactions(ctx, card.CardID)
		require.NoError(t, err)
		require.Len(t, txs, 1)
		require.Equal(t, 250.0, txs[0].Amount)
		require.NotNil(t, txs[0].AddBalanceCategory)
		require.Equal(t, api.BalanceSalary, *txs[0].AddBalanceCategory)
	})

	t.Run("AddBalanceRejectsPiggyBank", func(t *testing.T) {
		_, err := f.client.AddBalance(ctx, card.CardID, 10, api.BalanceCrashPiggyBank, "")
		requireMessages(t, err, "Unknown balance category")
	})

	t.Run("UnknownCard", func(t *testing.T) {
		_, err := f.client.CardTransactions(ctx, 9999)
		var statusErr *apperrors.StatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, 404, statusErr.StatusCode)
	})

	t.Run("Remove", func(t *testing.T) {
		other := f.addCard(t, "5500000000000004")
		msg, err := f.client.RemoveCreditCard(ctx, other.CardID)
		require.NoError(t, err)
		require.Equal(t, "Credit card removed", msg)

		cards, err := f.client.CreditCards(ctx)
		require.NoError(t, err)
		require.Len(t, cards, 1)
	})
}

func TestMemberships(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	card := f.addCard(t, "4111111111111111")

	req := api.CreateMembershipRequest{DigitalPlatformID: 2, SubscriptionType: api.SubscriptionMonthly, CreditCardID: card.CardID}
	_, err := f.client.CreateMembership(ctx, req)
	requireMessages(t, err, "Insufficient balance")

	_, err = f.client.AddBalance(ctx, card.CardID, 100, api.BalancePrizeIncome, "birthday")
	require.NoError(t, err)
	msg, err := f.client.CreateMembership(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "Membership created", msg)

	count, err := f.client.MembershipCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	memberships, err := f.client.Memberships(ctx)
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	require.Equal(t, "Spotify", memberships[0].DigitalPlatformName)

	cards, err := f.client.CreditCards(ctx)
	require.NoError(t, err)
	require.InDelta(t, 40.01, cards[0].Balance, 0.001)

	txs, err := f.client.CardTransactions(ctx, card.CardID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.Equal(t, "birthday", txs[0].DigitalPlatformName)
	require.NotNil(t, txs[1].SubscriptionPlanName)
	require.Nil(t, txs[1].AddBalanceCategory)
}

func TestExpenses(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	for _, name := range []string{"rent", "food", "fuel", "phone"} {
		msg, err := f.client.CreateExpense(ctx, api.CreateExpenseRequest{Name: name, Amount: 10})
		require.NoError(t, err)
		require.Equal(t, "Expense created", msg)
	}

	all, err := f.client.ExpensesWithPayment(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)

	last, err := f.client.LastThreeExpenses(ctx)
	require.NoError(t, err)
	require.Len(t, last, 3)
	require.Equal(t, "phone", last[0].Name)

	total, err := f.client.LastMonthExpenseTotal(ctx)
	require.NoError(t, err)
	require.Zero(t, total)

	days, err := f.client.DailyNetProfit(ctx)
	require.NoError(t, err)
	require.Len(t, days, 7)
	require.Equal(t, -40.0, days[6].NetProfit)

	_, err = f.client.CreateExpense(ctx, api.CreateExpenseRequest{Name: "", Amount: 10})
	requireMessages(t, err, "Expense name is required")
}

func TestInstructions(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.client.CreateInstruction(ctx, api.CreateInstructionRequest{
		Title:              "Rent",
		Amount:             500,
		ScheduledDate:      "2026-01-31",
		MonthlyInstruction: true,
		InstructionTime:    3,
	})
	require.NoError(t, err)

	instructions, err := f.client.Instructions(ctx)
	require.NoError(t, err)
	require.Len(t, instructions, 3)
	require.NotNil(t, instructions[0].GroupID)
	require.Equal(t, *instructions[0].GroupID, *instructions[2].GroupID)
	require.Equal(t, "2026-03-03", instructions[1].ScheduledDate)

	msg, err := f.client.MarkInstructionPaid(ctx, instructions[0].ID)
	require.NoError(t, err)
	require.Equal(t, "Instruction marked as paid", msg)

	_, err = f.client.MarkInstructionPaid(ctx, instructions[0].ID)
	requireMessages(t, err, "Instruction is already paid")
}

func TestInvestmentPlans(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	target := f.clock.Now().AddDate(0, 0, 30).Format("2006-01-02")
	msg, err := f.client.CreateInvestmentPlan(ctx, api.CreateInvestmentPlanRequest{
		Name:                "New laptop",
		TargetPrice:         3000,
		TargetDate:          target,
		InvestmentCategory:  api.InvestmentTechnology,
		InvestmentFrequency: api.FrequencyWeekly,
	})
	require.NoError(t, err)
	require.Equal(t, "Investment plan created", msg)

	plans, err := f.client.InvestmentPlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	require.Equal(t, target, plans[0].TargetDate)
	require.Positive(t, plans[0].HowManyDaysLeft)
	require.False(t, plans[0].IsCompleted)

	_, err = f.client.CreateInvestmentPlan(ctx, api.CreateInvestmentPlanRequest{
		Name:                "Too late",
		TargetPrice:         10,
		TargetDate:          "2001-01-01",
		InvestmentCategory:  api.InvestmentOther,
		InvestmentFrequency: api.FrequencyDaily,
	})
	requireMessages(t, err, "Target date must be in the future")
}

func TestUnauthorizedEndsSession(t *testing.T) {
	f := setupTestFixture(t)

	// The backend's clock runs ahead of the client's, so the token is expired only server side.
	f.clock.Advance(time.Hour)
	_, err := f.client.CreditCards(context.Background())
	require.ErrorIs(t, err, apperrors.ErrAuthentication)
	require.Nil(t, f.store.Current())

	_, err = f.client.CreditCards(context.Background())
	require.ErrorIs(t, err, apperrors.ErrNoSession)
}

// staticStore hands out a fixed token and counts rejections.
type staticStore struct {
	token        string
	unauthorized atomic.Int32
}

func (s *staticStore) TokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: s.token, TokenType: "Bearer"})
}

func (s *staticStore) HandleUnauthorized(context.Context) {
	s.unauthorized.Add(1)
}

func TestForgedTokenIsReported(t *testing.T) {
	f := setupTestFixture(t)
	store := &staticStore{token: "forged"}
	client, err := api.NewClient(f.ts.URL+devbackend.RouteAPIPrefix, store, api.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	_, err = client.Memberships(context.Background())
	require.ErrorIs(t, err, apperrors.ErrAuthentication)
	require.EqualValues(t, 1, store.unauthorized.Load())
}
