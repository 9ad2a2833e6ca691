package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-finstats-client/internal/errors"
	"github.com/jrsteele09/go-finstats-client/internal/httpclient"
	"github.com/jrsteele09/go-finstats-client/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Finance endpoints, relative to the API base URL.
const (
	RouteCreditCards          = "/CreditCard/GetAllCreditCardByUser"
	RouteCardTransactions     = "/CreditCard/GetAllAccountTransactions"
	RouteCreateCreditCard     = "/CreditCard/CreateCreditCard"
	RouteRemoveCreditCard     = "/CreditCard/RemoveCreditCard"
	RouteAddBalance           = "/CreditCard/AddBalance"
	RouteExpensesWithPayment  = "/Expense/GetAllExpenseWithPayment"
	RouteCreateExpense        = "/Expense/CreateExpense"
	RouteLast3Expenses        = "/Expense/GetLast3Expense"
	RouteLastMonthTotal       = "/Expense/GetLastMonthExpenseTotalAmount"
	RouteDailyNetProfit       = "/Expense/GetDailyNetProfit"
	RouteMemberships          = "/Membership/GetAllMembershipsByUser"
	RouteCreateMembership     = "/Membership/CreateMembership"
	RouteMembershipCount      = "/Membership/GetMembershipCount"
	RouteInstructions         = "/Instruction/GetAllInstruction"
	RouteCreateInstruction    = "/Instruction/CreateInstruction"
	RouteMarkInstructionPaid  = "/Instruction/SetPaidTrueInstruction"
	RouteInvestmentPlans      = "/InvestmentPlan/GetAllInvestmentPlanByUser"
	RouteCreateInvestmentPlan = "/InvestmentPlan/CreateInvestmentPlan"
)

// TokenStore supplies bearer tokens and is told when the backend rejects one.
// *auth.SessionStore satisfies it.
type TokenStore interface {
	TokenSource() oauth2.TokenSource
	HandleUnauthorized(ctx context.Context)
}

// Client calls the finance REST API on behalf of the signed in user.
type Client struct {
	baseURL string
	store   TokenStore
	base    http.RoundTripper
	timeout time.Duration
	logger  zerolog.Logger
	http    *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseTransport sets the round tripper beneath the bearer injection.
func WithBaseTransport(rt http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.base = rt
	}
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient returns a client rooted at baseURL (for example "https://api.finstats.net/api").
func NewClient(baseURL string, store TokenStore, options ...ClientOption) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("[NewClient] base url is required")
	}
	if store == nil {
		return nil, fmt.Errorf("[NewClient] token store is required")
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		store:   store,
		base:    http.DefaultTransport,
		timeout: 15 * time.Second,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	c.logger = logging.Component(c.logger, "api")
	c.http = &http.Client{
		Timeout: c.timeout,
		Transport: &unauthorizedTransport{
			next:   &oauth2.Transport{Source: store.TokenSource(), Base: c.base},
			store:  store,
			logger: c.logger,
		},
	}
	return c, nil
}

// unauthorizedTransport tells the store about every 401 so the session is dropped.
type unauthorizedTransport struct {
	next   http.RoundTripper
	store  TokenStore
	logger zerolog.Logger
}

func (t *unauthorizedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		t.logger.Warn().Str("path", req.URL.Path).Msg("request rejected as unauthorized")
		t.store.HandleUnauthorized(req.Context())
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, op, route string, query url.Values, out any) error {
	_, err := c.do(ctx, op, http.MethodGet, route, query, nil, out)
	return err
}

// text calls an endpoint that answers with a plain confirmation message.
func (c *Client) text(ctx context.Context, op, method, route string, query url.Values, body any) (string, error) {
	data, err := c.do(ctx, op, method, route, query, body, nil)
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(string(data)), `"`), nil
}

func (c *Client) do(ctx context.Context, op, method, route string, query url.Values, body, out any) ([]byte, error) {
	target := httpclient.JoinURL(c.baseURL, route)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	data, err := httpclient.Do(ctx, c.http, httpclient.Request{
		Method: method,
		URL:    target,
		Body:   body,
	}, out)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNoSession) {
			return nil, fmt.Errorf("[%s] %w", op, apperrors.ErrNoSession)
		}
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	return data, nil
}

func idQuery(id int) url.Values {
	return url.Values{"id": []string{fmt.Sprint(id)}}
}
