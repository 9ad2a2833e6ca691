package devbackend

import (
	"net/http"

	"github.com/jrsteele09/go-finstats-client/api"
	"github.com/jrsteele09/go-finstats-client/auth"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Route path constants
const (
	RouteAPIPrefix = "/api"
	RouteHub       = "/ai-hub"
	RouteChat      = "/chat"
	RouteMetrics   = "/metrics"
)

func apiRoute(method, path string) string {
	return method + " " + RouteAPIPrefix + path
}

func (s *Server) initRoutes() {
	mw := s.APIMiddleware()
	authMw := s.APIMiddleware(s.RequireAuth())

	// Authentication
	s.RegisterRouteFunc(apiRoute(http.MethodPost, auth.RouteLogin), ChainMiddleware(s.LoginHandler(), mw...))
	s.RegisterRouteFunc(apiRoute(http.MethodPost, auth.RouteRefresh), ChainMiddleware(s.RefreshHandler(), mw...))
	s.RegisterRouteFunc(apiRoute(http.MethodPost, auth.RouteRevoke), ChainMiddleware(s.RevokeHandler(), mw...))
	s.RegisterRouteFunc(apiRoute(http.MethodPost, auth.RouteRegister), ChainMiddleware(s.RegisterHandler(), mw...))
	s.RegisterRouteFunc(apiRoute(http.MethodPost, auth.RouteForgotPassword), ChainMiddleware(s.ForgotPasswordHandler(), mw...))
	s.RegisterRouteFunc(apiRoute(http.MethodPost, auth.RouteResetPassword), ChainMiddleware(s.ResetPasswordHandler(), mw...))
	s.RegisterRouteFunc(apiRoute(http.MethodPost, auth.RouteChangePassword), ChainMiddleware(s.ChangePasswordHandler(), authMw...))

	// Credit cards
	s.RegisterRouteFunc(apiRoute(http.MethodGet, api.RouteCreditCards), ChainMiddleware(s.CreditCardsHandler(), authMw...))
	s.RegisterRouteFunc(apiRoute(http.MethodGet, api.RouteCardTransactions), ChainMiddleware(s.CardTransactionsHandler(), authMw...))
	s.RegisterRouteFunc(apiRoute(http.MethodPost, api.RouteCreateCreditCard), ChainMiddleware(s.CreateCreditCardHandler(), authMw...))
	s.RegisterRouteFunc(apiRoute(http.MethodDelete, api.RouteRemoveCreditCard), ChainMiddleware(s.RemoveCreditCardHandler(), authMw...))
	s.RegisterRouteFunc(apiRoute(http.MethodPut, api.RouteAddBalance), ChainMiddleware(s.AddBalanceHandler(), authMw...))

	// Expenses
	s.RegisterRouteFunc(apiRoute(http.MethodGet, api.RouteExpensesWithPayment), ChainMiddleware(s.ExpensesHandler(), authMw...))
	s.RegisterRouteFunc(apiRoute(http.MethodPost, api.RouteCreateExpense), ChainMiddleware(s.CreateExpenseHandler(), authMw...))
	s.RegisterRouteFunc(apiRoute(http.MethodGet, api.RouteLast3Expenses), ChainMiddleware(s.LastThreeExpensesHandler(), authMw...))
	s.RegisterRouteFunc(apiRoute(http.MethodGet, api.RouteLastMonthTotal), ChainMiddleware(s.LastMonthTotalHandler(), authMw...))
	s.RegisterRouteFunc(apiRoute(http.MethodGet, api.RouteDailyNetProfit), ChainMiddleware(s.DailyNetProfitHandler(), authMw...))

	// Memberships, instructions and investment plans
	s.RegisterRouteFunc(apiRoute(http.MethodGet, api.RouteMemberships), ChainMiddleware(s.MembershipsHandler(), authMw...))
	s.RegisterRouteFunc(apiRoute(http.MethodPost, api.RouteCreateMembership), ChainMiddleware(s.CreateMembershipHandler(), authMw...))
	s.RegisterRouteFunc(apiRoute(http.MethodGet, api.RouteMembershipCount), ChainMiddleware(s.MembershipCountHandler(), authMw...))
	s.RegisterRouteFunc(apiRoute(http.MethodGet, api.RouteInstructions), ChainMiddleware(s.InstructionsHandler(), authMw...))
	s.RegisterRouteFunc(apiRoute(http.MethodPost, api.RouteCreateInstruction), ChainMiddleware(s.CreateInstructionHandler(), authMw...))
	s.RegisterRouteFunc(apiRoute(http.MethodPut, api.RouteMarkInstructionPaid), ChainMiddleware(s.MarkInstructionPaidHandler(), authMw...))
	s.RegisterRouteFunc(apiRoute(http.MethodGet, api.RouteInvestmentPlans), ChainMiddleware(s.InvestmentPlansHandler(), authMw...))
	s.RegisterRouteFunc(apiRoute(http.MethodPost, api.RouteCreateInvestmentPlan), ChainMiddleware(s.CreateInvestmentPlanHandler(), authMw...))

	// Assistant
	s.RegisterRouteFunc("POST "+RouteHub+"/negotiate", ChainMiddleware(s.NegotiateHandler(), authMw...))
	s.RegisterRouteFunc("GET "+RouteHub, ChainMiddleware(s.HubHandler(), authMw...))
	s.RegisterRouteFunc("POST "+RouteChat, ChainMiddleware(s.ChatHandler(), authMw...))

	s.RegisterRouteFunc("GET "+RouteMetrics, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP)
}
