package devbackend

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/jrsteele09/go-finstats-client/api"
)

// finish answers a mutating finance call with a confirmation or the error it produced.
func (s *Server) finish(w http.ResponseWriter, err error, confirmation string) {
	var verr *validationError
	switch {
	case err == nil:
		writeText(w, http.StatusOK, "%s", confirmation)
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.message)
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Record not found")
	default:
		s.logger.Error().Err(err).Msg("finance operation failed")
		writeError(w, http.StatusInternalServerError, "Unexpected error")
	}
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be a number")
		return 0, false
	}
	return v, true
}

func (s *Server) CreditCardsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.ledger.Cards(userIDFrom(r.Context())))
	}
}

func (s *Server) CardTransactionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := queryInt(w, r, "id")
		if !ok {
			return
		}
		txs, err := s.ledger.Transactions(userIDFrom(r.Context()), id)
		if err != nil {
			s.finish(w, err, "")
			return
		}
		writeJSON(w, http.StatusOK, txs)
	}
}

func (s *Server) CreateCreditCardHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.CreateCreditCardRequest
		if !decodeBody(w, r, &req) {
			return
		}
		s.finish(w, s.ledger.CreateCard(userIDFrom(r.Context()), req), "Credit card created")
	}
}

func (s *Server) RemoveCreditCardHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := queryInt(w, r, "id")
		if !ok {
			return
		}
		s.finish(w, s.ledger.RemoveCard(userIDFrom(r.Context()), id), "Credit card removed")
	}
}

func (s *Server) AddBalanceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := queryInt(w, r, "id")
		if !ok {
			return
		}
		category, ok := queryInt(w, r, "addbalanceCategory")
		if !ok {
			return
		}
		amount, err := strconv.ParseFloat(r.URL.Query().Get("balance"), 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "balance must be a number")
			return
		}
		err = s.ledger.AddBalance(userIDFrom(r.Context()), id, amount, api.AddBalanceCategory(category), r.URL.Query().Get("name"))
		s.finish(w, err, "Balance added")
	}
}

func (s *Server) ExpensesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.ledger.Expenses(userIDFrom(r.Context())))
	}
}

func (s *Server) CreateExpenseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.CreateExpenseRequest
		if !decodeBody(w, r, &req) {
			return
		}
		s.finish(w, s.ledger.CreateExpense(userIDFrom(r.Context()), req), "Expense created")
	}
}

func (s *Server) LastThreeExpensesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.ledger.LastThreeExpenses(userIDFrom(r.Context())))
	}
}

func (s *Server) LastMonthTotalHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.ledger.LastMonthTotal(userIDFrom(r.Context())))
	}
}

func (s *Server) DailyNetProfitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.ledger.DailyNetProfit(userIDFrom(r.Context())))
	}
}

func (s *Server) MembershipsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.ledger.Memberships(userIDFrom(r.Context())))
	}
}

func (s *Server) CreateMembershipHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.CreateMembershipRequest
		if !decodeBody(w, r, &req) {
			return
		}
		s.finish(w, s.ledger.CreateMembership(userIDFrom(r.Context()), req), "Membership created")
	}
}

func (s *Server) MembershipCountHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.ledger.MembershipCount(userIDFrom(r.Context())))
	}
}

func (s *Server) InstructionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.ledger.Instructions(userIDFrom(r.Context())))
	}
}

func (s *Server) CreateInstructionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.CreateInstructionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		s.finish(w, s.ledger.CreateInstruction(userIDFrom(r.Context()), req), "Instruction created")
	}
}

func (s *Server) MarkInstructionPaidHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID int `json:"id"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		s.finish(w, s.ledger.MarkInstructionPaid(userIDFrom(r.Context()), req.ID), "Instruction marked as paid")
	}
}

func (s *Server) InvestmentPlansHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.ledger.InvestmentPlans(userIDFrom(r.Context())))
	}
}

func (s *Server) CreateInvestmentPlanHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.CreateInvestmentPlanRequest
		if !decodeBody(w, r, &req) {
			return
		}
		s.finish(w, s.ledger.CreateInvestmentPlan(userIDFrom(r.Context()), req), "Investment plan created")
	}
}
