package devbackend

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-finstats-client/api"
	"github.com/jrsteele09/go-finstats-client/internal/utils"
)

const dateLayout = "2006-01-02"

var (
	ErrNotFound   = errors.New("not found")
	cardNoPattern = regexp.MustCompile(`^\d{16}$`)
	validDate     = regexp.MustCompile(`^(0[1-9]|1[0-2])/\d{2}$`)
	cvvPattern    = regexp.MustCompile(`^\d{3}$`)
)

// validationError is reported to clients as a 400 with the message in the error envelope.
type validationError struct {
	message string
}

func (e *validationError) Error() string { return e.message }

func invalid(format string, args ...any) error {
	return &validationError{message: fmt.Sprintf(format, args...)}
}

type platform struct {
	name         string
	monthlyPrice float64
}

var platforms = map[int]platform{
	1: {name: "Netflix", monthlyPrice: 149.99},
	2: {name: "Spotify", monthlyPrice: 59.99},
	3: {name: "YouTube Premium", monthlyPrice: 57.99},
	4: {name: "Disney+", monthlyPrice: 134.99},
}

var subscriptionPlans = map[api.SubscriptionType]struct {
	name   string
	months int
	factor float64
}{
	api.SubscriptionMonthly:    {name: "Monthly", months: 1, factor: 1},
	api.SubscriptionYearly:     {name: "Yearly", months: 12, factor: 10},
	api.SubscriptionSixMonthly: {name: "Six Monthly", months: 6, factor: 5.5},
}

// book is the finance data of one user.
type book struct {
	cards        []api.CreditCard
	transactions map[int][]api.Transaction
	expenses     []api.Expense
	memberships  []api.UserMembership
	instructions []api.Instruction
	plans        []api.InvestmentPlan
}

// ledger keeps every user's finance data in memory.
type ledger struct {
	now func() time.Time

	lock   sync.Mutex
	nextID int
	books  map[string]*book
}

func newLedger(now func() time.Time) *ledger {
	return &ledger{now: now, books: make(map[string]*book)}
}

func (l *ledger) bookLocked(userID string) *book {
	b, ok := l.books[userID]
	if !ok {
		b = &book{transactions: make(map[int][]api.Transaction)}
		l.books[userID] = b
	}
	return b
}

func (l *ledger) idLocked() int {
	l.nextID++
	return l.nextID
}

func (l *ledger) today() string {
	return l.now().Format(dateLayout)
}

func (l *ledger) Cards(userID string) []api.CreditCard {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]api.CreditCard{}, l.bookLocked(userID).cards...)
}

func (l *ledger) CreateCard(userID string, req api.CreateCreditCardRequest) error {
	cardNo := strings.ReplaceAll(req.CardNo, " ", "")
	switch {
	case !cardNoPattern.MatchString(cardNo):
		return invalid("Card number must be 16 digits")
	case !validDate.MatchString(req.ValidDate):
		return invalid("Valid date must be in MM/YY format")
	case !cvvPattern.MatchString(req.CVV):
		return invalid("CVV must be 3 digits")
	case strings.TrimSpace(req.NameOnCard) == "":
		return invalid("Name on card is required")
	}

	l.lock.Lock()
	defer l.lock.Unlock()
	b := l.bookLocked(userID)
	for _, c := range b.cards {
		if c.CardNo == cardNo {
			return invalid("Card is already registered")
		}
	}
	b.cards = append(b.cards, api.CreditCard{
		CardID:     l.idLocked(),
		CardNo:     cardNo,
		ValidDate:  req.ValidDate,
		NameOnCard: strings.TrimSpace(req.NameOnCard),
	})
	return nil
}

func (l *ledger) RemoveCard(userID string, cardID int) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	b := l.bookLocked(userID)
	for i, c := range b.cards {
		if c.CardID == cardID {
			b.cards = append(b.cards[:i:i], b.cards[i+1:]...)
			delete(b.transactions, cardID)
			return nil
		}
	}
	return ErrNotFound
}

func (l *ledger) Transactions(userID string, cardID int) ([]api.Transaction, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	b := l.bookLocked(userID)
	if b.cardLocked(cardID) == nil {
		return nil, ErrNotFound
	}
	return append([]api.Transaction{}, b.transactions[cardID]...), nil
}

func (b *book) cardLocked(cardID int) *api.CreditCard {
	for i := range b.cards {
		if b.cards[i].CardID == cardID {
			return &b.cards[i]
		}
	}
	return nil
}

func (l *ledger) AddBalance(userID string, cardID int, amount float64, category api.AddBalanceCategory, name string) error {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return invalid("Balance must be greater than zero")
	}
	if !category.UserSelectable() {
		return invalid("Unknown balance category")
	}

	l.lock.Lock()
	defer l.lock.Unlock()
	b := l.bookLocked(userID)
	card := b.cardLocked(cardID)
	if card == nil {
		return ErrNotFound
	}
	if name = strings.TrimSpace(name); name == "" {
		name = category.String()
	}
	card.Balance += amount
	b.transactions[cardID] = append(b.transactions[cardID], api.Transaction{
		DigitalPlatformName: name,
		Amount:              amount,
		PaymentDate:         l.today(),
		AddBalanceCategory:  utils.Ptr(category),
	})
	return nil
}

func (l *ledger) Expenses(userID string) []api.Expense {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]api.Expense{}, l.bookLocked(userID).expenses...)
}

func (l *ledger) CreateExpense(userID string, req api.CreateExpenseRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return invalid("Expense name is required")
	}
	if req.Amount <= 0 {
		return invalid("Amount must be greater than zero")
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	b := l.bookLocked(userID)
	b.expenses = append(b.expenses, api.Expense{
		ID:       l.idLocked(),
		Name:     strings.TrimSpace(req.Name),
		Amount:   req.Amount,
		PaidDate: l.today(),
	})
	return nil
}

// LastThreeExpenses returns the newest expenses first.
func (l *ledger) LastThreeExpenses(userID string) []api.Expense {
	expenses := l.Expenses(userID)
	sort.SliceStable(expenses, func(i, j int) bool {
		if expenses[i].PaidDate != expenses[j].PaidDate {
			return expenses[i].PaidDate > expenses[j].PaidDate
		}
		return expenses[i].ID > expenses[j].ID
	})
	if len(expenses) > 3 {
		expenses = expenses[:3]
	}
	return expenses
}

// LastMonthTotal sums the expenses paid in the previous calendar month.
func (l *ledger) LastMonthTotal(userID string) float64 {
	now := l.now()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	prefix := first.AddDate(0, -1, 0).Format("2006-01")

	var total float64
	for _, e := range l.Expenses(userID) {
		if strings.HasPrefix(e.PaidDate, prefix) {
			total += e.Amount
		}
	}
	return total
}

// DailyNetProfit reports income minus expenses for each of the last seven days, oldest first.
func (l *ledger) DailyNetProfit(userID string) []api.DailyProfitLoss {
	l.lock.Lock()
	defer l.lock.Unlock()
	b := l.bookLocked(userID)

	net := make(map[string]float64)
	for _, txs := range b.transactions {
		for _, tx := range txs {
			if tx.AddBalanceCategory != nil {
				net[tx.PaymentDate] += tx.Amount
			} else {
				net[tx.PaymentDate] -= tx.Amount
			}
		}
	}
	for _, e := range b.expenses {
		net[e.PaidDate] -= e.Amount
	}

	days := make([]api.DailyProfitLoss, 0, 7)
	for i := 6; i >= 0; i-- {
		day := l.now().AddDate(0, 0, -i).Format(dateLayout)
		days = append(days, api.DailyProfitLoss{Date: day, NetProfit: net[day]})
	}
	return days
}

func (l *ledger) Memberships(userID string) []api.UserMembership {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]api.UserMembership{}, l.bookLocked(userID).memberships...)
}

func (l *ledger) MembershipCount(userID string) int {
	count := 0
	for _, m := range l.Memberships(userID) {
		if !m.IsDeleted {
			count++
		}
	}
	return count
}

// CreateMembership subscribes to a platform and charges the first period to the card.
func (l *ledger) CreateMembership(userID string, req api.CreateMembershipRequest) error {
	p, ok := platforms[req.DigitalPlatformID]
	if !ok {
		return invalid("Unknown digital platform")
	}
	plan, ok := subscriptionPlans[req.SubscriptionType]
	if !ok {
		return invalid("Unknown subscription type")
	}

	l.lock.Lock()
	defer l.lock.Unlock()
	b := l.bookLocked(userID)
	card := b.cardLocked(req.CreditCardID)
	if card == nil {
		return invalid("Credit card not found")
	}
	for _, m := range b.memberships {
		if m.DigitalPlatformID == req.DigitalPlatformID && !m.IsDeleted {
			return invalid("You already have a membership for %s", p.name)
		}
	}
	price := math.Round(p.monthlyPrice*plan.factor*100) / 100
	if card.Balance < price {
		return invalid("Insufficient balance")
	}

	now := l.now()
	card.Balance -= price
	b.transactions[card.CardID] = append(b.transactions[card.CardID], api.Transaction{
		DigitalPlatformName:  p.name,
		SubscriptionPlanName: utils.Ptr(plan.name),
		Amount:               price,
		PaymentDate:          now.Format(dateLayout),
	})
	b.memberships = append(b.memberships, api.UserMembership{
		DigitalPlatformID:    req.DigitalPlatformID,
		DigitalPlatformName:  p.name,
		SubscriptionPlanName: plan.name,
		StartDate:            now.Format(dateLayout),
		EndDate:              now.AddDate(0, plan.months, 0).Format(dateLayout),
	})
	return nil
}

func (l *ledger) Instructions(userID string) []api.Instruction {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]api.Instruction{}, l.bookLocked(userID).instructions...)
}

// CreateInstruction stores one instruction, or InstructionTime monthly
// instructions sharing a group id.
func (l *ledger) CreateInstruction(userID string, req api.CreateInstructionRequest) error {
	if strings.TrimSpace(req.Title) == "" {
		return invalid("Title is required")
	}
	if req.Amount <= 0 {
		return invalid("Amount must be greater than zero")
	}
	scheduled, err := parseDate(req.ScheduledDate)
	if err != nil {
		return invalid("Scheduled date is invalid")
	}
	count := 1
	if req.MonthlyInstruction {
		if req.InstructionTime < 1 || req.InstructionTime > 36 {
			return invalid("Instruction time must be between 1 and 36")
		}
		count = req.InstructionTime
	}

	l.lock.Lock()
	defer l.lock.Unlock()
	b := l.bookLocked(userID)
	var group *int
	if req.MonthlyInstruction {
		group = utils.Ptr(l.idLocked())
	}
	for i := 0; i < count; i++ {
		b.instructions = append(b.instructions, api.Instruction{
			ID:            l.idLocked(),
			Title:         strings.TrimSpace(req.Title),
			Amount:        req.Amount,
			ScheduledDate: scheduled.AddDate(0, i, 0).Format(dateLayout),
			Description:   strings.TrimSpace(req.Description),
			GroupID:       group,
		})
	}
	return nil
}

func (l *ledger) MarkInstructionPaid(userID string, id int) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	b := l.bookLocked(userID)
	for i := range b.instructions {
		if b.instructions[i].ID == id {
			if b.instructions[i].IsPaid {
				return invalid("Instruction is already paid")
			}
			b.instructions[i].IsPaid = true
			return nil
		}
	}
	return ErrNotFound
}

func (l *ledger) InvestmentPlans(userID string) []api.InvestmentPlan {
	l.lock.Lock()
	defer l.lock.Unlock()
	plans := append([]api.InvestmentPlan{}, l.bookLocked(userID).plans...)
	for i := range plans {
		l.schedule(&plans[i])
	}
	return plans
}

func (l *ledger) CreateInvestmentPlan(userID string, req api.CreateInvestmentPlanRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return invalid("Plan name is required")
	}
	if req.TargetPrice <= 0 {
		return invalid("Target price must be greater than zero")
	}
	target, err := parseDate(req.TargetDate)
	if err != nil || !target.After(l.now()) {
		return invalid("Target date must be in the future")
	}
	if req.InvestmentCategory < api.InvestmentVehicle || req.InvestmentCategory > api.InvestmentOther {
		return invalid("Unknown investment category")
	}
	if req.InvestmentFrequency < api.FrequencyDaily || req.InvestmentFrequency > api.FrequencyMonthly {
		return invalid("Unknown investment frequency")
	}

	l.lock.Lock()
	defer l.lock.Unlock()
	b := l.bookLocked(userID)
	b.plans = append(b.plans, api.InvestmentPlan{
		ID:                  l.idLocked(),
		Name:                strings.TrimSpace(req.Name),
		Description:         strings.TrimSpace(req.Description),
		TargetPrice:         req.TargetPrice,
		TargetDate:          target.Format(dateLayout),
		InvestmentCategory:  req.InvestmentCategory,
		InvestmentFrequency: req.InvestmentFrequency,
	})
	return nil
}

// schedule fills the derived fields of a plan from the current time.
func (l *ledger) schedule(p *api.InvestmentPlan) {
	target, err := parseDate(p.TargetDate)
	if err != nil {
		return
	}
	days := int(math.Ceil(target.Sub(l.now()).Hours() / 24))
	if days < 0 {
		days = 0
	}
	p.HowManyDaysLeft = days
	p.IsCompleted = p.CurrentAmount >= p.TargetPrice

	var payments int
	switch p.InvestmentFrequency {
	case api.FrequencyDaily:
		payments = days
	case api.FrequencyWeekly:
		payments = int(math.Ceil(float64(days) / 7))
	case api.FrequencyMonthly:
		payments = int(math.Ceil(float64(days) / 30))
	}
	remaining := p.TargetPrice - p.CurrentAmount
	if payments < 1 || remaining <= 0 {
		p.PerPaymentAmount = math.Max(remaining, 0)
		return
	}
	p.PerPaymentAmount = math.Round(remaining/float64(payments)*100) / 100
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
