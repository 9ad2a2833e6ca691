package api

// CreditCard is a card registered by the current user.
type CreditCard struct {
	CardID     int     `json:"cardId"`
	CardNo     string  `json:"cardNo"`
	ValidDate  string  `json:"validDate"`
	NameOnCard string  `json:"nameOnCard"`
	Balance    float64 `json:"balance"`
}

type CreateCreditCardRequest struct {
	CardNo     string `json:"cardNo"`
	ValidDate  string `json:"validDate"`
	CVV        string `json:"cvv"`
	NameOnCard string `json:"nameOnCard"`
}

// Transaction is one movement on a card account.
type Transaction struct {
	DigitalPlatformName  string              `json:"digitalPlatformName"`
	SubscriptionPlanName *string             `json:"subscriptionPlanName"`
	Amount               float64             `json:"amount"`
	PaymentDate          string              `json:"paymentDate"`
	AddBalanceCategory   *AddBalanceCategory `json:"addBalanceCategory"`
}

// AddBalanceCategory classifies money added to a card.
type AddBalanceCategory int

const (
	BalanceSalary AddBalanceCategory = iota + 1
	BalanceCashIncome
	BalanceAdditionalIncome
	BalancePrizeIncome
	BalanceInvestmentIncome
	BalanceRentalIncome
	BalanceCreditCardMoney
	BalancePiggyBank
	BalanceCrashPiggyBank
)

var balanceCategoryNames = map[AddBalanceCategory]string{
	BalanceSalary:           "salary",
	BalanceCashIncome:       "cash income",
	BalanceAdditionalIncome: "additional income",
	BalancePrizeIncome:      "prize income",
	BalanceInvestmentIncome: "investment income",
	BalanceRentalIncome:     "rental income",
	BalanceCreditCardMoney:  "credit card money",
	BalancePiggyBank:        "piggy bank deposit",
	BalanceCrashPiggyBank:   "piggy bank withdrawal",
}

func (c AddBalanceCategory) String() string {
	if name, ok := balanceCategoryNames[c]; ok {
		return name
	}
	return "unknown"
}

// UserSelectable reports whether a user may pick the category when adding balance.
// Piggy bank movements are created by the backend only.
func (c AddBalanceCategory) UserSelectable() bool {
	_, known := balanceCategoryNames[c]
	return known && c != BalancePiggyBank && c != BalanceCrashPiggyBank
}

// Expense is a recorded spend.
type Expense struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Amount   float64 `json:"amount"`
	PaidDate string  `json:"paidDate"`
}

type CreateExpenseRequest struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// DailyProfitLoss is the net result of one day.
type DailyProfitLoss struct {
	Date      string  `json:"date"`
	NetProfit float64 `json:"netProfit"`
}

// SubscriptionType is the billing period of a membership.
type SubscriptionType int

const (
	SubscriptionMonthly SubscriptionType = iota + 1
	SubscriptionYearly
	SubscriptionSixMonthly
)

type CreateMembershipRequest struct {
	DigitalPlatformID int              `json:"digitalPlatformId"`
	SubscriptionType  SubscriptionType `json:"subscriptionType"`
	CreditCardID      int              `json:"creditCardId"`
}

// UserMembership is a digital platform subscription of the current user.
type UserMembership struct {
	DigitalPlatformID    int     `json:"digitalPlatformId"`
	DigitalPlatformName  string  `json:"digitalPlatformName"`
	ImagePath            *string `json:"imagePath"`
	SubscriptionPlanName string  `json:"subscriptionPlanName"`
	StartDate            string  `json:"startDate"`
	EndDate              string  `json:"endDate"`
	IsDeleted            bool    `json:"isDeleted"`
}

// Instruction is a scheduled payment order.
type Instruction struct {
	ID            int     `json:"id"`
	Title         string  `json:"title"`
	Amount        float64 `json:"amount"`
	ScheduledDate string  `json:"scheduledDate"`
	IsPaid        bool    `json:"isPaid"`
	Description   string  `json:"description"`
	GroupID       *int    `json:"groupId,omitempty"`
}

// CreateInstructionRequest creates one instruction, or InstructionTime monthly
// instructions when MonthlyInstruction is set.
type CreateInstructionRequest struct {
	Title              string  `json:"title"`
	Amount             float64 `json:"amount"`
	ScheduledDate      string  `json:"scheduledDate"`
	Description        string  `json:"description,omitempty"`
	MonthlyInstruction bool    `json:"monthlyInstruction"`
	InstructionTime    int     `json:"instructionTime"`
}

type InvestmentCategory int

const (
	InvestmentVehicle InvestmentCategory = iota + 1
	InvestmentEducation
	InvestmentHouse
	InvestmentTrip
	InvestmentFamily
	InvestmentInvestment
	InvestmentTechnology
	InvestmentHealth
	InvestmentSpecialDay
	InvestmentOther
)

type InvestmentFrequency int

const (
	FrequencyDaily InvestmentFrequency = iota + 1
	FrequencyWeekly
	FrequencyMonthly
)

type CreateInvestmentPlanRequest struct {
	Name                string              `json:"name"`
	Description         string              `json:"description"`
	TargetPrice         float64             `json:"targetPrice"`
	TargetDate          string              `json:"targetDate"`
	InvestmentCategory  InvestmentCategory  `json:"investmentCategory"`
	InvestmentFrequency InvestmentFrequency `json:"investmentFrequency"`
}

// InvestmentPlan is a savings goal.
type InvestmentPlan struct {
	ID                  int                 `json:"id"`
	Name                string              `json:"name"`
	Description         string              `json:"description,omitempty"`
	TargetPrice         float64             `json:"targetPrice"`
	CurrentAmount       float64             `json:"currentAmount"`
	TargetDate          string              `json:"targetDate"`
	IsCompleted         bool                `json:"isCompleted"`
	InvestmentCategory  InvestmentCategory  `json:"investmentCategory"`
	InvestmentFrequency InvestmentFrequency `json:"investmentFrequency"`
	PerPaymentAmount    float64             `json:"perPaymentAmount"`
	HowManyDaysLeft     int                 `json:"howManyDaysLeft"`
}
