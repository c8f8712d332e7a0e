package models

// PaymentPlan is the billing plan chosen at checkout.
type PaymentPlan string

const (
	PaymentPlanOneTime PaymentPlan = "one-time"
	PaymentPlanSplit   PaymentPlan = "split"
)

func (p PaymentPlan) Valid() bool {
	return p == PaymentPlanOneTime || p == PaymentPlanSplit
}

// Program tiers
const (
	ProgramBasic = "basic"
	ProgramPro   = "pro"
	ProgramElite = "elite"
)

// PaymentStatus is the overall payment state of an order.
type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "pending"
	PaymentStatusPartiallyPaid PaymentStatus = "partially_paid"
	PaymentStatusPaid          PaymentStatus = "paid"
	PaymentStatusFailed        PaymentStatus = "failed"
	PaymentStatusRefunded      PaymentStatus = "refunded"
)

// FulfillmentStatus tracks delivery of the purchased program.
type FulfillmentStatus string

const (
	FulfillmentPending    FulfillmentStatus = "pending"
	FulfillmentInProgress FulfillmentStatus = "in-progress"
	FulfillmentCompleted  FulfillmentStatus = "completed"
)

// InstallmentStatus is the state of one installment of a split plan.
// The empty value means the installment does not apply (one-time orders).
type InstallmentStatus string

const (
	InstallmentNone    InstallmentStatus = ""
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPaid    InstallmentStatus = "paid"
	InstallmentFailed  InstallmentStatus = "failed"
	InstallmentOverdue InstallmentStatus = "overdue"
)

type transitionTable[S ~string] map[S][]S

func (t transitionTable[S]) allows(from, to S) bool {
	if from == to {
		return true
	}
	for _, next := range t[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (t transitionTable[S]) known(s S) bool {
	_, ok := t[s]
	return ok
}

var paymentTransitions = transitionTable[PaymentStatus]{
	PaymentStatusPending:       {PaymentStatusPartiallyPaid, PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusFailed:        {PaymentStatusPartiallyPaid, PaymentStatusPaid},
	PaymentStatusPartiallyPaid: {PaymentStatusPaid, PaymentStatusRefunded},
	PaymentStatusPaid:          {PaymentStatusRefunded},
	PaymentStatusRefunded:      {},
}

var fulfillmentTransitions = transitionTable[FulfillmentStatus]{
	FulfillmentPending:    {FulfillmentInProgress, FulfillmentCompleted},
	FulfillmentInProgress: {FulfillmentCompleted},
	FulfillmentCompleted:  {},
}

var firstInstallmentTransitions = transitionTable[InstallmentStatus]{
	InstallmentPending: {InstallmentPaid, InstallmentFailed},
	InstallmentFailed:  {InstallmentPaid},
	InstallmentPaid:    {},
}

var secondInstallmentTransitions = transitionTable[InstallmentStatus]{
	InstallmentPending: {InstallmentPaid, InstallmentFailed, InstallmentOverdue},
	InstallmentFailed:  {InstallmentPaid, InstallmentOverdue},
	InstallmentOverdue: {InstallmentPaid, InstallmentFailed},
	InstallmentPaid:    {},
}

func (s PaymentStatus) Valid() bool { return paymentTransitions.known(s) }

// CanTransitionTo reports whether next is reachable from s. Staying in
// the same status is always allowed.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return paymentTransitions.allows(s, next)
}

// Settled reports whether at least the first payment has been collected.
func (s PaymentStatus) Settled() bool {
	return s == PaymentStatusPartiallyPaid || s == PaymentStatusPaid
}

func (s FulfillmentStatus) Valid() bool { return fulfillmentTransitions.known(s) }

func (s FulfillmentStatus) CanTransitionTo(next FulfillmentStatus) bool {
	return fulfillmentTransitions.allows(s, next)
}

// CanTransitionFirstTo checks a move of the first installment.
func (s InstallmentStatus) CanTransitionFirstTo(next InstallmentStatus) bool {
	return firstInstallmentTransitions.allows(s, next)
}

// CanTransitionSecondTo checks a move of the second installment.
func (s InstallmentStatus) CanTransitionSecondTo(next InstallmentStatus) bool {
	return secondInstallmentTransitions.allows(s, next)
}
