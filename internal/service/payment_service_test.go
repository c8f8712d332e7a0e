package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSplitCheckoutMovesToPartiallyPaid(t *testing.T) {
	f := newPaymentFixture()
	orderSvc := NewOrderService(f.orders, f.leads, nil, f.publisher)

	created, err := orderSvc.CreateOrder(context.Background(), &CreateOrderRequest{
		LeadID:      "lead-1",
		Industry:    "Logistics",
		City:        "Austin",
		Program:     models.ProgramPro,
		ProgramName: "Pro Program",
		PaymentPlan: string(models.PaymentPlanSplit),
		Amount:      1250,
	})
	require.NoError(t, err)

	f.gateway.On("CreateOrRetrieveCustomer", mock.Anything, "jane@example.com", "Jane Doe", "555-0100").
		Return("cus_1", nil)
	f.gateway.On("CreatePaymentIntent", mock.Anything, mock.MatchedBy(func(req models.PaymentIntentRequest) bool {
		return req.SaveForLater && req.Amount == 1250 && req.CustomerID == "cus_1" &&
			req.Metadata["orderId"] == created.OrderID && req.Metadata["paymentPlan"] == "split"
	})).Return(&models.PaymentIntent{ID: "pi_1", ClientSecret: "pi_1_secret"}, nil)

	intent, err := f.payments.InitiatePayment(context.Background(), &CreateIntentRequest{OrderID: created.OrderID, Amount: 1250})
	require.NoError(t, err)
	assert.Equal(t, "pi_1_secret", intent.ClientSecret)
	assert.Equal(t, "pi_1", intent.PaymentIntentID)

	f.gateway.On("RetrievePaymentIntent", mock.Anything, "pi_1").Return(&models.PaymentIntent{
		ID:              "pi_1",
		Status:          models.PaymentIntentSucceeded,
		PaymentMethodID: "pm_card",
		CustomerID:      "cus_1",
	}, nil)

	order, err := f.payments.ConfirmPayment(context.Background(), "pi_1")
	require.NoError(t, err)

	stored := f.orders.order(created.OrderID)
	assert.Equal(t, models.PaymentStatusPartiallyPaid, stored.PaymentStatus)
	assert.Equal(t, models.InstallmentPaid, stored.FirstPaymentStatus)
	assert.Equal(t, models.InstallmentPending, stored.SecondPaymentStatus)
	require.NotNil(t, stored.SecondPaymentDueDate)
	assert.Equal(t, testNow.Add(30*24*time.Hour), *stored.SecondPaymentDueDate)
	assert.Equal(t, "pm_card", stored.StripePaymentMethodID)
	assert.True(t, stored.SecondPaymentScheduled)
	assert.Equal(t, 2500.0, stored.TotalAmount)
	assert.Equal(t, models.FulfillmentPending, stored.FulfillmentStatus)
	assert.True(t, stored.TutorialAccessGranted)
	assert.Equal(t, "https://funnel.example.com/tutorial?order="+created.OrderID, stored.TutorialAccessURL)
	assert.Equal(t, stored.PaymentStatus, order.PaymentStatus)

	assert.True(t, f.leads.lead("lead-1").ConvertedToCustomer)
	assert.Equal(t, 1, f.notifier.count(models.EmailTypeConfirmation))
	assert.Equal(t, 1, f.notifier.count(models.EmailTypeNotification))
	assert.Equal(t, []string{models.EventTypeOrderCreated, models.EventTypePaymentConfirmed}, f.publisher.published())
	f.gateway.AssertExpectations(t)
}

func TestConfirmPaymentOneTime(t *testing.T) {
	order := pendingOrder("ORD-ONE", models.PaymentPlanOneTime)
	order.StripePaymentIntentID = "pi_once"
	f := newPaymentFixture(order)

	f.gateway.On("RetrievePaymentIntent", mock.Anything, "pi_once").Return(&models.PaymentIntent{
		ID:              "pi_once",
		Status:          models.PaymentIntentSucceeded,
		PaymentMethodID: "pm_card",
	}, nil)

	_, err := f.payments.ConfirmPayment(context.Background(), "pi_once")
	require.NoError(t, err)

	stored := f.orders.order("ORD-ONE")
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, models.FulfillmentInProgress, stored.FulfillmentStatus)
	assert.Equal(t, models.InstallmentNone, stored.SecondPaymentStatus)
	assert.Nil(t, stored.SecondPaymentDueDate)
	assert.Nil(t, stored.SecondPaymentDate)
	assert.Zero(t, stored.SecondPaymentAmount)
	assert.False(t, stored.SecondPaymentScheduled)
	assert.Empty(t, stored.StripePaymentMethodID)
	assert.Empty(t, stored.SecondPaymentIntentID)
}

func TestConfirmPaymentTwiceSendsOneConfirmation(t *testing.T) {
	order := pendingOrder("ORD-TWICE", models.PaymentPlanSplit)
	order.StripePaymentIntentID = "pi_twice"
	f := newPaymentFixture(order)

	f.gateway.On("RetrievePaymentIntent", mock.Anything, "pi_twice").Return(&models.PaymentIntent{
		ID:              "pi_twice",
		Status:          models.PaymentIntentSucceeded,
		PaymentMethodID: "pm_card",
	}, nil)

	_, err := f.payments.ConfirmPayment(context.Background(), "pi_twice")
	require.NoError(t, err)
	first := f.orders.order("ORD-TWICE")

	_, err = f.payments.ConfirmPayment(context.Background(), "pi_twice")
	require.NoError(t, err)

	assert.Equal(t, 1, f.notifier.count(models.EmailTypeConfirmation))
	assert.Equal(t, 1, f.notifier.count(models.EmailTypeNotification))
	assert.Equal(t, first, f.orders.order("ORD-TWICE"))
	assert.Equal(t, 1, f.orders.updates)
}

func TestConfirmPaymentNotCompleted(t *testing.T) {
	order := pendingOrder("ORD-NC", models.PaymentPlanOneTime)
	order.StripePaymentIntentID = "pi_nc"
	f := newPaymentFixture(order)

	f.gateway.On("RetrievePaymentIntent", mock.Anything, "pi_nc").
		Return(&models.PaymentIntent{ID: "pi_nc", Status: "requires_payment_method"}, nil)

	_, err := f.payments.ConfirmPayment(context.Background(), "pi_nc")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindPaymentNotCompleted))
	assert.Equal(t, models.PaymentStatusPending, f.orders.order("ORD-NC").PaymentStatus)
	assert.Zero(t, f.orders.updates)
}

func TestConfirmPaymentUnknownIntent(t *testing.T) {
	f := newPaymentFixture()
	f.gateway.On("RetrievePaymentIntent", mock.Anything, "pi_other").
		Return(&models.PaymentIntent{ID: "pi_other", Status: models.PaymentIntentSucceeded}, nil)

	_, err := f.payments.ConfirmPayment(context.Background(), "pi_other")
	assert.True(t, IsKind(err, KindNotFound))
}

func TestConfirmPaymentGatewayError(t *testing.T) {
	f := newPaymentFixture()
	f.gateway.On("RetrievePaymentIntent", mock.Anything, "pi_x").Return(nil, errors.New("timeout"))

	_, err := f.payments.ConfirmPayment(context.Background(), "pi_x")
	assert.True(t, IsKind(err, KindGateway))
}

func TestConfirmPaymentSurvivesEmailFailure(t *testing.T) {
	order := pendingOrder("ORD-MAIL", models.PaymentPlanOneTime)
	order.StripePaymentIntentID = "pi_mail"
	f := newPaymentFixture(order)
	f.notifier.failWith = errors.New("smtp unavailable")

	f.gateway.On("RetrievePaymentIntent", mock.Anything, "pi_mail").
		Return(&models.PaymentIntent{ID: "pi_mail", Status: models.PaymentIntentSucceeded}, nil)

	_, err := f.payments.ConfirmPayment(context.Background(), "pi_mail")
	require.NoError(t, err)

	stored := f.orders.order("ORD-MAIL")
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.True(t, stored.EmailsSent)
	assert.Equal(t, 1, f.notifier.count(models.EmailTypeConfirmation))
}

func TestInitiatePaymentOneTimeDoesNotSaveCard(t *testing.T) {
	f := newPaymentFixture(pendingOrder("ORD-OT", models.PaymentPlanOneTime))

	f.gateway.On("CreateOrRetrieveCustomer", mock.Anything, "jane@example.com", "Jane Doe", "555-0100").Return("cus_1", nil)
	f.gateway.On("CreatePaymentIntent", mock.Anything, mock.MatchedBy(func(req models.PaymentIntentRequest) bool {
		return !req.SaveForLater && req.Currency == "usd"
	})).Return(&models.PaymentIntent{ID: "pi_ot", ClientSecret: "s"}, nil)

	_, err := f.payments.InitiatePayment(context.Background(), &CreateIntentRequest{OrderID: "ORD-OT", Amount: 1250})
	require.NoError(t, err)

	stored := f.orders.order("ORD-OT")
	assert.Equal(t, "pi_ot", stored.StripePaymentIntentID)
	assert.Equal(t, "cus_1", stored.StripeCustomerID)
	f.gateway.AssertExpectations(t)
}

func TestInitiatePaymentRejectsWrongAmount(t *testing.T) {
	f := newPaymentFixture(pendingOrder("ORD-AMT", models.PaymentPlanSplit))

	_, err := f.payments.InitiatePayment(context.Background(), &CreateIntentRequest{OrderID: "ORD-AMT", Amount: 2500})
	require.Error(t, err)

	var svcErr *Error
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, KindValidation, svcErr.Kind)
	assert.Equal(t, "amount", svcErr.Fields[0].Field)
	f.gateway.AssertNotCalled(t, "CreatePaymentIntent", mock.Anything, mock.Anything)
}

func TestInitiatePaymentRejectsForeignCurrency(t *testing.T) {
	f := newPaymentFixture(pendingOrder("ORD-EUR", models.PaymentPlanSplit))

	_, err := f.payments.InitiatePayment(context.Background(), &CreateIntentRequest{OrderID: "ORD-EUR", Amount: 1250, Currency: "EUR"})
	require.Error(t, err)

	var svcErr *Error
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, KindValidation, svcErr.Kind)
	assert.Equal(t, "currency", svcErr.Fields[0].Field)
	assert.Empty(t, f.orders.order("ORD-EUR").StripePaymentIntentID)
	f.gateway.AssertNotCalled(t, "CreatePaymentIntent", mock.Anything, mock.Anything)
}

func TestSplitInstallmentsShareOrderCurrency(t *testing.T) {
	f := newPaymentFixture(pendingOrder("ORD-CUR", models.PaymentPlanSplit))

	f.gateway.On("CreateOrRetrieveCustomer", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("cus_1", nil)
	f.gateway.On("CreatePaymentIntent", mock.Anything, mock.MatchedBy(func(req models.PaymentIntentRequest) bool {
		return req.Currency == "usd"
	})).Return(&models.PaymentIntent{ID: "pi_cur", ClientSecret: "s"}, nil)

	_, err := f.payments.InitiatePayment(context.Background(), &CreateIntentRequest{OrderID: "ORD-CUR", Amount: 1250, Currency: "USD"})
	require.NoError(t, err)

	f.gateway.On("RetrievePaymentIntent", mock.Anything, "pi_cur").Return(&models.PaymentIntent{
		ID:              "pi_cur",
		Status:          models.PaymentIntentSucceeded,
		PaymentMethodID: "pm_card",
		CustomerID:      "cus_1",
	}, nil)
	_, err = f.payments.ConfirmPayment(context.Background(), "pi_cur")
	require.NoError(t, err)

	f.gateway.On("ChargeOffSession", mock.Anything, mock.MatchedBy(func(c models.OffSessionCharge) bool {
		return c.Currency == "usd"
	})).Return(&models.PaymentIntent{ID: "pi_cur_2", Status: models.PaymentIntentSucceeded}, nil)

	_, err = f.payments.ChargeSecondPayment(context.Background(), "ORD-CUR")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, f.orders.order("ORD-CUR").PaymentStatus)
	f.gateway.AssertExpectations(t)
}

func TestInitiatePaymentGatewayErrorLeavesOrderUntouched(t *testing.T) {
	f := newPaymentFixture(pendingOrder("ORD-GW", models.PaymentPlanOneTime))

	f.gateway.On("CreateOrRetrieveCustomer", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("cus_1", nil)
	f.gateway.On("CreatePaymentIntent", mock.Anything, mock.Anything).Return(nil, errors.New("api down"))

	_, err := f.payments.InitiatePayment(context.Background(), &CreateIntentRequest{OrderID: "ORD-GW", Amount: 1250})
	assert.True(t, IsKind(err, KindGateway))
	assert.Empty(t, f.orders.order("ORD-GW").StripePaymentIntentID)
	assert.Zero(t, f.orders.updates)
}

func TestInitiatePaymentNotFound(t *testing.T) {
	f := newPaymentFixture()
	_, err := f.payments.InitiatePayment(context.Background(), &CreateIntentRequest{OrderID: "ORD-NONE", Amount: 10})
	assert.True(t, IsKind(err, KindNotFound))

	orphan := pendingOrder("ORD-ORPHAN", models.PaymentPlanOneTime)
	orphan.LeadID = "lead-gone"
	f = newPaymentFixture(orphan)
	_, err = f.payments.InitiatePayment(context.Background(), &CreateIntentRequest{OrderID: "ORD-ORPHAN", Amount: 1250})
	assert.True(t, IsKind(err, KindNotFound))
}

func TestInitiatePaymentRejectsPaidOrder(t *testing.T) {
	order := pendingOrder("ORD-PAID", models.PaymentPlanOneTime)
	order.PaymentStatus = models.PaymentStatusPaid
	f := newPaymentFixture(order)

	_, err := f.payments.InitiatePayment(context.Background(), &CreateIntentRequest{OrderID: "ORD-PAID", Amount: 1250})
	assert.True(t, IsKind(err, KindInvalidTransition))
}

func TestChargeSecondPaymentAlreadyPaidSkipsGateway(t *testing.T) {
	order := firstPaidSplitOrder("ORD-DONE", testNow)
	order.SecondPaymentStatus = models.InstallmentPaid
	order.PaymentStatus = models.PaymentStatusPaid
	f := newPaymentFixture(order)

	_, err := f.payments.ChargeSecondPayment(context.Background(), "ORD-DONE")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyPaid))
	assert.True(t, IsKind(err, KindAlreadyPaid))
	f.gateway.AssertNotCalled(t, "ChargeOffSession", mock.Anything, mock.Anything)

	_, err = f.payments.RetrySecondPayment(context.Background(), "ORD-DONE")
	assert.True(t, IsKind(err, KindAlreadyPaid))
	f.gateway.AssertNotCalled(t, "ChargeOffSession", mock.Anything, mock.Anything)
}

func TestChargeSecondPaymentPreconditions(t *testing.T) {
	oneTime := pendingOrder("ORD-OT", models.PaymentPlanOneTime)
	oneTime.PaymentStatus = models.PaymentStatusPaid
	noCard := firstPaidSplitOrder("ORD-NOCARD", testNow)
	noCard.StripePaymentMethodID = ""
	f := newPaymentFixture(oneTime, noCard)

	_, err := f.payments.ChargeSecondPayment(context.Background(), "ORD-OT")
	assert.True(t, IsKind(err, KindValidation))

	_, err = f.payments.ChargeSecondPayment(context.Background(), "ORD-NOCARD")
	assert.True(t, IsKind(err, KindValidation))

	_, err = f.payments.ChargeSecondPayment(context.Background(), "ORD-MISSING")
	assert.True(t, IsKind(err, KindNotFound))

	f.gateway.AssertNotCalled(t, "ChargeOffSession", mock.Anything, mock.Anything)
}

func TestChargeSecondPaymentSuccess(t *testing.T) {
	f := newPaymentFixture(firstPaidSplitOrder("ORD-S2", testNow))

	f.gateway.On("ChargeOffSession", mock.Anything, mock.MatchedBy(func(c models.OffSessionCharge) bool {
		return c.Amount == 1250 && c.PaymentMethodID == "pm_saved" && c.CustomerID == "cus_1" &&
			c.IdempotencyKey == "ORD-S2-second-0" && c.Metadata["installment"] == "second"
	})).Return(&models.PaymentIntent{ID: "pi_second", Status: models.PaymentIntentSucceeded}, nil)

	_, err := f.payments.ChargeSecondPayment(context.Background(), "ORD-S2")
	require.NoError(t, err)

	stored := f.orders.order("ORD-S2")
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, models.InstallmentPaid, stored.SecondPaymentStatus)
	assert.Equal(t, "pi_second", stored.SecondPaymentIntentID)
	require.NotNil(t, stored.SecondPaymentDate)
	assert.Equal(t, testNow, *stored.SecondPaymentDate)
	assert.Equal(t, models.FulfillmentInProgress, stored.FulfillmentStatus)
	assert.Equal(t, 1, f.notifier.count(models.EmailTypeSecondPayment))
	assert.Contains(t, f.publisher.published(), models.EventTypeSecondPaymentSucceeded)
}

func TestChargeSecondPaymentFailure(t *testing.T) {
	f := newPaymentFixture(firstPaidSplitOrder("ORD-F2", testNow))

	f.gateway.On("ChargeOffSession", mock.Anything, mock.Anything).Return(nil, errDeclined)

	_, err := f.payments.ChargeSecondPayment(context.Background(), "ORD-F2")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindGateway))

	stored := f.orders.order("ORD-F2")
	assert.Equal(t, models.PaymentStatusPartiallyPaid, stored.PaymentStatus)
	assert.Equal(t, models.InstallmentFailed, stored.SecondPaymentStatus)
	assert.Contains(t, stored.SecondPaymentError, "card was declined")
	assert.Equal(t, 1, stored.SecondPaymentRetries)
	assert.Equal(t, models.FulfillmentPending, stored.FulfillmentStatus)
	assert.Equal(t, 1, f.notifier.count(models.EmailTypePaymentFailed))
	assert.Contains(t, f.publisher.published(), models.EventTypeSecondPaymentFailed)
}

func TestChargeSecondPaymentRequiresAction(t *testing.T) {
	f := newPaymentFixture(firstPaidSplitOrder("ORD-3DS", testNow))

	f.gateway.On("ChargeOffSession", mock.Anything, mock.Anything).
		Return(&models.PaymentIntent{ID: "pi_3ds", Status: "requires_action"}, nil)

	_, err := f.payments.ChargeSecondPayment(context.Background(), "ORD-3DS")
	assert.True(t, IsKind(err, KindGateway))

	stored := f.orders.order("ORD-3DS")
	assert.Equal(t, models.InstallmentFailed, stored.SecondPaymentStatus)
	assert.Equal(t, "pi_3ds", stored.SecondPaymentIntentID)
}

func TestRetrySecondPaymentAfterFailure(t *testing.T) {
	order := firstPaidSplitOrder("ORD-RETRY", testNow.Add(-48*time.Hour))
	order.SecondPaymentStatus = models.InstallmentFailed
	order.SecondPaymentError = "card declined"
	order.SecondPaymentRetries = 1
	f := newPaymentFixture(order)

	f.gateway.On("ChargeOffSession", mock.Anything, mock.MatchedBy(func(c models.OffSessionCharge) bool {
		return c.IdempotencyKey == "ORD-RETRY-second-1"
	})).Return(&models.PaymentIntent{ID: "pi_retry", Status: models.PaymentIntentSucceeded}, nil)

	_, err := f.payments.RetrySecondPayment(context.Background(), "ORD-RETRY")
	require.NoError(t, err)

	stored := f.orders.order("ORD-RETRY")
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, models.InstallmentPaid, stored.SecondPaymentStatus)
	assert.Empty(t, stored.SecondPaymentError)
	f.gateway.AssertExpectations(t)
}

func TestProcessDueSecondPayments(t *testing.T) {
	yesterday := testNow.Add(-24 * time.Hour)
	laterToday := testNow.Add(6 * time.Hour)
	nextWeek := testNow.Add(7 * 24 * time.Hour)

	stale := firstPaidSplitOrder("ORD-STALE", testNow.Add(-10*24*time.Hour))
	stale.SecondPaymentStatus = models.InstallmentFailed

	f := newPaymentFixture(
		firstPaidSplitOrder("ORD-DUE-OK", yesterday),
		firstPaidSplitOrder("ORD-DUE-FAIL", yesterday),
		firstPaidSplitOrder("ORD-TODAY", laterToday),
		firstPaidSplitOrder("ORD-LATER", nextWeek),
		stale,
	)

	f.gateway.On("ChargeOffSession", mock.Anything, mock.MatchedBy(func(c models.OffSessionCharge) bool {
		return c.Metadata["orderId"] == "ORD-DUE-FAIL"
	})).Return(nil, errDeclined)
	f.gateway.On("ChargeOffSession", mock.Anything, mock.Anything).
		Return(&models.PaymentIntent{ID: "pi_ok", Status: models.PaymentIntentSucceeded}, nil)

	result, err := f.payments.ProcessDueSecondPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, int64(1), result.MarkedOverdue)

	ok := f.orders.order("ORD-DUE-OK")
	assert.Equal(t, models.PaymentStatusPaid, ok.PaymentStatus)
	assert.Equal(t, models.InstallmentPaid, ok.SecondPaymentStatus)

	failed := f.orders.order("ORD-DUE-FAIL")
	assert.Equal(t, models.InstallmentFailed, failed.SecondPaymentStatus)
	assert.NotEmpty(t, failed.SecondPaymentError)
	assert.Equal(t, 1, failed.SecondPaymentRetries)

	assert.Equal(t, models.InstallmentPaid, f.orders.order("ORD-TODAY").SecondPaymentStatus)
	assert.Equal(t, models.InstallmentPending, f.orders.order("ORD-LATER").SecondPaymentStatus)
	assert.Equal(t, models.InstallmentOverdue, f.orders.order("ORD-STALE").SecondPaymentStatus)
	f.gateway.AssertNumberOfCalls(t, "ChargeOffSession", 3)
}

func TestProcessDueSecondPaymentsSkipsRefundedOrders(t *testing.T) {
	yesterday := testNow.Add(-24 * time.Hour)
	refunded := firstPaidSplitOrder("ORD-REFUNDED", yesterday)
	refunded.PaymentStatus = models.PaymentStatusRefunded
	refundedFailed := firstPaidSplitOrder("ORD-REFUNDED-FAILED", testNow.Add(-10*24*time.Hour))
	refundedFailed.PaymentStatus = models.PaymentStatusRefunded
	refundedFailed.SecondPaymentStatus = models.InstallmentFailed
	f := newPaymentFixture(refunded, refundedFailed)

	result, err := f.payments.ProcessDueSecondPayments(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
	assert.Zero(t, result.Failed)
	assert.Zero(t, result.MarkedOverdue)
	assert.Equal(t, models.InstallmentPending, f.orders.order("ORD-REFUNDED").SecondPaymentStatus)
	assert.Equal(t, models.InstallmentFailed, f.orders.order("ORD-REFUNDED-FAILED").SecondPaymentStatus)
	f.gateway.AssertNotCalled(t, "ChargeOffSession", mock.Anything, mock.Anything)
}

func TestProcessDueSecondPaymentsEmpty(t *testing.T) {
	f := newPaymentFixture()

	result, err := f.payments.ProcessDueSecondPayments(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
	f.gateway.AssertNotCalled(t, "ChargeOffSession", mock.Anything, mock.Anything)
}

func TestRefundOrderRefundsBothInstallments(t *testing.T) {
	order := firstPaidSplitOrder("ORD-REF", testNow)
	order.PaymentStatus = models.PaymentStatusPaid
	order.SecondPaymentStatus = models.InstallmentPaid
	order.SecondPaymentIntentID = "pi_second"
	f := newPaymentFixture(order)

	f.gateway.On("Refund", mock.Anything, "pi_first_ORD-REF", (*float64)(nil)).Return("re_1", nil).Once()
	f.gateway.On("Refund", mock.Anything, "pi_second", (*float64)(nil)).Return("re_2", nil).Once()

	refunded, err := f.payments.RefundOrder(context.Background(), "ORD-REF", nil)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, refunded.PaymentStatus)
	assert.Equal(t, models.PaymentStatusRefunded, f.orders.order("ORD-REF").PaymentStatus)

	_, err = f.payments.RefundOrder(context.Background(), "ORD-REF", nil)
	require.NoError(t, err)
	f.gateway.AssertNumberOfCalls(t, "Refund", 2)
}

func TestRefundOrderPartialAmountKeepsStatus(t *testing.T) {
	order := firstPaidSplitOrder("ORD-PART", testNow.Add(24*time.Hour))
	order.TutorialAccessGranted = true
	f := newPaymentFixture(order)

	amount := 100.0
	f.gateway.On("Refund", mock.Anything, "pi_first_ORD-PART", &amount).Return("re_part", nil).Once()

	got, err := f.payments.RefundOrder(context.Background(), "ORD-PART", &RefundRequest{Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPartiallyPaid, got.PaymentStatus)

	stored := f.orders.order("ORD-PART")
	assert.Equal(t, models.PaymentStatusPartiallyPaid, stored.PaymentStatus)
	assert.Equal(t, models.InstallmentPending, stored.SecondPaymentStatus)
	assert.True(t, stored.TutorialAccessGranted)
	assert.Contains(t, stored.Notes, "Partial refund of 100.00 USD (admin re_part)")
	assert.NotContains(t, f.publisher.published(), models.EventTypeOrderRefunded)
	f.gateway.AssertExpectations(t)
}

func TestRefundOrderFullAmountMarksRefunded(t *testing.T) {
	order := pendingOrder("ORD-FULLAMT", models.PaymentPlanOneTime)
	order.PaymentStatus = models.PaymentStatusPaid
	order.StripePaymentIntentID = "pi_full"
	f := newPaymentFixture(order)

	amount := 1250.0
	f.gateway.On("Refund", mock.Anything, "pi_full", &amount).Return("re_full", nil).Once()

	got, err := f.payments.RefundOrder(context.Background(), "ORD-FULLAMT", &RefundRequest{Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, got.PaymentStatus)
	assert.Empty(t, f.orders.order("ORD-FULLAMT").Notes)
}

func TestRefundOrderRejectsUnpaid(t *testing.T) {
	f := newPaymentFixture(pendingOrder("ORD-UNPAID", models.PaymentPlanOneTime))

	_, err := f.payments.RefundOrder(context.Background(), "ORD-UNPAID", nil)
	assert.True(t, IsKind(err, KindInvalidTransition))
	f.gateway.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything, mock.Anything)
}

func TestRefundOrderGatewayErrorLeavesOrder(t *testing.T) {
	order := pendingOrder("ORD-REFERR", models.PaymentPlanOneTime)
	order.PaymentStatus = models.PaymentStatusPaid
	order.StripePaymentIntentID = "pi_paid"
	f := newPaymentFixture(order)

	amount := 100.0
	f.gateway.On("Refund", mock.Anything, "pi_paid", &amount).Return("", errors.New("charge already refunded"))

	_, err := f.payments.RefundOrder(context.Background(), "ORD-REFERR", &RefundRequest{Amount: &amount})
	assert.True(t, IsKind(err, KindGateway))
	assert.Equal(t, models.PaymentStatusPaid, f.orders.order("ORD-REFERR").PaymentStatus)
}

func TestStartOfDay(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	got := startOfDay(time.Date(2024, 3, 15, 23, 59, 0, 0, loc))
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, loc), got)
}
