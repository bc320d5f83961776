package shop

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/utils"
)

var (
	// ErrCardDeclined covers every recoverable card failure; the message
	// carries the gateway's human-readable reason.
	ErrCardDeclined = errors.New("card declined")
	// ErrCardExpired triggers saved-card removal.
	ErrCardExpired = errors.New("card expired")
)

type CardSummary struct {
	Last4    string
	ExpMonth int
	ExpYear  int
}

type ChargeRequest struct {
	// One of CustomerID (saved card) or CardToken (fresh card) is set.
	CustomerID  string
	CardToken   string
	Email       string
	AmountCents int64
	Currency    string
	Description string
}

type ChargeResult struct {
	ChargeID   string
	CustomerID string
	Card       CardSummary
}

// Gateway is the payment boundary; the Stripe implementation is swapped
// for a fake in tests.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

type stripeGateway struct {
	sc  *client.API
	log *logger.Logger
}

func NewStripeGateway(log *logger.Logger) (Gateway, error) {
	key := utils.GetEnv("STRIPE_SECRET_KEY", "", log)
	if key == "" {
		return nil, fmt.Errorf("missing STRIPE_SECRET_KEY")
	}
	sc := &client.API{}
	sc.Init(key, nil)
	return &stripeGateway{sc: sc, log: log.With("client", "StripeGateway")}, nil
}

func (g *stripeGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	customerID := req.CustomerID
	if customerID == "" {
		if req.CardToken == "" {
			return nil, fmt.Errorf("charge needs a saved customer or a card token")
		}
		params := &stripe.CustomerParams{Email: stripe.String(req.Email)}
		params.Context = ctx
		params.Source = stripe.String(req.CardToken)
		cust, err := g.sc.Customers.New(params)
		if err != nil {
			return nil, mapStripeError(err)
		}
		customerID = cust.ID
	}

	params := &stripe.ChargeParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(req.Currency),
		Customer:    stripe.String(customerID),
		Description: stripe.String(req.Description),
	}
	params.Context = ctx
	ch, err := g.sc.Charges.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}

	result := &ChargeResult{ChargeID: ch.ID, CustomerID: customerID}
	if ch.PaymentMethodDetails != nil && ch.PaymentMethodDetails.Card != nil {
		card := ch.PaymentMethodDetails.Card
		result.Card = CardSummary{
			Last4:    card.Last4,
			ExpMonth: int(card.ExpMonth),
			ExpYear:  int(card.ExpYear),
		}
	}
	return result, nil
}

// mapStripeError folds gateway errors into the two typed card errors the
// purchase flow distinguishes; everything else passes through as-is.
func mapStripeError(err error) error {
	var sErr *stripe.Error
	if !errors.As(err, &sErr) {
		return err
	}
	switch sErr.Code {
	case stripe.ErrorCodeExpiredCard:
		return fmt.Errorf("%w: %s", ErrCardExpired, sErr.Msg)
	case stripe.ErrorCodeCardDeclined,
		stripe.ErrorCodeIncorrectCVC,
		stripe.ErrorCodeIncorrectNumber,
		stripe.ErrorCodeInvalidExpiryMonth,
		stripe.ErrorCodeInvalidExpiryYear,
		stripe.ErrorCodeProcessingError:
		return fmt.Errorf("%w: %s", ErrCardDeclined, sErr.Msg)
	}
	return err
}
