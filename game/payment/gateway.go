package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.uber.org/zap"
)

var (
	ErrGatewayRejected = errors.New("payment gateway rejected the request")
	ErrInvalidCharge   = errors.New("invalid charge")
)

// Gateway creates charge intents with an external payment provider.
type Gateway interface {
	CreateIntent(ctx context.Context, charge Charge) (*Intent, error)
}

// Charge is a bet placed by a player, in whole currency units.
type Charge struct {
	Amount   float64
	PlayerID string
}

// Intent is the provider's answer; ClientSecret is handed to the client to
// complete the payment.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
}

// RejectedError carries the gateway's own message.
type RejectedError struct {
	Message    string
	Code       string
	HTTPStatus int
}

func (e *RejectedError) Error() string {
	return e.Message
}

func (e *RejectedError) Unwrap() error {
	return ErrGatewayRejected
}

type intentCreator interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeGateway creates card payment intents in USD.
type StripeGateway struct {
	intents intentCreator
	logger  *zap.Logger
}

// NewStripeGateway builds a gateway from a secret key. An empty key yields a
// gateway whose calls fail with ErrGatewayRejected.
func NewStripeGateway(secretKey string, logger *zap.Logger) *StripeGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &StripeGateway{logger: logger.Named("payment")}
	if secretKey != "" {
		sc := &client.API{}
		sc.Init(secretKey, nil)
		g.intents = sc.PaymentIntents
	}
	return g
}

// CreateIntent converts the amount to cents and creates a payment intent.
func (g *StripeGateway) CreateIntent(ctx context.Context, charge Charge) (*Intent, error) {
	if g.intents == nil {
		return nil, &RejectedError{Message: "payment gateway not configured"}
	}

	cents, err := toCents(charge.Amount)
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(cents),
		Currency:           stripe.String(string(stripe.CurrencyUSD)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	if charge.PlayerID != "" {
		params.AddMetadata("player_id", charge.PlayerID)
	}

	pi, err := g.intents.New(params)
	if err != nil {
		rejected := toRejected(err)
		g.logger.Warn("payment intent rejected",
			zap.String("player_id", charge.PlayerID),
			zap.Int64("amount_cents", cents),
			zap.String("code", rejected.Code),
			zap.Error(err))
		return nil, rejected
	}

	g.logger.Info("payment intent created",
		zap.String("player_id", charge.PlayerID),
		zap.String("intent_id", pi.ID),
		zap.Int64("amount_cents", cents))

	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountCents:  cents,
		Currency:     string(stripe.CurrencyUSD),
	}, nil
}

func toCents(amount float64) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidCharge)
	}
	cents := int64(math.Round(amount * 100))
	if cents <= 0 {
		return 0, fmt.Errorf("%w: amount rounds to zero cents", ErrInvalidCharge)
	}
	return cents, nil
}

func toRejected(err error) *RejectedError {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		msg := strings.TrimSpace(stripeErr.Msg)
		if msg == "" {
			msg = err.Error()
		}
		return &RejectedError{
			Message:    msg,
			Code:       string(stripeErr.Code),
			HTTPStatus: stripeErr.HTTPStatusCode,
		}
	}
	return &RejectedError{Message: err.Error()}
}
