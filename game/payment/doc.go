// Package payment creates bet payment intents with Stripe.
//
// A successful call returns the intent's client secret, which the client
// uses to complete the card payment. Any failure reported by the gateway is
// returned as a *RejectedError wrapping ErrGatewayRejected and carrying the
// gateway's own message.
package payment
