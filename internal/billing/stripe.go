package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"

	"metergate/internal/types"
)

// StripeUpdater implements SubscriptionUpdater against the Stripe API. All
// calls go through a circuit breaker so a Stripe outage cannot pile up
// blocked tier transitions; failed updates are logged by the manager and
// repaired by billing reconciliation.
type StripeUpdater struct {
	prices  map[types.PlanCode]string
	breaker *gobreaker.CircuitBreaker[*stripe.Subscription]
	logger  *slog.Logger
}

var _ SubscriptionUpdater = (*StripeUpdater)(nil)

// NewStripeUpdater configures the Stripe client. prices maps each paid plan
// code to its Stripe price ID.
func NewStripeUpdater(apiKey string, prices map[types.PlanCode]string, logger *slog.Logger) *StripeUpdater {
	stripe.Key = apiKey

	cb := gobreaker.NewCircuitBreaker[*stripe.Subscription](gobreaker.Settings{
		Name:        "stripe-subscriptions",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &StripeUpdater{
		prices:  prices,
		breaker: cb,
		logger:  logger,
	}
}

// UpdateSubscriptionTier swaps the subscription's single plan item to the
// price of the target tier, letting Stripe generate the proration line items
// on the next invoice.
func (u *StripeUpdater) UpdateSubscriptionTier(ctx context.Context, subscriptionID string, plan types.PlanCode) error {
	priceID, ok := u.prices[plan]
	if !ok {
		return types.NewAppError(types.ErrCodeConfigUnknownTier,
			fmt.Sprintf("no stripe price configured for plan %q", plan), nil)
	}

	_, err := u.breaker.Execute(func() (*stripe.Subscription, error) {
		sub, err := subscription.Get(subscriptionID, &stripe.SubscriptionParams{
			Params: stripe.Params{Context: ctx},
		})
		if err != nil {
			return nil, err
		}
		if len(sub.Items.Data) == 0 {
			return nil, fmt.Errorf("subscription %s has no items", subscriptionID)
		}

		return subscription.Update(subscriptionID, &stripe.SubscriptionParams{
			Params: stripe.Params{Context: ctx},
			Items: []*stripe.SubscriptionItemsParams{
				{
					ID:    stripe.String(sub.Items.Data[0].ID),
					Price: stripe.String(priceID),
				},
			},
			ProrationBehavior: stripe.String("create_prorations"),
		})
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamBilling,
			fmt.Sprintf("failed to update subscription %s to plan %s", subscriptionID, plan), err)
	}

	u.logger.Info("stripe subscription updated",
		"subscription_id", subscriptionID,
		"plan", string(plan),
	)
	return nil
}
