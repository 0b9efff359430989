package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the billing processor's event type string.
type Kind string

const (
	KindCheckoutCompleted Kind = "checkout.session.completed"
	KindPlanChanged       Kind = "customer.subscription.updated"
	KindPlanCanceled      Kind = "customer.subscription.deleted"
	KindPaymentFailed     Kind = "invoice.payment_failed"
)

// Event is a verified billing notification reduced to the fields the
// subscription lifecycle needs. Unknown kinds carry only ID and Kind.
type Event struct {
	ID              string
	Kind            Kind
	UserID          string
	Tier            string
	CustomerRef     string
	SubscriptionRef string
	PriceRef        string
	InvoiceRef      string
	PeriodStart     *time.Time
	PeriodEnd       *time.Time
}

// expandableID accepts either a bare id string or an expanded object with an id.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type checkoutSessionObject struct {
	Customer     expandableID      `json:"customer"`
	Subscription expandableID      `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type subscriptionObject struct {
	ID                 string       `json:"id"`
	Customer           expandableID `json:"customer"`
	CurrentPeriodStart int64        `json:"current_period_start"`
	CurrentPeriodEnd   int64        `json:"current_period_end"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

type invoiceObject struct {
	ID       string       `json:"id"`
	Customer expandableID `json:"customer"`
}

// decodeObject fills the kind-specific fields of ev from the event's data.object.
func decodeObject(ev *Event, raw json.RawMessage) error {
	switch ev.Kind {
	case KindCheckoutCompleted:
		var obj checkoutSessionObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}
		ev.CustomerRef = string(obj.Customer)
		ev.SubscriptionRef = string(obj.Subscription)
		ev.UserID = obj.Metadata["userId"]
		ev.Tier = obj.Metadata["tier"]
	case KindPlanChanged, KindPlanCanceled:
		var obj subscriptionObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		ev.CustomerRef = string(obj.Customer)
		ev.SubscriptionRef = obj.ID
		start, end := obj.CurrentPeriodStart, obj.CurrentPeriodEnd
		if len(obj.Items.Data) > 0 {
			item := obj.Items.Data[0]
			ev.PriceRef = item.Price.ID
			// Newer API versions report the period per item.
			if start == 0 {
				start = item.CurrentPeriodStart
			}
			if end == 0 {
				end = item.CurrentPeriodEnd
			}
		}
		ev.PeriodStart = unixTime(start)
		ev.PeriodEnd = unixTime(end)
	case KindPaymentFailed:
		var obj invoiceObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		ev.InvoiceRef = obj.ID
		ev.CustomerRef = string(obj.Customer)
	}
	return nil
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
