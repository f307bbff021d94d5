package domain

import (
	"context"
	"fmt"
)

// Kind is the wire discriminator carried in a message's "type" field.
type Kind string

const (
	KindEmail             Kind = "email"
	KindVenueUpdate       Kind = "VENUE_UPDATE"
	KindDinnerUpdate      Kind = "DINNER_UPDATE"
	KindSubscriptionEmail Kind = "SUBSCRIPTION_EMAIL"
)

// Kinds lists every message kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindEmail, KindVenueUpdate, KindDinnerUpdate, KindSubscriptionEmail}
}

func (k Kind) IsValid() bool {
	switch k {
	case KindEmail, KindVenueUpdate, KindDinnerUpdate, KindSubscriptionEmail:
		return true
	}
	return false
}

// Message is a notification intent. The set of implementations is closed:
// TemplatedEmail, VenueUpdate, DinnerUpdate and SubscriptionEmail.
type Message interface {
	Kind() Kind
	// Dispatch calls the Handler method matching the concrete variant.
	Dispatch(ctx context.Context, h Handler) error
	// Validate rejects empty required fields. Decode only checks presence.
	Validate() error

	requiredFields() []string
}

// Handler receives decoded messages, one method per variant.
// Adding a variant adds a method here, so every handler stops compiling
// until it covers the new case.
type Handler interface {
	HandleEmail(ctx context.Context, m TemplatedEmail) error
	HandleVenueUpdate(ctx context.Context, m VenueUpdate) error
	HandleDinnerUpdate(ctx context.Context, m DinnerUpdate) error
	HandleSubscriptionEmail(ctx context.Context, m SubscriptionEmail) error
}

// TemplatedEmail renders a named template with arbitrary data.
type TemplatedEmail struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data"`
}

// VenueUpdate tells a guest where their dinner takes place.
type VenueUpdate struct {
	ToEmail      string `json:"to_email"`
	Name         string `json:"name"`
	VenueName    string `json:"venue_name"`
	VenueAddress string `json:"venue_address"`
	City         string `json:"city"`
	Date         string `json:"date"`
}

// DinnerUpdate tells a guest they have been matched into a dinner.
type DinnerUpdate struct {
	ToEmail string `json:"to_email"`
	Name    string `json:"name"`
	Date    string `json:"date"`
	Time    string `json:"time"`
	City    string `json:"city"`
}

// SubscriptionEmail reports a change of billing subscription status.
type SubscriptionEmail struct {
	ToEmail string `json:"to_email"`
	Status  string `json:"status"`
}

func (TemplatedEmail) Kind() Kind    { return KindEmail }
func (VenueUpdate) Kind() Kind       { return KindVenueUpdate }
func (DinnerUpdate) Kind() Kind      { return KindDinnerUpdate }
func (SubscriptionEmail) Kind() Kind { return KindSubscriptionEmail }

func (m TemplatedEmail) Dispatch(ctx context.Context, h Handler) error {
	return h.HandleEmail(ctx, m)
}

func (m VenueUpdate) Dispatch(ctx context.Context, h Handler) error {
	return h.HandleVenueUpdate(ctx, m)
}

func (m DinnerUpdate) Dispatch(ctx context.Context, h Handler) error {
	return h.HandleDinnerUpdate(ctx, m)
}

func (m SubscriptionEmail) Dispatch(ctx context.Context, h Handler) error {
	return h.HandleSubscriptionEmail(ctx, m)
}

func (TemplatedEmail) requiredFields() []string {
	return []string{"to", "subject", "template", "data"}
}

func (VenueUpdate) requiredFields() []string {
	return []string{"to_email", "name", "venue_name", "venue_address", "city", "date"}
}

func (DinnerUpdate) requiredFields() []string {
	return []string{"to_email", "name", "date", "time", "city"}
}

func (SubscriptionEmail) requiredFields() []string {
	return []string{"to_email", "status"}
}

// Validate also rejects a null data object; every generic template reads
// at least one key from it.
func (m TemplatedEmail) Validate() error {
	if err := nonEmpty(
		field{"to", m.To},
		field{"subject", m.Subject},
		field{"template", m.Template},
	); err != nil {
		return err
	}
	if m.Data == nil {
		return fmt.Errorf("%w: data", ErrEmptyField)
	}
	return nil
}

func (m VenueUpdate) Validate() error {
	return nonEmpty(
		field{"to_email", m.ToEmail},
		field{"name", m.Name},
		field{"venue_name", m.VenueName},
		field{"venue_address", m.VenueAddress},
		field{"city", m.City},
		field{"date", m.Date},
	)
}

func (m DinnerUpdate) Validate() error {
	return nonEmpty(
		field{"to_email", m.ToEmail},
		field{"name", m.Name},
		field{"date", m.Date},
		field{"time", m.Time},
		field{"city", m.City},
	)
}

func (m SubscriptionEmail) Validate() error {
	return nonEmpty(
		field{"to_email", m.ToEmail},
		field{"status", m.Status},
	)
}

type field struct {
	name, value string
}

func nonEmpty(fields ...field) error {
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("%w: %s", ErrEmptyField, f.name)
		}
	}
	return nil
}
