package notifier

import (
	"context"
	"fmt"
	"io"

	"github.com/pfrederiksen/bake-events/internal/event"
)

// Modes accepted by New
const (
	ModeNone = "none"
	ModeLog  = "log"
	ModeAMQP = "amqp"
)

// Notifier defines the interface for announcing inserted events
type Notifier interface {
	// Notify announces the given events
	Notify(ctx context.Context, events []event.Stored) error
	Close() error
}

// Config selects and configures a Notifier
type Config struct {
	Mode       string
	AMQPURL    string
	Exchange   string
	RoutingKey string
	// Output is where ModeLog writes
	Output io.Writer
}

// New builds the Notifier for cfg.Mode
func New(cfg Config) (Notifier, error) {
	switch cfg.Mode {
	case "", ModeNone:
		return Nop{}, nil
	case ModeLog:
		return NewLogNotifier(cfg.Output), nil
	case ModeAMQP:
		return DialAMQP(cfg.AMQPURL, cfg.Exchange, cfg.RoutingKey)
	}
	return nil, fmt.Errorf("unknown notify mode: %q", cfg.Mode)
}

// Nop discards everything
type Nop struct{}

func (Nop) Notify(context.Context, []event.Stored) error { return nil }

func (Nop) Close() error { return nil }

// Message is the wire form of one inserted event
type Message struct {
	ID          int64  `json:"id"`
	PlaceID     int64  `json:"place_id"`
	PlaceName   string `json:"place_name"`
	PostalCode  string `json:"postal_code"`
	Title       string `json:"title"`
	EventDate   string `json:"event_date"`
	Category    string `json:"category"`
	WindowType  string `json:"window_type"`
	PriceText   string `json:"price_text"`
	Description string `json:"description"`
}

// NewMessage maps a stored event to its message
func NewMessage(e event.Stored) Message {
	return Message{
		ID:          e.ID,
		PlaceID:     e.PlaceID,
		PlaceName:   e.PlaceName,
		PostalCode:  e.PostalCode,
		Title:       e.Title,
		EventDate:   e.EventDate,
		Category:    e.Category,
		WindowType:  string(e.WindowType),
		PriceText:   e.PriceText,
		Description: e.Description,
	}
}
