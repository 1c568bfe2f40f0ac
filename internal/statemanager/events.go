package statemanager

import (
	"amm-volume-bot/internal/models"
	"time"
)

// EventType defines the type of a normalized event
type EventType int

const (
	StateResetEvent EventType = iota
	RunStateChangedEvent
	CycleStartedEvent
	CycleCompletedEvent
	PriceObservedEvent
	WalletVisitedEvent
	WalletSkippedEvent
	OfferPlacedEvent
	OfferRejectedEvent
	OfferSuppressedEvent
	OffersCancelledEvent
	OpenOffersObservedEvent
)

var eventNames = map[EventType]string{
	StateResetEvent:         "StateReset",
	RunStateChangedEvent:    "RunStateChanged",
	CycleStartedEvent:       "CycleStarted",
	CycleCompletedEvent:     "CycleCompleted",
	PriceObservedEvent:      "PriceObserved",
	WalletVisitedEvent:      "WalletVisited",
	WalletSkippedEvent:      "WalletSkipped",
	OfferPlacedEvent:        "OfferPlaced",
	OfferRejectedEvent:      "OfferRejected",
	OfferSuppressedEvent:    "OfferSuppressed",
	OffersCancelledEvent:    "OffersCancelled",
	OpenOffersObservedEvent: "OpenOffersObserved",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return "Unknown"
}

// NormalizedEvent is a standardized internal representation of an event
type NormalizedEvent struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, data interface{}) NormalizedEvent {
	return NormalizedEvent{Type: t, Timestamp: time.Now(), Data: data}
}

// RunStateData reports the loop entering or leaving the running state.
type RunStateData struct {
	Running bool
}

// CycleData identifies a cycle.
type CycleData struct {
	Cycle uint64
}

// PriceData is a reference price read from the pool.
type PriceData struct {
	Price float64
}

// WalletVisitData is recorded when a wallet passes the balance gate.
type WalletVisitData struct {
	Address string
	Balance float64
}

// WalletSkipData explains why a wallet sat out a cycle.
type WalletSkipData struct {
	Address string
	Balance float64
	Reason  string
}

// OfferData describes one offer outcome.
type OfferData struct {
	Address    string
	Side       models.Side
	LimitPrice float64
	Quantity   int64
	Code       string
	Hash       string
	Reason     string
}

// CancelData summarises a cancel-all pass for one wallet.
type CancelData struct {
	Address   string
	Cancelled int
	Noop      int
	Failed    int
}

// OpenOffersData is the open offer count last seen for a wallet.
type OpenOffersData struct {
	Address string
	Count   int
}
