// Package dialogue is the order-detail capture state machine.
//
// It holds no state of its own: callers load the task's DialogueState and
// OrderDetails, feed one Event through Step and persist the Outcome.
package dialogue

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hubflo/hubflo/internal/models"
)

// ErrUnexpectedEvent is returned when the table has no row for (state, event).
var ErrUnexpectedEvent = errors.New("event not allowed in dialogue state")

// Field names one captured order field.
type Field string

const (
	FieldItem         Field = "item"
	FieldQuantity     Field = "quantity"
	FieldSupplier     Field = "supplier"
	FieldDeliveryDate Field = "delivery_date"
	FieldDropLocation Field = "drop_location"
)

// Fields is the capture order.
var Fields = []Field{FieldItem, FieldQuantity, FieldSupplier, FieldDeliveryDate, FieldDropLocation}

var stateByField = map[Field]models.DialogueState{
	FieldItem:         models.DialogueAwaitingItem,
	FieldQuantity:     models.DialogueAwaitingQuantity,
	FieldSupplier:     models.DialogueAwaitingSupplier,
	FieldDeliveryDate: models.DialogueAwaitingDeliveryDate,
	FieldDropLocation: models.DialogueAwaitingDropLocation,
}

var fieldByState = map[models.DialogueState]Field{
	models.DialogueAwaitingItem:         FieldItem,
	models.DialogueAwaitingQuantity:     FieldQuantity,
	models.DialogueAwaitingSupplier:     FieldSupplier,
	models.DialogueAwaitingDeliveryDate: FieldDeliveryDate,
	models.DialogueAwaitingDropLocation: FieldDropLocation,
}

var prompts = map[models.DialogueState]string{
	models.DialogueAwaitingItem:         "Item?",
	models.DialogueAwaitingQuantity:     "Quantity?",
	models.DialogueAwaitingSupplier:     "Supplier?",
	models.DialogueAwaitingDeliveryDate: "Delivery date?",
	models.DialogueAwaitingDropLocation: "Drop location?",
}

var labels = map[Field]string{
	FieldItem:         "Item",
	FieldQuantity:     "Quantity",
	FieldSupplier:     "Supplier",
	FieldDeliveryDate: "Delivery date",
	FieldDropLocation: "Drop location",
}

// EventKind is what happened to the dialogue.
type EventKind string

const (
	// EventStart opens a dialogue for a freshly created order task.
	EventStart EventKind = "start"
	// EventAnswer carries free text for the current field.
	EventAnswer EventKind = "answer"
	// EventSelect jumps to Field, usually from an interactive reply.
	EventSelect EventKind = "select"
	// EventCancel abandons the dialogue.
	EventCancel EventKind = "cancel"
)

type Event struct {
	Kind  EventKind
	Field Field
	Text  string
}

// Effect is the side effect the caller must carry out after persisting the outcome.
type Effect string

const (
	EffectPrompt    Effect = "prompt"
	EffectReprompt  Effect = "reprompt"
	EffectCaptured  Effect = "captured"
	EffectCancelled Effect = "cancelled"
)

type action int

const (
	actBegin action = iota
	actStore
	actJump
	actAbandon
)

type key struct {
	from models.DialogueState
	on   EventKind
}

// transitions is the state x event table. Missing rows are ErrUnexpectedEvent.
var transitions = map[key]action{
	{models.DialogueNone, EventStart}: actBegin,

	{models.DialogueAwaitingItem, EventAnswer}:         actStore,
	{models.DialogueAwaitingQuantity, EventAnswer}:     actStore,
	{models.DialogueAwaitingSupplier, EventAnswer}:     actStore,
	{models.DialogueAwaitingDeliveryDate, EventAnswer}: actStore,
	{models.DialogueAwaitingDropLocation, EventAnswer}: actStore,

	{models.DialogueAwaitingItem, EventSelect}:         actJump,
	{models.DialogueAwaitingQuantity, EventSelect}:     actJump,
	{models.DialogueAwaitingSupplier, EventSelect}:     actJump,
	{models.DialogueAwaitingDeliveryDate, EventSelect}: actJump,
	{models.DialogueAwaitingDropLocation, EventSelect}: actJump,
	{models.DialogueCaptured, EventSelect}:             actJump,

	{models.DialogueAwaitingItem, EventCancel}:         actAbandon,
	{models.DialogueAwaitingQuantity, EventCancel}:     actAbandon,
	{models.DialogueAwaitingSupplier, EventCancel}:     actAbandon,
	{models.DialogueAwaitingDeliveryDate, EventCancel}: actAbandon,
	{models.DialogueAwaitingDropLocation, EventCancel}: actAbandon,
}

// Outcome is the result of one Step.
type Outcome struct {
	Next   models.DialogueState
	Order  models.OrderDetails
	Effect Effect
	// Prompt is the question for Next; empty once captured or cancelled.
	Prompt string
}

// Step applies ev to a dialogue in state with the fields captured so far.
func Step(state models.DialogueState, order models.OrderDetails, ev Event) (Outcome, error) {
	if state == "" {
		state = models.DialogueNone
	}
	act, ok := transitions[key{from: state, on: ev.Kind}]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s on %s", ErrUnexpectedEvent, ev.Kind, state)
	}

	switch act {
	case actBegin:
		return advance(order), nil

	case actStore:
		answer := strings.TrimSpace(ev.Text)
		if answer == "" {
			return Outcome{Next: state, Order: order, Effect: EffectReprompt, Prompt: prompts[state]}, nil
		}
		set(&order, fieldByState[state], answer)
		return advance(order), nil

	case actJump:
		next, ok := stateByField[ev.Field]
		if !ok {
			return Outcome{}, fmt.Errorf("%w: unknown field %q", ErrUnexpectedEvent, ev.Field)
		}
		return Outcome{Next: next, Order: order, Effect: EffectPrompt, Prompt: prompts[next]}, nil

	default:
		return Outcome{Next: models.DialogueNone, Order: order, Effect: EffectCancelled}, nil
	}
}

// advance moves to the first unfilled field, or to captured when all are set.
func advance(order models.OrderDetails) Outcome {
	for _, f := range Fields {
		if strings.TrimSpace(Get(order, f)) == "" {
			next := stateByField[f]
			return Outcome{Next: next, Order: order, Effect: EffectPrompt, Prompt: prompts[next]}
		}
	}
	return Outcome{Next: models.DialogueCaptured, Order: order, Effect: EffectCaptured}
}

// Prompt returns the question asked in state.
func Prompt(state models.DialogueState) string {
	return prompts[state]
}

// FieldFor returns the field answered in state.
func FieldFor(state models.DialogueState) (Field, bool) {
	f, ok := fieldByState[state]
	return f, ok
}

// Label is the human label of a field.
func Label(f Field) string {
	return labels[f]
}

// Get reads one field of order.
func Get(order models.OrderDetails, f Field) string {
	switch f {
	case FieldItem:
		return order.Item
	case FieldQuantity:
		return order.Quantity
	case FieldSupplier:
		return order.Supplier
	case FieldDeliveryDate:
		return order.DeliveryDate
	case FieldDropLocation:
		return order.DropLocation
	}
	return ""
}

func set(order *models.OrderDetails, f Field, v string) {
	switch f {
	case FieldItem:
		order.Item = v
	case FieldQuantity:
		order.Quantity = v
	case FieldSupplier:
		order.Supplier = v
	case FieldDeliveryDate:
		order.DeliveryDate = v
	case FieldDropLocation:
		order.DropLocation = v
	}
}

// Summary renders the captured order as plain text.
func Summary(taskID uint64, order models.OrderDetails) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order #%d captured and sent for approval.", taskID)
	for _, f := range Fields {
		fmt.Fprintf(&b, "\n%s: %s", labels[f], Get(order, f))
	}
	return b.String()
}
