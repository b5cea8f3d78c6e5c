package dialogue

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/hubflo/hubflo/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func answer(text string) Event {
	return Event{Kind: EventAnswer, Text: text}
}

func TestStep_StartPromptsForItem(t *testing.T) {
	out, err := Step(models.DialogueNone, models.OrderDetails{}, Event{Kind: EventStart})
	require.NoError(t, err)
	assert.Equal(t, models.DialogueAwaitingItem, out.Next)
	assert.Equal(t, EffectPrompt, out.Effect)
	assert.Equal(t, "Item?", out.Prompt)
}

func TestStep_AnswerStoresAndAdvances(t *testing.T) {
	out, err := Step(models.DialogueAwaitingItem, models.OrderDetails{}, answer("PVC pipe"))
	require.NoError(t, err)
	assert.Equal(t, models.DialogueAwaitingQuantity, out.Next)
	assert.Equal(t, "PVC pipe", out.Order.Item)
	assert.Equal(t, "Quantity?", out.Prompt)
}

func TestStep_FullCaptureKeepsEveryAnswer(t *testing.T) {
	answers := []string{"PVC pipe", "20 lengths", "Plumbase", "2024-03-04", "North gate"}

	state := models.DialogueNone
	order := models.OrderDetails{}
	out, err := Step(state, order, Event{Kind: EventStart})
	require.NoError(t, err)
	state, order = out.Next, out.Order

	for i, a := range answers {
		out, err = Step(state, order, answer(a))
		require.NoError(t, err)
		state, order = out.Next, out.Order
		if i < len(answers)-1 {
			assert.Equal(t, EffectPrompt, out.Effect)
		}
	}

	assert.Equal(t, models.DialogueCaptured, state)
	assert.Equal(t, EffectCaptured, out.Effect)
	assert.Empty(t, out.Prompt)
	assert.Equal(t, models.OrderDetails{
		Item:         "PVC pipe",
		Quantity:     "20 lengths",
		Supplier:     "Plumbase",
		DeliveryDate: "2024-03-04",
		DropLocation: "North gate",
	}, order)
}

func TestStep_BlankAnswerReprompts(t *testing.T) {
	out, err := Step(models.DialogueAwaitingSupplier, models.OrderDetails{Item: "x", Quantity: "1"}, answer("  "))
	require.NoError(t, err)
	assert.Equal(t, models.DialogueAwaitingSupplier, out.Next)
	assert.Equal(t, EffectReprompt, out.Effect)
	assert.Equal(t, "Supplier?", out.Prompt)
}

func TestStep_SelectJumpsThenContinuesToNextUnfilled(t *testing.T) {
	order := models.OrderDetails{Item: "Cable", Quantity: "20m"}

	out, err := Step(models.DialogueAwaitingSupplier, order, Event{Kind: EventSelect, Field: FieldDropLocation})
	require.NoError(t, err)
	assert.Equal(t, models.DialogueAwaitingDropLocation, out.Next)
	assert.Equal(t, "Drop location?", out.Prompt)

	out, err = Step(out.Next, out.Order, answer("Level 2 hoist"))
	require.NoError(t, err)
	assert.Equal(t, models.DialogueAwaitingSupplier, out.Next)
	assert.Equal(t, "Level 2 hoist", out.Order.DropLocation)
}

func TestStep_SelectFromCapturedEditsOneField(t *testing.T) {
	order := models.OrderDetails{Item: "Cable", Quantity: "20m", Supplier: "A", DeliveryDate: "today", DropLocation: "Gate"}

	out, err := Step(models.DialogueCaptured, order, Event{Kind: EventSelect, Field: FieldQuantity})
	require.NoError(t, err)
	assert.Equal(t, models.DialogueAwaitingQuantity, out.Next)

	out, err = Step(out.Next, out.Order, answer("30m"))
	require.NoError(t, err)
	assert.Equal(t, models.DialogueCaptured, out.Next)
	assert.Equal(t, "30m", out.Order.Quantity)
}

func TestStep_Cancel(t *testing.T) {
	out, err := Step(models.DialogueAwaitingQuantity, models.OrderDetails{Item: "Cable"}, Event{Kind: EventCancel})
	require.NoError(t, err)
	assert.Equal(t, models.DialogueNone, out.Next)
	assert.Equal(t, EffectCancelled, out.Effect)
	assert.Equal(t, "Cable", out.Order.Item)
}

func TestStep_UnexpectedEvents(t *testing.T) {
	cases := []struct {
		state models.DialogueState
		ev    Event
	}{
		{models.DialogueNone, answer("hello")},
		{models.DialogueCaptured, answer("again")},
		{models.DialogueCaptured, Event{Kind: EventCancel}},
		{models.DialogueAwaitingItem, Event{Kind: EventStart}},
		{models.DialogueAwaitingItem, Event{Kind: EventSelect, Field: "colour"}},
	}
	for _, c := range cases {
		_, err := Step(c.state, models.OrderDetails{}, c.ev)
		assert.ErrorIs(t, err, ErrUnexpectedEvent, "%s on %s", c.ev.Kind, c.state)
	}
}

func TestParseReplyID(t *testing.T) {
	f, id, ok := ParseReplyID("order_delivery_date:42")
	require.True(t, ok)
	assert.Equal(t, FieldDeliveryDate, f)
	assert.Equal(t, uint64(42), id)

	for _, bad := range []string{"", "order_colour:1", "order_item:", "order_item:abc", "order_item:0", "item:1"} {
		_, _, ok := ParseReplyID(bad)
		assert.False(t, ok, bad)
	}
}

func TestMenu(t *testing.T) {
	menu := Menu(7)
	require.Len(t, menu, 5)
	assert.Equal(t, Choice{ID: "order_item:7", Title: "Item"}, menu[0])
	assert.Equal(t, Choice{ID: "order_drop_location:7", Title: "Drop location"}, menu[4])
}

func TestSummary(t *testing.T) {
	s := Summary(3, models.OrderDetails{Item: "Cable", Quantity: "20m"})
	assert.Contains(t, s, "Order #3")
	assert.Contains(t, s, "Item: Cable")
	assert.Contains(t, s, "Quantity: 20m")
}

func TestParseDeliveryDate(t *testing.T) {
	loc, err := time.LoadLocation("Australia/Sydney")
	require.NoError(t, err)
	now := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC) // 2 March 09:00 in Sydney

	got, ok := ParseDeliveryDate("tomorrow", now, loc)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 3, 23, 59, 59, 0, loc), got)

	got, ok = ParseDeliveryDate("Today", now, loc)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 2, 23, 59, 59, 0, loc), got)

	got, ok = ParseDeliveryDate("2024-04-10", now, nil)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 4, 10, 23, 59, 59, 0, time.UTC), got)

	got, ok = ParseDeliveryDate("05/04/2024", now, time.UTC)
	require.True(t, ok)
	assert.Equal(t, time.April, got.Month())
	assert.Equal(t, 5, got.Day())

	_, ok = ParseDeliveryDate("next week sometime", now, time.UTC)
	assert.False(t, ok)
}
