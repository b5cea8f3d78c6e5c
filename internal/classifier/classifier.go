// Package classifier maps inbound chat text to an intent tag.
//
// Classification is pure: the same text and the same open-order answer always
// produce the same Result. Rules are tried in a fixed order and the first match wins.
package classifier

import (
	"regexp"
	"strings"

	"github.com/hubflo/hubflo/internal/models"
)

// Hint is a lifecycle control word found by the classifier.
type Hint string

const (
	HintNone    Hint = ""
	HintApprove Hint = "approve"
	HintReject  Hint = "reject"
)

// Result is the outcome of classifying one message.
type Result struct {
	Tag            models.Tag
	Subtype        models.Subtype
	OrderStateHint Hint
}

var hashtags = []struct {
	marker string
	tag    models.Tag
}{
	{"#order", models.TagOrder},
	{"#change", models.TagChange},
	{"#task", models.TagTask},
	{"#urgent", models.TagUrgent},
}

var (
	orderPrefixes  = []string{"order", "purchase", "procure", "buy"}
	changePrefixes = []string{"change", "variation", "revise", "amend", "adjust"}
	taskPrefixes   = []string{"task", "todo", "to-do", "install", "fix", "inspect", "lay", "build", "schedule"}

	changePhrases = []string{"change the order", "change order", "change it to", "change that to"}
	orderPhrases  = []string{"get me", "we need", "supplier", "delivery", "drop location"}
	urgentWords   = []string{"urgent", "asap", "immediately"}
	materialWords = []string{"cable", "conduit", "roll", "metre", "meter"}
)

var (
	quantityUnit = regexp.MustCompile(`\b\d+(?:\.\d+)?\s*(?:m|mm|cm|km|metres?|meters?|rolls?|lengths?|bags?|pallets?|sheets?|boxes?|pcs|kg|tonnes?|litres?|l)\b`)
	hasDigit     = regexp.MustCompile(`\d`)
	selfFuture   = regexp.MustCompile(`\b(?:i will|i'll|i’ll|i shall|i am going to|i'm going to|i’m going to|im going to)\b`)
)

// Classify returns the intent of text. hasOpenOrder reports whether the sender
// already has an open order task; it only matters for change phrasing.
func Classify(text string, hasOpenOrder bool) Result {
	t := normalize(text)
	if t == "" {
		return Result{Tag: models.TagNone, Subtype: models.SubtypeAssigned}
	}

	for _, h := range hashtags {
		if strings.Contains(t, h.marker) {
			return assigned(h.tag)
		}
	}

	if MentionsChange(text) {
		if hasOpenOrder {
			return assigned(models.TagChange)
		}
		return assigned(models.TagTask)
	}

	switch firstWord(t) {
	case "approve":
		return Result{Tag: models.TagTask, Subtype: models.SubtypeAssigned, OrderStateHint: HintApprove}
	case "reject":
		return Result{Tag: models.TagTask, Subtype: models.SubtypeAssigned, OrderStateHint: HintReject}
	}

	if hasPrefix(t, orderPrefixes) || containsAny(t, orderPhrases) {
		return assigned(models.TagOrder)
	}
	if hasPrefix(t, taskPrefixes) {
		return assigned(models.TagTask)
	}
	if looksLikeQuantity(t) {
		return assigned(models.TagOrder)
	}

	if containsAny(t, urgentWords) {
		return assigned(models.TagUrgent)
	}

	if selfFuture.MatchString(t) {
		return Result{Tag: models.TagTask, Subtype: models.SubtypeSelf}
	}

	return assigned(models.TagTask)
}

// MentionsChange reports whether text uses change-order phrasing. Callers use it
// to skip the open-order lookup for messages that cannot resolve to a change.
func MentionsChange(text string) bool {
	t := normalize(text)
	if t == "" {
		return false
	}
	return containsAny(t, changePhrases) || hasPrefix(t, changePrefixes)
}

func looksLikeQuantity(t string) bool {
	if quantityUnit.MatchString(t) {
		return true
	}
	return hasDigit.MatchString(t) && containsAny(t, materialWords)
}

func assigned(tag models.Tag) Result {
	return Result{Tag: tag, Subtype: models.SubtypeAssigned}
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func firstWord(t string) string {
	fields := strings.Fields(t)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], ".,:;!?")
}

// hasPrefix matches a leading keyword followed by a space, or the keyword alone.
func hasPrefix(t string, prefixes []string) bool {
	for _, p := range prefixes {
		if t == p || strings.HasPrefix(t, p+" ") || strings.HasPrefix(t, p+":") {
			return true
		}
	}
	return false
}

func containsAny(t string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(t, n) {
			return true
		}
	}
	return false
}
