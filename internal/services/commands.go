package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hubflo/hubflo/internal/models"
)

type commandKind int

const (
	cmdNone commandKind = iota
	cmdDone
	cmdDelay
	cmdNote
	cmdETA
	cmdChangeOrder
	cmdOrderState
	cmdCancel
)

// command is a parsed control message. taskID 0 means "the sender's latest task".
type command struct {
	kind   commandKind
	taskID uint64
	delay  time.Duration
	text   string
	state  models.OrderState
}

var (
	reQuickDone   = regexp.MustCompile(`(?i)^D(\d+)$`)
	reQuickDelay  = regexp.MustCompile(`(?i)^DL(\d+)\s+(\d+)\s*([dh])$`)
	reQuickChange = regexp.MustCompile(`(?i)^CO(\d+)\s+(.+)$`)
	reQuickETA    = regexp.MustCompile(`(?i)^ETA(\d+)\s+(\d{1,2}:\d{2})$`)
	reQuickNote   = regexp.MustCompile(`(?i)^N(\d+)\s+(.+)$`)

	reDone    = regexp.MustCompile(`(?i)^done\b`)
	reDelay   = regexp.MustCompile(`(?i)^delay\s+(\d+)\s*(days?|d|hours?|h)\b`)
	reETA     = regexp.MustCompile(`(?i)^eta\s+(\d{1,2}:\d{2})$`)
	reCancel  = regexp.MustCompile(`(?i)^cancel(?:\s+(?:the\s+)?order)?[.!]?$`)
	reStateHT = regexp.MustCompile(`(?i)#(quoted|pending_approval|approved|cancelled|invoiced|enacted)\b(?:\s+#?(\d+))?`)

	reReviewTarget = regexp.MustCompile(`(?i)^(?:approve|reject)\s+#?(\d+)\b`)
	reNoRework     = regexp.MustCompile(`(?i)\bno[\s-]+rework\b`)
)

// parseCommand recognises quick codes, natural status words, order-state
// hashtags and cancel. Anything else reports cmdNone.
func parseCommand(text string) command {
	t := strings.TrimSpace(text)
	if t == "" {
		return command{}
	}

	if m := reQuickDone.FindStringSubmatch(t); m != nil {
		return command{kind: cmdDone, taskID: parseID(m[1])}
	}
	if m := reQuickDelay.FindStringSubmatch(t); m != nil {
		return command{kind: cmdDelay, taskID: parseID(m[1]), delay: delayOf(m[2], m[3])}
	}
	if m := reQuickChange.FindStringSubmatch(t); m != nil {
		return command{kind: cmdChangeOrder, taskID: parseID(m[1]), text: strings.TrimSpace(m[2])}
	}
	if m := reQuickETA.FindStringSubmatch(t); m != nil && validClock(m[2]) {
		return command{kind: cmdETA, taskID: parseID(m[1]), text: m[2]}
	}
	if m := reQuickNote.FindStringSubmatch(t); m != nil {
		return command{kind: cmdNote, taskID: parseID(m[1]), text: strings.TrimSpace(m[2])}
	}

	if m := reStateHT.FindStringSubmatch(t); m != nil {
		state, _ := models.ParseOrderState(strings.ToLower(m[1]))
		return command{kind: cmdOrderState, taskID: parseID(m[2]), state: state}
	}
	if reCancel.MatchString(t) {
		return command{kind: cmdCancel}
	}

	if reDone.MatchString(t) {
		return command{kind: cmdDone}
	}
	if m := reDelay.FindStringSubmatch(t); m != nil {
		return command{kind: cmdDelay, delay: delayOf(m[1], m[2][:1])}
	}
	if m := reETA.FindStringSubmatch(t); m != nil && validClock(m[1]) {
		return command{kind: cmdETA, text: m[1]}
	}
	return command{}
}

// bypassesDialogue reports whether the command acts on orders rather than on
// the sender's current step, so it still runs while a dialogue is open.
func (c command) bypassesDialogue() bool {
	return c.kind == cmdOrderState || c.kind == cmdChangeOrder
}

// parseReview extracts the optional target id and rework flag of approve/reject.
func parseReview(text string) (taskID uint64, rework bool) {
	if m := reReviewTarget.FindStringSubmatch(strings.TrimSpace(text)); m != nil {
		taskID = parseID(m[1])
	}
	return taskID, !reNoRework.MatchString(text)
}

func parseID(s string) uint64 {
	if s == "" {
		return 0
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func delayOf(n, unit string) time.Duration {
	count, err := strconv.Atoi(n)
	if err != nil {
		return 0
	}
	if strings.EqualFold(unit, "h") {
		return time.Duration(count) * time.Hour
	}
	return time.Duration(count) * 24 * time.Hour
}

func validClock(s string) bool {
	_, err := time.Parse("15:04", s)
	return err == nil
}
