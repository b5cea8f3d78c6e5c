package dialogue

import (
	"strconv"
	"strings"
)

const replyPrefix = "order_"

// Choice is one entry of the edit menu.
type Choice struct {
	ID    string
	Title string
}

// ReplyID builds the interactive reply id that selects field of a task.
func ReplyID(f Field, taskID uint64) string {
	return replyPrefix + string(f) + ":" + strconv.FormatUint(taskID, 10)
}

// ParseReplyID decodes "order_<field>:<task_id>". Unknown fields or ids report false.
func ParseReplyID(id string) (Field, uint64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(id), replyPrefix)
	if !ok {
		return "", 0, false
	}
	name, rawID, ok := strings.Cut(rest, ":")
	if !ok {
		return "", 0, false
	}
	f := Field(name)
	if _, known := stateByField[f]; !known {
		return "", 0, false
	}
	taskID, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil || taskID == 0 {
		return "", 0, false
	}
	return f, taskID, true
}

// Menu is the fixed five-choice edit menu for a task.
func Menu(taskID uint64) []Choice {
	choices := make([]Choice, 0, len(Fields))
	for _, f := range Fields {
		choices = append(choices, Choice{ID: ReplyID(f, taskID), Title: labels[f]})
	}
	return choices
}
