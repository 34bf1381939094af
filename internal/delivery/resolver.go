package delivery

import (
	"strconv"
	"strings"
)

// Action is what a reply asks the engine to do.
type Action string

// Reply actions. ActionPassThrough marks text this resolver does not own;
// the caller hands it to generic conversational handling instead of
// rejecting it.
const (
	ActionAccept         Action = "accept"
	ActionAcceptModified Action = "accept-modified"
	ActionSkip           Action = "skip"
	ActionUndo           Action = "undo"
	ActionPolicyOn       Action = "policy-on"
	ActionPolicyOff      Action = "policy-off"
	ActionPassThrough    Action = "pass-through"
)

// Reply is a parsed inbound message.
type Reply struct {
	Raw      string
	Action   Action
	Category string
	Index    int
}

// ParseReply maps free-form reply text onto a suggestion action. Accepted
// forms:
//
//	"3"               accept suggestion 3 as proposed
//	"ok 3" / "yes 3"  same
//	"3 Groceries"     accept 3 with the category changed
//	"skip 3"          decline 3
//	"undo 3"          reverse an applied split
//	"auto on|off"     toggle the automation policy
//
// Anything else passes through.
func ParseReply(text string) Reply {
	raw := text
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return Reply{Raw: raw, Action: ActionPassThrough}
	}

	head := strings.ToLower(fields[0])

	switch head {
	case "skip", "no", "pass":
		if idx, ok := parseIndex(fields, 1); ok {
			return Reply{Raw: raw, Action: ActionSkip, Index: idx}
		}
	case "undo", "revert":
		if idx, ok := parseIndex(fields, 1); ok {
			return Reply{Raw: raw, Action: ActionUndo, Index: idx}
		}
	case "ok", "yes", "accept", "apply":
		if idx, ok := parseIndex(fields, 1); ok {
			return Reply{Raw: raw, Action: ActionAccept, Index: idx}
		}
	case "auto", "policy":
		if len(fields) >= 2 {
			switch strings.ToLower(fields[1]) {
			case "on", "yes", "enable":
				return Reply{Raw: raw, Action: ActionPolicyOn}
			case "off", "no", "disable":
				return Reply{Raw: raw, Action: ActionPolicyOff}
			}
		}
	}

	// A bare index accepts as proposed; an index followed by text accepts
	// with the remainder as the replacement category.
	if idx, err := strconv.Atoi(fields[0]); err == nil && idx > 0 {
		if len(fields) == 1 {
			return Reply{Raw: raw, Action: ActionAccept, Index: idx}
		}
		return Reply{
			Raw:      raw,
			Action:   ActionAcceptModified,
			Index:    idx,
			Category: strings.Join(fields[1:], " "),
		}
	}

	return Reply{Raw: raw, Action: ActionPassThrough}
}

func parseIndex(fields []string, pos int) (int, bool) {
	if len(fields) <= pos {
		return 0, false
	}
	idx, err := strconv.Atoi(fields[pos])
	if err != nil || idx <= 0 {
		return 0, false
	}
	return idx, true
}
