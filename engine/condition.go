package engine

import (
	"strings"
	"time"

	"github.com/kskmr6390/email-rule-ops/model"
	"github.com/kskmr6390/email-rule-ops/rules"
)

// evalCondition decides whether one field of one message satisfies one
// comparison. It fails closed: an incomplete condition, an unknown
// operator, or a malformed date expression all yield false rather than
// an error.
func (e *Engine) evalCondition(cond rules.Condition, msg *model.Message) bool {
	if cond.Value == "" {
		return false
	}

	switch cond.Operator {
	case rules.OpContains:
		return strings.Contains(lower(fieldValue(cond.Field, msg)), lower(cond.Value))
	case rules.OpNotContains:
		return !strings.Contains(lower(fieldValue(cond.Field, msg)), lower(cond.Value))
	case rules.OpEquals:
		return strings.EqualFold(fieldValue(cond.Field, msg), cond.Value)
	case rules.OpNotEquals:
		return !strings.EqualFold(fieldValue(cond.Field, msg), cond.Value)
	case rules.OpLessThan:
		if cond.Field != rules.FieldReceivedAt {
			return false
		}
		return compareDate(msg.ReceivedAt, cond.Value, directionLess, e.now())
	case rules.OpGreaterThan:
		if cond.Field != rules.FieldReceivedAt {
			return false
		}
		return compareDate(msg.ReceivedAt, cond.Value, directionGreater, e.now())
	default:
		return false
	}
}

// fieldValue resolves a condition field to the message attribute's string
// form. The received timestamp is rendered as RFC 3339 so string
// operators compare formatted text instead of failing.
func fieldValue(field rules.Field, msg *model.Message) string {
	switch field {
	case rules.FieldFrom:
		return msg.FromAddress
	case rules.FieldTo:
		return msg.ToAddress
	case rules.FieldSubject:
		return msg.Subject
	case rules.FieldMessageBody:
		return msg.MessageBody
	case rules.FieldReceivedAt:
		if msg.ReceivedAt.IsZero() {
			return ""
		}
		return msg.ReceivedAt.Format(time.RFC3339)
	default:
		return ""
	}
}

func lower(s string) string {
	return strings.ToLower(s)
}
