// Package agents holds the conversational units of the support workflow: the
// intent classifier and the responder units it dispatches to.
package agents

import (
	"context"
	"errors"
)

// Intent is the label the classifier assigns to a conversation.
type Intent string

const (
	IntentReturnItem         Intent = "return_item"
	IntentGetInformation     Intent = "get_information"
	IntentCancelSubscription Intent = "cancel_subscription"
)

// ErrNoIntent is returned when the classifier produced no label at all.
var ErrNoIntent = errors.New("classifier produced no intent label")

// Known reports whether i is one of the declared labels.
func (i Intent) Known() bool {
	switch i {
	case IntentReturnItem, IntentGetInformation, IntentCancelSubscription:
		return true
	}
	return false
}

func (i Intent) String() string { return string(i) }

// Approver decides a yes/no confirmation step.
type Approver func(ctx context.Context, prompt string) (bool, error)

// AlwaysApprove accepts every prompt.
func AlwaysApprove(context.Context, string) (bool, error) { return true, nil }
