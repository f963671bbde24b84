// Package action defines the discrete trading decision a policy emits and
// decodes it from output logits.
package action

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samcharles93/tradepolicy/internal/logits"
)

// Action is the closed set of policy decisions. The numeric values are the
// logit indices the policy was trained with.
type Action int

const (
	Hold Action = iota
	Buy
	Sell
)

// Count is the number of actions a policy head must score.
const Count = 3

var (
	ErrInvalidActionIndex = errors.New("invalid action index")
	ErrNoOutput           = errors.New("no output value found")
)

// FromIndex maps a logit index to its Action.
func FromIndex(i int) (Action, error) {
	if i < 0 || i >= Count {
		return 0, fmt.Errorf("%w: %d", ErrInvalidActionIndex, i)
	}
	return Action(i), nil
}

// Decode picks the action with the largest logit. Ties go to the lowest
// index, so equal scores favour Hold over Buy over Sell.
func Decode(scores []float32) (Action, error) {
	i, ok := logits.Argmax(scores)
	if !ok {
		return 0, ErrNoOutput
	}
	return FromIndex(i)
}

func (a Action) String() string {
	switch a {
	case Hold:
		return "hold"
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

func (a Action) MarshalText() ([]byte, error) {
	if a < 0 || a >= Count {
		return nil, fmt.Errorf("%w: %d", ErrInvalidActionIndex, int(a))
	}
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "hold":
		*a = Hold
	case "buy":
		*a = Buy
	case "sell":
		*a = Sell
	default:
		return fmt.Errorf("unknown action %q", b)
	}
	return nil
}
