package rl

import (
	"fmt"
	"strings"
)

// Action is a pump command. The numeric value doubles as the Q-table column.
type Action int

const (
	ActionOff Action = iota
	ActionOn
)

// NumActions is the width of every Q-table row
const NumActions = 2

// GetAllActions returns every action in column order
func GetAllActions() []Action {
	return []Action{ActionOff, ActionOn}
}

// String returns the wire command for the action, "ON" or "OFF"
func (a Action) String() string {
	if a == ActionOn {
		return "ON"
	}
	return "OFF"
}

// IsValid reports whether the action maps to a Q-table column
func (a Action) IsValid() bool {
	return a == ActionOff || a == ActionOn
}

// ParseAction converts a wire command back into an Action
func ParseAction(cmd string) (Action, error) {
	switch strings.ToUpper(strings.TrimSpace(cmd)) {
	case "ON":
		return ActionOn, nil
	case "OFF":
		return ActionOff, nil
	default:
		return ActionOff, fmt.Errorf("unknown pump command %q", cmd)
	}
}

// MarshalText renders the action as its wire command
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses a wire command
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
