package types

import (
	"encoding/json"
	"fmt"
)

// type of state machine command
type CommandType uint

const (
	CommandTypeUpdateLocks CommandType = iota + 1
	CommandTypeUpdateLocksWaiting
	CommandTypeCancel
	CommandTypeOpportunisticUnion
)

// interface all state machine commands implement
type Command interface {
	Type() CommandType
}

// applies requests for an owner immediately, without queuing on a
// blocked result
type UpdateLocksCmd struct {
	Owner    Owner     `json:"owner"`
	Requests []Request `json:"requests"`
}

func (c UpdateLocksCmd) Type() CommandType { return CommandTypeUpdateLocks }

// like UpdateLocksCmd, but a blocked request is parked under its
// blocking owner at the given priority
type UpdateLocksWaitingCmd struct {
	Priority Priority  `json:"priority"`
	Owner    Owner     `json:"owner"`
	Requests []Request `json:"requests"`
}

func (c UpdateLocksWaitingCmd) Type() CommandType { return CommandTypeUpdateLocksWaiting }

// withdraws an owner's pending request
type CancelCmd struct {
	Owner Owner `json:"owner"`
}

func (c CancelCmd) Type() CommandType { return CommandTypeCancel }

// acquires whatever subset of the requested locks is immediately
// grantable, skipping the rest
type OpportunisticUnionCmd struct {
	Owner    Owner     `json:"owner"`
	Requests []Request `json:"requests"`
}

func (c OpportunisticUnionCmd) Type() CommandType { return CommandTypeOpportunisticUnion }

// envelope carrying a command on the replication log
type CommandWrapper struct {
	Type CommandType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeCommand serializes a command into its log envelope
func EncodeCommand(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	return json.Marshal(CommandWrapper{
		Type: cmd.Type(),
		Data: data,
	})
}

// DecodeCommand parses a log envelope back into a command
func DecodeCommand(raw []byte) (Command, error) {
	var wrapper CommandWrapper
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to unmarshal command wrapper: %w", err)
	}

	switch wrapper.Type {
	case CommandTypeUpdateLocks:
		var c UpdateLocksCmd
		if err := json.Unmarshal(wrapper.Data, &c); err != nil {
			return nil, err
		}
		return c, nil
	case CommandTypeUpdateLocksWaiting:
		var c UpdateLocksWaitingCmd
		if err := json.Unmarshal(wrapper.Data, &c); err != nil {
			return nil, err
		}
		return c, nil
	case CommandTypeCancel:
		var c CancelCmd
		if err := json.Unmarshal(wrapper.Data, &c); err != nil {
			return nil, err
		}
		return c, nil
	case CommandTypeOpportunisticUnion:
		var c OpportunisticUnionCmd
		if err := json.Unmarshal(wrapper.Data, &c); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown command type: %d", wrapper.Type)
	}
}
