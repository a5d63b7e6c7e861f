package store

import (
	"fmt"
	"strings"

	"github.com/roach88/concord/internal/crdt"
)

// marshalState converts a field state to canonical JSON TEXT for storage.
func marshalState(st crdt.State) (string, error) {
	data, err := crdt.Encode(st)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	return string(data), nil
}

// unmarshalState parses canonical JSON TEXT into a state of strategy s.
func unmarshalState(s crdt.Strategy, data string) (crdt.State, error) {
	if _, err := crdt.ParseStrategy(string(s)); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	st, err := crdt.Decode(s, []byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return st, nil
}

// marshalOperation returns the content-addressed id and canonical JSON TEXT
// of op.
func marshalOperation(op crdt.Operation) (id, payload string, err error) {
	id, err = crdt.OperationID(op)
	if err != nil {
		return "", "", fmt.Errorf("marshal operation: %w", err)
	}
	data, err := crdt.MarshalOperation(op)
	if err != nil {
		return "", "", fmt.Errorf("marshal operation: %w", err)
	}
	return id, string(data), nil
}

func unmarshalOperation(data string) (crdt.Operation, error) {
	op, err := crdt.UnmarshalOperation([]byte(data))
	if err != nil {
		return crdt.Operation{}, fmt.Errorf("unmarshal operation: %w", err)
	}
	return op, nil
}

// marshalLineage stores a field lineage as comma-separated strategy tags.
func marshalLineage(lineage []crdt.Strategy) string {
	tags := make([]string, len(lineage))
	for i, s := range lineage {
		tags[i] = string(s)
	}
	return strings.Join(tags, ",")
}

func unmarshalLineage(data string) ([]crdt.Strategy, error) {
	if data == "" {
		return nil, nil
	}
	var out []crdt.Strategy
	for _, tag := range strings.Split(data, ",") {
		s, err := crdt.ParseStrategy(tag)
		if err != nil {
			return nil, fmt.Errorf("unmarshal lineage: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}
