package crdt

import (
	"fmt"
	"math"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/ir"
)

// Decode parses the canonical encoding of a state of strategy s.
func Decode(s Strategy, data []byte) (State, error) {
	v, err := ir.UnmarshalValue(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s, err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("decode %s: expected object, got %T", s, v)
	}
	st, err := decodeState(s, obj)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s, err)
	}
	return st, nil
}

func decodeState(s Strategy, obj ir.Object) (State, error) {
	switch s {
	case Immutable:
		st := &ImmutableState{}
		if err := decodeRegister(&st.register, obj); err != nil {
			return nil, err
		}
		return st, nil
	case LWW:
		st := &LWWState{}
		if err := decodeRegister(&st.register, obj); err != nil {
			return nil, err
		}
		return st, nil
	case ORSet:
		return decodeORSet(obj)
	case PNCounter:
		return decodeCounter(obj)
	case RGA:
		return decodeRGA(obj)
	case MVRegister:
		return decodeMVRegister(obj)
	case Peritext:
		return decodeText(obj)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

func decodeRegister(r *register, obj ir.Object) error {
	if len(obj) == 0 {
		return nil
	}
	stamp, err := clock.StampFromValue(obj["stamp"])
	if err != nil {
		return err
	}
	r.value, r.stamp, r.set = normalize(obj["value"]), stamp, true
	return nil
}

func arrayField(obj ir.Object, name string) (ir.Array, error) {
	raw, ok := obj[name]
	if !ok {
		return ir.Array{}, nil
	}
	arr, ok := raw.(ir.Array)
	if !ok {
		return nil, fmt.Errorf("%s: expected array, got %T", name, raw)
	}
	return arr, nil
}

func objectElems(arr ir.Array, name string) ([]ir.Object, error) {
	out := make([]ir.Object, len(arr))
	for i, e := range arr {
		o, ok := e.(ir.Object)
		if !ok {
			return nil, fmt.Errorf("%s[%d]: expected object, got %T", name, i, e)
		}
		out[i] = o
	}
	return out, nil
}

func decodeArena(obj ir.Object) (arena, error) {
	arr, err := arrayField(obj, "tombstones")
	if err != nil {
		return nil, err
	}
	elems, err := objectElems(arr, "tombstones")
	if err != nil {
		return nil, err
	}
	a := arena{}
	for i, e := range elems {
		id, err := clock.StampFromValue(e["id"])
		if err != nil {
			return nil, fmt.Errorf("tombstones[%d]: %w", i, err)
		}
		at, err := clock.StampFromValue(e["deleted"])
		if err != nil {
			return nil, fmt.Errorf("tombstones[%d]: %w", i, err)
		}
		a.bury(id, at)
	}
	return a, nil
}

func decodeORSet(obj ir.Object) (*ORSetState, error) {
	st := newORSet()
	arr, err := arrayField(obj, "elements")
	if err != nil {
		return nil, err
	}
	elems, err := objectElems(arr, "elements")
	if err != nil {
		return nil, err
	}
	for i, e := range elems {
		tags, err := stampsFromValue(e["tags"])
		if err != nil {
			return nil, fmt.Errorf("elements[%d]: %w", i, err)
		}
		for _, tag := range tags {
			st.addTag(e["value"], tag)
		}
	}
	if st.tombstones, err = decodeArena(obj); err != nil {
		return nil, err
	}
	return st, nil
}

func stampsFromValue(v ir.Value) ([]clock.Stamp, error) {
	if ir.IsNull(v) {
		return nil, nil
	}
	arr, ok := v.(ir.Array)
	if !ok {
		return nil, fmt.Errorf("expected stamp array, got %T", v)
	}
	out := make([]clock.Stamp, len(arr))
	for i, e := range arr {
		s, err := clock.StampFromValue(e)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func decodeTotals(v ir.Value) (map[clock.ActorID]int64, error) {
	out := map[clock.ActorID]int64{}
	if ir.IsNull(v) {
		return out, nil
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("expected totals object, got %T", v)
	}
	for k, raw := range obj {
		n, ok := raw.(ir.Int)
		if !ok || n < 0 {
			return nil, fmt.Errorf("invalid total for %q", k)
		}
		if n > 0 {
			out[clock.ActorID(k)] = int64(n)
		}
	}
	return out, nil
}

func decodeCounter(obj ir.Object) (*CounterState, error) {
	inc, err := decodeTotals(obj["inc"])
	if err != nil {
		return nil, fmt.Errorf("inc: %w", err)
	}
	dec, err := decodeTotals(obj["dec"])
	if err != nil {
		return nil, fmt.Errorf("dec: %w", err)
	}
	return &CounterState{inc: inc, dec: dec}, nil
}

func decodeOrigin(v ir.Value) (clock.Stamp, error) {
	if ir.IsNull(v) {
		return clock.Stamp{}, nil
	}
	return clock.StampFromValue(v)
}

func decodeRGA(obj ir.Object) (*RGAState, error) {
	st := newRGA()
	arr, err := arrayField(obj, "vertices")
	if err != nil {
		return nil, err
	}
	elems, err := objectElems(arr, "vertices")
	if err != nil {
		return nil, err
	}
	for i, e := range elems {
		id, err := clock.StampFromValue(e["id"])
		if err != nil {
			return nil, fmt.Errorf("vertices[%d]: %w", i, err)
		}
		origin, err := decodeOrigin(e["origin"])
		if err != nil {
			return nil, fmt.Errorf("vertices[%d]: %w", i, err)
		}
		st.insert(Vertex{ID: id, Origin: origin, Value: e["value"]})
	}
	if st.tombstones, err = decodeArena(obj); err != nil {
		return nil, err
	}
	return st, nil
}

func decodeMVRegister(obj ir.Object) (*MVRegisterState, error) {
	st := &MVRegisterState{}
	arr, err := arrayField(obj, "entries")
	if err != nil {
		return nil, err
	}
	elems, err := objectElems(arr, "entries")
	if err != nil {
		return nil, err
	}
	for i, e := range elems {
		vc, err := clock.VectorClockFromValue(e["clock"])
		if err != nil {
			return nil, fmt.Errorf("entries[%d]: %w", i, err)
		}
		st.insert(MVEntry{Clock: vc, Value: e["value"]})
	}
	return st, nil
}

func decodeText(obj ir.Object) (*TextState, error) {
	st := newText()
	chars, ok := obj["chars"].(ir.Object)
	if !ok {
		return nil, fmt.Errorf("chars: expected object")
	}
	rga, err := decodeRGA(chars)
	if err != nil {
		return nil, fmt.Errorf("chars: %w", err)
	}
	st.chars = rga

	arr, err := arrayField(obj, "marks")
	if err != nil {
		return nil, err
	}
	elems, err := objectElems(arr, "marks")
	if err != nil {
		return nil, err
	}
	for i, e := range elems {
		id, err := clock.StampFromValue(e["id"])
		if err != nil {
			return nil, fmt.Errorf("marks[%d]: %w", i, err)
		}
		m, err := markFromValue(e)
		if err != nil {
			return nil, fmt.Errorf("marks[%d]: %w", i, err)
		}
		st.marks[id] = TextMark{ID: id, Name: m.Name, Value: m.Value, Start: m.Start, End: m.End, Expand: m.Expand}
	}
	return st, nil
}

func markFromValue(obj ir.Object) (Mark, error) {
	name, _ := obj["name"].(ir.String)
	expand, _ := obj["expand"].(ir.String)
	start, err := anchorFromValue(obj["start"])
	if err != nil {
		return Mark{}, err
	}
	end, err := anchorFromValue(obj["end"])
	if err != nil {
		return Mark{}, err
	}
	return Mark{
		Name:   string(name),
		Value:  normalize(obj["value"]),
		Start:  start,
		End:    end,
		Expand: Expand(expand),
	}, nil
}

// OperationValue returns the canonical-JSON-ready form of op.
func OperationValue(op Operation) (ir.Value, error) {
	body, err := payloadValue(op.Payload)
	if err != nil {
		return nil, err
	}
	if op.Revision < 0 {
		return nil, fmt.Errorf("%w: negative revision %d", ErrInvalidOperation, op.Revision)
	}
	v := ir.Object{
		"actor":   ir.String(op.Actor),
		"stamp":   op.Stamp.Value(),
		"field":   ir.String(op.Field),
		"payload": body,
	}
	if op.Revision > 0 {
		v["revision"] = ir.Int(op.Revision)
	}
	return v, nil
}

func payloadValue(p Payload) (ir.Object, error) {
	var body ir.Object
	switch pl := p.(type) {
	case Assign:
		body = ir.Object{"value": normalize(pl.Value)}
	case MVAssign:
		body = ir.Object{"value": normalize(pl.Value), "clock": pl.Clock.Value()}
	case SetAdd:
		body = ir.Object{"value": normalize(pl.Value)}
	case SetRemove:
		body = ir.Object{"value": normalize(pl.Value), "tags": stampArray(pl.Tags)}
	case CounterUpdate:
		body = ir.Object{"inc": ir.Int(pl.Inc), "dec": ir.Int(pl.Dec)}
	case Insert:
		body = ir.Object{"origin": originValue(pl.Origin), "value": normalize(pl.Value)}
	case Delete:
		body = ir.Object{"target": pl.Target.Value()}
	case Mark:
		body = markValue(clock.Stamp{}, pl)
	default:
		return nil, fmt.Errorf("%w: unknown payload %T", ErrInvalidOperation, p)
	}
	body["kind"] = ir.String(p.Kind())
	return body, nil
}

// MarshalOperation encodes op as canonical JSON.
func MarshalOperation(op Operation) ([]byte, error) {
	v, err := OperationValue(op)
	if err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(v)
}

// UnmarshalOperation decodes an operation produced by MarshalOperation.
func UnmarshalOperation(data []byte) (Operation, error) {
	v, err := ir.UnmarshalValue(data)
	if err != nil {
		return Operation{}, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return Operation{}, fmt.Errorf("%w: expected object", ErrInvalidOperation)
	}
	actor, _ := obj["actor"].(ir.String)
	field, _ := obj["field"].(ir.String)
	stamp, err := clock.StampFromValue(obj["stamp"])
	if err != nil {
		return Operation{}, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	body, ok := obj["payload"].(ir.Object)
	if !ok {
		return Operation{}, fmt.Errorf("%w: missing payload", ErrInvalidOperation)
	}
	p, err := payloadFromValue(body)
	if err != nil {
		return Operation{}, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	var revision int
	if raw, ok := obj["revision"]; ok {
		n, ok := raw.(ir.Int)
		if !ok || n < 0 || int64(n) > math.MaxInt32 {
			return Operation{}, fmt.Errorf("%w: bad revision %v", ErrInvalidOperation, raw)
		}
		revision = int(n)
	}
	return Operation{Actor: clock.ActorID(actor), Stamp: stamp, Field: string(field), Payload: p, Revision: revision}, nil
}

func payloadFromValue(body ir.Object) (Payload, error) {
	kind, _ := body["kind"].(ir.String)
	switch string(kind) {
	case "assign":
		return Assign{Value: normalize(body["value"])}, nil
	case "mv_assign":
		vc, err := clock.VectorClockFromValue(body["clock"])
		if err != nil {
			return nil, err
		}
		return MVAssign{Value: normalize(body["value"]), Clock: vc}, nil
	case "set_add":
		return SetAdd{Value: normalize(body["value"])}, nil
	case "set_remove":
		tags, err := stampsFromValue(body["tags"])
		if err != nil {
			return nil, err
		}
		return SetRemove{Value: normalize(body["value"]), Tags: tags}, nil
	case "counter_update":
		inc, ok1 := body["inc"].(ir.Int)
		dec, ok2 := body["dec"].(ir.Int)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("counter_update: inc and dec are required")
		}
		return CounterUpdate{Inc: int64(inc), Dec: int64(dec)}, nil
	case "insert":
		origin, err := decodeOrigin(body["origin"])
		if err != nil {
			return nil, err
		}
		return Insert{Origin: origin, Value: normalize(body["value"])}, nil
	case "delete":
		target, err := clock.StampFromValue(body["target"])
		if err != nil {
			return nil, err
		}
		return Delete{Target: target}, nil
	case "mark":
		return markFromValue(body)
	}
	return nil, fmt.Errorf("unknown payload kind %q", kind)
}

// OperationID returns the content-addressed id of op.
func OperationID(op Operation) (string, error) {
	v, err := OperationValue(op)
	if err != nil {
		return "", err
	}
	return ir.Digest(ir.DomainOperation, v)
}
