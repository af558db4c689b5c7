package distributed

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"
)

// Wire field names
const (
	fieldTag         = "tag"
	fieldSource      = "source"
	fieldCandidateID = "candidate_id"
	fieldNames       = "names"
	fieldValues      = "values"
	fieldLoss        = "loss"
	fieldStatus      = "status"
	fieldError       = "error"
	fieldPoison      = "poison"
	fieldKind        = "kind"
	fieldValue       = "value"
)

// value kinds on the wire; numbers alone would lose int vs float
const (
	kindInt    = "int"
	kindFloat  = "float"
	kindString = "string"
	kindBool   = "bool"
)

// encodeMessage converts m into a protobuf Struct
func encodeMessage(m Message) (*structpb.Struct, error) {
	names := make([]*structpb.Value, len(m.Names))
	for i, n := range m.Names {
		names[i] = structpb.NewStringValue(n)
	}
	values := make([]*structpb.Value, len(m.Values))
	for i, v := range m.Values {
		tv, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		values[i] = tv
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldTag:         structpb.NewNumberValue(float64(m.Tag)),
		fieldSource:      structpb.NewNumberValue(float64(m.Source)),
		fieldCandidateID: structpb.NewStringValue(m.CandidateID),
		fieldNames:       structpb.NewListValue(&structpb.ListValue{Values: names}),
		fieldValues:      structpb.NewListValue(&structpb.ListValue{Values: values}),
		fieldLoss:        structpb.NewNumberValue(m.Loss),
		fieldStatus:      structpb.NewStringValue(m.Status),
		fieldError:       structpb.NewStringValue(m.Error),
		fieldPoison:      structpb.NewBoolValue(m.Poison),
	}}, nil
}

func encodeValue(v any) (*structpb.Value, error) {
	var kind string
	var val *structpb.Value
	switch x := v.(type) {
	case int:
		kind, val = kindInt, structpb.NewNumberValue(float64(x))
	case float64:
		kind, val = kindFloat, structpb.NewNumberValue(x)
	case string:
		kind, val = kindString, structpb.NewStringValue(x)
	case bool:
		kind, val = kindBool, structpb.NewBoolValue(x)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		fieldKind:  structpb.NewStringValue(kind),
		fieldValue: val,
	}}), nil
}

// decodeMessage is the inverse of encodeMessage
func decodeMessage(s *structpb.Struct) (Message, error) {
	if s == nil {
		return Message{}, fmt.Errorf("empty message")
	}
	f := s.GetFields()
	m := Message{
		Tag:         Tag(int(f[fieldTag].GetNumberValue())),
		Source:      int(f[fieldSource].GetNumberValue()),
		CandidateID: f[fieldCandidateID].GetStringValue(),
		Loss:        f[fieldLoss].GetNumberValue(),
		Status:      f[fieldStatus].GetStringValue(),
		Error:       f[fieldError].GetStringValue(),
		Poison:      f[fieldPoison].GetBoolValue(),
	}
	if m.Tag != TagCandidateOut && m.Tag != TagResultIn {
		return Message{}, fmt.Errorf("unknown tag %d", int(m.Tag))
	}
	for _, n := range f[fieldNames].GetListValue().GetValues() {
		m.Names = append(m.Names, n.GetStringValue())
	}
	for i, tv := range f[fieldValues].GetListValue().GetValues() {
		v, err := decodeValue(tv)
		if err != nil {
			return Message{}, fmt.Errorf("value %d: %w", i, err)
		}
		m.Values = append(m.Values, v)
	}
	if len(m.Names) != len(m.Values) {
		return Message{}, fmt.Errorf("%d names for %d values", len(m.Names), len(m.Values))
	}
	return m, nil
}

func decodeValue(tv *structpb.Value) (any, error) {
	f := tv.GetStructValue().GetFields()
	v := f[fieldValue]
	switch kind := f[fieldKind].GetStringValue(); kind {
	case kindInt:
		n := v.GetNumberValue()
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("integer value %v has a fraction", n)
		}
		return int(n), nil
	case kindFloat:
		return v.GetNumberValue(), nil
	case kindString:
		return v.GetStringValue(), nil
	case kindBool:
		return v.GetBoolValue(), nil
	default:
		return nil, fmt.Errorf("unknown value kind %q", kind)
	}
}
