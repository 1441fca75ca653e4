package storage

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yndnr/deltamesh-go/internal/core/domain"
	"github.com/yndnr/deltamesh-go/internal/core/replica"
)

// Record is the persisted form of one object.
//
// Props holds decoded values in their wire representation: 64-bit
// integers come back as decimal strings and other numbers as float64.
// replica.Object.ApplyDelta converts them to the property type.
type Record struct {
	ID        domain.ObjectID
	Version   uint64
	UpdatedAt time.Time
	Props     map[replica.PropertyID]any
}

const (
	fieldID        = "id"
	fieldVersion   = "version"
	fieldUpdatedAt = "updated_at"
	fieldProps     = "props"
)

// EncodeRecord marshals r deterministically.
func EncodeRecord(r *Record) ([]byte, error) {
	props := make(map[string]*structpb.Value, len(r.Props))
	for id, v := range r.Props {
		pv, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("encode property %s: %w", id, err)
		}
		props[id.String()] = pv
	}

	s := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldID:        structpb.NewStringValue(r.ID.String()),
		fieldVersion:   structpb.NewStringValue(strconv.FormatUint(r.Version, 10)),
		fieldUpdatedAt: structpb.NewStringValue(r.UpdatedAt.UTC().Format(time.RFC3339Nano)),
		fieldProps:     structpb.NewStructValue(&structpb.Struct{Fields: props}),
	}}

	return proto.MarshalOptions{Deterministic: true}.Marshal(s)
}

// DecodeRecord unmarshals a record written by EncodeRecord.
func DecodeRecord(b []byte) (*Record, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}

	f := s.GetFields()
	id, err := domain.ParseObjectID(f[fieldID].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("record id: %w", err)
	}
	version, err := strconv.ParseUint(f[fieldVersion].GetStringValue(), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("record version: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, f[fieldUpdatedAt].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("record updated_at: %w", err)
	}

	r := &Record{
		ID:        id,
		Version:   version,
		UpdatedAt: updatedAt,
		Props:     make(map[replica.PropertyID]any),
	}
	for key, v := range f[fieldProps].GetStructValue().GetFields() {
		pid, err := replica.ParsePropertyID(key)
		if err != nil {
			return nil, fmt.Errorf("record property key %q: %w", key, err)
		}
		val, err := decodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("record property %s: %w", pid, err)
		}
		r.Props[pid] = val
	}
	return r, nil
}

// encodeValue maps a scalar to a structpb value. Integers are written as
// decimal strings so 64-bit values survive the float64 number type.
func encodeValue(v any) (*structpb.Value, error) {
	if v == nil {
		return nil, fmt.Errorf("nil value")
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return structpb.NewBoolValue(rv.Bool()), nil
	case reflect.String:
		return structpb.NewStringValue(rv.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return structpb.NewStringValue(strconv.FormatInt(rv.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return structpb.NewStringValue(strconv.FormatUint(rv.Uint(), 10)), nil
	case reflect.Float32, reflect.Float64:
		return structpb.NewNumberValue(rv.Float()), nil
	}
	return nil, fmt.Errorf("unsupported type %T", v)
}

func decodeValue(v *structpb.Value) (any, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_BoolValue:
		return k.BoolValue, nil
	case *structpb.Value_StringValue:
		return k.StringValue, nil
	case *structpb.Value_NumberValue:
		return k.NumberValue, nil
	}
	return nil, fmt.Errorf("unsupported value kind %T", v.GetKind())
}
