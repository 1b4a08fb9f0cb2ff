package event

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrInvalidPayload is wrapped by every decode and validation failure.
var ErrInvalidPayload = errors.New("invalid event payload")

const (
	keyName        = "event_name"
	keyDescription = "event_description"
	keyData        = "event_data"
)

// Payload is a single event as published by a producer.
type Payload struct {
	Name        string         `json:"event_name" jsonschema:"title=Event name,description=Identifies the type of event,minLength=1"`
	Description string         `json:"event_description" jsonschema:"title=Event description,description=Human readable description of the event"`
	Data        map[string]any `json:"event_data" jsonschema:"title=Event data,description=Event specific data"`
}

// New creates a payload with a normalized copy of data.
func New(name, description string, data map[string]any) Payload {
	return Normalize(Payload{Name: name, Description: description, Data: data})
}

// Decode parses the wire form of a payload.
func Decode(b []byte) (Payload, error) {
	if len(b) == 0 {
		return Payload{}, fmt.Errorf("%w: empty message", ErrInvalidPayload)
	}
	if !gjson.ValidBytes(b) {
		return Payload{}, fmt.Errorf("%w: malformed json", ErrInvalidPayload)
	}

	root := gjson.ParseBytes(b)
	if !root.IsObject() {
		return Payload{}, fmt.Errorf("%w: expected a json object", ErrInvalidPayload)
	}

	fields := root.Map()
	var errs []error
	for _, key := range []string{keyName, keyDescription, keyData} {
		if _, ok := fields[key]; !ok {
			errs = append(errs, fmt.Errorf("%w: missing %s", ErrInvalidPayload, key))
		}
	}
	if len(errs) > 0 {
		return Payload{}, errors.Join(errs...)
	}

	if v := fields[keyName]; v.Type != gjson.String {
		errs = append(errs, fmt.Errorf("%w: %s must be a string", ErrInvalidPayload, keyName))
	}
	if v := fields[keyDescription]; v.Type != gjson.String && v.Type != gjson.Null {
		errs = append(errs, fmt.Errorf("%w: %s must be a string", ErrInvalidPayload, keyDescription))
	}
	if v := fields[keyData]; !v.IsObject() {
		errs = append(errs, fmt.Errorf("%w: %s must be an object", ErrInvalidPayload, keyData))
	}
	if len(errs) > 0 {
		return Payload{}, errors.Join(errs...)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(fields[keyData].Raw), &data); err != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	p := Payload{
		Name:        fields[keyName].String(),
		Description: fields[keyDescription].String(),
		Data:        data,
	}
	if err := Validate(p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Encode renders the wire form of a payload. All three keys are always present.
func Encode(p Payload) ([]byte, error) {
	return p.MarshalJSON()
}

// Validate checks a payload before it is published.
func Validate(p Payload) error {
	if p.Name == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidPayload, keyName)
	}
	return nil
}

// Normalize returns a deep copy of p whose data looks exactly like it would
// after a trip over the wire: numbers become float64, nested maps become
// map[string]any and nested slices become []any.
func Normalize(p Payload) Payload {
	b, err := json.Marshal(p.Data)
	if err != nil {
		return p.Clone()
	}
	var data map[string]any
	if err := json.Unmarshal(b, &data); err != nil {
		return p.Clone()
	}
	if data == nil {
		data = map[string]any{}
	}
	return Payload{Name: p.Name, Description: p.Description, Data: data}
}

// Clone returns a deep copy of the payload so consumers never share mutable data.
func (p Payload) Clone() Payload {
	return Payload{Name: p.Name, Description: p.Description, Data: cloneMap(p.Data)}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := maps.Clone(m)
	for k, v := range out {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		out := slices.Clone(v)
		for i := range out {
			out[i] = cloneValue(out[i])
		}
		return out
	default:
		return v
	}
}

// MarshalJSON implements json.Marshaler.
func (p Payload) MarshalJSON() ([]byte, error) {
	data := []byte("{}")
	if len(p.Data) > 0 {
		var err error
		if data, err = json.Marshal(p.Data); err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", keyData, err)
		}
	}

	b, err := sjson.SetBytes([]byte(`{}`), keyName, p.Name)
	if err != nil {
		return nil, err
	}
	if b, err = sjson.SetBytes(b, keyDescription, p.Description); err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(b, keyData, data)
}

// UnmarshalJSON implements json.Unmarshaler with the same rules as Decode.
func (p *Payload) UnmarshalJSON(b []byte) error {
	v, err := Decode(b)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// JSONSchema describes the wire form of a payload.
func JSONSchema() *jsonschema.Schema {
	r := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	return r.Reflect(&Payload{})
}
