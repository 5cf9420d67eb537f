package widget

import (
	"context"
	"fmt"
)

// AutoIDMarker entered as the identifier asks for a generated one.
const AutoIDMarker = "auto"

// IDGenerator hands out identifiers that are unique across the whole
// installation for a given kind.
type IDGenerator interface {
	Generate(ctx context.Context, kind string) (string, error)
}

// TemporaryIdentifier is the value of a temporary identifier field, such as a
// medical record number assigned before the real one is known.
type TemporaryIdentifier struct {
	Temporary bool   `json:"temporary"`
	Value     string `json:"value"`
	ValueAuto string `json:"value_auto"`
}

// IsAutogenerated reports whether the current value was generated.
func (t *TemporaryIdentifier) IsAutogenerated() bool {
	return t.Value != "" && t.Value == t.ValueAuto
}

var temporaryTrueValues = map[string]bool{
	"true": true,
	"1":    true,
	"on":   true,
	"True": true,
}

// isTemporary accepts only the literal spellings a checkbox or JSON client
// sends for "checked".
func isTemporary(v interface{}) bool {
	switch t := v.(type) {
	case string:
		return temporaryTrueValues[t]
	case bool:
		return t
	case int:
		return t == 1
	case int64:
		return t == 1
	case float64:
		return t == 1
	}
	return false
}

// TemporaryIdentifierWidget is the text input plus "Temporary" checkbox. When
// the box is ticked and no identifier was typed, one is generated.
type TemporaryIdentifierWidget struct {
	// Kind scopes generated identifiers, usually the field name.
	Kind string
	IDs  IDGenerator
}

// NewTemporaryIdentifierWidget returns a widget generating ids of kind.
func NewTemporaryIdentifierWidget(kind string, ids IDGenerator) *TemporaryIdentifierWidget {
	return &TemporaryIdentifierWidget{Kind: kind, IDs: ids}
}

// Process normalises the submitted value. A nil result means nothing was
// submitted. Errors come only from the id generator.
func (w *TemporaryIdentifierWidget) Process(ctx context.Context, raw interface{}) (*TemporaryIdentifier, Messages, error) {
	if !truthy(raw) {
		return nil, Messages{}, nil
	}

	record, ok := mapping(raw)
	if !ok {
		// A bare string is the identifier typed without the checkbox.
		record = map[string]interface{}{"value": raw}
	}

	temporary := isTemporary(record["temporary"])
	autogenerated := str(record, "autogenerated")
	identifier := str(record, "value")

	if temporary && (identifier == "" || identifier == AutoIDMarker) {
		id, err := w.IDs.Generate(ctx, w.Kind)
		if err != nil {
			return nil, Messages{}, fmt.Errorf("generate %s: %w", w.Kind, err)
		}
		identifier = id
		autogenerated = id
	}

	return &TemporaryIdentifier{
		Temporary: temporary,
		Value:     identifier,
		ValueAuto: autogenerated,
	}, Messages{}, nil
}
