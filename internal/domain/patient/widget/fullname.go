package widget

import (
	"strings"
)

// PersonName is a name split into first and last parts.
type PersonName struct {
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
}

// String renders the name as "firstname lastname".
func (n PersonName) String() string {
	return strings.TrimSpace(n.Firstname + " " + n.Lastname)
}

// FullnameWidget accepts either a single full name or separate first and
// last names.
type FullnameWidget struct{}

// Process normalises the submitted value. A nil result means both parts were
// empty.
func (FullnameWidget) Process(raw interface{}) (*PersonName, Messages) {
	value := first(raw)

	var name PersonName
	if s, ok := value.(string); ok {
		name.Firstname = strings.TrimSpace(s)
	} else if record, ok := mapping(value); ok {
		name.Firstname = strings.TrimSpace(str(record, "firstname"))
		name.Lastname = strings.TrimSpace(str(record, "lastname"))
	}

	if name.Firstname == "" && name.Lastname == "" {
		return nil, Messages{}
	}
	return &name, Messages{}
}
