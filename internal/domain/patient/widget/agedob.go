package widget

import (
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/lims/patient/pkg/ymd"
)

// InputMode records whether the user typed a birth date or an age.
type InputMode string

const (
	InputModeDate InputMode = "date"
	InputModeAge  InputMode = "age"
)

// DateOfBirth is the normalised value of the age / date of birth widget.
type DateOfBirth struct {
	Date      *time.Time `json:"date"`
	InputMode InputMode  `json:"input_mode"`
	// KeepCurrent is set when age entry was chosen but left blank; the stored
	// birth date must stay as it is.
	KeepCurrent bool `json:"-"`
}

// AgeSelected reports whether the value was entered as an age.
func (d *DateOfBirth) AgeSelected() bool {
	return d != nil && d.InputMode == InputModeAge
}

// Age is the current age split into its components for display.
type Age struct {
	Years  int `json:"years"`
	Months int `json:"months"`
	Days   int `json:"days"`
}

// AgeDoBWidget lets the user enter either a date of birth or an age; an age
// is turned into a date of birth relative to now.
type AgeDoBWidget struct {
	Now      func() time.Time
	Location *time.Location
}

// NewAgeDoBWidget returns a widget reading dates in loc.
func NewAgeDoBWidget(loc *time.Location) *AgeDoBWidget {
	return &AgeDoBWidget{Now: time.Now, Location: loc}
}

func (w *AgeDoBWidget) now() time.Time {
	if w.Now == nil {
		return time.Now()
	}
	return w.Now()
}

// CurrentAge returns the age as of now of someone born on dob. It reports
// false when dob is not a date.
func (w *AgeDoBWidget) CurrentAge(dob interface{}) (Age, bool) {
	if _, ok := asTime(dob); !ok {
		return Age{}, false
	}
	delta, err := ymd.GetRelativeDelta(dob, w.now())
	if err != nil {
		return Age{}, false
	}
	return Age{Years: delta.Years, Months: delta.Months, Days: delta.Days}, true
}

// Process normalises the submitted value. A nil result means nothing was
// submitted. The only error is ymd.ErrInvalidPeriod, for age components that
// contain no usable number.
func (w *AgeDoBWidget) Process(raw interface{}) (*DateOfBirth, Messages, error) {
	value := first(raw)
	if !truthy(value) {
		return nil, Messages{}, nil
	}

	if t, ok := asTime(value); ok {
		return &DateOfBirth{Date: &t, InputMode: InputModeDate}, Messages{}, nil
	}

	record, ok := mapping(value)
	if !ok {
		record = map[string]interface{}{"dob": value}
	}

	result := &DateOfBirth{InputMode: InputModeDate}
	if dob, ok := ymd.ToDatetime(record["dob"], nil, w.Location); ok {
		result.Date = &dob
	}

	if str(record, "selector") != string(InputModeAge) {
		return result, Messages{}, nil
	}
	result.InputMode = InputModeAge

	var period strings.Builder
	for _, p := range []struct{ key, unit string }{{"years", "y"}, {"months", "m"}, {"days", "d"}} {
		if v := ageComponent(record[p.key]); v != "" {
			period.WriteString(v + p.unit)
		}
	}
	if period.Len() == 0 {
		return &DateOfBirth{InputMode: InputModeAge, KeepCurrent: true}, Messages{}, nil
	}

	dob, err := ymd.GetBirthDate(period.String(), w.now())
	if err != nil {
		return nil, Messages{}, err
	}
	result.Date = &dob
	return result, Messages{}, nil
}

// ageComponent returns the text of one age input, or "" when it is blank or
// a zero number.
func ageComponent(v interface{}) string {
	if !truthy(v) {
		return ""
	}
	s := strings.TrimSpace(cast.ToString(v))
	if n, err := cast.ToIntE(s); err == nil && n == 0 {
		return ""
	}
	return s
}
