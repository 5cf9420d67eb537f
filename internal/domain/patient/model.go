package patient

import (
	"time"

	"github.com/google/uuid"

	"github.com/lims/patient/internal/domain/patient/widget"
	"github.com/lims/patient/pkg/ymd"
)

// TypeName is the content type created for new patients.
const TypeName = "Patient"

// Patient maps to the patient table.
type Patient struct {
	ID                 uuid.UUID        `db:"id" json:"id"`
	FolderID           uuid.UUID        `db:"folder_id" json:"folder_id"`
	MRN                string           `db:"mrn" json:"mrn"`
	MRNTemporary       bool             `db:"mrn_temporary" json:"mrn_temporary"`
	MRNAuto            string           `db:"mrn_auto" json:"mrn_auto,omitempty"`
	FirstName          string           `db:"first_name" json:"firstname"`
	LastName           string           `db:"last_name" json:"lastname"`
	Gender             string           `db:"gender" json:"gender,omitempty"`
	BirthDate          *time.Time       `db:"birth_date" json:"birthdate,omitempty"`
	BirthDateInputMode widget.InputMode `db:"birth_date_input_mode" json:"birthdate_input_mode"`
	Address            string           `db:"address" json:"address,omitempty"`
	Active             bool             `db:"active" json:"active"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updated_at"`
}

// ContentID implements content.Object.
func (p *Patient) ContentID() string {
	return p.ID.String()
}

func (p *Patient) Fullname() widget.PersonName {
	return widget.PersonName{Firstname: p.FirstName, Lastname: p.LastName}
}

// Identifier returns the MRN the way the temporary identifier widget
// renders it.
func (p *Patient) Identifier() *widget.TemporaryIdentifier {
	if p.MRN == "" && p.MRNAuto == "" && !p.MRNTemporary {
		return nil
	}
	return &widget.TemporaryIdentifier{Temporary: p.MRNTemporary, Value: p.MRN, ValueAuto: p.MRNAuto}
}

// MRNGenerated reports whether the current MRN was handed out by the id
// server.
func (p *Patient) MRNGenerated() bool {
	return p.MRN != "" && p.MRN == p.MRNAuto
}

// AgeSelected reports whether the birth date was last entered as an age.
func (p *Patient) AgeSelected() bool {
	return p.BirthDateInputMode == widget.InputModeAge
}

// Summary returns the catalog record of the patient.
func (p *Patient) Summary() *Summary {
	return &Summary{
		ID:        p.ID,
		MRN:       p.MRN,
		Fullname:  p.Fullname().String(),
		BirthDate: p.BirthDate,
		Active:    p.Active,
		FolderID:  p.FolderID,
	}
}

// Folder is the container patients are created in.
type Folder struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ContainerID implements content.Container.
func (f *Folder) ContainerID() string {
	return f.ID.String()
}

// Summary is the catalog record of a patient: the indexed fields only.
type Summary struct {
	ID        uuid.UUID  `json:"id"`
	MRN       string     `json:"mrn"`
	Fullname  string     `json:"fullname"`
	BirthDate *time.Time `json:"birthdate,omitempty"`
	Active    bool       `json:"active"`
	FolderID  uuid.UUID  `json:"folder_id"`
}

// AgeYmd returns the age on the given date as ymd text, or "" when the birth
// date is unknown.
func (s *Summary) AgeYmd(on time.Time) string {
	if s.BirthDate == nil {
		return ""
	}
	age, err := ymd.GetAgeYmd(*s.BirthDate, on)
	if err != nil {
		return ""
	}
	return age
}

// Query selects catalog records. A nil IsActive matches active and inactive
// patients.
type Query struct {
	PortalType string
	MRN        string
	IsActive   *bool
}

// LookupOptions tune GetPatientByMRN.
type LookupOptions struct {
	// FullObject loads the patient behind the catalog record.
	FullObject      bool
	IncludeInactive bool
}

// LookupResult is a patient found by MRN. Patient is only set when the full
// object was requested.
type LookupResult struct {
	Summary *Summary `json:"summary"`
	Patient *Patient `json:"patient,omitempty"`
}

// Values are the fields UpdatePatient copies onto a patient. A nil MRN
// defaults to the patient id.
type Values struct {
	MRN       *string    `json:"mrn"`
	Firstname string     `json:"firstname"`
	Lastname  string     `json:"lastname"`
	Gender    string     `json:"gender"`
	Birthdate *time.Time `json:"birthdate"`
	Address   string     `json:"address"`
}

// AgeInfo is the age of a patient on a given day.
type AgeInfo struct {
	Ymd    string     `json:"ymd"`
	Age    widget.Age `json:"age"`
	OnDate time.Time  `json:"on"`
}
