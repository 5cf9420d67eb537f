package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lims/patient/internal/domain/patient/widget"
	"github.com/lims/patient/internal/platform/content"
	"github.com/lims/patient/internal/platform/metrics"
	"github.com/lims/patient/pkg/ymd"
)

// ContentCreator builds objects of a registered type inside a container.
type ContentCreator interface {
	Create(ctx context.Context, typeName string, container content.Container) (content.Object, error)
}

// ContentRegistry accepts the factory and store of a content type.
type ContentRegistry interface {
	Register(typeName string, f content.Factory, s content.Store)
}

// TxRunner runs fn inside a transaction.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Settings are the lab-wide patient settings.
type Settings struct {
	RequirePatient bool
	// FolderName is the folder new patients are created in.
	FolderName string
	// Location is the zone typed dates are read in.
	Location *time.Location
}

// Form fields handled by ProcessForm.
const (
	FieldMRN       = "mrn"
	FieldFullname  = "fullname"
	FieldBirthdate = "birthdate"
)

type Service struct {
	patients PatientRepository
	catalog  Catalog
	folders  FolderRepository
	creator  ContentCreator
	settings Settings
	metrics  *metrics.Metrics
	tx       TxRunner
	now      func() time.Time

	mrnWidget  *widget.TemporaryIdentifierWidget
	nameWidget widget.FullnameWidget
	dobWidget  *widget.AgeDoBWidget
}

type ServiceOption func(*Service)

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func WithTx(tx TxRunner) ServiceOption {
	return func(s *Service) { s.tx = tx }
}

// WithClock replaces the clock used for ages and age entry.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(patients PatientRepository, catalog Catalog, folders FolderRepository,
	creator ContentCreator, ids widget.IDGenerator, settings Settings, opts ...ServiceOption) *Service {
	if settings.Location == nil {
		settings.Location = time.Local
	}
	if settings.FolderName == "" {
		settings.FolderName = "patients"
	}

	s := &Service{
		patients:  patients,
		catalog:   catalog,
		folders:   folders,
		creator:   creator,
		settings:  settings,
		now:       time.Now,
		mrnWidget: widget.NewTemporaryIdentifierWidget(FieldMRN, ids),
		dobWidget: widget.NewAgeDoBWidget(settings.Location),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dobWidget.Now = s.now
	return s
}

// IsPatientRequired reports whether samples must reference a patient.
func (s *Service) IsPatientRequired() bool {
	return s.settings.RequirePatient
}

func (s *Service) Settings() Settings {
	return s.settings
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx(ctx, fn)
}

// -- Lookup --

// FindByMRN returns the catalog record of the patient with the given MRN.
// It returns nil without error when there is none and ErrAmbiguousResult
// when there are several. Inactive patients are skipped unless
// includeInactive is set.
func (s *Service) FindByMRN(ctx context.Context, mrn string, includeInactive bool) (*Summary, error) {
	if strings.TrimSpace(mrn) == "" {
		return nil, nil
	}

	q := Query{PortalType: TypeName, MRN: mrn}
	if !includeInactive {
		active := true
		q.IsActive = &active
	}

	results, err := s.catalog.Search(ctx, q)
	if err != nil {
		s.metrics.IncrementMRNLookup("error")
		return nil, fmt.Errorf("search patients by mrn: %w", err)
	}

	switch len(results) {
	case 0:
		s.metrics.IncrementMRNLookup("none")
		return nil, nil
	case 1:
		s.metrics.IncrementMRNLookup("found")
		return results[0], nil
	default:
		s.metrics.IncrementMRNLookup("ambiguous")
		return nil, fmt.Errorf("%w: found %d patients for MRN %s", ErrAmbiguousResult, len(results), mrn)
	}
}

// GetPatientByMRN looks a patient up by MRN. The result is nil when no
// patient matches.
func (s *Service) GetPatientByMRN(ctx context.Context, mrn string, opts LookupOptions) (*LookupResult, error) {
	summary, err := s.FindByMRN(ctx, mrn, opts.IncludeInactive)
	if err != nil || summary == nil {
		return nil, err
	}

	result := &LookupResult{Summary: summary}
	if opts.FullObject {
		p, err := s.catalog.GetObject(ctx, summary)
		if err != nil {
			return nil, fmt.Errorf("load patient %s: %w", summary.ID, err)
		}
		result.Patient = p
	}
	return result, nil
}

// -- Creation --

// RegisterContent makes patients creatable through r.
func (s *Service) RegisterContent(r ContentRegistry) {
	r.Register(TypeName, s.newPatient, s.storePatient)
}

func (s *Service) newPatient(_ context.Context, id string, container content.Container) (content.Object, error) {
	pid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("patient id %q: %w", id, err)
	}
	folderID, err := uuid.Parse(container.ContainerID())
	if err != nil {
		return nil, fmt.Errorf("folder id %q: %w", container.ContainerID(), err)
	}
	return &Patient{
		ID:                 pid,
		FolderID:           folderID,
		BirthDateInputMode: widget.InputModeDate,
		Active:             true,
	}, nil
}

func (s *Service) storePatient(ctx context.Context, obj content.Object, _ content.Container) error {
	p, ok := obj.(*Patient)
	if !ok {
		return fmt.Errorf("unexpected object %T", obj)
	}
	return s.patients.Create(ctx, p)
}

// Folder returns the folder patients are created in, creating it on first
// use.
func (s *Service) Folder(ctx context.Context) (*Folder, error) {
	f, err := s.folders.GetByName(ctx, s.settings.FolderName)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	f = &Folder{Name: s.settings.FolderName, Title: folderTitle(s.settings.FolderName)}
	if err := s.folders.Create(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func folderTitle(name string) string {
	if name == "" {
		return ""
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// CreateEmptyPatient creates a patient without any data in the patient
// folder.
func (s *Service) CreateEmptyPatient(ctx context.Context) (*Patient, error) {
	folder, err := s.Folder(ctx)
	if err != nil {
		return nil, fmt.Errorf("patient folder: %w", err)
	}
	obj, err := s.creator.Create(ctx, TypeName, folder)
	if err != nil {
		return nil, err
	}
	p, ok := obj.(*Patient)
	if !ok {
		return nil, fmt.Errorf("created object is %T, not a patient", obj)
	}
	return p, nil
}

// CreatePatient creates a patient from a submitted form. Without an MRN the
// patient id is used.
func (s *Service) CreatePatient(ctx context.Context, form widget.Form) (*Patient, error) {
	var p *Patient
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.CreateEmptyPatient(ctx); err != nil {
			return err
		}
		if err := s.ProcessForm(ctx, p, form); err != nil {
			return err
		}
		if p.MRN == "" {
			p.MRN = p.ContentID()
		}
		return s.save(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// -- Updates --

// UpdatePatient copies values onto p and saves it.
func (s *Service) UpdatePatient(ctx context.Context, p *Patient, v Values) error {
	mrn := p.ContentID()
	if v.MRN != nil {
		mrn = *v.MRN
	}
	p.MRN = mrn
	p.FirstName = v.Firstname
	p.LastName = v.Lastname
	p.Gender = v.Gender
	p.BirthDate = v.Birthdate
	p.Address = v.Address
	return s.save(ctx, p)
}

// EditPatient applies a submitted form to an existing patient.
func (s *Service) EditPatient(ctx context.Context, id uuid.UUID, form widget.Form) (*Patient, error) {
	var p *Patient
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.patients.GetByID(ctx, id); err != nil {
			return err
		}
		if err := s.ProcessForm(ctx, p, form); err != nil {
			return err
		}
		return s.save(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SetActive activates or deactivates a patient.
func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Active = active
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) save(ctx context.Context, p *Patient) error {
	if err := s.ensureUniqueMRN(ctx, p); err != nil {
		return err
	}
	return s.patients.Update(ctx, p)
}

func (s *Service) ensureUniqueMRN(ctx context.Context, p *Patient) error {
	if p.MRN == "" {
		return nil
	}
	others, err := s.catalog.Search(ctx, Query{PortalType: TypeName, MRN: p.MRN})
	if err != nil {
		return fmt.Errorf("check mrn: %w", err)
	}
	for _, o := range others {
		if o.ID != p.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateMRN, p.MRN)
		}
	}
	return nil
}

// ProcessForm runs the submitted mrn, fullname and birthdate fields through
// their widgets and sets the results on p. Fields missing from the form are
// left untouched.
func (s *Service) ProcessForm(ctx context.Context, p *Patient, form widget.Form) error {
	if raw, ok := form[FieldMRN]; ok {
		id, _, err := s.mrnWidget.Process(ctx, raw)
		if err != nil {
			s.metrics.IncrementWidgetOutcome(FieldMRN, "error")
			return err
		}
		switch {
		case id == nil:
			p.MRN, p.MRNTemporary, p.MRNAuto = "", false, ""
			s.metrics.IncrementWidgetOutcome(FieldMRN, "empty")
		default:
			p.MRN, p.MRNTemporary, p.MRNAuto = id.Value, id.Temporary, id.ValueAuto
			outcome := "value"
			if id.IsAutogenerated() {
				outcome = "generated"
			}
			s.metrics.IncrementWidgetOutcome(FieldMRN, outcome)
		}
	}

	if raw, ok := form[FieldFullname]; ok {
		name, _ := s.nameWidget.Process(raw)
		if name == nil {
			p.FirstName, p.LastName = "", ""
			s.metrics.IncrementWidgetOutcome(FieldFullname, "empty")
		} else {
			p.FirstName, p.LastName = name.Firstname, name.Lastname
			s.metrics.IncrementWidgetOutcome(FieldFullname, "value")
		}
	}

	if raw, ok := form[FieldBirthdate]; ok {
		dob, _, err := s.dobWidget.Process(raw)
		if err != nil {
			s.metrics.IncrementWidgetOutcome(FieldBirthdate, "error")
			return err
		}
		switch {
		case dob == nil:
			p.BirthDate, p.BirthDateInputMode = nil, widget.InputModeDate
			s.metrics.IncrementWidgetOutcome(FieldBirthdate, "empty")
		case dob.KeepCurrent:
			p.BirthDateInputMode = dob.InputMode
			s.metrics.IncrementWidgetOutcome(FieldBirthdate, "kept")
		default:
			p.BirthDate, p.BirthDateInputMode = dob.Date, dob.InputMode
			s.metrics.IncrementWidgetOutcome(FieldBirthdate, string(dob.InputMode))
		}
	}
	return nil
}

// -- Reads --

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	return s.patients.Delete(ctx, id)
}

// -- Ages --

// onDate reads an optional reference date, defaulting to now.
func (s *Service) onDate(on string) (time.Time, error) {
	if strings.TrimSpace(on) == "" {
		return s.now().In(s.settings.Location), nil
	}
	t, ok := ymd.ToDatetime(on, nil, s.settings.Location)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: on=%q", ymd.ErrType, on)
	}
	return t, nil
}

// PatientAge returns the age of a patient on the given date, or today when
// on is empty.
func (s *Service) PatientAge(ctx context.Context, id uuid.UUID, on string) (*AgeInfo, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.BirthDate == nil {
		return nil, ErrNoBirthDate
	}
	return s.Age(p.BirthDate.In(s.settings.Location), on)
}

// Age returns the age of someone born on birth as of on.
func (s *Service) Age(birth time.Time, on string) (*AgeInfo, error) {
	when, err := s.onDate(on)
	if err != nil {
		return nil, err
	}
	delta, err := ymd.GetRelativeDelta(birth, when)
	if err != nil {
		return nil, err
	}
	return &AgeInfo{
		Ymd:    delta.Ymd(),
		Age:    widget.Age{Years: delta.Years, Months: delta.Months, Days: delta.Days},
		OnDate: when,
	}, nil
}

// AgeFromBirthDate parses birth in the lab zone and returns the age on on.
func (s *Service) AgeFromBirthDate(birth, on string) (*AgeInfo, error) {
	b, ok := ymd.ToDatetime(birth, nil, s.settings.Location)
	if !ok {
		return nil, fmt.Errorf("%w: birthdate=%q", ymd.ErrType, birth)
	}
	return s.Age(b, on)
}

// BirthDateFromAge returns the birth date of someone aged period on on.
func (s *Service) BirthDateFromAge(period, on string) (time.Time, error) {
	when, err := s.onDate(on)
	if err != nil {
		return time.Time{}, err
	}
	return ymd.GetBirthDate(period, when)
}
