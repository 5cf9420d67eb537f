package patient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/lims/patient/internal/domain/patient/widget"
	"github.com/lims/patient/internal/platform/content"
	"github.com/lims/patient/internal/platform/idserver"
	"github.com/lims/patient/internal/platform/metrics"
	"github.com/lims/patient/pkg/ymd"
)

// -- Mock Repositories --

type mockPatientRepo struct {
	patients map[uuid.UUID]*Patient
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockPatientRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.patients[p.ID]; !ok {
		return ErrNotFound
	}
	p.UpdatedAt = time.Now()
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.patients[id]; !ok {
		return ErrNotFound
	}
	delete(m.patients, id)
	return nil
}

func (m *mockPatientRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	var result []*Patient
	for _, p := range m.patients {
		result = append(result, p)
	}
	return result, len(result), nil
}

type mockCatalog struct {
	repo *mockPatientRepo
	err  error
}

func (m *mockCatalog) Search(_ context.Context, q Query) ([]*Summary, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*Summary
	for _, p := range m.repo.patients {
		if q.MRN != "" && p.MRN != q.MRN {
			continue
		}
		if q.IsActive != nil && p.Active != *q.IsActive {
			continue
		}
		out = append(out, p.Summary())
	}
	return out, nil
}

func (m *mockCatalog) GetObject(ctx context.Context, s *Summary) (*Patient, error) {
	return m.repo.GetByID(ctx, s.ID)
}

type mockFolderRepo struct {
	folders map[string]*Folder
}

func (m *mockFolderRepo) Create(_ context.Context, f *Folder) error {
	f.ID = uuid.New()
	m.folders[f.Name] = f
	return nil
}

func (m *mockFolderRepo) GetByName(_ context.Context, name string) (*Folder, error) {
	f, ok := m.folders[name]
	if !ok {
		return nil, ErrNotFound
	}
	return f, nil
}

// -- Fixture --

var fixedNow = time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	repo    *mockPatientRepo
	catalog *mockCatalog
	folders *mockFolderRepo
	creator *content.Creator
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	repo := newMockPatientRepo()
	f := &fixture{
		repo:    repo,
		catalog: &mockCatalog{repo: repo},
		folders: &mockFolderRepo{folders: make(map[string]*Folder)},
		metrics: metrics.NewWithRegistry(prometheus.NewRegistry()),
	}
	f.creator = content.NewCreator(f.metrics, zerolog.Nop())
	ids := idserver.New(idserver.NewMemorySequence(), idserver.WithFormat(FieldMRN, "P%06d"))

	opts = append([]ServiceOption{WithMetrics(f.metrics), WithClock(func() time.Time { return fixedNow })}, opts...)
	f.svc = NewService(repo, f.catalog, f.folders, f.creator, ids,
		Settings{RequirePatient: true, FolderName: "patients", Location: time.UTC}, opts...)
	f.svc.RegisterContent(f.creator)
	return f
}

func (f *fixture) addPatient(mrn string, active bool) *Patient {
	p := &Patient{ID: uuid.New(), MRN: mrn, FirstName: "Jo", LastName: "Doe", Active: active}
	f.repo.patients[p.ID] = p
	return p
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// -- Tests --

func TestService_Settings(t *testing.T) {
	f := newFixture(t)
	if !f.svc.IsPatientRequired() {
		t.Error("expected patient to be required")
	}

	svc := NewService(nil, nil, nil, nil, nil, Settings{})
	if svc.IsPatientRequired() {
		t.Error("expected patient not required by default")
	}
	if svc.Settings().FolderName != "patients" || svc.Settings().Location != time.Local {
		t.Errorf("unexpected defaults: %+v", svc.Settings())
	}
}

func TestFindByMRN(t *testing.T) {
	f := newFixture(t)
	p := f.addPatient("P1", true)
	f.addPatient("P2", false)
	f.addPatient("DUP", true)
	f.addPatient("DUP", true)
	ctx := context.Background()

	s, err := f.svc.FindByMRN(ctx, "P1", false)
	if err != nil || s == nil || s.ID != p.ID {
		t.Fatalf("expected P1, got %v, %v", s, err)
	}

	s, err = f.svc.FindByMRN(ctx, "missing", false)
	if err != nil || s != nil {
		t.Errorf("expected no result, got %v, %v", s, err)
	}

	s, err = f.svc.FindByMRN(ctx, "P2", false)
	if err != nil || s != nil {
		t.Errorf("expected inactive patient to be skipped, got %v, %v", s, err)
	}
	s, err = f.svc.FindByMRN(ctx, "P2", true)
	if err != nil || s == nil {
		t.Errorf("expected inactive patient with include_inactive, got %v, %v", s, err)
	}

	_, err = f.svc.FindByMRN(ctx, "DUP", false)
	if !errors.Is(err, ErrAmbiguousResult) {
		t.Errorf("expected ErrAmbiguousResult, got %v", err)
	}

	s, err = f.svc.FindByMRN(ctx, "  ", true)
	if err != nil || s != nil {
		t.Errorf("expected blank MRN to match nothing, got %v, %v", s, err)
	}

	if got := testutil.ToFloat64(f.metrics.MRNLookups.WithLabelValues("ambiguous")); got != 1 {
		t.Errorf("expected one ambiguous lookup, got %v", got)
	}
	if got := testutil.ToFloat64(f.metrics.MRNLookups.WithLabelValues("found")); got != 2 {
		t.Errorf("expected two successful lookups, got %v", got)
	}
}

func TestFindByMRN_CatalogError(t *testing.T) {
	f := newFixture(t)
	f.catalog.err = errors.New("index offline")
	if _, err := f.svc.FindByMRN(context.Background(), "P1", false); err == nil {
		t.Error("expected catalog error")
	}
}

func TestGetPatientByMRN(t *testing.T) {
	f := newFixture(t)
	p := f.addPatient("P1", true)
	ctx := context.Background()

	r, err := f.svc.GetPatientByMRN(ctx, "P1", LookupOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Summary.Fullname != "Jo Doe" || r.Patient != nil {
		t.Errorf("expected summary only, got %+v", r)
	}

	r, err = f.svc.GetPatientByMRN(ctx, "P1", LookupOptions{FullObject: true})
	if err != nil || r.Patient != p {
		t.Errorf("expected full object, got %+v, %v", r, err)
	}

	r, err = f.svc.GetPatientByMRN(ctx, "nope", LookupOptions{FullObject: true})
	if err != nil || r != nil {
		t.Errorf("expected nil result, got %+v, %v", r, err)
	}
}

func TestCreateEmptyPatient(t *testing.T) {
	f := newFixture(t)
	var created []content.Event
	f.creator.Subscribe(func(_ context.Context, ev content.Event) error {
		created = append(created, ev)
		return nil
	})

	p, err := f.svc.CreateEmptyPatient(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	folder := f.folders.folders["patients"]
	if folder == nil || folder.Title != "Patients" {
		t.Fatalf("expected the patient folder to be created, got %+v", folder)
	}
	if p.FolderID != folder.ID || !p.Active || p.BirthDateInputMode != widget.InputModeDate {
		t.Errorf("unexpected patient: %+v", p)
	}
	if p.MRN != "" || p.FirstName != "" || p.BirthDate != nil {
		t.Errorf("expected an empty patient, got %+v", p)
	}
	if f.repo.patients[p.ID] != p {
		t.Error("expected patient to be stored")
	}
	if len(created) != 1 || created[0].TypeName != TypeName {
		t.Errorf("expected one created event, got %+v", created)
	}

	again, err := f.svc.CreateEmptyPatient(context.Background())
	if err != nil || again.FolderID != folder.ID || again.ID == p.ID {
		t.Errorf("expected second patient in the same folder, got %+v, %v", again, err)
	}
}

func TestCreatePatient_FromForm(t *testing.T) {
	var txCalls int
	f := newFixture(t, WithTx(func(ctx context.Context, fn func(context.Context) error) error {
		txCalls++
		return fn(ctx)
	}))

	form := widget.Form{
		"mrn":       map[string]interface{}{"temporary": "on", "value": ""},
		"fullname":  map[string]interface{}{"firstname": " Ada ", "lastname": "Lovelace"},
		"birthdate": map[string]interface{}{"selector": "age", "years": "30"},
	}
	p, err := f.svc.CreatePatient(context.Background(), form)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p.MRN != "P000001" || !p.MRNTemporary || !p.MRNGenerated() {
		t.Errorf("expected generated temporary MRN, got %q temporary=%v auto=%q", p.MRN, p.MRNTemporary, p.MRNAuto)
	}
	if p.FirstName != "Ada" || p.LastName != "Lovelace" {
		t.Errorf("unexpected name: %q %q", p.FirstName, p.LastName)
	}
	want := time.Date(1994, 6, 15, 9, 0, 0, 0, time.UTC)
	if p.BirthDate == nil || !p.BirthDate.Equal(want) || !p.AgeSelected() {
		t.Errorf("expected birth date %s entered as age, got %v (%s)", want, p.BirthDate, p.BirthDateInputMode)
	}
	if txCalls != 1 {
		t.Errorf("expected creation in one transaction, got %d", txCalls)
	}
	if got := testutil.ToFloat64(f.metrics.WidgetOutcomes.WithLabelValues(FieldMRN, "generated")); got != 1 {
		t.Errorf("expected generated MRN to be counted, got %v", got)
	}
}

func TestCreatePatient_DefaultsMRNToID(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.CreatePatient(context.Background(), widget.Form{"fullname": "Ada"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.MRN != p.ID.String() {
		t.Errorf("expected MRN to default to the id, got %q", p.MRN)
	}
}

func TestCreatePatient_DuplicateMRN(t *testing.T) {
	f := newFixture(t)
	f.addPatient("P1", false)

	_, err := f.svc.CreatePatient(context.Background(), widget.Form{"mrn": "P1"})
	if !errors.Is(err, ErrDuplicateMRN) {
		t.Errorf("expected ErrDuplicateMRN, got %v", err)
	}
}

func TestCreatePatient_InvalidAge(t *testing.T) {
	f := newFixture(t)
	form := widget.Form{"birthdate": map[string]interface{}{"selector": "age", "years": "abc"}}
	_, err := f.svc.CreatePatient(context.Background(), form)
	if !errors.Is(err, ymd.ErrInvalidPeriod) {
		t.Errorf("expected ErrInvalidPeriod, got %v", err)
	}
}

func TestUpdatePatient(t *testing.T) {
	f := newFixture(t)
	p := f.addPatient("OLD", true)
	birth := date(1990, 1, 2)

	err := f.svc.UpdatePatient(context.Background(), p, Values{
		Firstname: "Grace",
		Lastname:  "Hopper",
		Gender:    "female",
		Birthdate: &birth,
		Address:   "Arlington",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.MRN != p.ID.String() {
		t.Errorf("expected MRN to default to the id, got %q", p.MRN)
	}
	if p.FirstName != "Grace" || p.LastName != "Hopper" || p.Gender != "female" || p.Address != "Arlington" {
		t.Errorf("unexpected fields: %+v", p)
	}
	if p.BirthDate == nil || !p.BirthDate.Equal(birth) {
		t.Errorf("expected birth date %s, got %v", birth, p.BirthDate)
	}

	mrn := "NEW-1"
	if err := f.svc.UpdatePatient(context.Background(), p, Values{MRN: &mrn}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.MRN != "NEW-1" || p.FirstName != "" || p.BirthDate != nil {
		t.Errorf("expected values to be copied as given, got %+v", p)
	}
}

func TestProcessForm_BirthDateModes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	birth := date(1980, 5, 4)

	p := &Patient{BirthDate: &birth, BirthDateInputMode: widget.InputModeDate}
	err := f.svc.ProcessForm(ctx, p, widget.Form{"birthdate": map[string]interface{}{"selector": "age", "years": "", "months": "0"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.BirthDate == nil || !p.BirthDate.Equal(birth) || !p.AgeSelected() {
		t.Errorf("expected date kept with age mode, got %v (%s)", p.BirthDate, p.BirthDateInputMode)
	}

	if err := f.svc.ProcessForm(ctx, p, widget.Form{"birthdate": ""}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.BirthDate != nil || p.AgeSelected() {
		t.Errorf("expected cleared date, got %v (%s)", p.BirthDate, p.BirthDateInputMode)
	}

	if err := f.svc.ProcessForm(ctx, p, widget.Form{"birthdate": map[string]interface{}{"dob": "2001-02-03", "selector": "date"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.BirthDate == nil || !p.BirthDate.Equal(date(2001, 2, 3)) || p.AgeSelected() {
		t.Errorf("expected typed date, got %v (%s)", p.BirthDate, p.BirthDateInputMode)
	}
}

func TestProcessForm_LeavesMissingFields(t *testing.T) {
	f := newFixture(t)
	p := &Patient{MRN: "KEEP", FirstName: "Jo", LastName: "Doe"}

	if err := f.svc.ProcessForm(context.Background(), p, widget.Form{"fullname": ""}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.MRN != "KEEP" {
		t.Errorf("expected MRN untouched, got %q", p.MRN)
	}
	if p.FirstName != "" || p.LastName != "" {
		t.Errorf("expected empty name to clear both parts, got %q %q", p.FirstName, p.LastName)
	}
}

func TestEditPatient(t *testing.T) {
	f := newFixture(t)
	p := f.addPatient("P1", true)

	got, err := f.svc.EditPatient(context.Background(), p.ID, widget.Form{"fullname": "Alan"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FirstName != "Alan" || got.LastName != "" || got.MRN != "P1" {
		t.Errorf("unexpected patient: %+v", got)
	}

	if _, err := f.svc.EditPatient(context.Background(), uuid.New(), widget.Form{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetActive(t *testing.T) {
	f := newFixture(t)
	p := f.addPatient("P1", true)

	got, err := f.svc.SetActive(context.Background(), p.ID, false)
	if err != nil || got.Active {
		t.Fatalf("expected deactivated patient, got %+v, %v", got, err)
	}
	if s, _ := f.svc.FindByMRN(context.Background(), "P1", false); s != nil {
		t.Error("deactivated patient must not be found by default")
	}
}

func TestPatientAge(t *testing.T) {
	f := newFixture(t)
	p := f.addPatient("P1", true)
	birth := date(2020, 3, 10)
	p.BirthDate = &birth
	ctx := context.Background()

	age, err := f.svc.PatientAge(ctx, p.ID, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if age.Ymd != "4y 3m 5d" || age.Age != (widget.Age{Years: 4, Months: 3, Days: 5}) {
		t.Errorf("unexpected age: %+v", age)
	}

	age, err = f.svc.PatientAge(ctx, p.ID, "2021-03-10")
	if err != nil || age.Ymd != "1y" {
		t.Errorf("expected 1y, got %+v, %v", age, err)
	}

	if _, err := f.svc.PatientAge(ctx, p.ID, "not a date"); !errors.Is(err, ymd.ErrType) {
		t.Errorf("expected ErrType for a bad date, got %v", err)
	}

	p.BirthDate = nil
	if _, err := f.svc.PatientAge(ctx, p.ID, ""); !errors.Is(err, ErrNoBirthDate) {
		t.Errorf("expected ErrNoBirthDate, got %v", err)
	}
}

func TestBirthDateFromAge(t *testing.T) {
	f := newFixture(t)

	dob, err := f.svc.BirthDateFromAge("2y6m", "2024-08-31")
	if err != nil || !dob.Equal(date(2022, 2, 28)) {
		t.Errorf("expected 2022-02-28, got %s, %v", dob, err)
	}

	dob, err = f.svc.BirthDateFromAge("1y", "")
	if err != nil || !dob.Equal(time.Date(2023, 6, 15, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("expected one year before now, got %s, %v", dob, err)
	}

	if _, err := f.svc.BirthDateFromAge("0y", ""); !errors.Is(err, ymd.ErrInvalidPeriod) {
		t.Errorf("expected ErrInvalidPeriod, got %v", err)
	}
}

func TestAgeFromBirthDate(t *testing.T) {
	f := newFixture(t)

	age, err := f.svc.AgeFromBirthDate("2000-01-31", "2000-03-01")
	if err != nil || age.Ymd != "1m 1d" {
		t.Errorf("expected 1m 1d, got %+v, %v", age, err)
	}

	if _, err := f.svc.AgeFromBirthDate("", ""); !errors.Is(err, ymd.ErrType) {
		t.Errorf("expected ErrType, got %v", err)
	}
}

func TestSummary_AgeYmd(t *testing.T) {
	birth := date(2020, 1, 1)
	s := &Summary{BirthDate: &birth}
	if got := s.AgeYmd(date(2022, 1, 1)); got != "2y" {
		t.Errorf("expected 2y, got %q", got)
	}
	if got := (&Summary{}).AgeYmd(date(2022, 1, 1)); got != "" {
		t.Errorf("expected empty age without birth date, got %q", got)
	}
}

func TestPatient_Identifier(t *testing.T) {
	if (&Patient{}).Identifier() != nil {
		t.Error("expected no identifier for an empty MRN")
	}
	id := (&Patient{MRN: "P000001", MRNTemporary: true, MRNAuto: "P000001"}).Identifier()
	if !id.IsAutogenerated() || !id.Temporary {
		t.Errorf("unexpected identifier: %+v", id)
	}

	id = (&Patient{MRNTemporary: true, MRNAuto: "P000004"}).Identifier()
	if id == nil || id.ValueAuto != "P000004" || id.IsAutogenerated() {
		t.Errorf("expected the generated MRN to be offered again, got %+v", id)
	}
}

func TestProcessForm_KeepsGeneratedMRNBesideManualValue(t *testing.T) {
	f := newFixture(t)
	p := f.addPatient("", true)

	err := f.svc.ProcessForm(context.Background(), p, widget.Form{
		FieldMRN: map[string]interface{}{"temporary": "on", "value": "MRN123", "autogenerated": "P000001"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := &widget.TemporaryIdentifier{Temporary: true, Value: "MRN123", ValueAuto: "P000001"}
	if got := p.Identifier(); *got != *want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
	if p.MRNGenerated() {
		t.Error("expected the manual MRN not to count as generated")
	}
	if got := testutil.ToFloat64(f.metrics.WidgetOutcomes.WithLabelValues(FieldMRN, "value")); got != 1 {
		t.Errorf("expected a manual MRN to be counted, got %v", got)
	}

	if err := f.svc.ProcessForm(context.Background(), p, widget.Form{FieldMRN: ""}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.MRN != "" || p.MRNAuto != "" || p.Identifier() != nil {
		t.Errorf("expected a blank MRN to clear the identifier, got %+v", p)
	}
}
