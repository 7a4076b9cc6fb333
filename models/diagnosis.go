package models

// Field keys of the structured diagnosis record. These are the stable join
// keys used in persisted output and by the section parser.
const (
	FieldSymptom         = "symptom"
	FieldExamination     = "examination"
	FieldDiagnosisResult = "diagnosis_result"
	FieldDiagnosisBasis  = "diagnosis_basis"
	FieldTreatmentPlan   = "treatment_plan"
)

// DiagnosisFields lists the record fields in canonical order.
var DiagnosisFields = []string{
	FieldSymptom,
	FieldExamination,
	FieldDiagnosisResult,
	FieldDiagnosisBasis,
	FieldTreatmentPlan,
}

// DiagnosisRecord is the five-field structured diagnosis a doctor (or the
// host, for the consolidated result) produces for one patient. Fields may be
// empty but are always present once a consultation has initialized them.
type DiagnosisRecord struct {
	Symptom         string `json:"symptom" bson:"symptom"`
	Examination     string `json:"examination" bson:"examination"`
	DiagnosisResult string `json:"diagnosis_result" bson:"diagnosis_result"`
	DiagnosisBasis  string `json:"diagnosis_basis" bson:"diagnosis_basis"`
	TreatmentPlan   string `json:"treatment_plan" bson:"treatment_plan"`
}

// Get returns the value for a field key. Unknown keys return "".
func (r *DiagnosisRecord) Get(field string) string {
	switch field {
	case FieldSymptom:
		return r.Symptom
	case FieldExamination:
		return r.Examination
	case FieldDiagnosisResult:
		return r.DiagnosisResult
	case FieldDiagnosisBasis:
		return r.DiagnosisBasis
	case FieldTreatmentPlan:
		return r.TreatmentPlan
	}
	return ""
}

// Set assigns the value for a field key. Unknown keys are ignored.
func (r *DiagnosisRecord) Set(field, value string) {
	switch field {
	case FieldSymptom:
		r.Symptom = value
	case FieldExamination:
		r.Examination = value
	case FieldDiagnosisResult:
		r.DiagnosisResult = value
	case FieldDiagnosisBasis:
		r.DiagnosisBasis = value
	case FieldTreatmentPlan:
		r.TreatmentPlan = value
	}
}

// Merge overwrites only the fields present in sections. Fields the latest
// model output omitted keep their previous value.
func (r *DiagnosisRecord) Merge(sections map[string]string) {
	for field, value := range sections {
		r.Set(field, value)
	}
}

// MissingFields returns the field keys whose values are empty.
func (r *DiagnosisRecord) MissingFields() []string {
	var missing []string
	for _, field := range DiagnosisFields {
		if r.Get(field) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

// IsEmpty reports whether no field has been populated.
func (r *DiagnosisRecord) IsEmpty() bool {
	for _, field := range DiagnosisFields {
		if r.Get(field) != "" {
			return false
		}
	}
	return true
}
