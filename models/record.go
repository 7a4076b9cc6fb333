package models

// Host decision actions. The action vocabulary is part of the persisted
// record format and must stay stable across runs.
const (
	ActionQueryPatient            = "query_patient"
	ActionContinueDiscussion      = "continue_discussion"
	ActionBeginDiscussion         = "begin_discussion"
	ActionFinalize                = "finalize"
	ActionFinalizeAfterDiscussion = "finalize_after_discussion"
	ActionFinalizeWithPatientInfo = "finalize_with_patient_info"
	ActionUpdateWithPatientInfo   = "update_with_patient_info"
)

// Agreement markers returned by the host's agreement measurement.
const (
	MarkerAgreementEnd      = "#END#"
	MarkerAgreementContinue = "#CONTINUE#"
)

// HostDecision is the host's next-action verdict for one discussion turn.
type HostDecision struct {
	Action    string   `json:"action" bson:"action"`
	Reason    string   `json:"reason" bson:"reason"`
	Questions []string `json:"questions,omitempty" bson:"questions,omitempty"`
}

// DialogEntry is one message of a doctor-patient-reporter consultation
// transcript. Speaker carries the doctor's name on doctor lines; Recipient is
// the role the line addresses, so a patient's examination request is
// distinguishable from its answer to the doctor.
type DialogEntry struct {
	Turn      int    `json:"turn" bson:"turn"`
	Role      string `json:"role" bson:"role"`
	Content   string `json:"content" bson:"content"`
	Speaker   string `json:"speaker,omitempty" bson:"speaker,omitempty"`
	Recipient string `json:"recipient,omitempty" bson:"recipient,omitempty"`
}

// DoctorDiagnosis is one doctor's diagnosis snapshot inside a discussion
// turn record.
type DoctorDiagnosis struct {
	DoctorID     int             `json:"doctor_id" bson:"doctor_id"`
	DoctorName   string          `json:"doctor_name" bson:"doctor_name"`
	DoctorEngine string          `json:"doctor_engine_name" bson:"doctor_engine_name"`
	Diagnosis    DiagnosisRecord `json:"diagnosis" bson:"diagnosis"`
	ReceivedFrom []string        `json:"received_from,omitempty" bson:"received_from,omitempty"`
}

// DiscussionTurn captures everything that happened in one turn of the
// agreement-seeking loop. Turn records are immutable once appended and carry
// enough information to reconstruct the agent inputs without re-invoking the
// gateway.
type DiscussionTurn struct {
	Turn                 int               `json:"turn" bson:"turn"`
	DiagnosisInTurn      []DoctorDiagnosis `json:"diagnosis_in_turn" bson:"diagnosis_in_turn"`
	HostCritique         string            `json:"host_critique" bson:"host_critique"`
	HostDecision         HostDecision      `json:"host_decision" bson:"host_decision"`
	NewInformation       string            `json:"new_information,omitempty" bson:"new_information,omitempty"`
	RevisedDiagnoses     []DoctorDiagnosis `json:"revised_diagnoses,omitempty" bson:"revised_diagnoses,omitempty"`
	FinalDiagnosisByHost *DiagnosisRecord  `json:"final_diagnosis_by_host,omitempty" bson:"final_diagnosis_by_host,omitempty"`
}

// AdditionalInfo is one piece of information gathered mid-discussion,
// usually a patient answer to a host query.
type AdditionalInfo struct {
	Turn     int    `json:"turn" bson:"turn"`
	Type     string `json:"type" bson:"type"`
	Query    string `json:"query" bson:"query"`
	Response string `json:"response" bson:"response"`
}

// InitialConsultation is one doctor's independent consultation transcript
// plus the structured diagnosis parsed from its forced summary.
type InitialConsultation struct {
	DoctorID         int             `json:"doctor_id" bson:"doctor_id"`
	DoctorName       string          `json:"doctor_name" bson:"doctor_name"`
	DoctorEngine     string          `json:"doctor_engine_name" bson:"doctor_engine_name"`
	DialogHistory    []DialogEntry   `json:"dialog_history,omitempty" bson:"dialog_history,omitempty"`
	InitialDiagnosis DiagnosisRecord `json:"initial_diagnosis" bson:"initial_diagnosis"`
	Note             string          `json:"note,omitempty" bson:"note,omitempty"`
}

// ConsultationRecord is the one-JSON-object-per-line output record for a
// collaborative consultation. patient_id is the join key for downstream
// evaluation tooling.
type ConsultationRecord struct {
	RunID                  string                `json:"run_id" bson:"run_id"`
	PatientID              string                `json:"patient_id" bson:"patient_id"`
	InitialConsultations   []InitialConsultation `json:"initial_consultations" bson:"initial_consultations"`
	AdditionalInfoGathered []AdditionalInfo      `json:"additional_info_gathered" bson:"additional_info_gathered"`
	FinalTurn              int                   `json:"final_turn" bson:"final_turn"`
	Diagnosis              DiagnosisRecord       `json:"diagnosis" bson:"diagnosis"`
	DiagnosisInDiscussion  []DiscussionTurn      `json:"diagnosis_in_discussion" bson:"diagnosis_in_discussion"`
	ForcedFinalize         bool                  `json:"forced_finalize" bson:"forced_finalize"`
	DoctorNames            []string              `json:"doctor_names" bson:"doctor_names"`
	DoctorEngineNames      []string              `json:"doctor_engine_names" bson:"doctor_engine_names"`
	HostEngineName         string                `json:"host_engine_name" bson:"host_engine_name"`
	PatientEngineName      string                `json:"patient_engine_name" bson:"patient_engine_name"`
	ReporterEngineName     string                `json:"reporter_engine_name" bson:"reporter_engine_name"`
	Time                   string                `json:"time" bson:"time"`
	TokenUsage             TokenUsageSummary     `json:"token_usage" bson:"token_usage"`
}

// SingleConsultationRecord is the output record of the single-doctor
// consultation scenario.
type SingleConsultationRecord struct {
	RunID              string            `json:"run_id" bson:"run_id"`
	PatientID          string            `json:"patient_id" bson:"patient_id"`
	DialogHistory      []DialogEntry     `json:"dialog_history" bson:"dialog_history"`
	Diagnosis          DiagnosisRecord   `json:"diagnosis" bson:"diagnosis"`
	DoctorEngineName   string            `json:"doctor_engine_name" bson:"doctor_engine_name"`
	PatientEngineName  string            `json:"patient_engine_name" bson:"patient_engine_name"`
	ReporterEngineName string            `json:"reporter_engine_name" bson:"reporter_engine_name"`
	Time               string            `json:"time" bson:"time"`
	TokenUsage         AgentTokenSummary `json:"token_usage" bson:"token_usage"`
}

// PatientCase is one entry of the patient roster: a public profile and the
// hidden medical record that only the patient and reporter agents may see.
type PatientCase struct {
	ID            string            `json:"id" bson:"id"`
	Profile       string            `json:"profile" bson:"profile"`
	MedicalRecord map[string]string `json:"medical_record" bson:"medical_record"`
}
