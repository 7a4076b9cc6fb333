package parser

import "hospital/models"

// DoneMarker is the completion tag a doctor appends once the structured
// diagnosis is complete.
const DoneMarker = "<DIAGNOSIS COMPLETE>"

// Diagnosis is the five-section answer format doctors use for structured
// summaries and revisions.
var Diagnosis = Grammar{
	Sections: []Section{
		{Label: "Symptoms", Key: models.FieldSymptom},
		{Label: "Examinations", Key: models.FieldExamination},
		{Label: "Diagnosis", Key: models.FieldDiagnosisResult},
		{Label: "Diagnosis Basis", Key: models.FieldDiagnosisBasis},
		{Label: "Treatment Plan", Key: models.FieldTreatmentPlan},
	},
	DoneMarker: DoneMarker,
}

// Section keys private to the host's answer formats.
const (
	KeySummary       = "summary"
	KeyConsistency   = "consistency_analysis"
	KeyQuery         = "query_to_patient"
	KeyQueryExaminer = "query_to_examiner"
	KeyReason        = "reason"
	KeyAction        = "action"
	KeyQuestions     = "questions"
)

// HostSummary is the host's cross-doctor summary format. The two query
// sections are routinely absent, so the grammar stays lenient.
var HostSummary = Grammar{
	Sections: []Section{
		{Label: "Summary", Key: KeySummary},
		{Label: "Consistency Analysis", Key: KeyConsistency},
		{Label: "Query To Patient", Key: KeyQuery},
		{Label: "Query To Examiner", Key: KeyQueryExaminer},
	},
}

// HostDecision is the host's state-analysis verdict format.
var HostDecision = Grammar{
	Sections: []Section{
		{Label: "Reason", Key: KeyReason},
		{Label: "Action", Key: KeyAction},
		{Label: "Questions", Key: KeyQuestions},
	},
}

// Consolidated is the double-hash format the host uses when merging every
// doctor's symptoms and examinations into one account.
var Consolidated = Grammar{
	Sections: []Section{
		{Label: "#Symptoms#", Key: models.FieldSymptom},
		{Label: "#Examinations#", Key: models.FieldExamination},
	},
}
