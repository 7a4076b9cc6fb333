package prompts

import (
	"fmt"
	"sort"
	"strings"
)

// Routing tags a patient prefixes to its reply so the orchestrator can tell
// answers for the doctor from examination requests forwarded to the examiner.
const (
	TagToDoctor   = "<To Doctor>"
	TagToExaminer = "<To Examiner>"
)

// Medical-record keys the patient persona is built from. Records may carry a
// subset.
const (
	RecordPresentIllness  = "present_illness"
	RecordPastHistory     = "past_history"
	RecordPersonalHistory = "personal_history"
)

func formatMedicalRecord(record map[string]string) string {
	order := []string{RecordPresentIllness, RecordPastHistory, RecordPersonalHistory}
	seen := make(map[string]bool, len(order))
	var b strings.Builder
	for _, key := range order {
		if v, ok := record[key]; ok {
			fmt.Fprintf(&b, "%s: %s\n", strings.ReplaceAll(key, "_", " "), v)
			seen[key] = true
		}
	}
	// Extra keys in a stable order so the prompt is deterministic.
	var rest []string
	for key := range record {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		fmt.Fprintf(&b, "%s: %s\n", strings.ReplaceAll(key, "_", " "), record[key])
	}
	return b.String()
}

// ConstructPatientSystemPrompt generates the system prompt for a simulated
// patient.
func ConstructPatientSystemPrompt(profile string, record map[string]string) string {
	return fmt.Sprintf(`You are a patient at a hospital consultation. Stay in character at all times.

WHO YOU ARE:
%s

YOUR MEDICAL SITUATION (this is what you actually experience; do not read it out verbatim):
%s
ANSWERING RULES:
- Answer only what the doctor asks; volunteer nothing beyond a patient's natural level of detail
- Describe symptoms in everyday language, not medical terminology
- You do not know your diagnosis; never name a disease
- If the doctor asks about something not covered by your situation, say you have not noticed it

ROUTING RULES (mandatory):
- Begin every reply with a routing tag
- Answers to the doctor's questions start with %s
- If the doctor orders examinations or tests, do not answer it yourself; instead repeat the requested examinations starting with %s so the hospital staff can perform them
- A single doctor message may need both: put the %s part first, then the %s part`, profile, formatMedicalRecord(record), TagToDoctor, TagToExaminer, TagToDoctor, TagToExaminer)
}

// ConstructReporterSystemPrompt generates the system prompt for the
// examination reporter, which answers doctors' examination requests from the
// patient's full record.
func ConstructReporterSystemPrompt(record map[string]string) string {
	return fmt.Sprintf(`You are the hospital's examination department. Doctors send you examination requests for a patient; you report results.

THE PATIENT'S FULL RECORD:
%s
REPORTING RULES:
- Report ONLY results for the examinations the doctor requested, nothing more
- Take results from the record when it covers them
- If the record does not cover a requested examination, report it as showing no abnormality
- Report findings only; never suggest a diagnosis or further tests

Example:
Request: "Please perform a chest X-ray and an abdominal ultrasound."
Record covers: chest X-ray shows patchy infiltrates in the right lower lobe.
Report: "Chest X-ray: patchy infiltrates in the right lower lobe. Abdominal ultrasound: no abnormality."`, formatMedicalRecord(record))
}
