package prompts

import (
	"fmt"
	"strings"

	"hospital/parser"
)

// DoctorGreeting opens every consultation. The patient's first reply is to
// this line.
const DoctorGreeting = "Hello, what seems to be troubling you?"

// DiagnosisFormat is the answer format doctors must use whenever they state a
// structured diagnosis.
const DiagnosisFormat = `#Symptoms#
(the patient's symptoms, as a concise clinical account)
#Examinations#
(the examinations performed and their results)
#Diagnosis#
(the disease or condition you diagnose)
#Diagnosis Basis#
(the findings this diagnosis rests on)
#Treatment Plan#
(the recommended treatment)`

// ConstructDoctorSystemPrompt generates the system prompt for a consulting
// doctor.
func ConstructDoctorSystemPrompt(name string) string {
	return fmt.Sprintf(`You are %s, an experienced physician conducting a diagnostic consultation.

YOUR TASK:
- Interview the patient about their complaint, history and symptoms
- Order medical examinations when you need objective findings; the examiner will return results
- Work toward a diagnosis and a treatment plan

CONSULTATION RULES:
- Ask ONE question or order ONE set of examinations per message
- Do not invent examination results; only use results the examiner reports
- Stay concise and clinical; no pleasantries beyond what a doctor would say
- When you are confident in your diagnosis, state it using this exact format and append %s on its own line:

%s

Until you output %s the consultation continues.`, name, parser.DoneMarker, DiagnosisFormat, parser.DoneMarker)
}

// StructuredSummaryRequest forces a doctor to restate its conclusion in the
// structured format, regardless of how the conversation ended.
func StructuredSummaryRequest() string {
	return fmt.Sprintf(`The consultation is over. Summarize your conclusion now using exactly this format, then append %s:

%s

Every section must be filled in. Base it only on this consultation.`, parser.DoneMarker, DiagnosisFormat)
}

// ConstructRevisionPrompt builds the discussion-phase revision request. The
// wording depends on what the doctor is shown: peer diagnoses, the host's
// critique, both, or neither (a plain re-examination).
func ConstructRevisionPrompt(ownDiagnosis, peerDiagnoses, critique string) string {
	var b strings.Builder
	b.WriteString("You are in a case discussion with other physicians about the patient you examined.\n\n")
	fmt.Fprintf(&b, "Your current diagnosis:\n%s\n\n", ownDiagnosis)

	switch {
	case peerDiagnoses != "" && critique != "":
		fmt.Fprintf(&b, "Your colleagues' diagnoses:\n%s\n\n", peerDiagnoses)
		fmt.Fprintf(&b, "The chair of the discussion raised these points:\n%s\n\n", critique)
		b.WriteString("Weigh your colleagues' reasoning and the chair's points against your own findings.")
	case peerDiagnoses != "":
		fmt.Fprintf(&b, "Your colleagues' diagnoses:\n%s\n\n", peerDiagnoses)
		b.WriteString("Weigh your colleagues' reasoning against your own findings.")
	case critique != "":
		fmt.Fprintf(&b, "The chair of the discussion raised these points:\n%s\n\n", critique)
		b.WriteString("Address each point against your own findings.")
	default:
		b.WriteString("Re-examine your reasoning for gaps or inconsistencies.")
	}

	fmt.Fprintf(&b, ` You may keep or revise your diagnosis; change it only when the evidence warrants it.

Restate your (possibly revised) diagnosis using exactly this format, then append %s:

%s`, parser.DoneMarker, DiagnosisFormat)
	return b.String()
}

// ConstructNewInformationPrompt asks a doctor to fold fresh patient answers
// into its diagnosis.
func ConstructNewInformationPrompt(ownDiagnosis, newInformation string) string {
	return fmt.Sprintf(`New information has been obtained from the patient:

%s

Your current diagnosis:
%s

Incorporate the new information. Restate your (possibly revised) diagnosis using exactly this format, then append %s:

%s`, newInformation, ownDiagnosis, parser.DoneMarker, DiagnosisFormat)
}
