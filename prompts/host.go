package prompts

import (
	"fmt"
	"strings"
)

// ConstructHostSystemPrompt generates the system prompt for the host chairing
// the multi-doctor discussion.
func ConstructHostSystemPrompt() string {
	return `You chair a case discussion between several physicians who examined the same patient independently. You never examine the patient yourself; you work only from what the doctors report. Your job is to compare their accounts, surface disagreements, and drive the discussion to a single well-supported diagnosis.`
}

// ConstructInitialSummaryPrompt asks the host to summarize the doctors'
// reported symptoms and examinations, flag inconsistencies, and optionally
// raise a clarification question: symptom conflicts go to the patient,
// conflicting examination results go to the examiner.
func ConstructInitialSummaryPrompt(doctorReports string) string {
	return fmt.Sprintf(`Each doctor reported the patient's symptoms and examination results as follows:

%s

Produce exactly these sections:

#Summary#
(one consolidated account of the symptoms and examination results)
#Consistency Analysis#
(where the doctors' accounts agree and where they conflict)
#Query To Patient#
(ONE question for the patient, only if a symptom inconsistency or gap truly requires it; otherwise write "None")
#Query To Examiner#
(ONE question for the examiner, only if the reported examination results are ambiguous or conflict with each other; otherwise write "None")`, doctorReports)
}

// ConstructSummaryRefinementPrompt folds the patient's answer into the host's
// consolidated summary.
func ConstructSummaryRefinementPrompt(summary, patientReply string) string {
	return fmt.Sprintf(`Your current consolidated summary:

%s

The patient answered your question:

%s

Update the summary accordingly. Produce the same sections again:

#Summary#
(updated consolidated account)
#Consistency Analysis#
(updated analysis)
#Query To Patient#
(write "None" unless a critical gap remains)
#Query To Examiner#
(write "None" unless the examination results remain ambiguous)`, summary, patientReply)
}

// ConstructExaminerRefinementPrompt folds the examiner's clarification of
// ambiguous examination results into the host's consolidated summary.
func ConstructExaminerRefinementPrompt(summary, question, examinerReply string) string {
	return fmt.Sprintf(`Your current consolidated summary:

%s

You asked the examiner:

%s

The examiner answered:

%s

Correct the examination part of the summary accordingly. Produce the same sections again:

#Summary#
(updated consolidated account)
#Consistency Analysis#
(updated analysis)
#Query To Patient#
(write "None" unless a critical gap remains)
#Query To Examiner#
(write "None" unless the examination results remain ambiguous)`, summary, question, examinerReply)
}

// ConstructAgreementPrompt asks the host whether the doctors' diagnoses have
// converged.
func ConstructAgreementPrompt(diagnoses string) string {
	return fmt.Sprintf(`The doctors' current diagnoses:

%s

Judge whether they substantively agree on the diagnosis and treatment. Naming the same condition with different wording counts as agreement; different conditions, or conflicting treatment plans, do not.

If they agree, reply with exactly #END# and nothing else.
If they disagree, reply with exactly #CONTINUE# on the first line, then list the concrete points of disagreement as (a), (b), (c) in order of importance.`, diagnoses)
}

// ConstructCritiqueExtractionPrompt condenses a disagreement analysis into at
// most three ranked discussion points.
func ConstructCritiqueExtractionPrompt(critique string) string {
	return fmt.Sprintf(`From the following disagreement analysis, extract the discussion points the doctors should address:

%s

Reply with at most three points, labelled (a), (b), (c), most important first. Keep each point to one sentence. Do not add anything else.`, critique)
}

// ConstructStateAnalysisPrompt asks the host to decide the next step of the
// discussion.
func ConstructStateAnalysisPrompt(summary, diagnoses, agreement string) string {
	return fmt.Sprintf(`Consolidated patient summary:

%s

The doctors' current diagnoses:

%s

Agreement assessment:

%s

Decide the next step. The possible actions are:
- continue_discussion: the doctors should keep discussing their disagreement
- query_patient: missing information from the patient blocks progress
- finalize: the diagnoses have converged and can be finalized

Produce exactly these sections:

#Reason#
(one short paragraph justifying the action)
#Action#
(one of: continue_discussion, query_patient, finalize)
#Questions#
(if the action is query_patient, up to three questions for the patient, one per line; otherwise write "None". Questions must be answerable by the patient; never ask for examinations or tests)`, summary, diagnoses, agreement)
}

// ConstructConsolidatedFindingsPrompt merges every doctor's symptoms and
// examinations into one account, using the double-hash section format so the
// output cannot be confused with a single doctor's diagnosis.
func ConstructConsolidatedFindingsPrompt(perDoctor string) string {
	return fmt.Sprintf(`Each doctor recorded the patient's symptoms and examinations as follows:

%s

Merge them into one complete, de-duplicated account. Produce exactly these sections:

##Symptoms##
(all symptoms, merged)
##Examinations##
(all examinations and their results, merged)`, perDoctor)
}

// ConstructFinalDiagnosisPrompt asks the host to issue the consultation's
// final diagnosis from the consolidated findings and the doctors' conclusions.
func ConstructFinalDiagnosisPrompt(symptoms, examinations, diagnoses string) string {
	return fmt.Sprintf(`The discussion is closing. Consolidated findings:

Symptoms:
%s

Examinations:
%s

The doctors' final diagnoses:

%s

Issue the consultation's single final diagnosis using exactly this format:

%s`, symptoms, examinations, diagnoses, DiagnosisFormat)
}

// FormatDoctorDiagnoses renders named diagnoses for inclusion in host
// prompts.
func FormatDoctorDiagnoses(names, diagnoses []string) string {
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Diagnosis by %s:\n%s\n", name, diagnoses[i])
	}
	return b.String()
}
