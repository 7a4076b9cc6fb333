package agents

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hospital/models"
)

func TestMeasureAgreementEnd(t *testing.T) {
	sess := NewHost(&stubEngine{responses: []string{"#END#"}}).NewSession()

	agreed, critique, err := sess.MeasureAgreement(context.Background(), "diagnoses", 1)
	require.NoError(t, err)
	assert.True(t, agreed)
	assert.Empty(t, critique)
}

func TestMeasureAgreementContinueStripsPreamble(t *testing.T) {
	reply := "#CONTINUE#\nThe doctors disagree on several points.\n" +
		"(a) Pneumonia versus bronchitis as the primary diagnosis.\n" +
		"(b) Whether antibiotics are warranted."
	sess := NewHost(&stubEngine{responses: []string{reply}}).NewSession()

	agreed, critique, err := sess.MeasureAgreement(context.Background(), "diagnoses", 1)
	require.NoError(t, err)
	assert.False(t, agreed)
	assert.True(t, strings.HasPrefix(critique, "(a)"))
	assert.Contains(t, critique, "(b)")
}

func TestMeasureAgreementUnparseable(t *testing.T) {
	sess := NewHost(&stubEngine{responses: []string{"They mostly agree, I think."}}).NewSession()

	_, _, err := sess.MeasureAgreement(context.Background(), "diagnoses", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "#END#")
}

func TestAnalyzeStateContinue(t *testing.T) {
	reply := "#Reason#\nThe primary diagnosis is still contested.\n" +
		"#Action#\ncontinue_discussion\n#Questions#\nNone\n"
	sess := NewHost(&stubEngine{responses: []string{reply}}).NewSession()

	d, err := sess.AnalyzeState(context.Background(), "diagnoses", "#CONTINUE#", 2)
	require.NoError(t, err)
	assert.Equal(t, models.ActionContinueDiscussion, d.Action)
	assert.Empty(t, d.Questions)
	assert.Equal(t, "The primary diagnosis is still contested.", d.Reason)
}

func TestAnalyzeStateQueryPatientTruncatesQuestions(t *testing.T) {
	reply := "#Reason#\nMissing history blocks progress.\n#Action#\nquery_patient\n" +
		"#Questions#\n1. How long have you smoked?\n2. Any recent travel?\n3. Do you keep pets at home?\n4. Any family history of asthma?\n"
	sess := NewHost(&stubEngine{responses: []string{reply}}).NewSession()

	d, err := sess.AnalyzeState(context.Background(), "diagnoses", "#CONTINUE#", 2)
	require.NoError(t, err)
	assert.Equal(t, models.ActionQueryPatient, d.Action)
	require.Len(t, d.Questions, 3)
	assert.Equal(t, "How long have you smoked?", d.Questions[0])
}

func TestAnalyzeStateEmptyQueryFallsBackToContinue(t *testing.T) {
	reply := "#Reason#\nWe need more information.\n#Action#\nquery_patient\n#Questions#\nNone\n"
	sess := NewHost(&stubEngine{responses: []string{reply}}).NewSession()

	d, err := sess.AnalyzeState(context.Background(), "diagnoses", "#CONTINUE#", 2)
	require.NoError(t, err)
	assert.Equal(t, models.ActionContinueDiscussion, d.Action)
}

func TestAnalyzeStateExaminationRequestDropped(t *testing.T) {
	reply := "#Reason#\nThe infiltrate needs confirmation.\n#Action#\nquery_patient\n" +
		"#Questions#\nCould you undergo a chest CT scan and a blood test?\n"
	sess := NewHost(&stubEngine{responses: []string{reply}}).NewSession()

	d, err := sess.AnalyzeState(context.Background(), "diagnoses", "#CONTINUE#", 2)
	require.NoError(t, err)
	// No new examinations mid-discussion; with nothing left to ask, the
	// discussion continues instead.
	assert.Equal(t, models.ActionContinueDiscussion, d.Action)
	assert.Empty(t, d.Questions)
}

func TestAnalyzeStateKeepsOnlyAnswerableQuestions(t *testing.T) {
	reply := "#Reason#\nHistory is incomplete.\n#Action#\nquery_patient\n" +
		"#Questions#\n1. When did the fever start?\n2. Please get an ultrasound of the abdomen.\n"
	sess := NewHost(&stubEngine{responses: []string{reply}}).NewSession()

	d, err := sess.AnalyzeState(context.Background(), "diagnoses", "#CONTINUE#", 2)
	require.NoError(t, err)
	assert.Equal(t, models.ActionQueryPatient, d.Action)
	require.Len(t, d.Questions, 1)
	assert.Equal(t, "When did the fever start?", d.Questions[0])
}

func TestAnalyzeStateUnknownAction(t *testing.T) {
	reply := "#Reason#\nDone.\n#Action#\nwrap_up\n#Questions#\nNone\n"
	sess := NewHost(&stubEngine{responses: []string{reply}}).NewSession()

	_, err := sess.AnalyzeState(context.Background(), "diagnoses", "#END#", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrap_up")
}

func TestSummarizeFromDoctorsReturnsUsableQueryOnly(t *testing.T) {
	reply := "#Summary#\nFever, cough, infiltrate on X-ray.\n" +
		"#Consistency Analysis#\nThe accounts agree.\n" +
		"#Query To Patient#\nNone\n"
	eng := &stubEngine{responses: []string{reply}}
	sess := NewHost(eng).NewSession()

	queries, err := sess.SummarizeFromDoctors(context.Background(), []DoctorReport{
		{Name: "Alice", Symptom: "Fever, cough", Examination: "X-ray: infiltrate"},
	}, 1)
	require.NoError(t, err)
	assert.True(t, queries.Empty())
	assert.Equal(t, "Fever, cough, infiltrate on X-ray.", sess.Summary())
	assert.Contains(t, eng.lastPrompt(), "Report by Alice")
}

func TestSummarizeQueryBelowMinimumDropped(t *testing.T) {
	reply := "#Summary#\nFever.\n#Consistency Analysis#\nAgree.\n#Query To Patient#\nNo\n"
	sess := NewHost(&stubEngine{responses: []string{reply}}).NewSession()

	queries, err := sess.SummarizeFromDoctors(context.Background(), nil, 1)
	require.NoError(t, err)
	assert.Empty(t, queries.ToPatient)
}

func TestSummarizeFromDoctorsReturnsExaminerQuery(t *testing.T) {
	reply := "#Summary#\nFever, infiltrate on X-ray.\n" +
		"#Consistency Analysis#\nThe reported X-ray findings conflict.\n" +
		"#Query To Patient#\nNone\n" +
		"#Query To Examiner#\nWas the infiltrate in the right or the left lower lobe?\n"
	sess := NewHost(&stubEngine{responses: []string{reply}}).NewSession()

	queries, err := sess.SummarizeFromDoctors(context.Background(), nil, 1)
	require.NoError(t, err)
	assert.Empty(t, queries.ToPatient)
	assert.Equal(t, "Was the infiltrate in the right or the left lower lobe?", queries.ToExaminer)
}

func TestClarifyExaminationsUpdatesSummary(t *testing.T) {
	reply := "#Summary#\nFever. X-ray: right lower lobe infiltrate.\n" +
		"#Consistency Analysis#\nResolved by the examiner.\n" +
		"#Query To Patient#\nNone\n#Query To Examiner#\nNone\n"
	eng := &stubEngine{responses: []string{reply}}
	sess := NewHost(eng).NewSession()

	queries, err := sess.ClarifyExaminations(context.Background(),
		"Was the infiltrate in the right or the left lower lobe?",
		"Right lower lobe, confirmed on the lateral view.", 1)
	require.NoError(t, err)
	assert.True(t, queries.Empty())
	assert.Equal(t, "Fever. X-ray: right lower lobe infiltrate.", sess.Summary())
	assert.Contains(t, eng.lastPrompt(), "Right lower lobe, confirmed on the lateral view.")

	require.Len(t, sess.Ledger.Interactions, 1)
	assert.Equal(t, models.InteractionSummaryRefinement, sess.Ledger.Interactions[0].Type)
}

func TestFinalizeMergesFindingsAndDiagnosis(t *testing.T) {
	findings := "##Symptoms##\nFever and productive cough.\n##Examinations##\nX-ray: infiltrate. WBC elevated.\n"
	final := "#Symptoms#\nFever and productive cough.\n#Examinations#\nX-ray: infiltrate. WBC elevated.\n" +
		"#Diagnosis#\nCommunity-acquired pneumonia.\n#Diagnosis Basis#\nRadiological and laboratory findings.\n" +
		"#Treatment Plan#\nAmoxicillin, follow-up in one week.\n"
	sess := NewHost(&stubEngine{responses: []string{findings, final}}).NewSession()

	rec, err := sess.Finalize(context.Background(), "per-doctor findings", "diagnoses", 3)
	require.NoError(t, err)
	assert.Equal(t, "Community-acquired pneumonia.", rec.DiagnosisResult)
	assert.Equal(t, "Fever and productive cough.", rec.Symptom)
	assert.Empty(t, rec.MissingFields())

	require.Len(t, sess.Ledger.Interactions, 2)
	assert.Equal(t, models.InteractionFinalization, sess.Ledger.Interactions[0].Type)
}
