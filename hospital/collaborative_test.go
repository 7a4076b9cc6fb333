package hospital

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hospital/agents"
	"hospital/engine"
	"hospital/models"
	"hospital/parser"
)

// stubEngine replays scripted responses and records every prompt.
type stubEngine struct {
	name      string
	responses []string
	calls     int
	prompts   [][]engine.Message
}

func (s *stubEngine) ModelName() string {
	if s.name == "" {
		return "stub"
	}
	return s.name
}

func (s *stubEngine) Chat(_ context.Context, messages []engine.Message) (string, engine.Usage, error) {
	s.prompts = append(s.prompts, append([]engine.Message(nil), messages...))
	if s.calls >= len(s.responses) {
		return "", engine.Usage{}, errors.New("stub engine: script exhausted")
	}
	r := s.responses[s.calls]
	s.calls++
	return r, engine.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, nil
}

func diagnosisReply(result string) string {
	return "#Symptoms#\nFever and cough for three days.\n" +
		"#Examinations#\nChest X-ray: right lower lobe infiltrate.\n" +
		"#Diagnosis#\n" + result + "\n" +
		"#Diagnosis Basis#\nRadiological findings with febrile presentation.\n" +
		"#Treatment Plan#\nAntibiotics and follow-up.\n" +
		parser.DoneMarker
}

const (
	summaryReply = "#Summary#\nFever and cough, infiltrate on X-ray.\n" +
		"#Consistency Analysis#\nThe accounts are consistent.\n" +
		"#Query To Patient#\nNone\n"
	agreeReply    = "#END#"
	disagreeReply = "#CONTINUE#\n(a) Pneumonia versus bronchitis as the primary diagnosis."
	finalizeReply = "#Reason#\nThe diagnoses agree.\n#Action#\nfinalize\n#Questions#\nNone\n"
	continueReply = "#Reason#\nThe primary diagnosis is still contested.\n#Action#\ncontinue_discussion\n#Questions#\nNone\n"
	findingsReply = "##Symptoms##\nFever and cough for three days.\n" +
		"##Examinations##\nChest X-ray: right lower lobe infiltrate.\n"
	patientReply = "<To Doctor> I have had a fever and a cough for three days."

	// Record detail the doctors never report; the host must never see it.
	hiddenRecordDetail = "chronic hepatitis B carrier since 2009"
)

// interview is the scripted initial consultation: one exchange, then the
// forced structured summary.
func interview(result string) []string {
	return []string{
		"I have what I need. " + parser.DoneMarker,
		diagnosisReply(result),
	}
}

func runScenario(t *testing.T, cfg Config, d1, d2, host, patient *stubEngine) models.ConsultationRecord {
	t.Helper()
	if cfg.SavePath == "" {
		cfg.SavePath = filepath.Join(t.TempDir(), "records.jsonl")
	}
	w, err := NewRecordWriter(cfg.SavePath)
	require.NoError(t, err)

	c, err := NewCollaborative(cfg,
		[]*agents.Doctor{agents.NewDoctor("Alice", 0, d1), agents.NewDoctor("Bob", 1, d2)},
		agents.NewHost(host),
		agents.NewReporter(&stubEngine{}),
		patient, w)
	require.NoError(t, err)

	require.NoError(t, c.Run(context.Background(), []models.PatientCase{{
		ID:      "p1",
		Profile: "34-year-old warehouse worker",
		MedicalRecord: map[string]string{
			"present_illness": "fever and cough for three days",
			"past_history":    hiddenRecordDetail,
		},
	}}))
	require.NoError(t, w.Close())

	f, err := os.Open(cfg.SavePath)
	require.NoError(t, err)
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), maxRecordLine)
	require.True(t, sc.Scan(), "one record expected")
	var rec models.ConsultationRecord
	require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
	require.False(t, sc.Scan(), "exactly one record expected")
	return rec
}

func TestImmediateAgreementFinalizesAtTurnTwo(t *testing.T) {
	d1 := &stubEngine{name: "model-a", responses: interview("Community-acquired pneumonia.")}
	d2 := &stubEngine{name: "model-b", responses: interview("Community-acquired pneumonia.")}
	host := &stubEngine{responses: []string{
		summaryReply, agreeReply, finalizeReply,
		findingsReply, diagnosisReply("Community-acquired pneumonia."),
	}}
	patient := &stubEngine{responses: []string{patientReply, patientReply}}

	rec := runScenario(t, Config{}, d1, d2, host, patient)

	assert.Equal(t, "p1", rec.PatientID)
	assert.False(t, rec.ForcedFinalize)
	assert.Equal(t, 2, rec.FinalTurn)
	require.Len(t, rec.DiagnosisInDiscussion, 2)
	assert.Equal(t, models.ActionFinalize, rec.DiagnosisInDiscussion[0].HostDecision.Action)
	require.NotNil(t, rec.DiagnosisInDiscussion[1].FinalDiagnosisByHost)
	assert.Equal(t, "Community-acquired pneumonia.", rec.Diagnosis.DiagnosisResult)

	require.Len(t, rec.InitialConsultations, 2)
	assert.NotEmpty(t, rec.InitialConsultations[0].DialogHistory)
	assert.Equal(t, []string{"Alice", "Bob"}, rec.DoctorNames)
	assert.Equal(t, []string{"model-a", "model-b"}, rec.DoctorEngineNames)

	// Both doctors accounted in both phases; no revisions means no
	// discussion-phase doctor interactions.
	assert.Len(t, rec.TokenUsage.InitialConsultationPhase.Doctors, 2)
	assert.Zero(t, rec.TokenUsage.DiscussionPhase.Doctors["Alice"].InteractionCount)
	assert.Positive(t, rec.TokenUsage.DiscussionPhase.Host.TotalInputTokens)

	// The host works from doctor reports only; the hidden record must never
	// reach any of its prompts.
	for _, call := range host.prompts {
		for _, msg := range call {
			assert.NotContains(t, msg.Content, hiddenRecordDetail)
		}
	}
}

func TestDisagreementConvergesAfterRevision(t *testing.T) {
	d1 := &stubEngine{responses: append(interview("Community-acquired pneumonia."), diagnosisReply("Community-acquired pneumonia."))}
	d2 := &stubEngine{responses: append(interview("Acute bronchitis."), diagnosisReply("Community-acquired pneumonia."))}
	host := &stubEngine{responses: []string{
		summaryReply, disagreeReply, continueReply,
		agreeReply, finalizeReply,
		findingsReply, diagnosisReply("Community-acquired pneumonia."),
	}}
	patient := &stubEngine{responses: []string{patientReply, patientReply}}

	rec := runScenario(t, Config{Mode: ModeParallel}, d1, d2, host, patient)

	assert.False(t, rec.ForcedFinalize)
	assert.Equal(t, 2, rec.FinalTurn)
	require.Len(t, rec.DiagnosisInDiscussion, 2)
	assert.Equal(t, models.ActionBeginDiscussion, rec.DiagnosisInDiscussion[0].HostDecision.Action)

	turn2 := rec.DiagnosisInDiscussion[1]
	assert.Equal(t, models.ActionFinalizeAfterDiscussion, turn2.HostDecision.Action)
	require.NotNil(t, turn2.FinalDiagnosisByHost)
	// Pre-revision snapshot keeps the disagreement; the revision converges.
	assert.Equal(t, "Acute bronchitis.", turn2.DiagnosisInTurn[1].Diagnosis.DiagnosisResult)
	assert.Equal(t, "Community-acquired pneumonia.", turn2.RevisedDiagnoses[1].Diagnosis.DiagnosisResult)
	assert.Equal(t, []string{"Bob"}, turn2.RevisedDiagnoses[0].ReceivedFrom)

	// Parallel mode: each doctor's revision prompt carries the peer's
	// diagnosis but not the host critique.
	revisionPrompt := d1.prompts[len(d1.prompts)-1]
	assert.Contains(t, revisionPrompt[len(revisionPrompt)-1].Content, "Diagnosis by Bob")
	assert.NotContains(t, revisionPrompt[len(revisionPrompt)-1].Content, "chair of the discussion")
}

func TestStarModeHidesPeerDiagnoses(t *testing.T) {
	d1 := &stubEngine{responses: append(interview("Community-acquired pneumonia."), diagnosisReply("Community-acquired pneumonia."))}
	d2 := &stubEngine{responses: append(interview("Acute bronchitis."), diagnosisReply("Community-acquired pneumonia."))}
	host := &stubEngine{responses: []string{
		summaryReply, disagreeReply, continueReply,
		agreeReply, finalizeReply,
		findingsReply, diagnosisReply("Community-acquired pneumonia."),
	}}
	patient := &stubEngine{responses: []string{patientReply, patientReply}}

	rec := runScenario(t, Config{Mode: ModeStar}, d1, d2, host, patient)

	turn2 := rec.DiagnosisInDiscussion[1]
	assert.Empty(t, turn2.RevisedDiagnoses[0].ReceivedFrom)

	revisionPrompt := d1.prompts[len(d1.prompts)-1]
	content := revisionPrompt[len(revisionPrompt)-1].Content
	assert.NotContains(t, content, "Diagnosis by Bob")
	assert.Contains(t, content, "chair of the discussion")
	assert.Contains(t, content, "(a) Pneumonia versus bronchitis")
}

func TestBudgetExhaustionForcesFinalize(t *testing.T) {
	d1 := &stubEngine{responses: append(interview("Community-acquired pneumonia."), diagnosisReply("Community-acquired pneumonia."))}
	d2 := &stubEngine{responses: append(interview("Acute bronchitis."), diagnosisReply("Acute bronchitis."))}
	host := &stubEngine{responses: []string{
		summaryReply, disagreeReply, continueReply,
		disagreeReply, continueReply,
		findingsReply, diagnosisReply("Community-acquired pneumonia."),
	}}
	patient := &stubEngine{responses: []string{patientReply, patientReply}}

	rec := runScenario(t, Config{MaxDiscussionTurns: 1}, d1, d2, host, patient)

	assert.True(t, rec.ForcedFinalize)
	assert.Equal(t, 2, rec.FinalTurn)
	require.Len(t, rec.DiagnosisInDiscussion, 2)
	last := rec.DiagnosisInDiscussion[1]
	assert.Equal(t, models.ActionContinueDiscussion, last.HostDecision.Action)
	require.NotNil(t, last.FinalDiagnosisByHost)
	assert.Equal(t, "Community-acquired pneumonia.", rec.Diagnosis.DiagnosisResult)
}

func TestHostQueryGathersPatientInfo(t *testing.T) {
	queryReply := "#Reason#\nThe onset is unclear.\n#Action#\nquery_patient\n" +
		"#Questions#\nWhen exactly did the fever start?\n"
	d1 := &stubEngine{responses: append(interview("Community-acquired pneumonia."), diagnosisReply("Community-acquired pneumonia."))}
	d2 := &stubEngine{responses: append(interview("Acute bronchitis."), diagnosisReply("Community-acquired pneumonia."))}
	host := &stubEngine{responses: []string{
		summaryReply, disagreeReply, queryReply,
		summaryReply, // refinement after the patient's answer
		agreeReply, finalizeReply,
		findingsReply, diagnosisReply("Community-acquired pneumonia."),
	}}
	patient := &stubEngine{responses: []string{
		patientReply, patientReply,
		"<To Doctor> The fever started on Monday evening.",
	}}

	rec := runScenario(t, Config{}, d1, d2, host, patient)

	require.Len(t, rec.AdditionalInfoGathered, 1)
	info := rec.AdditionalInfoGathered[0]
	assert.Equal(t, "When exactly did the fever start?", info.Query)
	assert.Equal(t, "The fever started on Monday evening.", info.Response)

	require.Len(t, rec.DiagnosisInDiscussion, 2)
	assert.Equal(t, models.ActionQueryPatient, rec.DiagnosisInDiscussion[0].HostDecision.Action)
	turn2 := rec.DiagnosisInDiscussion[1]
	assert.Contains(t, turn2.NewInformation, "Monday evening")
	assert.Equal(t, models.ActionFinalizeWithPatientInfo, turn2.HostDecision.Action)

	// The new-information revision goes to the doctors, not a peer exchange.
	revisionPrompt := d1.prompts[len(d1.prompts)-1]
	assert.Contains(t, revisionPrompt[len(revisionPrompt)-1].Content, "New information has been obtained")
}

func TestExaminerClarificationRefinesSummary(t *testing.T) {
	summaryWithExaminerQuery := "#Summary#\nFever and cough, infiltrate on X-ray.\n" +
		"#Consistency Analysis#\nThe reported X-ray findings conflict.\n" +
		"#Query To Patient#\nNone\n" +
		"#Query To Examiner#\nWas the infiltrate in the right or the left lower lobe?\n"
	clarifiedSummary := "#Summary#\nFever and cough, right lower lobe infiltrate.\n" +
		"#Consistency Analysis#\nResolved by the examiner.\n" +
		"#Query To Patient#\nNone\n#Query To Examiner#\nNone\n"

	path := filepath.Join(t.TempDir(), "records.jsonl")
	w, err := NewRecordWriter(path)
	require.NoError(t, err)
	d1 := &stubEngine{responses: interview("Community-acquired pneumonia.")}
	d2 := &stubEngine{responses: interview("Community-acquired pneumonia.")}
	host := &stubEngine{responses: []string{
		summaryWithExaminerQuery, clarifiedSummary,
		agreeReply, finalizeReply,
		findingsReply, diagnosisReply("Community-acquired pneumonia."),
	}}
	reporter := &stubEngine{responses: []string{"Right lower lobe, confirmed on the lateral view."}}
	patient := &stubEngine{responses: []string{patientReply, patientReply}}

	c, err := NewCollaborative(Config{SavePath: path},
		[]*agents.Doctor{agents.NewDoctor("Alice", 0, d1), agents.NewDoctor("Bob", 1, d2)},
		agents.NewHost(host), agents.NewReporter(reporter), patient, w)
	require.NoError(t, err)
	require.NoError(t, c.Run(context.Background(), []models.PatientCase{{
		ID:            "p1",
		MedicalRecord: map[string]string{"present_illness": "fever and cough for three days"},
	}}))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), maxRecordLine)
	require.True(t, sc.Scan(), "one record expected")
	var rec models.ConsultationRecord
	require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))

	require.Len(t, rec.AdditionalInfoGathered, 1)
	info := rec.AdditionalInfoGathered[0]
	assert.Equal(t, "examiner_query", info.Type)
	assert.Equal(t, "Was the infiltrate in the right or the left lower lobe?", info.Query)
	assert.Equal(t, "Right lower lobe, confirmed on the lateral view.", info.Response)

	// The clarification goes to the examiner, not the patient, and the
	// examiner's answer feeds the summary refinement.
	assert.Equal(t, 1, reporter.calls)
	refinement := host.prompts[1]
	assert.Contains(t, refinement[len(refinement)-1].Content, "Right lower lobe, confirmed on the lateral view.")

	assert.Equal(t, 2, rec.FinalTurn)
	assert.Equal(t, "Community-acquired pneumonia.", rec.Diagnosis.DiagnosisResult)
}

func TestGatewayFailureMidDiscussionAbortsPatient(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	w, err := NewRecordWriter(path)
	require.NoError(t, err)
	d1 := &stubEngine{responses: append(interview("Community-acquired pneumonia."), diagnosisReply("Community-acquired pneumonia."))}
	// Bob's script ends before the revision, like a gateway whose retries
	// are exhausted mid-discussion.
	d2 := &stubEngine{responses: interview("Acute bronchitis.")}
	host := &stubEngine{responses: []string{summaryReply, disagreeReply, continueReply}}
	patient := &stubEngine{responses: []string{patientReply, patientReply}}

	c, err := NewCollaborative(Config{SavePath: path},
		[]*agents.Doctor{agents.NewDoctor("Alice", 0, d1), agents.NewDoctor("Bob", 1, d2)},
		agents.NewHost(host), agents.NewReporter(&stubEngine{}), patient, w)
	require.NoError(t, err)

	err = c.runPatient(context.Background(), models.PatientCase{
		ID:            "p1",
		MedicalRecord: map[string]string{"present_illness": "fever and cough for three days"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discussion turn 2")
	assert.Contains(t, err.Error(), "doctor Bob")

	require.NoError(t, w.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data, "a failed consultation must not be recorded")
	assert.False(t, c.isProcessed("p1"))
}

func TestProcessedPatientsAreSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"patient_id":"p1"}`+"\n"), 0o644))

	w, err := NewRecordWriter(path)
	require.NoError(t, err)
	d1, d2, host, patient := &stubEngine{}, &stubEngine{}, &stubEngine{}, &stubEngine{}
	c, err := NewCollaborative(Config{SavePath: path},
		[]*agents.Doctor{agents.NewDoctor("Alice", 0, d1), agents.NewDoctor("Bob", 1, d2)},
		agents.NewHost(host), agents.NewReporter(&stubEngine{}), patient, w)
	require.NoError(t, err)

	require.NoError(t, c.Run(context.Background(), []models.PatientCase{{ID: "p1"}}))
	require.NoError(t, w.Close())

	assert.Zero(t, d1.calls+d2.calls+host.calls+patient.calls, "skipped patient must not touch the gateway")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"patient_id":"p1"}`+"\n", string(data))
}

func TestPrecomputedConsultationsSkipInterview(t *testing.T) {
	pre := map[string][]models.InitialConsultation{
		"p1": {
			{DoctorName: "Alice", InitialDiagnosis: models.DiagnosisRecord{Symptom: "Fever.", Examination: "X-ray.", DiagnosisResult: "Pneumonia.", DiagnosisBasis: "X-ray.", TreatmentPlan: "Antibiotics."}},
			{DoctorName: "Bob", InitialDiagnosis: models.DiagnosisRecord{Symptom: "Fever.", Examination: "X-ray.", DiagnosisResult: "Pneumonia.", DiagnosisBasis: "X-ray.", TreatmentPlan: "Antibiotics."}},
		},
	}
	path := filepath.Join(t.TempDir(), "records.jsonl")
	w, err := NewRecordWriter(path)
	require.NoError(t, err)
	d1, d2 := &stubEngine{}, &stubEngine{}
	host := &stubEngine{responses: []string{
		summaryReply, agreeReply, finalizeReply,
		findingsReply, diagnosisReply("Pneumonia."),
	}}
	patient := &stubEngine{}
	c, err := NewCollaborative(Config{SavePath: path},
		[]*agents.Doctor{agents.NewDoctor("Alice", 0, d1), agents.NewDoctor("Bob", 1, d2)},
		agents.NewHost(host), agents.NewReporter(&stubEngine{}), patient, w)
	require.NoError(t, err)
	c.SetPrecomputedConsultations(pre)

	require.NoError(t, c.Run(context.Background(), []models.PatientCase{{ID: "p1"}}))
	require.NoError(t, w.Close())

	assert.Zero(t, d1.calls, "precomputed diagnosis must skip the interview")
	assert.Zero(t, patient.calls)
}

func TestTurnNumbersStrictlyIncrease(t *testing.T) {
	d1 := &stubEngine{responses: append(interview("Community-acquired pneumonia."), diagnosisReply("Community-acquired pneumonia."), diagnosisReply("Community-acquired pneumonia."))}
	d2 := &stubEngine{responses: append(interview("Acute bronchitis."), diagnosisReply("Acute bronchitis."), diagnosisReply("Community-acquired pneumonia."))}
	host := &stubEngine{responses: []string{
		summaryReply, disagreeReply, continueReply,
		disagreeReply, continueReply,
		agreeReply, finalizeReply,
		findingsReply, diagnosisReply("Community-acquired pneumonia."),
	}}
	patient := &stubEngine{responses: []string{patientReply, patientReply}}

	rec := runScenario(t, Config{MaxDiscussionTurns: 4}, d1, d2, host, patient)

	prev := 0
	for _, turn := range rec.DiagnosisInDiscussion {
		assert.Greater(t, turn.Turn, prev)
		prev = turn.Turn
	}
	assert.Equal(t, 3, rec.FinalTurn)
}
