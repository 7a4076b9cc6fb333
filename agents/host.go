package agents

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"hospital/engine"
	"hospital/models"
	"hospital/parser"
	"hospital/prompts"
)

// minQueryLength filters degenerate host queries ("No", "-", "None.") that
// would waste a patient round-trip.
const minQueryLength = 5

// maxPatientQuestions caps how many questions one query_patient action may
// carry.
const maxPatientQuestions = 3

// Host chairs the discussion phase. It only ever sees what the doctors
// report; the patient's record never reaches it directly.
type Host struct {
	engine engine.Engine
}

// NewHost builds the discussion host.
func NewHost(eng engine.Engine) *Host {
	return &Host{engine: eng}
}

// EngineName returns the backing model identifier.
func (h *Host) EngineName() string { return h.engine.ModelName() }

// NewSession opens a discussion for one patient.
func (h *Host) NewSession() *HostSession {
	return &HostSession{
		host:   h,
		memory: NewMemory(prompts.ConstructHostSystemPrompt()),
		Ledger: &models.TokenLedger{},
	}
}

// HostSession is one patient's discussion state: the consolidated summary
// thread plus token accounting. Judgement calls (agreement, state analysis,
// finalization) are one-shot so earlier verdicts cannot anchor later ones.
type HostSession struct {
	host    *Host
	memory  *Memory
	Ledger  *models.TokenLedger
	summary string
}

// Summary returns the current consolidated patient summary.
func (s *HostSession) Summary() string { return s.summary }

// speak runs the summary thread through the session memory.
func (s *HostSession) speak(ctx context.Context, prompt, interactionType string, turn int) (string, error) {
	s.memory.Append(engine.RoleUser, prompt)
	reply, usage, err := s.host.engine.Chat(ctx, s.memory.Messages())
	if err != nil {
		return "", fmt.Errorf("host: %w", err)
	}
	s.memory.Append(engine.RoleAssistant, reply)
	s.Ledger.Record(usage.InputTokens, usage.OutputTokens, interactionType, turn)
	return reply, nil
}

// ask runs a one-shot judgement call outside the summary thread.
func (s *HostSession) ask(ctx context.Context, prompt, interactionType string, turn int) (string, error) {
	msgs := []engine.Message{
		{Role: engine.RoleSystem, Content: prompts.ConstructHostSystemPrompt()},
		{Role: engine.RoleUser, Content: prompt},
	}
	reply, usage, err := s.host.engine.Chat(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("host: %w", err)
	}
	s.Ledger.Record(usage.InputTokens, usage.OutputTokens, interactionType, turn)
	return reply, nil
}

// DoctorReport is the slice of a doctor's diagnosis the host may see before
// the discussion proper: reported symptoms and examinations only.
type DoctorReport struct {
	Name        string
	Symptom     string
	Examination string
}

func formatReports(reports []DoctorReport) string {
	var b strings.Builder
	for _, r := range reports {
		fmt.Fprintf(&b, "Report by %s:\nSymptoms: %s\nExaminations: %s\n\n", r.Name, r.Symptom, r.Examination)
	}
	return strings.TrimSpace(b.String())
}

// SummaryQueries are the host's optional clarification questions after a
// summary round: symptom ambiguities go to the patient, conflicting
// examination results go to the examiner.
type SummaryQueries struct {
	ToPatient  string
	ToExaminer string
}

// Empty reports whether no clarification was requested.
func (q SummaryQueries) Empty() bool { return q.ToPatient == "" && q.ToExaminer == "" }

// SummarizeFromDoctors builds the initial consolidated summary from the
// doctors' reports and returns the host's clarification queries, if any.
func (s *HostSession) SummarizeFromDoctors(ctx context.Context, reports []DoctorReport, turn int) (SummaryQueries, error) {
	reply, err := s.speak(ctx, prompts.ConstructInitialSummaryPrompt(formatReports(reports)), models.InteractionInitialSummary, turn)
	if err != nil {
		return SummaryQueries{}, err
	}
	return s.absorbSummary(reply)
}

// RefineSummary folds the patient's answer into the summary; follow-up
// queries may come back.
func (s *HostSession) RefineSummary(ctx context.Context, patientReply string, turn int) (SummaryQueries, error) {
	reply, err := s.speak(ctx, prompts.ConstructSummaryRefinementPrompt(s.summary, patientReply), models.InteractionSummaryRefinement, turn)
	if err != nil {
		return SummaryQueries{}, err
	}
	return s.absorbSummary(reply)
}

// ClarifyExaminations folds the examiner's answer to an examination
// clarification question into the summary.
func (s *HostSession) ClarifyExaminations(ctx context.Context, question, examinerReply string, turn int) (SummaryQueries, error) {
	reply, err := s.speak(ctx, prompts.ConstructExaminerRefinementPrompt(s.summary, question, examinerReply), models.InteractionSummaryRefinement, turn)
	if err != nil {
		return SummaryQueries{}, err
	}
	return s.absorbSummary(reply)
}

func (s *HostSession) absorbSummary(reply string) (SummaryQueries, error) {
	sections, err := parser.HostSummary.Parse(reply)
	if err != nil {
		return SummaryQueries{}, err
	}
	if v, ok := sections[parser.KeySummary]; ok && v != "" {
		s.summary = v
	} else {
		log.Warn("[HOST_SUMMARY_MISSING] keeping previous summary")
	}
	return SummaryQueries{
		ToPatient:  usableQuery(sections[parser.KeyQuery]),
		ToExaminer: usableQuery(sections[parser.KeyQueryExaminer]),
	}, nil
}

// usableQuery filters out "None" placeholders and degenerate fragments.
func usableQuery(q string) string {
	q = strings.TrimSpace(q)
	if strings.EqualFold(strings.Trim(q, "."), "none") || len(q) < minQueryLength {
		return ""
	}
	return q
}

// MeasureAgreement judges whether the doctors' diagnoses have converged.
// When they have not, the returned critique holds the host's ranked
// disagreement points. An answer carrying neither marker is an error: the
// discussion cannot proceed on an unreadable verdict.
func (s *HostSession) MeasureAgreement(ctx context.Context, diagnoses string, turn int) (bool, string, error) {
	reply, err := s.ask(ctx, prompts.ConstructAgreementPrompt(diagnoses), models.InteractionAgreementCheck, turn)
	if err != nil {
		return false, "", err
	}
	switch {
	case strings.Contains(reply, models.MarkerAgreementEnd):
		return true, "", nil
	case strings.Contains(reply, models.MarkerAgreementContinue):
		return false, critiqueBody(reply), nil
	}
	return false, "", fmt.Errorf("host: agreement verdict carries neither %s nor %s", models.MarkerAgreementEnd, models.MarkerAgreementContinue)
}

// critiqueBody drops the marker preamble, keeping the ranked points from
// "(a)" on when present.
func critiqueBody(reply string) string {
	if i := strings.Index(reply, "(a)"); i >= 0 {
		return strings.TrimSpace(reply[i:])
	}
	return strings.TrimSpace(strings.ReplaceAll(reply, models.MarkerAgreementContinue, ""))
}

// ExtractCritique condenses a disagreement analysis into at most three
// ranked points for the critique-focused revision mode.
func (s *HostSession) ExtractCritique(ctx context.Context, critique string, turn int) (string, error) {
	reply, err := s.ask(ctx, prompts.ConstructCritiqueExtractionPrompt(critique), models.InteractionCritiqueExtraction, turn)
	if err != nil {
		return "", err
	}
	return critiqueBody(reply), nil
}

// Words that indicate the host is asking the patient to undergo testing.
// New examinations cannot be requested mid-discussion, so such questions are
// dropped rather than forwarded.
var examinationWording = []string{"examination", "x-ray", "ultrasound", "blood test", "ct scan", "mri", "biopsy"}

func requestsExamination(q string) bool {
	lower := strings.ToLower(q)
	for _, w := range examinationWording {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// AnalyzeState decides the discussion's next step from the summary, the
// current diagnoses and the agreement assessment.
func (s *HostSession) AnalyzeState(ctx context.Context, diagnoses, agreement string, turn int) (models.HostDecision, error) {
	reply, err := s.ask(ctx, prompts.ConstructStateAnalysisPrompt(s.summary, diagnoses, agreement), models.InteractionStateAnalysis, turn)
	if err != nil {
		return models.HostDecision{}, err
	}
	sections, err := parser.HostDecision.Parse(reply)
	if err != nil {
		return models.HostDecision{}, err
	}

	decision := models.HostDecision{
		Action: strings.TrimSpace(strings.ToLower(sections[parser.KeyAction])),
		Reason: sections[parser.KeyReason],
	}
	switch decision.Action {
	case models.ActionContinueDiscussion, models.ActionQueryPatient, models.ActionFinalize:
	default:
		return models.HostDecision{}, fmt.Errorf("host: state analysis returned unknown action %q", decision.Action)
	}

	if decision.Action == models.ActionQueryPatient {
		decision.Questions = splitQuestions(sections[parser.KeyQuestions])
		if len(decision.Questions) == 0 {
			log.Warn("[HOST_QUERY_EMPTY] query_patient with no usable question, continuing discussion instead")
			decision.Action = models.ActionContinueDiscussion
		}
	}
	return decision, nil
}

func splitQuestions(raw string) []string {
	var questions []string
	for _, line := range strings.Split(raw, "\n") {
		q := usableQuery(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789. "))
		if q == "" {
			continue
		}
		if requestsExamination(q) {
			log.Warnf("[HOST_QUERY_EXAMINATION] dropping question asking for testing the patient cannot perform: %q", q)
			continue
		}
		questions = append(questions, q)
	}
	if len(questions) > maxPatientQuestions {
		log.Warnf("[HOST_QUERY_TRUNCATED] %d questions, keeping first %d", len(questions), maxPatientQuestions)
		questions = questions[:maxPatientQuestions]
	}
	return questions
}

// Finalize closes the consultation: it consolidates every doctor's findings,
// then issues the single final diagnosis.
func (s *HostSession) Finalize(ctx context.Context, perDoctorFindings, diagnoses string, turn int) (models.DiagnosisRecord, error) {
	findingsReply, err := s.ask(ctx, prompts.ConstructConsolidatedFindingsPrompt(perDoctorFindings), models.InteractionFinalization, turn)
	if err != nil {
		return models.DiagnosisRecord{}, err
	}
	findings, err := parser.Consolidated.Parse(findingsReply)
	if err != nil {
		return models.DiagnosisRecord{}, err
	}

	finalReply, err := s.ask(ctx, prompts.ConstructFinalDiagnosisPrompt(
		findings[models.FieldSymptom], findings[models.FieldExamination], diagnoses),
		models.InteractionFinalization, turn)
	if err != nil {
		return models.DiagnosisRecord{}, err
	}
	sections, err := parser.Diagnosis.Parse(finalReply)
	if err != nil {
		return models.DiagnosisRecord{}, err
	}

	var final models.DiagnosisRecord
	final.Merge(findings)
	final.Merge(sections)
	if missing := final.MissingFields(); len(missing) > 0 {
		log.Warnf("[FINAL_DIAGNOSIS_FIELDS_MISSING] fields=%s", strings.Join(missing, ","))
	}
	return final, nil
}
