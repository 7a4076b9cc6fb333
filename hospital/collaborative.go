package hospital

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"hospital/agents"
	"hospital/engine"
	"hospital/models"
	"hospital/prompts"
)

// Discussion visibility modes: what a doctor is shown when revising.
const (
	// ModeParallel shows each doctor its peers' diagnoses.
	ModeParallel = "parallel"
	// ModeStar shows only the host's critique; doctors never see each other.
	ModeStar = "star"
	// ModeParallelWithCritique shows peers plus the host's ranked critique
	// points, condensed by a dedicated extraction call.
	ModeParallelWithCritique = "parallel_with_critique"
)

// Config holds the collaborative scenario's knobs.
type Config struct {
	Mode                 string
	MaxDiscussionTurns   int // discussion turns after the turn-1 assessment
	MaxConversationTurns int // doctor-patient exchanges per interview
	MaxWorkers           int
	SavePath             string
	Parallel             bool
}

func (c *Config) validate() error {
	switch c.Mode {
	case ModeParallel, ModeStar, ModeParallelWithCritique:
	case "":
		c.Mode = ModeParallel
	default:
		return fmt.Errorf("unknown discussion mode %q", c.Mode)
	}
	if c.MaxDiscussionTurns <= 0 {
		c.MaxDiscussionTurns = 4
	}
	if c.MaxConversationTurns <= 0 {
		c.MaxConversationTurns = 10
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	return nil
}

// Collaborative runs multi-doctor consultations: independent interviews, a
// host-led discussion to agreement, and a finalized consolidated diagnosis
// appended per patient to the record file.
type Collaborative struct {
	cfg           Config
	doctors       []*agents.Doctor
	host          *agents.Host
	reporter      *agents.Reporter
	patientEngine engine.Engine
	writer        *RecordWriter
	runID         string

	mu          sync.Mutex
	processed   map[string]struct{}
	precomputed map[string][]models.InitialConsultation
	sink        RecordSink
}

// RecordSink receives each finished record in addition to the JSONL file,
// e.g. for database storage. Sink failures are logged, not fatal: the JSONL
// file stays the source of truth.
type RecordSink func(context.Context, *models.ConsultationRecord) error

// NewCollaborative wires the scenario. Previously processed patient ids are
// loaded from the save path so an interrupted run resumes where it stopped.
func NewCollaborative(cfg Config, doctors []*agents.Doctor, host *agents.Host, reporter *agents.Reporter, patientEngine engine.Engine, writer *RecordWriter) (*Collaborative, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(doctors) < 2 {
		return nil, fmt.Errorf("collaborative consultation needs at least 2 doctors, got %d", len(doctors))
	}
	processed, err := LoadProcessedPatientIDs(cfg.SavePath)
	if err != nil {
		return nil, err
	}
	return &Collaborative{
		cfg:           cfg,
		doctors:       doctors,
		host:          host,
		reporter:      reporter,
		patientEngine: patientEngine,
		writer:        writer,
		runID:         uuid.NewString(),
		processed:     processed,
	}, nil
}

// SetPrecomputedConsultations installs initial consultations from an earlier
// run; matching doctors skip the interview phase.
func (c *Collaborative) SetPrecomputedConsultations(m map[string][]models.InitialConsultation) {
	c.precomputed = m
}

// SetRecordSink installs a secondary destination for finished records.
func (c *Collaborative) SetRecordSink(s RecordSink) {
	c.sink = s
}

// Run processes the roster. Per-patient failures are logged and skipped so
// one bad consultation does not sink the batch.
func (c *Collaborative) Run(ctx context.Context, cases []models.PatientCase) error {
	limit := 1
	if c.cfg.Parallel {
		limit = c.cfg.MaxWorkers
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, pc := range cases {
		if c.isProcessed(pc.ID) {
			log.Infof("[PATIENT_SKIP] patient=%s already processed", pc.ID)
			continue
		}
		pc := pc
		g.Go(func() error {
			if err := c.runPatient(ctx, pc); err != nil {
				log.Errorf("[PATIENT_FAILED] patient=%s err=%v", pc.ID, err)
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (c *Collaborative) isProcessed(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.processed[id]
	return ok
}

func (c *Collaborative) markProcessed(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed[id] = struct{}{}
}

func (c *Collaborative) runPatient(ctx context.Context, pc models.PatientCase) error {
	log.Infof("[PATIENT_START] patient=%s doctors=%d mode=%s", pc.ID, len(c.doctors), c.cfg.Mode)
	patient := agents.NewPatient(pc, c.patientEngine)

	sessions := make([]*agents.DoctorSession, len(c.doctors))
	var reporterSessions []*agents.ReporterSession
	var initial []models.InitialConsultation

	for i, d := range c.doctors {
		sess := d.NewSession()
		sessions[i] = sess
		if rec, ok := c.findPrecomputed(pc.ID, d.Name); ok {
			sess.LoadDiagnosis(rec.InitialDiagnosis)
			initial = append(initial, models.InitialConsultation{
				DoctorID:         d.ID,
				DoctorName:       d.Name,
				DoctorEngine:     d.EngineName(),
				InitialDiagnosis: rec.InitialDiagnosis,
				Note:             "loaded from precomputed consultations",
			})
			continue
		}
		psess := patient.NewSession()
		rsess := c.reporter.NewSession(pc)
		reporterSessions = append(reporterSessions, rsess)
		dialog, err := sess.RunInitialConsultation(ctx, psess, rsess, c.cfg.MaxConversationTurns)
		if err != nil {
			return fmt.Errorf("initial consultation by %s: %w", d.Name, err)
		}
		initial = append(initial, models.InitialConsultation{
			DoctorID:         d.ID,
			DoctorName:       d.Name,
			DoctorEngine:     d.EngineName(),
			DialogHistory:    dialog,
			InitialDiagnosis: sess.Diagnosis,
		})
	}

	hostSess := c.host.NewSession()
	hostPatient := patient.NewSession()
	var additional []models.AdditionalInfo

	// The host sees doctor-reported findings only, never the record itself.
	reports := make([]agents.DoctorReport, len(sessions))
	for i, sess := range sessions {
		reports[i] = agents.DoctorReport{
			Name:        c.doctors[i].Name,
			Symptom:     sess.Diagnosis.Symptom,
			Examination: sess.Diagnosis.Examination,
		}
	}
	queries, err := hostSess.SummarizeFromDoctors(ctx, reports, 1)
	if err != nil {
		return err
	}
	if q := queries.ToExaminer; q != "" {
		hostReporter := c.reporter.NewSession(pc)
		reporterSessions = append(reporterSessions, hostReporter)
		report, err := hostReporter.ProvideExaminationResults(ctx, q, 1)
		if err != nil {
			return err
		}
		additional = append(additional, models.AdditionalInfo{Turn: 1, Type: "examiner_query", Query: q, Response: report})
		followUp, err := hostSess.ClarifyExaminations(ctx, q, report, 1)
		if err != nil {
			return err
		}
		if followUp.ToExaminer != "" {
			log.Warnf("[HOST_FOLLOWUP_DROPPED] patient=%s one examiner round per summary", pc.ID)
		}
	}
	if q := queries.ToPatient; q != "" {
		answer, err := hostPatient.Answer(ctx, q, 1)
		if err != nil {
			return err
		}
		additional = append(additional, models.AdditionalInfo{Turn: 1, Type: "summary_query", Query: q, Response: answer})
		followUp, err := hostSess.RefineSummary(ctx, answer, 1)
		if err != nil {
			return err
		}
		if !followUp.Empty() {
			log.Warnf("[HOST_FOLLOWUP_DROPPED] patient=%s one query round per summary", pc.ID)
		}
	}

	// Turn 1: measure agreement on the initial diagnoses.
	diagnoses := c.formatDiagnoses(sessions)
	agreed, critique, err := hostSess.MeasureAgreement(ctx, diagnoses, 1)
	if err != nil {
		return err
	}
	decision, err := hostSess.AnalyzeState(ctx, diagnoses, agreementText(agreed, critique), 1)
	if err != nil {
		return err
	}
	done, action := decideTurnOne(agreed, decision)
	decision.Action = action

	var discussion []models.DiscussionTurn
	turnOne := models.DiscussionTurn{
		Turn:            1,
		DiagnosisInTurn: c.snapshot(sessions, nil),
		HostCritique:    critique,
		HostDecision:    decision,
	}

	var pending string
	if action == models.ActionQueryPatient {
		pending, err = c.gatherPatientInfo(ctx, hostPatient, hostSess, decision.Questions, 1, &additional)
		if err != nil {
			return err
		}
	}
	discussion = append(discussion, turnOne)

	finalTurn := 1
	forced := false
	lastCritique := critique
	if !done {
		maxTurn := 1 + c.cfg.MaxDiscussionTurns
		for t := 2; t <= maxTurn; t++ {
			turnRec, turnDone, err := c.runDiscussionTurn(ctx, sessions, hostSess, hostPatient, t, &pending, &lastCritique, &additional)
			if err != nil {
				return fmt.Errorf("discussion turn %d: %w", t, err)
			}
			discussion = append(discussion, turnRec)
			if turnDone {
				done = true
				finalTurn = t
				break
			}
		}
		if !done {
			forced = true
			finalTurn = maxTurn
			log.Warnf("[FORCED_FINALIZE] patient=%s discussion budget of %d turns exhausted", pc.ID, c.cfg.MaxDiscussionTurns)
		}
	}

	final, err := hostSess.Finalize(ctx, c.formatFindings(sessions), c.formatDiagnoses(sessions), finalTurn)
	if err != nil {
		return fmt.Errorf("finalization: %w", err)
	}

	if finalTurn == 1 {
		// The consolidated diagnosis comes after the turn-1 assessment, so
		// its record gets the next turn number.
		finalTurn = 2
		discussion = append(discussion, models.DiscussionTurn{
			Turn:                 2,
			HostDecision:         models.HostDecision{Action: models.ActionFinalize, Reason: decision.Reason},
			FinalDiagnosisByHost: &final,
		})
	} else {
		discussion[len(discussion)-1].FinalDiagnosisByHost = &final
	}

	rec := models.ConsultationRecord{
		RunID:                  c.runID,
		PatientID:              pc.ID,
		InitialConsultations:   initial,
		AdditionalInfoGathered: additional,
		FinalTurn:              finalTurn,
		Diagnosis:              final,
		DiagnosisInDiscussion:  discussion,
		ForcedFinalize:         forced,
		DoctorNames:            c.doctorNames(),
		DoctorEngineNames:      c.doctorEngineNames(),
		HostEngineName:         c.host.EngineName(),
		PatientEngineName:      c.patientEngine.ModelName(),
		ReporterEngineName:     c.reporter.EngineName(),
		Time:                   time.Now().Format(time.RFC3339),
		TokenUsage:             c.tokenUsage(sessions, hostSess, reporterSessions),
	}
	if err := c.writer.Append(rec); err != nil {
		return err
	}
	if c.sink != nil {
		if err := c.sink(ctx, &rec); err != nil {
			log.Warnf("[RECORD_SINK_FAILED] patient=%s err=%v", pc.ID, err)
		}
	}
	c.markProcessed(pc.ID)
	log.Infof("[PATIENT_DONE] patient=%s final_turn=%d forced=%t diagnosis=%q", pc.ID, finalTurn, forced, final.DiagnosisResult)
	return nil
}

// runDiscussionTurn executes one revision round: doctors revise (from pending
// patient information or per the visibility mode), the host re-measures
// agreement and decides the next step.
func (c *Collaborative) runDiscussionTurn(ctx context.Context, sessions []*agents.DoctorSession, hostSess *agents.HostSession, hostPatient *agents.PatientSession, t int, pending, lastCritique *string, additional *[]models.AdditionalInfo) (models.DiscussionTurn, bool, error) {
	before := c.snapshot(sessions, nil)
	consumedInfo := *pending != ""

	if consumedInfo {
		for _, sess := range sessions {
			if err := sess.ReviseWithNewInformation(ctx, *pending, t); err != nil {
				return models.DiscussionTurn{}, false, err
			}
		}
	} else if err := c.reviseAll(ctx, sessions, hostSess, *lastCritique, t); err != nil {
		return models.DiscussionTurn{}, false, err
	}

	var receivedFrom []string
	if !consumedInfo && c.cfg.Mode != ModeStar {
		receivedFrom = c.doctorNames()
	}

	diagnoses := c.formatDiagnoses(sessions)
	agreed, critique, err := hostSess.MeasureAgreement(ctx, diagnoses, t)
	if err != nil {
		return models.DiscussionTurn{}, false, err
	}
	decision, err := hostSess.AnalyzeState(ctx, diagnoses, agreementText(agreed, critique), t)
	if err != nil {
		return models.DiscussionTurn{}, false, err
	}
	done, action := decideAfterConsensus(agreed, decision, consumedInfo)
	decision.Action = action

	turnRec := models.DiscussionTurn{
		Turn:             t,
		DiagnosisInTurn:  before,
		HostCritique:     critique,
		HostDecision:     decision,
		RevisedDiagnoses: c.snapshot(sessions, receivedFrom),
	}
	if consumedInfo {
		turnRec.NewInformation = *pending
		*pending = ""
	}
	*lastCritique = critique

	if action == models.ActionQueryPatient {
		info, err := c.gatherPatientInfo(ctx, hostPatient, hostSess, decision.Questions, t, additional)
		if err != nil {
			return models.DiscussionTurn{}, false, err
		}
		*pending = info
	}
	return turnRec, done, nil
}

// decideTurnOne resolves the verdict pair of the first assessment. The state
// analysis outranks the raw agreement marker: a measured #END# only ends the
// consultation when the analysis also says finalize.
func decideTurnOne(agreed bool, decision models.HostDecision) (done bool, action string) {
	switch {
	case decision.Action == models.ActionQueryPatient:
		return false, models.ActionQueryPatient
	case agreed && decision.Action == models.ActionFinalize:
		return true, models.ActionFinalize
	default:
		return false, models.ActionBeginDiscussion
	}
}

// decideAfterConsensus is the in-loop counterpart of decideTurnOne, with
// actions named for where in the flow the verdict fell.
func decideAfterConsensus(agreed bool, decision models.HostDecision, consumedInfo bool) (done bool, action string) {
	switch {
	case decision.Action == models.ActionQueryPatient:
		return false, models.ActionQueryPatient
	case agreed && decision.Action == models.ActionFinalize:
		if consumedInfo {
			return true, models.ActionFinalizeWithPatientInfo
		}
		return true, models.ActionFinalizeAfterDiscussion
	case consumedInfo:
		return false, models.ActionUpdateWithPatientInfo
	default:
		return false, models.ActionContinueDiscussion
	}
}

func (c *Collaborative) reviseAll(ctx context.Context, sessions []*agents.DoctorSession, hostSess *agents.HostSession, critique string, turn int) error {
	// Peer texts come from the pre-revision state so every doctor sees the
	// same snapshot regardless of revision order.
	texts := make([]string, len(sessions))
	for i, sess := range sessions {
		texts[i] = sess.DiagnosisText()
	}

	focus := critique
	if c.cfg.Mode == ModeParallelWithCritique && critique != "" {
		extracted, err := hostSess.ExtractCritique(ctx, critique, turn)
		if err != nil {
			return err
		}
		focus = extracted
	}

	for i, sess := range sessions {
		var peers, crit string
		switch c.cfg.Mode {
		case ModeStar:
			crit = critique
		case ModeParallelWithCritique:
			peers = c.peersText(texts, i)
			crit = focus
		default:
			peers = c.peersText(texts, i)
		}
		if err := sess.Revise(ctx, peers, crit, turn); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collaborative) peersText(texts []string, self int) string {
	var names, diags []string
	for i, text := range texts {
		if i == self {
			continue
		}
		names = append(names, c.doctors[i].Name)
		diags = append(diags, text)
	}
	return prompts.FormatDoctorDiagnoses(names, diags)
}

// gatherPatientInfo asks the host's questions one by one and folds the
// answers into the host summary. The combined Q&A text becomes the next
// turn's revision input.
func (c *Collaborative) gatherPatientInfo(ctx context.Context, hostPatient *agents.PatientSession, hostSess *agents.HostSession, questions []string, turn int, additional *[]models.AdditionalInfo) (string, error) {
	var b strings.Builder
	for _, q := range questions {
		answer, err := hostPatient.Answer(ctx, q, turn)
		if err != nil {
			return "", err
		}
		*additional = append(*additional, models.AdditionalInfo{Turn: turn, Type: "discussion_query", Query: q, Response: answer})
		fmt.Fprintf(&b, "Q: %s\nA: %s\n", q, answer)
	}
	info := strings.TrimSpace(b.String())
	if info != "" {
		if _, err := hostSess.RefineSummary(ctx, info, turn); err != nil {
			return "", err
		}
	}
	return info, nil
}

func (c *Collaborative) snapshot(sessions []*agents.DoctorSession, receivedFrom []string) []models.DoctorDiagnosis {
	out := make([]models.DoctorDiagnosis, len(sessions))
	for i, sess := range sessions {
		var from []string
		for _, name := range receivedFrom {
			if name != c.doctors[i].Name {
				from = append(from, name)
			}
		}
		out[i] = models.DoctorDiagnosis{
			DoctorID:     c.doctors[i].ID,
			DoctorName:   c.doctors[i].Name,
			DoctorEngine: c.doctors[i].EngineName(),
			Diagnosis:    sess.Diagnosis,
			ReceivedFrom: from,
		}
	}
	return out
}

func (c *Collaborative) formatDiagnoses(sessions []*agents.DoctorSession) string {
	names := c.doctorNames()
	texts := make([]string, len(sessions))
	for i, sess := range sessions {
		texts[i] = sess.DiagnosisText()
	}
	return prompts.FormatDoctorDiagnoses(names, texts)
}

func (c *Collaborative) formatFindings(sessions []*agents.DoctorSession) string {
	var b strings.Builder
	for i, sess := range sessions {
		fmt.Fprintf(&b, "Findings by %s:\nSymptoms: %s\nExaminations: %s\n\n",
			c.doctors[i].Name, sess.Diagnosis.Symptom, sess.Diagnosis.Examination)
	}
	return strings.TrimSpace(b.String())
}

func (c *Collaborative) doctorNames() []string {
	names := make([]string, len(c.doctors))
	for i, d := range c.doctors {
		names[i] = d.Name
	}
	return names
}

func (c *Collaborative) doctorEngineNames() []string {
	names := make([]string, len(c.doctors))
	for i, d := range c.doctors {
		names[i] = d.EngineName()
	}
	return names
}

func (c *Collaborative) tokenUsage(sessions []*agents.DoctorSession, hostSess *agents.HostSession, reporterSessions []*agents.ReporterSession) models.TokenUsageSummary {
	const lastTurn = 1<<31 - 1
	initialPhase := make(map[string]models.AgentTokenSummary, len(sessions))
	discussionPhase := make(map[string]models.AgentTokenSummary, len(sessions))
	var discIn, discOut int
	for i, sess := range sessions {
		name := c.doctors[i].Name
		initialPhase[name] = sess.Ledger.PhaseSummary(0, 0)
		d := sess.Ledger.PhaseSummary(1, lastTurn)
		discussionPhase[name] = d
		discIn += d.TotalInputTokens
		discOut += d.TotalOutputTokens
	}
	host := hostSess.Ledger.Summary()
	discIn += host.TotalInputTokens
	discOut += host.TotalOutputTokens

	reporter := &models.TokenLedger{}
	for _, rs := range reporterSessions {
		for _, it := range rs.Ledger.Interactions {
			reporter.Record(it.InputTokens, it.OutputTokens, it.Type, it.Turn)
		}
	}

	return models.TokenUsageSummary{
		InitialConsultationPhase: models.PhaseTokens{Doctors: initialPhase},
		DiscussionPhase: models.DiscussionPhaseTokens{
			Doctors:           discussionPhase,
			Host:              host,
			TotalInputTokens:  discIn,
			TotalOutputTokens: discOut,
			TotalTokens:       discIn + discOut,
		},
		Reporter: reporter.Summary(),
	}
}

func (c *Collaborative) findPrecomputed(patientID, doctorName string) (models.InitialConsultation, bool) {
	for _, rec := range c.precomputed[patientID] {
		if rec.DoctorName == doctorName {
			return rec, true
		}
	}
	return models.InitialConsultation{}, false
}

func agreementText(agreed bool, critique string) string {
	if agreed {
		return models.MarkerAgreementEnd
	}
	return models.MarkerAgreementContinue + "\n" + critique
}
