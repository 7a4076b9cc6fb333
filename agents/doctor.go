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

// Dialog roles used in persisted transcripts.
const (
	RoleDoctor   = "doctor"
	RolePatient  = "patient"
	RoleExaminer = "examiner"
)

// Doctor is one physician persona. A Doctor is shared across patients; all
// per-patient state lives in DoctorSession.
type Doctor struct {
	Name   string
	ID     int
	engine engine.Engine
}

// NewDoctor builds a doctor agent.
func NewDoctor(name string, id int, eng engine.Engine) *Doctor {
	return &Doctor{Name: name, ID: id, engine: eng}
}

// EngineName returns the backing model identifier.
func (d *Doctor) EngineName() string { return d.engine.ModelName() }

// NewSession opens a consultation for one patient.
func (d *Doctor) NewSession() *DoctorSession {
	return &DoctorSession{
		doctor: d,
		memory: NewMemory(prompts.ConstructDoctorSystemPrompt(d.Name)),
		Ledger: &models.TokenLedger{},
	}
}

// DoctorSession is one doctor's engagement with one patient: the interview
// history, the evolving diagnosis record, and token accounting.
type DoctorSession struct {
	doctor *Doctor
	memory *Memory
	Ledger *models.TokenLedger

	// Diagnosis evolves across the consultation and discussion phases.
	// Revisions merge field-wise: a section the model omits keeps its
	// previous value.
	Diagnosis models.DiagnosisRecord
}

// Doctor returns the persona this session belongs to.
func (s *DoctorSession) Doctor() *Doctor { return s.doctor }

func (s *DoctorSession) speak(ctx context.Context, interactionType string, turn int) (string, error) {
	reply, usage, err := s.doctor.engine.Chat(ctx, s.memory.Messages())
	if err != nil {
		return "", fmt.Errorf("doctor %s: %w", s.doctor.Name, err)
	}
	s.memory.Append(engine.RoleAssistant, reply)
	s.Ledger.Record(usage.InputTokens, usage.OutputTokens, interactionType, turn)
	return reply, nil
}

// RunInitialConsultation interviews the patient turn by turn, forwarding
// examination requests to the reporter, until the doctor declares the
// diagnosis complete or maxTurns is reached. It always closes with a forced
// structured summary, so a usable diagnosis record comes out even when the
// conversation ends mid-thought.
func (s *DoctorSession) RunInitialConsultation(ctx context.Context, patient *PatientSession, reporter *ReporterSession, maxTurns int) ([]models.DialogEntry, error) {
	var dialog []models.DialogEntry

	doctorMessage := prompts.DoctorGreeting
	s.memory.Append(engine.RoleAssistant, doctorMessage)
	dialog = append(dialog, models.DialogEntry{Turn: 1, Role: RoleDoctor, Speaker: s.doctor.Name, Recipient: RolePatient, Content: doctorMessage})

	for turn := 1; turn <= maxTurns; turn++ {
		reply, err := patient.Respond(ctx, doctorMessage, 0)
		if err != nil {
			return dialog, fmt.Errorf("patient reply: %w", err)
		}
		routed := Route(reply)

		var inputs []string
		if routed.Doctor != "" {
			dialog = append(dialog, models.DialogEntry{Turn: turn, Role: RolePatient, Recipient: RoleDoctor, Content: routed.Doctor})
			inputs = append(inputs, routed.Doctor)
		}
		if routed.Examiner != "" {
			dialog = append(dialog, models.DialogEntry{Turn: turn, Role: RolePatient, Recipient: RoleExaminer, Content: routed.Examiner})
			report, err := reporter.ProvideExaminationResults(ctx, routed.Examiner, 0)
			if err != nil {
				return dialog, fmt.Errorf("examination report: %w", err)
			}
			dialog = append(dialog, models.DialogEntry{Turn: turn, Role: RoleExaminer, Recipient: RoleDoctor, Content: report})
			inputs = append(inputs, "Examination results: "+report)
		}
		if len(inputs) == 0 {
			log.Warnf("[EMPTY_PATIENT_REPLY] doctor=%s turn=%d", s.doctor.Name, turn)
			inputs = append(inputs, reply)
		}

		s.memory.Append(engine.RoleUser, strings.Join(inputs, "\n\n"))
		doctorMessage, err = s.speak(ctx, models.InteractionConversation, 0)
		if err != nil {
			return dialog, err
		}
		dialog = append(dialog, models.DialogEntry{Turn: turn + 1, Role: RoleDoctor, Speaker: s.doctor.Name, Recipient: RolePatient, Content: doctorMessage})

		if strings.Contains(doctorMessage, parser.DoneMarker) {
			break
		}
	}

	if err := s.summarizeDiagnosis(ctx); err != nil {
		return dialog, err
	}
	return dialog, nil
}

// summarizeDiagnosis forces the structured restatement and initializes the
// diagnosis record. Fields the model failed to produce are initialized empty
// with a warning, so downstream merges always see all five fields.
func (s *DoctorSession) summarizeDiagnosis(ctx context.Context) error {
	s.memory.Append(engine.RoleUser, prompts.StructuredSummaryRequest())
	reply, err := s.speak(ctx, models.InteractionStructuredSummary, 0)
	if err != nil {
		return err
	}
	sections, err := parser.Diagnosis.Parse(reply)
	if err != nil {
		return fmt.Errorf("doctor %s: parse structured summary: %w", s.doctor.Name, err)
	}
	s.Diagnosis.Merge(sections)
	if missing := s.Diagnosis.MissingFields(); len(missing) > 0 {
		log.Warnf("[DIAGNOSIS_FIELDS_MISSING] doctor=%s fields=%s", s.doctor.Name, strings.Join(missing, ","))
	}
	return nil
}

// LoadDiagnosis installs a precomputed diagnosis, skipping the interview.
// Used when initial consultations were produced by an earlier run.
func (s *DoctorSession) LoadDiagnosis(rec models.DiagnosisRecord) {
	s.Diagnosis = rec
}

// DiagnosisText renders the current diagnosis in the wire section format, for
// inclusion in peer and host prompts.
func (s *DoctorSession) DiagnosisText() string {
	sections := make(map[string]string, len(models.DiagnosisFields))
	for _, f := range models.DiagnosisFields {
		sections[f] = s.Diagnosis.Get(f)
	}
	return parser.Diagnosis.Flatten(sections)
}

// Revise asks the doctor to reconsider its diagnosis given peer diagnoses
// and/or the host's critique, then merges the parsed revision field-wise.
func (s *DoctorSession) Revise(ctx context.Context, peerDiagnoses, critique string, turn int) error {
	interactionType := models.InteractionRevisionPeers
	if peerDiagnoses == "" && critique != "" {
		interactionType = models.InteractionRevisionCritique
	}
	prompt := prompts.ConstructRevisionPrompt(s.DiagnosisText(), peerDiagnoses, critique)
	return s.reviseWith(ctx, prompt, interactionType, turn)
}

// ReviseWithNewInformation folds fresh patient answers into the diagnosis.
func (s *DoctorSession) ReviseWithNewInformation(ctx context.Context, newInformation string, turn int) error {
	prompt := prompts.ConstructNewInformationPrompt(s.DiagnosisText(), newInformation)
	return s.reviseWith(ctx, prompt, models.InteractionRevisionNewInfo, turn)
}

func (s *DoctorSession) reviseWith(ctx context.Context, prompt, interactionType string, turn int) error {
	s.memory.Append(engine.RoleUser, prompt)
	reply, err := s.speak(ctx, interactionType, turn)
	if err != nil {
		return err
	}
	sections, err := parser.Diagnosis.Parse(reply)
	if err != nil {
		return fmt.Errorf("doctor %s: parse revision: %w", s.doctor.Name, err)
	}
	if len(sections) == 0 {
		log.Warnf("[REVISION_UNPARSEABLE] doctor=%s turn=%d keeping previous diagnosis", s.doctor.Name, turn)
		return nil
	}
	s.Diagnosis.Merge(sections)
	return nil
}
