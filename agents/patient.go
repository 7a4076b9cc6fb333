package agents

import (
	"context"
	"strings"

	"hospital/engine"
	"hospital/models"
	"hospital/prompts"
)

// Patient simulates one patient case. Sessions are per-doctor: each doctor
// interviews its own instance of the patient so the conversations stay
// independent.
type Patient struct {
	Case   models.PatientCase
	engine engine.Engine
}

// NewPatient builds a patient agent for a case.
func NewPatient(c models.PatientCase, eng engine.Engine) *Patient {
	return &Patient{Case: c, engine: eng}
}

// EngineName returns the backing model identifier.
func (p *Patient) EngineName() string { return p.engine.ModelName() }

// NewSession opens a fresh interview history for one doctor.
func (p *Patient) NewSession() *PatientSession {
	return &PatientSession{
		patient: p,
		memory:  NewMemory(prompts.ConstructPatientSystemPrompt(p.Case.Profile, p.Case.MedicalRecord)),
		Ledger:  &models.TokenLedger{},
	}
}

// PatientSession is one doctor's interview of the patient.
type PatientSession struct {
	patient *Patient
	memory  *Memory
	Ledger  *models.TokenLedger
}

// Respond sends the doctor's message and returns the patient's raw reply,
// routing tags included.
func (s *PatientSession) Respond(ctx context.Context, doctorMessage string, turn int) (string, error) {
	s.memory.Append(engine.RoleUser, doctorMessage)
	reply, usage, err := s.patient.engine.Chat(ctx, s.memory.Messages())
	if err != nil {
		return "", err
	}
	s.memory.Append(engine.RoleAssistant, reply)
	s.Ledger.Record(usage.InputTokens, usage.OutputTokens, models.InteractionPatientReply, turn)
	return reply, nil
}

// Answer asks the patient a free-standing question (a host query) outside the
// doctor routing protocol. Routing tags, if the model emits them anyway, are
// stripped.
func (s *PatientSession) Answer(ctx context.Context, question string, turn int) (string, error) {
	reply, err := s.Respond(ctx, question, turn)
	if err != nil {
		return "", err
	}
	routed := Route(reply)
	if routed.Doctor != "" {
		return routed.Doctor, nil
	}
	return strings.TrimSpace(reply), nil
}

// RoutedReply is a patient reply split by recipient.
type RoutedReply struct {
	Doctor   string
	Examiner string
}

// Route splits a patient reply on its routing tags. A reply with no tags at
// all is treated as addressed to the doctor, since that is what an untagged
// conversational answer almost always is.
func Route(reply string) RoutedReply {
	di := strings.Index(reply, prompts.TagToDoctor)
	ei := strings.Index(reply, prompts.TagToExaminer)

	if di < 0 && ei < 0 {
		return RoutedReply{Doctor: strings.TrimSpace(reply)}
	}

	var r RoutedReply
	if di >= 0 {
		end := len(reply)
		if ei > di {
			end = ei
		}
		r.Doctor = strings.TrimSpace(reply[di+len(prompts.TagToDoctor) : end])
	}
	if ei >= 0 {
		end := len(reply)
		if di > ei {
			end = di
		}
		r.Examiner = strings.TrimSpace(reply[ei+len(prompts.TagToExaminer) : end])
	}
	return r
}
