package agents

import (
	"context"

	"hospital/engine"
	"hospital/models"
	"hospital/prompts"
)

// Reporter answers examination requests from the patient's full record. It
// never talks to the patient; doctors' requests are forwarded to it by the
// consultation loop.
type Reporter struct {
	engine engine.Engine
}

// NewReporter builds the examination reporter.
func NewReporter(eng engine.Engine) *Reporter {
	return &Reporter{engine: eng}
}

// EngineName returns the backing model identifier.
func (r *Reporter) EngineName() string { return r.engine.ModelName() }

// NewSession opens an examination log for one patient. The session keeps its
// request history so follow-up requests see what was already reported.
func (r *Reporter) NewSession(c models.PatientCase) *ReporterSession {
	return &ReporterSession{
		reporter: r,
		memory:   NewMemory(prompts.ConstructReporterSystemPrompt(c.MedicalRecord)),
		Ledger:   &models.TokenLedger{},
	}
}

// ReporterSession is one patient's examination log.
type ReporterSession struct {
	reporter *Reporter
	memory   *Memory
	Ledger   *models.TokenLedger
}

// ProvideExaminationResults performs the requested examinations and returns
// the results report.
func (s *ReporterSession) ProvideExaminationResults(ctx context.Context, request string, turn int) (string, error) {
	s.memory.Append(engine.RoleUser, request)
	report, usage, err := s.reporter.engine.Chat(ctx, s.memory.Messages())
	if err != nil {
		return "", err
	}
	s.memory.Append(engine.RoleAssistant, report)
	s.Ledger.Record(usage.InputTokens, usage.OutputTokens, models.InteractionExamination, turn)
	return report, nil
}
