package hospital

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"hospital/agents"
	"hospital/engine"
	"hospital/models"
)

// Consultation runs the single-doctor scenario: one interview per patient,
// no discussion phase.
type Consultation struct {
	cfg           Config
	doctor        *agents.Doctor
	reporter      *agents.Reporter
	patientEngine engine.Engine
	writer        *RecordWriter
	runID         string
	processed     map[string]struct{}
}

// NewConsultation wires the single-doctor scenario.
func NewConsultation(cfg Config, doctor *agents.Doctor, reporter *agents.Reporter, patientEngine engine.Engine, writer *RecordWriter) (*Consultation, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	processed, err := LoadProcessedPatientIDs(cfg.SavePath)
	if err != nil {
		return nil, err
	}
	return &Consultation{
		cfg:           cfg,
		doctor:        doctor,
		reporter:      reporter,
		patientEngine: patientEngine,
		writer:        writer,
		runID:         uuid.NewString(),
		processed:     processed,
	}, nil
}

// Run processes the roster; failures are logged per patient.
func (c *Consultation) Run(ctx context.Context, cases []models.PatientCase) error {
	limit := 1
	if c.cfg.Parallel {
		limit = c.cfg.MaxWorkers
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, pc := range cases {
		if _, ok := c.processed[pc.ID]; ok {
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

func (c *Consultation) runPatient(ctx context.Context, pc models.PatientCase) error {
	patient := agents.NewPatient(pc, c.patientEngine)
	sess := c.doctor.NewSession()
	rsess := c.reporter.NewSession(pc)

	dialog, err := sess.RunInitialConsultation(ctx, patient.NewSession(), rsess, c.cfg.MaxConversationTurns)
	if err != nil {
		return fmt.Errorf("consultation by %s: %w", c.doctor.Name, err)
	}

	rec := models.SingleConsultationRecord{
		RunID:              c.runID,
		PatientID:          pc.ID,
		DialogHistory:      dialog,
		Diagnosis:          sess.Diagnosis,
		DoctorEngineName:   c.doctor.EngineName(),
		PatientEngineName:  c.patientEngine.ModelName(),
		ReporterEngineName: c.reporter.EngineName(),
		Time:               time.Now().Format(time.RFC3339),
		TokenUsage:         sess.Ledger.Summary(),
	}
	if err := c.writer.Append(rec); err != nil {
		return err
	}
	log.Infof("[PATIENT_DONE] patient=%s diagnosis=%q", pc.ID, sess.Diagnosis.DiagnosisResult)
	return nil
}
