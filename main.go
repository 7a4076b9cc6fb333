package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"hospital/agents"
	"hospital/config"
	"hospital/db"
	"hospital/engine"
	"hospital/hospital"
	"hospital/models"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Warn("Warning: .env file not found, using environment variables")
	}

	configPath := flag.String("config", "run.yaml", "path to the run configuration file")
	scenario := flag.String("scenario", "", "override the configured scenario (collaborative or consultation)")
	parallel := flag.Bool("parallel", false, "override the configured parallelism and run patients concurrently")
	flag.Parse()

	cfg, err := config.LoadRunConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *scenario != "" {
		cfg.Run.Scenario = *scenario
	}
	if *parallel {
		cfg.Run.Parallel = true
	}

	ctx := context.Background()
	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *config.RunConfig) error {
	if cfg.Mongo.Enabled {
		uri := cfg.Mongo.URI
		if uri == "" {
			uri = config.GetMongoDBURI()
		}
		if err := db.InitMongoDB(uri); err != nil {
			return fmt.Errorf("connect to MongoDB: %w", err)
		}
		defer db.Close()
		db.CreateConsultationIndexes()
	}

	cases, err := loadRoster(ctx, cfg)
	if err != nil {
		return err
	}
	log.Infof("Loaded %d patient cases", len(cases))

	doctors := make([]*agents.Doctor, len(cfg.Agents.Doctors))
	for i, dc := range cfg.Agents.Doctors {
		eng, err := newEngine(ctx, dc)
		if err != nil {
			return err
		}
		doctors[i] = agents.NewDoctor(dc.Name, i, eng)
	}
	hostEngine, err := newEngine(ctx, cfg.Agents.Host)
	if err != nil {
		return err
	}
	patientEngine, err := newEngine(ctx, cfg.Agents.Patient)
	if err != nil {
		return err
	}
	reporterEngine, err := newEngine(ctx, cfg.Agents.Reporter)
	if err != nil {
		return err
	}

	writer, err := hospital.NewRecordWriter(cfg.Run.SavePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := writer.Close(); err != nil {
			log.Errorf("close record writer: %v", err)
		}
	}()

	runCfg := hospital.Config{
		Mode:                 cfg.Run.Mode,
		MaxDiscussionTurns:   cfg.Run.MaxDiscussionTurns,
		MaxConversationTurns: cfg.Run.MaxConversationTurns,
		MaxWorkers:           cfg.Run.MaxWorkers,
		SavePath:             cfg.Run.SavePath,
		Parallel:             cfg.Run.Parallel,
	}

	switch cfg.Run.Scenario {
	case "consultation":
		scenario, err := hospital.NewConsultation(runCfg, doctors[0], agents.NewReporter(reporterEngine), patientEngine, writer)
		if err != nil {
			return err
		}
		return scenario.Run(ctx, cases)
	default:
		scenario, err := hospital.NewCollaborative(runCfg, doctors, agents.NewHost(hostEngine), agents.NewReporter(reporterEngine), patientEngine, writer)
		if err != nil {
			return err
		}
		if cfg.Run.PrecomputedPath != "" {
			pre, err := hospital.LoadPrecomputedConsultations(cfg.Run.PrecomputedPath)
			if err != nil {
				return err
			}
			scenario.SetPrecomputedConsultations(pre)
		}
		if cfg.Mongo.Enabled {
			scenario.SetRecordSink(db.InsertConsultationRecord)
		}
		return scenario.Run(ctx, cases)
	}
}

func loadRoster(ctx context.Context, cfg *config.RunConfig) ([]models.PatientCase, error) {
	if cfg.Run.RosterPath != "" {
		return hospital.LoadPatientRoster(cfg.Run.RosterPath)
	}
	return db.LoadPatientCases(ctx, cfg.Mongo.Limit)
}

func newEngine(ctx context.Context, ac config.AgentConfig) (engine.Engine, error) {
	eng, err := engine.NewGemini(ctx, engine.Options{
		Model:            ac.Model,
		APIKey:           config.GetGeminiAPIKey(),
		Temperature:      ac.Temperature,
		TopP:             ac.TopP,
		MaxOutputTokens:  ac.MaxOutputTokens,
		FrequencyPenalty: ac.FrequencyPenalty,
		PresencePenalty:  ac.PresencePenalty,
	})
	if err != nil {
		return nil, fmt.Errorf("engine for model %s: %w", ac.Model, err)
	}
	return eng, nil
}
