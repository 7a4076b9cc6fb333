package hospital

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"hospital/models"
)

// LoadPatientRoster reads a JSON array of patient cases.
func LoadPatientRoster(path string) ([]models.PatientCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patient roster: %w", err)
	}
	var cases []models.PatientCase
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("parse patient roster: %w", err)
	}
	return cases, nil
}

// LoadPrecomputedConsultations reads initial consultations from a previous
// run's record file, keyed by patient id. Doctors matched by name skip the
// interview and start the discussion from the recorded diagnosis.
func LoadPrecomputedConsultations(path string) (map[string][]models.InitialConsultation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open precomputed consultations: %w", err)
	}
	defer f.Close()

	out := make(map[string][]models.InitialConsultation)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), maxRecordLine)
	for sc.Scan() {
		var rec struct {
			PatientID            string                       `json:"patient_id"`
			InitialConsultations []models.InitialConsultation `json:"initial_consultations"`
		}
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("parse precomputed consultations: %w", err)
		}
		if rec.PatientID != "" && len(rec.InitialConsultations) > 0 {
			out[rec.PatientID] = rec.InitialConsultations
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan precomputed consultations: %w", err)
	}
	return out, nil
}
