// Package hospital runs consultation scenarios end to end: the single-doctor
// consultation and the multi-doctor collaborative consultation with its
// host-led discussion phase.
package hospital

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
)

// maxRecordLine bounds the scanner buffer when re-reading past output.
// Records carry full transcripts, so lines run long.
const maxRecordLine = 16 * 1024 * 1024

// RecordWriter appends JSON records to a file, one object per line. A single
// goroutine owns the file handle, so concurrent consultations can append
// without interleaving partial lines.
type RecordWriter struct {
	file *os.File
	ch   chan []byte
	done chan struct{}

	mu  sync.Mutex
	err error
}

// NewRecordWriter opens (or creates) the output file in append mode and
// starts the writer goroutine.
func NewRecordWriter(path string) (*RecordWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open record file: %w", err)
	}
	w := &RecordWriter{
		file: f,
		ch:   make(chan []byte, 16),
		done: make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *RecordWriter) loop() {
	defer close(w.done)
	for line := range w.ch {
		if w.firstErr() != nil {
			continue
		}
		if _, err := w.file.Write(append(line, '\n')); err != nil {
			w.setErr(err)
			log.Errorf("[RECORD_WRITE_FAILED] %v", err)
		}
	}
}

func (w *RecordWriter) setErr(err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
}

func (w *RecordWriter) firstErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Append marshals v and queues it for writing. The write itself is
// asynchronous; once a write has failed, every later Append reports that
// error so callers stop treating their records as persisted.
func (w *RecordWriter) Append(v any) error {
	if err := w.firstErr(); err != nil {
		return fmt.Errorf("record writer: %w", err)
	}
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	w.ch <- line
	return nil
}

// Close flushes pending records and closes the file. The first write error,
// if any, is returned here.
func (w *RecordWriter) Close() error {
	close(w.ch)
	<-w.done
	if cerr := w.file.Close(); cerr != nil {
		w.setErr(cerr)
	}
	return w.firstErr()
}

// LoadProcessedPatientIDs scans an existing record file for the patient ids
// already written, so an interrupted run can resume without redoing work. A
// missing file means a fresh run.
func LoadProcessedPatientIDs(path string) (map[string]struct{}, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return map[string]struct{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open record file: %w", err)
	}
	defer f.Close()

	ids := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), maxRecordLine)
	for sc.Scan() {
		var rec struct {
			PatientID string `json:"patient_id"`
		}
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			log.Warnf("[RECORD_SKIP_UNPARSEABLE] %v", err)
			continue
		}
		if rec.PatientID != "" {
			ids[rec.PatientID] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan record file: %w", err)
	}
	return ids, nil
}
