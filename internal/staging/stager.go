// Package staging persists each ingested raw batch as one Parquet file,
// keyed by the run that produced it.
package staging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"cmc-analytics/internal/domain"
	"cmc-analytics/internal/idhash"
	"cmc-analytics/internal/logger"
	"cmc-analytics/internal/storage"
)

const fileExt = ".parquet"

type stagedRecord struct {
	BatchID   string `parquet:"name=batch_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	RecordID  string `parquet:"name=record_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	RunID     string `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	FetchTime int64  `parquet:"name=fetch_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Seq       int32  `parquet:"name=seq, type=INT32"`
	Payload   string `parquet:"name=payload, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Archiver copies a staged file to secondary storage.
type Archiver interface {
	Archive(ctx context.Context, key, path string) error
}

// Stager writes and reads staged batches under one directory.
type Stager struct {
	dir       string
	archiver  Archiver
	retention time.Duration
	log       *logger.Entry
}

// NewStager creates the staging directory if needed. archiver may be nil.
// Staged files older than retention are pruned after each Stage; a
// retention of 0 keeps every file.
func NewStager(dir string, archiver Archiver, retention time.Duration, log *logger.Log) (*Stager, error) {
	if dir == "" {
		return nil, fmt.Errorf("staging dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Stager{dir: dir, archiver: archiver, retention: retention, log: log.WithComponent("staging")}, nil
}

// Stage writes batch to <dir>/<run_id>.parquet, replacing any earlier file
// for the same run. BatchID is assigned when empty.
// An empty batch writes nothing; Load then reports ErrNotFound.
func (s *Stager) Stage(ctx context.Context, batch *domain.RawBatch) error {
	if batch == nil {
		return fmt.Errorf("%w: nil batch", storage.ErrInvalidInput)
	}
	path, err := s.pathFor(batch.RunID)
	if err != nil {
		return err
	}
	if batch.Len() == 0 {
		s.log.WithField("run_id", batch.RunID).Warn("Empty batch, nothing staged")
		return nil
	}
	if batch.FetchTime.IsZero() {
		return fmt.Errorf("%w: batch has no fetch_time", storage.ErrInvalidInput)
	}

	fetchMs := batch.FetchTime.UnixMilli()
	if batch.BatchID == "" {
		batch.BatchID = idhash.ComputeBatchID(batch.RunID, fetchMs)
	}

	start := time.Now()
	tmp := path + ".tmp"
	if err := writeParquet(tmp, batch, fetchMs); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename staged file: %w", err)
	}

	logger.LogPerformanceEntry(s.log, "stage_batch", time.Since(start), logger.Fields{
		"run_id":   batch.RunID,
		"batch_id": batch.BatchID,
		"records":  batch.Len(),
		"path":     path,
	})

	s.prune(path)

	if s.archiver != nil {
		key := batch.FetchTime.UTC().Format("2006-01-02") + "/" + filepath.Base(path)
		if err := s.archiver.Archive(ctx, key, path); err != nil {
			s.log.WithError(err).WithField("key", key).Warn("Failed to archive staged batch")
		}
	}
	return nil
}

// Load reads the batch staged for runID.
// Returns storage.ErrNotFound if nothing was staged for that run.
func (s *Stager) Load(_ context.Context, runID string) (*domain.RawBatch, error) {
	path, err := s.pathFor(runID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("stat staged file: %w", err)
	}

	records, err := readParquet(path)
	if err != nil {
		return nil, err
	}

	batch := &domain.RawBatch{RunID: runID, Records: make([]domain.RawRecord, len(records))}
	for i, rec := range records {
		if rec.RunID != runID {
			return nil, fmt.Errorf("staged file %s holds run %q, want %q", path, rec.RunID, runID)
		}
		if int(rec.Seq) != i {
			return nil, fmt.Errorf("staged file %s: record %d has seq %d", path, i, rec.Seq)
		}
		if i == 0 {
			batch.BatchID = rec.BatchID
			batch.FetchTime = time.UnixMilli(rec.FetchTime).UTC()
		}
		if rec.RecordID != idhash.ComputeRecordID(batch.BatchID, i) {
			return nil, fmt.Errorf("staged file %s: record %d has a foreign record_id", path, i)
		}
		raw, err := decodePayload(rec.Payload)
		if err != nil {
			return nil, fmt.Errorf("staged record %d: %w", i, err)
		}
		batch.Records[i] = raw
	}
	return batch, nil
}

// prune removes staged and leftover temporary files whose modification time
// is older than the retention window. keep is never removed.
func (s *Stager) prune(keep string) {
	if s.retention <= 0 {
		return
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.WithError(err).Warn("Failed to list staging dir for pruning")
		return
	}

	cutoff := time.Now().Add(-s.retention)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, fileExt) || strings.HasSuffix(name, fileExt+".tmp")) {
			continue
		}
		path := filepath.Join(s.dir, name)
		if path == keep {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.WithError(err).WithField("path", path).Warn("Failed to prune staged file")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.WithFields(logger.Fields{
			"removed":   removed,
			"retention": s.retention.String(),
		}).Info("Pruned staged files")
	}
}

func (s *Stager) pathFor(runID string) (string, error) {
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return "", fmt.Errorf("%w: run id %q", storage.ErrInvalidInput, runID)
	}
	return filepath.Join(s.dir, runID+fileExt), nil
}

func writeParquet(path string, batch *domain.RawBatch, fetchMs int64) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create staged file: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(stagedRecord), 1)
	if err != nil {
		fw.Close()
		return fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i, rec := range batch.Records {
		payload, err := json.Marshal(rec)
		if err != nil {
			pw.WriteStop()
			fw.Close()
			return fmt.Errorf("encode record %d: %w", i, err)
		}
		row := stagedRecord{
			BatchID:   batch.BatchID,
			RecordID:  idhash.ComputeRecordID(batch.BatchID, i),
			RunID:     batch.RunID,
			FetchTime: fetchMs,
			Seq:       int32(i),
			Payload:   string(payload),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			fw.Close()
			return fmt.Errorf("write staged record %d: %w", i, err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("finalize staged parquet: %w", err)
	}
	return fw.Close()
}

func readParquet(path string) ([]stagedRecord, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open staged file: %w", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(stagedRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet reader: %w", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	records := make([]stagedRecord, n)
	if n == 0 {
		return records, nil
	}
	if err := pr.Read(&records); err != nil {
		return nil, fmt.Errorf("read staged records: %w", err)
	}
	return records, nil
}

func decodePayload(payload string) (domain.RawRecord, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return domain.RawRecord(raw), nil
}
