package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/meghashyamc/doccatalog/db/kvdb"
)

// MetadataStore persists run records between processes.
type MetadataStore interface {
	Set(bucket string, key string, value string) error
	Get(bucket string, key string) (string, error)
	Delete(bucket string, key string) error
	GetAllKeys(bucket string) ([]string, error)
}

// maxRunRecords is how many finished runs are kept in the run history.
var maxRunRecords = 200

func (s *Service) saveRun(record kvdb.RunRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		s.logger.Error("failed to marshal run record", "run_id", record.ID, "err", err.Error())
		return
	}

	if err := s.metadataStore.Set(kvdb.RunsBucket, record.ID, string(data)); err != nil {
		s.logger.Error("failed to save run record", "run_id", record.ID, "state", record.State, "err", err.Error())
	}
}

func (s *Service) getRun(runID string) (*kvdb.RunRecord, error) {
	value, err := s.metadataStore.Get(kvdb.RunsBucket, runID)
	if err != nil {
		if errors.Is(err, kvdb.ErrNotFound) || errors.Is(err, kvdb.ErrInvalidKey) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	var record kvdb.RunRecord
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		s.logger.Error("failed to unmarshal run record", "run_id", runID, "err", err.Error())
		return nil, fmt.Errorf("failed to unmarshal run record %s: %w", runID, err)
	}

	return &record, nil
}

func (s *Service) setLastRun(catalogPath string, runID string) {
	if err := s.metadataStore.Set(kvdb.CatalogsBucket, catalogPath, runID); err != nil {
		s.logger.Error("failed to save last run for catalog", "catalog_path", catalogPath, "run_id", runID, "err", err.Error())
	}
}

func (s *Service) getLastRunID(catalogPath string) (string, error) {
	runID, err := s.metadataStore.Get(kvdb.CatalogsBucket, catalogPath)
	if err != nil {
		if errors.Is(err, kvdb.ErrNotFound) || errors.Is(err, kvdb.ErrInvalidKey) {
			return "", ErrRunNotFound
		}
		return "", err
	}
	return runID, nil
}

// listRuns returns every stored run, newest first.
func (s *Service) listRuns() ([]kvdb.RunRecord, error) {
	runIDs, err := s.metadataStore.GetAllKeys(kvdb.RunsBucket)
	if err != nil {
		s.logger.Error("failed to list run records", "err", err.Error())
		return nil, err
	}

	records := make([]kvdb.RunRecord, 0, len(runIDs))
	for _, runID := range runIDs {
		record, err := s.getRun(runID)
		if err != nil {
			s.logger.Warn("skipping unreadable run record", "run_id", runID, "err", err.Error())
			continue
		}
		records = append(records, *record)
	}

	slices.SortFunc(records, func(a, b kvdb.RunRecord) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return records, nil
}

// pruneRunHistory deletes the oldest finished runs beyond maxRunRecords.
func (s *Service) pruneRunHistory() {
	records, err := s.listRuns()
	if err != nil || len(records) <= maxRunRecords {
		return
	}

	for _, record := range records[maxRunRecords:] {
		if !record.Finished() {
			continue
		}
		if err := s.metadataStore.Delete(kvdb.RunsBucket, record.ID); err != nil {
			s.logger.Error("failed to delete old run record", "run_id", record.ID, "err", err.Error())
		}
	}
}
