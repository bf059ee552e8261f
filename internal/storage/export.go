package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/osteokeeper/internal/common"
	"github.com/dmitrijs2005/osteokeeper/internal/cryptox"
)

const (
	// ExportFormat identifies a per-entity .phds export.
	ExportFormat = "OsteoKeeper_HDS_Secure_Export_v2"
	// BackupFormat identifies a whole-system backup bundle.
	BackupFormat = "OsteoKeeper_HDS_Full_Backup_v2"

	// ExportExtension is the conventional file extension for both formats.
	ExportExtension = ".phds"
)

// ExportFile is the portable, password-protected copy of one entity.
type ExportFile struct {
	Format      string             `json:"format"`
	Entity      string             `json:"entity"`
	ExportedAt  time.Time          `json:"exportedAt"`
	RecordCount int                `json:"recordCount"`
	Data        *cryptox.Container `json:"data"`
}

// BackupBundle is the portable, password-protected copy of every entity.
// Data decrypts to an object mapping entity names to record arrays.
type BackupBundle struct {
	Format     string             `json:"format"`
	ExportID   string             `json:"exportId"`
	ExportedAt time.Time          `json:"exportedAt"`
	Entities   map[string]int     `json:"entities"`
	Data       *cryptox.Container `json:"data"`
}

// ExportSecure re-encrypts the current records under the store password into
// a standalone .phds document.
func (s *EntityStore) ExportSecure(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, _, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	var ct *cryptox.Container
	err = s.keys.With(func(password []byte) error {
		var err error
		ct, err = s.cipher.Encrypt(records, password)
		return err
	})
	if err != nil {
		return nil, err
	}

	return json.MarshalIndent(ExportFile{
		Format:      ExportFormat,
		Entity:      s.name,
		ExportedAt:  s.now().UTC(),
		RecordCount: len(records),
		Data:        ct,
	}, "", "  ")
}

// ImportSecure decrypts a .phds document with password and combines its
// records with the store. An entity name that differs from the store's is
// reported as a warning, not an error.
func (s *EntityStore) ImportSecure(ctx context.Context, file []byte, password []byte, strategy Strategy) (ImportReport, error) {
	var ef ExportFile
	if err := json.Unmarshal(file, &ef); err != nil {
		return ImportReport{}, fmt.Errorf("%w: %v", common.ErrUnknownFormat, err)
	}
	if ef.Format != ExportFormat {
		return ImportReport{}, fmt.Errorf("%w: %q", common.ErrUnknownFormat, ef.Format)
	}

	var raw json.RawMessage
	if err := s.cipher.Decrypt(ef.Data, password, &raw); err != nil {
		return ImportReport{}, err
	}
	incoming, err := decodeRecords(raw)
	if err != nil {
		return ImportReport{}, cryptox.ErrDecryption
	}

	rep, err := s.merge(ctx, incoming, normalizeStrategy(strategy))
	if err != nil {
		return ImportReport{}, err
	}
	if ef.Entity != s.name {
		rep.Warnings = append(rep.Warnings,
			fmt.Sprintf("file was exported from %q, imported into %q", ef.Entity, s.name))
	}
	return rep, nil
}

func normalizeStrategy(s Strategy) Strategy {
	if s == StrategyReplace {
		return StrategyReplace
	}
	return StrategyMerge
}

// ParseStrategy maps user input to a Strategy; anything but "replace" merges.
func ParseStrategy(s string) Strategy {
	return normalizeStrategy(Strategy(s))
}

// Import combines plain records, e.g. from a legacy source, with the store.
func (s *EntityStore) Import(ctx context.Context, records []Record, strategy Strategy) (ImportReport, error) {
	return s.merge(ctx, records, normalizeStrategy(strategy))
}
