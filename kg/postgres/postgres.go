// Package postgres provides the Postgres-backed graph snapshot and changelog
// stores used in durable mode. Nodes, edges and changelog entries live in
// plain tables managed through GORM; property maps and diffs are stored as
// JSONB documents so readers tolerate additional keys.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/graphmind-ai/graphmind/kg"
	"github.com/graphmind-ai/graphmind/schema"
)

type nodeRecord struct {
	ID             string `gorm:"primaryKey"`
	Label          string `gorm:"index"`
	NormalizedName string `gorm:"index"`
	Properties     []byte `gorm:"type:jsonb"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (nodeRecord) TableName() string { return "kg_nodes" }

type edgeRecord struct {
	FromID     string `gorm:"primaryKey;column:from_id"`
	ToID       string `gorm:"primaryKey;column:to_id"`
	Type       string `gorm:"primaryKey"`
	Properties []byte `gorm:"type:jsonb"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (edgeRecord) TableName() string { return "kg_edges" }

type changelogRecord struct {
	Version        int64  `gorm:"primaryKey;autoIncrement"`
	DiffID         string `gorm:"index"`
	Timestamp      time.Time
	SourceAgent    string
	SourceDocument string
	Reason         string
	Summary        string
	Diff           []byte `gorm:"type:jsonb"`
	Result         []byte `gorm:"type:jsonb"`
}

func (changelogRecord) TableName() string { return "kg_changelog" }

// Store implements kg.GraphStore and kg.ChangelogStore on one Postgres
// database so commit and changelog append share a backing store.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres via GORM and migrates the graph tables.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.AutoMigrate(&nodeRecord{}, &edgeRecord{}, &changelogRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate kg tables: %w", err)
	}
	return &Store{db: db}, nil
}

// ApplyDiff applies all buckets in one transaction. Node adds merge on ID;
// re-applying a committed diff absorbs duplicates.
func (s *Store) ApplyDiff(ctx context.Context, diff *kg.Diff) (*kg.ApplyResult, error) {
	result := &kg.ApplyResult{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, n := range diff.Nodes.Add {
			props, err := json.Marshal(n.Properties)
			if err != nil {
				return fmt.Errorf("failed to encode node properties: %w", err)
			}
			rec := nodeRecord{
				ID:             n.ID,
				Label:          string(n.Label),
				NormalizedName: normalizedNameOf(n),
				Properties:     props,
			}
			var existing nodeRecord
			err = tx.First(&existing, "id = ?", n.ID).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := tx.Create(&rec).Error; err != nil {
					return err
				}
				result.NodesAdded++
			case err != nil:
				return err
			default:
				merged, err := mergeJSON(existing.Properties, props)
				if err != nil {
					return err
				}
				existing.Properties = merged
				if rec.NormalizedName != "" {
					existing.NormalizedName = rec.NormalizedName
				}
				if err := tx.Save(&existing).Error; err != nil {
					return err
				}
				result.NodesMerged++
			}
		}

		for _, n := range diff.Nodes.Update {
			var existing nodeRecord
			if err := tx.First(&existing, "id = ?", n.ID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					result.Errors = append(result.Errors, "update of missing node "+n.ID)
					continue
				}
				return err
			}
			props, err := json.Marshal(n.Properties)
			if err != nil {
				return err
			}
			merged, err := mergeJSON(existing.Properties, props)
			if err != nil {
				return err
			}
			existing.Properties = merged
			if name := normalizedNameOf(n); name != "" {
				existing.NormalizedName = name
			}
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			result.NodesUpdated++
		}

		for _, n := range diff.Nodes.Delete {
			res := tx.Delete(&nodeRecord{}, "id = ?", n.ID)
			if res.Error != nil {
				return res.Error
			}
			result.NodesDeleted += int(res.RowsAffected)
		}

		for _, e := range diff.Edges.Add {
			props, err := json.Marshal(e.Properties)
			if err != nil {
				return err
			}
			rec := edgeRecord{FromID: e.From, ToID: e.To, Type: string(e.Type), Properties: props}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				result.EdgesAdded++
			} else {
				result.EdgesMerged++
			}
		}

		for _, e := range diff.Edges.Update {
			res := tx.Model(&edgeRecord{}).
				Where("from_id = ? AND to_id = ? AND type = ?", e.From, e.To, string(e.Type)).
				Update("properties", mustJSON(e.Properties))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				result.Errors = append(result.Errors, "update of missing edge "+e.Key())
				continue
			}
			result.EdgesUpdated++
		}

		for _, e := range diff.Edges.Delete {
			res := tx.Delete(&edgeRecord{}, "from_id = ? AND to_id = ? AND type = ?", e.From, e.To, string(e.Type))
			if res.Error != nil {
				return res.Error
			}
			result.EdgesDeleted += int(res.RowsAffected)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply diff transaction failed: %w", err)
	}
	return result, nil
}

// NodeByID loads a single node.
func (s *Store) NodeByID(ctx context.Context, id string) (*kg.Node, error) {
	var rec nodeRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, kg.ErrNodeNotFound
		}
		return nil, err
	}
	return recordToNode(rec)
}

// NodeByName resolves a node through the normalized-name column.
func (s *Store) NodeByName(ctx context.Context, normalized string) (*kg.Node, error) {
	var rec nodeRecord
	err := s.db.WithContext(ctx).
		Where("normalized_name = ?", normalized).
		Order("created_at").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, kg.ErrNodeNotFound
		}
		return nil, err
	}
	return recordToNode(rec)
}

// Stats reports node and edge counts.
func (s *Store) Stats(ctx context.Context) (kg.GraphStats, error) {
	var nodes, edges int64
	if err := s.db.WithContext(ctx).Model(&nodeRecord{}).Count(&nodes).Error; err != nil {
		return kg.GraphStats{}, err
	}
	if err := s.db.WithContext(ctx).Model(&edgeRecord{}).Count(&edges).Error; err != nil {
		return kg.GraphStats{}, err
	}
	return kg.GraphStats{Nodes: int(nodes), Edges: int(edges)}, nil
}

// Append stores a changelog entry; the autoincrement primary key assigns the
// next version atomically.
func (s *Store) Append(ctx context.Context, entry *kg.ChangelogEntry) (*kg.ChangelogEntry, error) {
	diffJSON, err := json.Marshal(entry.Diff)
	if err != nil {
		return nil, fmt.Errorf("failed to encode diff: %w", err)
	}
	resultJSON, err := json.Marshal(entry.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	rec := changelogRecord{
		DiffID:         entry.DiffID,
		Timestamp:      time.Now().UTC(),
		SourceAgent:    entry.SourceAgent,
		SourceDocument: entry.SourceDocument,
		Reason:         entry.Reason,
		Summary:        entry.Summary,
		Diff:           diffJSON,
		Result:         resultJSON,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("failed to append changelog entry: %w", err)
	}
	stored := *entry
	stored.Version = rec.Version
	stored.Timestamp = rec.Timestamp
	return &stored, nil
}

// CurrentVersion returns the highest version, 0 when the changelog is empty.
func (s *Store) CurrentVersion(ctx context.Context) (int64, error) {
	var max *int64
	err := s.db.WithContext(ctx).Model(&changelogRecord{}).
		Select("MAX(version)").Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

// Get loads the entry at a specific version.
func (s *Store) Get(ctx context.Context, version int64) (*kg.ChangelogEntry, error) {
	var rec changelogRecord
	if err := s.db.WithContext(ctx).First(&rec, "version = ?", version).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, kg.ErrVersionNotFound
		}
		return nil, err
	}
	return recordToEntry(rec)
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]kg.ChangelogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []changelogRecord
	err := s.db.WithContext(ctx).Order("version DESC").Limit(limit).Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recordsToEntries(recs)
}

// After returns entries with version > after, ascending.
func (s *Store) After(ctx context.Context, after int64) ([]kg.ChangelogEntry, error) {
	var recs []changelogRecord
	err := s.db.WithContext(ctx).Where("version > ?", after).Order("version ASC").Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recordsToEntries(recs)
}

func recordToNode(rec nodeRecord) (*kg.Node, error) {
	var props kg.Properties
	if len(rec.Properties) > 0 {
		if err := json.Unmarshal(rec.Properties, &props); err != nil {
			return nil, fmt.Errorf("failed to decode node properties: %w", err)
		}
	}
	return &kg.Node{ID: rec.ID, Label: schema.NodeKind(rec.Label), Properties: props}, nil
}

func recordToEntry(rec changelogRecord) (*kg.ChangelogEntry, error) {
	entry := kg.ChangelogEntry{
		Version:        rec.Version,
		DiffID:         rec.DiffID,
		Timestamp:      rec.Timestamp,
		SourceAgent:    rec.SourceAgent,
		SourceDocument: rec.SourceDocument,
		Reason:         rec.Reason,
		Summary:        rec.Summary,
	}
	if len(rec.Diff) > 0 {
		if err := json.Unmarshal(rec.Diff, &entry.Diff); err != nil {
			return nil, fmt.Errorf("failed to decode changelog diff: %w", err)
		}
	}
	if len(rec.Result) > 0 && string(rec.Result) != "null" {
		entry.Result = &kg.ApplyResult{}
		if err := json.Unmarshal(rec.Result, entry.Result); err != nil {
			return nil, fmt.Errorf("failed to decode changelog result: %w", err)
		}
	}
	return &entry, nil
}

func recordsToEntries(recs []changelogRecord) ([]kg.ChangelogEntry, error) {
	out := make([]kg.ChangelogEntry, 0, len(recs))
	for _, rec := range recs {
		entry, err := recordToEntry(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	return out, nil
}

func normalizedNameOf(n kg.Node) string {
	if name, ok := n.Properties["name"].(string); ok && name != "" {
		return kg.NormalizeName(name)
	}
	return ""
}

func mergeJSON(base, overlay []byte) ([]byte, error) {
	var baseMap, overlayMap map[string]interface{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &baseMap); err != nil {
			return nil, err
		}
	}
	if baseMap == nil {
		baseMap = map[string]interface{}{}
	}
	if len(overlay) > 0 {
		if err := json.Unmarshal(overlay, &overlayMap); err != nil {
			return nil, err
		}
	}
	for k, v := range overlayMap {
		baseMap[k] = v
	}
	return json.Marshal(baseMap)
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
