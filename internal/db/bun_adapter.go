// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/uptrace/bun"

	"shipway/internal/model"
)

// KnownHostModel maps the `known_hosts` table for Bun queries.
type KnownHostModel struct {
	bun.BaseModel `bun:"table:known_hosts"`
	ID            int       `bun:"id,pk,autoincrement"`
	Hostname      string    `bun:"hostname"`
	PublicKey     string    `bun:"public_key"`
	Fingerprint   string    `bun:"fingerprint"`
	Source        string    `bun:"source"`
	AddedAt       time.Time `bun:"added_at"`
}

// DeployRunModel maps the `deploy_runs` table.
type DeployRunModel struct {
	bun.BaseModel `bun:"table:deploy_runs"`
	ID            string    `bun:"id,pk"`
	Target        string    `bun:"target"`
	FinalStage    string    `bun:"final_stage"`
	FailedStage   string    `bun:"failed_stage"`
	Output        string    `bun:"output"`
	DurationMS    int64     `bun:"duration_ms"`
	StartedAt     time.Time `bun:"started_at"`
	Succeeded     bool      `bun:"succeeded"`
}

// bunStore is the Bun-backed implementation of the Store interface. The same
// type serves SQLite and Postgres; the dialect is fixed at open time.
type bunStore struct {
	bun *bun.DB
}

func (s *bunStore) GetHostRecords(hostname string) ([]model.HostRecord, error) {
	ctx := context.Background()
	var rows []KnownHostModel
	err := s.bun.NewSelect().Model(&rows).
		Where("hostname = ?", hostname).
		Order("id ASC").
		Scan(ctx)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	records := make([]model.HostRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, knownHostModelToModel(r))
	}
	return records, nil
}

func (s *bunStore) AddHostRecord(rec model.HostRecord) error {
	ctx := context.Background()
	row := &KnownHostModel{
		Hostname:    rec.Hostname,
		PublicKey:   rec.PublicKey,
		Fingerprint: rec.Fingerprint,
		Source:      string(rec.Source),
		AddedAt:     rec.AddedAt,
	}
	if row.AddedAt.IsZero() {
		row.AddedAt = time.Now()
	}
	_, err := s.bun.NewInsert().Model(row).Exec(ctx)
	return MapDBError(err)
}

func (s *bunStore) DeleteHostRecords(hostname string) (int, error) {
	ctx := context.Background()
	res, err := s.bun.NewDelete().Model((*KnownHostModel)(nil)).
		Where("hostname = ?", hostname).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Not every driver reports affected rows; absence is not an error.
		return 0, nil
	}
	return int(n), nil
}

func (s *bunStore) SaveRunRecord(rec model.RunRecord) error {
	ctx := context.Background()
	row := &DeployRunModel{
		ID:          rec.ID,
		Target:      rec.Target,
		FinalStage:  rec.FinalStage,
		FailedStage: rec.FailedStage,
		Output:      rec.Output,
		DurationMS:  rec.Duration.Milliseconds(),
		StartedAt:   rec.StartedAt,
		Succeeded:   rec.Succeeded,
	}
	_, err := s.bun.NewInsert().Model(row).Exec(ctx)
	return MapDBError(err)
}

func (s *bunStore) GetRunHistory(limit int) ([]model.RunRecord, error) {
	ctx := context.Background()
	if limit <= 0 {
		limit = 20
	}
	var rows []DeployRunModel
	err := s.bun.NewSelect().Model(&rows).
		Order("started_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	records := make([]model.RunRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, model.RunRecord{
			ID:          r.ID,
			Target:      r.Target,
			FinalStage:  r.FinalStage,
			FailedStage: r.FailedStage,
			Output:      r.Output,
			Duration:    time.Duration(r.DurationMS) * time.Millisecond,
			StartedAt:   r.StartedAt,
			Succeeded:   r.Succeeded,
		})
	}
	return records, nil
}

func (s *bunStore) Close() error {
	return s.bun.Close()
}

func knownHostModelToModel(r KnownHostModel) model.HostRecord {
	return model.HostRecord{
		ID:          r.ID,
		Hostname:    r.Hostname,
		PublicKey:   r.PublicKey,
		Fingerprint: r.Fingerprint,
		Source:      model.HostRecordSource(r.Source),
		AddedAt:     r.AddedAt,
	}
}
