// Copyright (c) 2026 Shipway Authors
// Shipway - automated single-host deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import "shipway/internal/model"

// Store defines the interface for all database operations in Shipway. The
// trust store and run history sit behind it so tests and alternative backends
// can swap implementations.
type Store interface {
	// Host record methods
	GetHostRecords(hostname string) ([]model.HostRecord, error)
	AddHostRecord(rec model.HostRecord) error
	DeleteHostRecords(hostname string) (int, error)

	// Run history methods
	SaveRunRecord(rec model.RunRecord) error
	GetRunHistory(limit int) ([]model.RunRecord, error)

	Close() error
}
