package storage

import "epochsync/internal/model"

// Snapshotter keeps a local copy of computed tables.
type Snapshotter interface {
	PutTable(name string, table model.Table) error
}

// Journal records finished runs.
type Journal interface {
	PutRuns(runs []model.RunRecord) error
}
