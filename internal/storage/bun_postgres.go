package storage

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/flowcraft/engine/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// workflowRow and executionRow are the JSONB-backed bun models; grounded on
// the teacher's internal/infrastructure/storage/bun_store.go, which stores
// each aggregate as a row with an id column plus a JSONB payload rather
// than exploding nodes/edges into their own tables.
type workflowRow struct {
	bun.BaseModel `bun:"table:workflows,alias:w"`

	ID      string `bun:",pk"`
	Payload []byte `bun:"payload,type:jsonb"`
}

type executionRow struct {
	bun.BaseModel `bun:"table:executions,alias:e"`

	ID         string `bun:",pk"`
	WorkflowID string `bun:"workflow_id"`
	Payload    []byte `bun:"payload,type:jsonb"`
}

// BunPostgresAdapter implements Adapter against Postgres via bun.
type BunPostgresAdapter struct {
	db *bun.DB
}

// NewBunPostgresAdapter opens a pgdriver connection and wraps it in bun
// with the Postgres dialect, matching the teacher's construction shape.
func NewBunPostgresAdapter(dsn string) *BunPostgresAdapter {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return &BunPostgresAdapter{db: db}
}

// CreateSchema creates the two backing tables if they don't already exist.
func (a *BunPostgresAdapter) CreateSchema(ctx context.Context) error {
	if _, err := a.db.NewCreateTable().Model((*workflowRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	_, err := a.db.NewCreateTable().Model((*executionRow)(nil)).IfNotExists().Exec(ctx)
	return err
}

func (a *BunPostgresAdapter) SaveWorkflow(ctx context.Context, wf *domain.Workflow) error {
	payload, err := json.Marshal(wf)
	if err != nil {
		return err
	}
	row := &workflowRow{ID: wf.ID, Payload: payload}
	_, err = a.db.NewInsert().Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Exec(ctx)
	return err
}

func (a *BunPostgresAdapter) GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	row := new(workflowRow)
	if err := a.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}
	wf := new(domain.Workflow)
	if err := json.Unmarshal(row.Payload, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

func (a *BunPostgresAdapter) ListWorkflows(ctx context.Context) ([]*domain.Workflow, error) {
	var rows []workflowRow
	if err := a.db.NewSelect().Model(&rows).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*domain.Workflow, 0, len(rows))
	for _, row := range rows {
		wf := new(domain.Workflow)
		if err := json.Unmarshal(row.Payload, wf); err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}

func (a *BunPostgresAdapter) SaveExecution(ctx context.Context, rec *ExecutionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	row := &executionRow{ID: rec.ID, WorkflowID: rec.WorkflowID, Payload: payload}
	_, err = a.db.NewInsert().Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Exec(ctx)
	return err
}

func (a *BunPostgresAdapter) GetExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	row := new(executionRow)
	if err := a.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}
	rec := new(ExecutionRecord)
	if err := json.Unmarshal(row.Payload, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (a *BunPostgresAdapter) ListExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*ExecutionRecord, error) {
	var rows []executionRow
	if err := a.db.NewSelect().Model(&rows).Where("workflow_id = ?", workflowID).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*ExecutionRecord, 0, len(rows))
	for _, row := range rows {
		rec := new(ExecutionRecord)
		if err := json.Unmarshal(row.Payload, rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
