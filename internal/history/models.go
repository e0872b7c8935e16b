package history

import (
	"encoding/json"
	"time"
)

// RecordModel maps to the "execution_records" table. Command and Artifacts
// are stored as JSON text so the schema is identical on SQLite and Postgres.
type RecordModel struct {
	ID            string `gorm:"primaryKey"`
	Backend       string `gorm:"not null;index"`
	CommandJSON   string `gorm:"column:command;not null"`
	WorkingDir    string
	Status        string `gorm:"not null;index"`
	ExitCode      int
	Stdout        string
	Stderr        string
	DurationMS    int64
	Reason        string
	Error         string
	ArtifactsJSON string    `gorm:"column:artifacts"`
	CreatedAt     time.Time `gorm:"index"`
}

func (RecordModel) TableName() string { return "execution_records" }

func toModel(rec *Record) (*RecordModel, error) {
	cmd, err := json.Marshal(rec.Command)
	if err != nil {
		return nil, err
	}
	var artifacts string
	if len(rec.Artifacts) > 0 {
		b, err := json.Marshal(rec.Artifacts)
		if err != nil {
			return nil, err
		}
		artifacts = string(b)
	}
	return &RecordModel{
		ID:            rec.ID,
		Backend:       rec.Backend,
		CommandJSON:   string(cmd),
		WorkingDir:    rec.WorkingDir,
		Status:        rec.Status,
		ExitCode:      rec.ExitCode,
		Stdout:        rec.Stdout,
		Stderr:        rec.Stderr,
		DurationMS:    rec.Duration.Milliseconds(),
		Reason:        rec.Reason,
		Error:         rec.Error,
		ArtifactsJSON: artifacts,
		CreatedAt:     rec.CreatedAt,
	}, nil
}

func toDomain(m *RecordModel) (*Record, error) {
	var cmd []string
	if m.CommandJSON != "" {
		if err := json.Unmarshal([]byte(m.CommandJSON), &cmd); err != nil {
			return nil, err
		}
	}
	var artifacts []ArtifactRecord
	if m.ArtifactsJSON != "" {
		if err := json.Unmarshal([]byte(m.ArtifactsJSON), &artifacts); err != nil {
			return nil, err
		}
	}
	return &Record{
		ID:         m.ID,
		Backend:    m.Backend,
		Command:    cmd,
		WorkingDir: m.WorkingDir,
		Status:     m.Status,
		ExitCode:   m.ExitCode,
		Stdout:     m.Stdout,
		Stderr:     m.Stderr,
		Duration:   time.Duration(m.DurationMS) * time.Millisecond,
		Reason:     m.Reason,
		Error:      m.Error,
		Artifacts:  artifacts,
		CreatedAt:  m.CreatedAt,
	}, nil
}
