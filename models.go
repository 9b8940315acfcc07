package dov_fixtures

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Run{}, &Attempt{})
}

// Run is the stored record of one refresh.
type Run struct {
	gorm.Model
	UUID        string `gorm:"uniqueIndex"`
	BaseURL     string
	Started     time.Time
	Finished    time.Time
	Succeeded   int
	Failed      int
	Interrupted bool
	Attempts    []Attempt `gorm:"constraint:OnDelete:CASCADE"`
}

// Attempt is the stored outcome of updating a single fixture.
type Attempt struct {
	gorm.Model
	RunID   uint
	Dataset string
	Path    string
	URL     string
	State   AttemptState
	Error   string
	Bytes   int
}

type AttemptState int

const (
	AttemptStateSucceeded AttemptState = iota
	AttemptStateFailed
)

func (t AttemptState) String() string {
	switch t {
	case AttemptStateSucceeded:
		return "succeeded"
	case AttemptStateFailed:
		return "failed"
	default:
		return fmt.Sprintf("<invalid: %d>", t)
	}
}

func (t *AttemptState) Scan(value interface{}) error {
	switch raw := value.(type) {
	case int64:
		*t = AttemptState(raw)
	case int:
		*t = AttemptState(raw)
	default:
		return fmt.Errorf("expected an integer, found %v", value)
	}

	return nil
}

func (t AttemptState) Value() (driver.Value, error) {
	return driver.DefaultParameterConverter.ConvertValue(int(t))
}

func (t AttemptState) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *AttemptState) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "succeeded":
		*t = AttemptStateSucceeded
	case "failed":
		*t = AttemptStateFailed
	default:
		return fmt.Errorf("unknown attempt state: %s", s)
	}

	return nil
}

// RecordRun saves a finished refresh and all of its attempts.
func RecordRun(ctx context.Context, db *gorm.DB, report *Report) (Run, error) {
	run := Run{
		UUID:        report.ID.String(),
		BaseURL:     report.BaseURL,
		Started:     report.Started,
		Finished:    report.Finished,
		Succeeded:   report.Succeeded(),
		Failed:      report.Failed(),
		Interrupted: report.Interrupted != nil,
	}

	for _, o := range report.Outcomes {
		attempt := Attempt{
			Dataset: o.Resource.Dataset,
			Path:    o.Resource.Path,
			URL:     o.Resource.URL,
			State:   AttemptStateSucceeded,
			Bytes:   o.Bytes,
		}
		if o.Err != nil {
			attempt.State = AttemptStateFailed
			attempt.Error = o.Err.Error()
		}
		run.Attempts = append(run.Attempts, attempt)
	}

	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		return Run{}, fmt.Errorf("unable to save run %s: %w", run.UUID, err)
	}

	return run, nil
}

// ListRuns gets the most recent runs, newest first. A limit of zero or less
// returns every run.
func ListRuns(ctx context.Context, db *gorm.DB, limit int) ([]Run, error) {
	query := db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var runs []Run
	if err := query.Find(&runs).Error; err != nil {
		return nil, err
	}

	return runs, nil
}

// GetRun loads a run and its attempts.
func GetRun(ctx context.Context, db *gorm.DB, id uint) (Run, error) {
	var run Run

	err := db.WithContext(ctx).
		Preload("Attempts", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&run, id).
		Error
	if err != nil {
		return Run{}, err
	}

	return run, nil
}
