package dov_fixtures

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// Outcome is the result of attempting to update a single resource.
type Outcome struct {
	Resource Resource
	// Bytes is the number of bytes written on success.
	Bytes int
	// Err is nil if the fixture was updated.
	Err error
}

func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Report collects the outcomes of a refresh run.
type Report struct {
	ID       uuid.UUID
	BaseURL  string
	Started  time.Time
	Finished time.Time
	Outcomes []Outcome
	// Interrupted is set when the run was cancelled before every resource
	// was attempted.
	Interrupted error
}

func newReport(baseURL string) *Report {
	return &Report{
		ID:      uuid.New(),
		BaseURL: baseURL,
		Started: time.Now(),
	}
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Succeeded is the number of fixtures that were updated.
func (r *Report) Succeeded() int {
	count := 0
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			count++
		}
	}
	return count
}

// Failed is the number of fixtures that couldn't be updated.
func (r *Report) Failed() int {
	return len(r.Outcomes) - r.Succeeded()
}

// Summary is a one-line, human readable description of the run.
func (r *Report) Summary() string {
	summary := fmt.Sprintf("%d updated, %d failed.", r.Succeeded(), r.Failed())
	if r.Interrupted != nil {
		summary += " (interrupted)"
	}
	return summary
}

// Err combines every failure in the run into a single error, or returns nil
// if everything was updated.
func (r *Report) Err() error {
	var err error

	for _, o := range r.Outcomes {
		if o.Err != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", o.Resource.Path, o.Err))
		}
	}

	if r.Interrupted != nil {
		err = multierr.Append(err, r.Interrupted)
	}

	return err
}
