package install

import (
	"encoding/json"
	"fmt"
	"time"
)

// Outcome is the terminal classification of a workflow run for one host.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "succeeded":
		*o = OutcomeSucceeded
	case "skipped":
		*o = OutcomeSkipped
	case "failed":
		*o = OutcomeFailed
	default:
		return fmt.Errorf("unknown outcome %q", s)
	}
	return nil
}

// Stage names the workflow step a result refers to.
type Stage string

const (
	StageConnect        Stage = "connect"
	StageCheckInstalled Stage = "check-installed"
	StageResourceCheck  Stage = "resource-check"
	StageFetch          Stage = "fetch"
	StageInstall        Stage = "install"
	StageConfigure      Stage = "configure"
	StageCleanup        Stage = "cleanup"
)

// HostResult is the immutable record of one workflow run on one host.
// Exactly one is produced per configured server per run.
type HostResult struct {
	Host       string    `json:"host"`
	Outcome    Outcome   `json:"outcome"`
	Stage      Stage     `json:"stage,omitempty"` // failure stage; empty on success/skip
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMS int64     `json:"duration_ms"`
}

func succeeded(host, message string) HostResult {
	return HostResult{Host: host, Outcome: OutcomeSucceeded, Message: message}
}

func skipped(host, message string) HostResult {
	return HostResult{Host: host, Outcome: OutcomeSkipped, Message: message}
}

func failed(host string, stage Stage, message string) HostResult {
	return HostResult{Host: host, Outcome: OutcomeFailed, Stage: stage, Message: message}
}
