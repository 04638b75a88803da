// Package progress carries campaign delivery status from the orchestrator to
// its caller as an ordered stream of newline-delimited JSON records.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Status tags a Record
type Status string

const (
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusComplete Status = "complete"
)

// Record is one line of the progress stream.
//
// success:  {status, email, sent, total}
// error:    {status, email, error, sent, total}
// complete: {status, sent, failed, failedEmails}
type Record struct {
	Status       Status
	Email        string
	Error        string
	Sent         int
	Total        int
	Failed       int
	FailedEmails []string
}

// Success reports a delivered recipient
func Success(email string, sent, total int) Record {
	return Record{Status: StatusSuccess, Email: email, Sent: sent, Total: total}
}

// Failure reports a recipient whose attempts are exhausted
func Failure(email, message string, sent, total int) Record {
	return Record{Status: StatusError, Email: email, Error: message, Sent: sent, Total: total}
}

// Complete closes a campaign with its final counts
func Complete(sent, failed int, failedEmails []string) Record {
	return Record{Status: StatusComplete, Sent: sent, Failed: failed, FailedEmails: failedEmails}
}

type successWire struct {
	Status Status `json:"status"`
	Email  string `json:"email"`
	Sent   int    `json:"sent"`
	Total  int    `json:"total"`
}

type errorWire struct {
	Status Status `json:"status"`
	Email  string `json:"email"`
	Error  string `json:"error"`
	Sent   int    `json:"sent"`
	Total  int    `json:"total"`
}

type completeWire struct {
	Status       Status   `json:"status"`
	Sent         int      `json:"sent"`
	Failed       int      `json:"failed"`
	FailedEmails []string `json:"failedEmails"`
}

// MarshalJSON emits exactly the fields of the record's status
func (r Record) MarshalJSON() ([]byte, error) {
	switch r.Status {
	case StatusSuccess:
		return json.Marshal(successWire{r.Status, r.Email, r.Sent, r.Total})
	case StatusError:
		return json.Marshal(errorWire{r.Status, r.Email, r.Error, r.Sent, r.Total})
	case StatusComplete:
		failed := r.FailedEmails
		if failed == nil {
			failed = []string{}
		}
		return json.Marshal(completeWire{r.Status, r.Sent, r.Failed, failed})
	}
	return nil, fmt.Errorf("unknown progress status %q", r.Status)
}

// UnmarshalJSON accepts any of the three record shapes
func (r *Record) UnmarshalJSON(data []byte) error {
	var wire struct {
		Status       Status   `json:"status"`
		Email        string   `json:"email"`
		Error        string   `json:"error"`
		Sent         int      `json:"sent"`
		Total        int      `json:"total"`
		Failed       int      `json:"failed"`
		FailedEmails []string `json:"failedEmails"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch wire.Status {
	case StatusSuccess, StatusError, StatusComplete:
	case "":
		return errors.New("progress record without status")
	default:
		return fmt.Errorf("unknown progress status %q", wire.Status)
	}
	*r = Record(wire)
	return nil
}
