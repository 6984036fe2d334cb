package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/muaviaUsmani/jobqueue/internal/job"
)

// HandleCountItems counts items in a JSON array payload and returns the
// count as its result value.
func HandleCountItems(ctx context.Context, j *job.Job) (json.RawMessage, error) {
	var items []string
	if err := json.Unmarshal(j.Data, &items); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]int{"count": len(items)})
}

// HandleSendEmail simulates sending an email.
func HandleSendEmail(ctx context.Context, j *job.Job) (json.RawMessage, error) {
	var email struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.Unmarshal(j.Data, &email); err != nil {
		return nil, err
	}
	select {
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return json.Marshal(map[string]string{"sentTo": email.To})
}

// HandleProcessData simulates data processing.
func HandleProcessData(ctx context.Context, j *job.Job) (json.RawMessage, error) {
	select {
	case <-time.After(3 * time.Second):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return json.Marshal(map[string]string{"status": "processed"})
}
