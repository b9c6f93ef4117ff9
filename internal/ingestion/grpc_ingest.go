package ingestion

import (
	"TroveLedger/internal/event"
	"context"
	"errors"
)

// ErrIngestClosed is returned once the service stops accepting commands.
var ErrIngestClosed = errors.New("ingest closed")

// Submission is a command injected through the admin API, with a channel for
// the engine's verdict.
type Submission struct {
	Command event.Command
	Reply   chan<- error
}

// CommandIngestService accepts admin and manual command injection. It is not
// a high-throughput path; producers should publish to NATS.
type CommandIngestService struct {
	submitChan chan<- Submission
}

func NewCommandIngestService(submitChan chan<- Submission) *CommandIngestService {
	return &CommandIngestService{submitChan: submitChan}
}

// Submit decodes payload as commandType and waits for the engine to apply or
// reject it.
func (s *CommandIngestService) Submit(ctx context.Context, commandType string, payload []byte) (event.Command, error) {
	cmd, err := ParseRawEvent(RawEvent{Data: payload}, commandType)
	if err != nil {
		return nil, err
	}

	reply := make(chan error, 1)
	select {
	case s.submitChan <- Submission{Command: cmd, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case err, ok := <-reply:
		if !ok {
			return nil, ErrIngestClosed
		}
		return cmd, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
