package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects for pipeline progress events. Downstream consumers
// (dashboards, review tooling) subscribe to these to follow a run live.
const (
	SubjectChunkProcessed = "careform.chunk.processed"
	SubjectAnswerUpdated  = "careform.answer.updated"
	SubjectRunDone        = "careform.run.done"
)

// ChunkEvent is emitted after each chunk finishes, whether or not the
// oracle produced usable answers for it.
type ChunkEvent struct {
	RunID      string  `json:"run_id"`
	Chunk      int     `json:"chunk"`
	TotalChunk int     `json:"total_chunks"`
	RTT        float64 `json:"rtt"`
	Retries    int     `json:"retries"`
	Failed     bool    `json:"failed"`
}

// AnswerEvent is emitted whenever a stored answer changes.
type AnswerEvent struct {
	QuestionID string `json:"question_id"`
	Certainty  string `json:"certainty"`
	Provenance string `json:"provenance"`
}

// RunEvent is emitted once when a run over a transcript completes.
type RunEvent struct {
	RunID        string `json:"run_id"`
	TotalChunks  int    `json:"total_chunks"`
	FailedChunks int    `json:"failed_chunks"`
}

// Publisher pushes pipeline events onto NATS. A nil Publisher is valid
// and drops all events, so callers never need to branch on whether
// notifications are configured.
type Publisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func Connect(url, token string, logger *slog.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Publisher{conn: nc, logger: logger}, nil
}

func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.conn.Close()
}

func (p *Publisher) publish(subject string, event any) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("marshal event", "subject", subject, "error", err)
		return
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Warn("publish event", "subject", subject, "error", err)
	}
}

func (p *Publisher) ChunkProcessed(event ChunkEvent) {
	p.publish(SubjectChunkProcessed, event)
}

func (p *Publisher) AnswerUpdated(event AnswerEvent) {
	p.publish(SubjectAnswerUpdated, event)
}

func (p *Publisher) RunDone(event RunEvent) {
	p.publish(SubjectRunDone, event)
}
