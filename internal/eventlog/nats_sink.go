package eventlog

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/makeasinger/panelcast/internal/model"
)

// NATSSink mirrors appended events to <prefix>.<job_id>.events.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
	logger *logrus.Entry
}

func NewNATSSink(conn *nats.Conn, prefix string, logger *logrus.Entry) *NATSSink {
	return &NATSSink{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the subject events of jobID are published on.
func (s *NATSSink) Subject(jobID string) string {
	return fmt.Sprintf("%s.%s.events", s.prefix, jobID)
}

// Publish is buffered by the NATS client and does not wait for the server.
func (s *NATSSink) Publish(ev model.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.WithError(err).Error("marshal event for nats")
		return
	}
	if err := s.conn.Publish(s.Subject(ev.JobID), data); err != nil {
		s.logger.WithFields(logrus.Fields{
			"job_id":   ev.JobID,
			"sequence": ev.Sequence,
		}).WithError(err).Warn("nats publish failed")
	}
}
