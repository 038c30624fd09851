package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes events as JSON messages on a NATS subject, one
// subject segment per task so consumers can subscribe per task or with
// a wildcard.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink connects to the given NATS URL. The subject is the base;
// events are published on "<subject>.<task-id>" when the event carries
// a task, on the base subject otherwise.
func NewNATSSink(url, subject string) (*NATSSink, error) {
	conn, err := nats.Connect(url, nats.Name("skillrun-events"))
	if err != nil {
		return nil, fmt.Errorf("connecting to event bus at %s: %w", url, err)
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

func (s *NATSSink) Emit(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	subject := s.subject
	if ev.TaskID != "" {
		subject = s.subject + "." + ev.TaskID
	}
	_ = s.conn.Publish(subject, payload)
}

func (s *NATSSink) Close() error {
	if err := s.conn.Flush(); err != nil {
		s.conn.Close()
		return err
	}
	s.conn.Close()
	return nil
}
