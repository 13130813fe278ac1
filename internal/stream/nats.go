package stream

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"disbursa.org/internal/obs"
)

// NATSSink publishes events to subjects <prefix>.<orgID>.disbursement.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
	log    zerolog.Logger
}

// ConnectNATS dials url and returns a sink publishing under prefix.
func ConnectNATS(url, prefix string) (*NATSSink, error) {
	nc, err := nats.Connect(url, nats.Name("disbursa"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	l := obs.Component("stream")
	l.Info().Str("url", url).Str("prefix", prefix).Msg("nats connected")
	return NewNATSSink(nc, prefix), nil
}

// NewNATSSink wraps an established connection.
func NewNATSSink(nc *nats.Conn, prefix string) *NATSSink {
	return &NATSSink{nc: nc, prefix: strings.TrimSuffix(prefix, "."), log: obs.Component("stream")}
}

// Subject returns the subject events of orgID are published on.
func (s *NATSSink) Subject(orgID string) string {
	return Subject(s.prefix, orgID)
}

// Subject builds the NATS subject for an organization's disbursement events.
func Subject(prefix, orgID string) string {
	if prefix == "" {
		return orgID + ".disbursement"
	}
	return prefix + "." + orgID + ".disbursement"
}

// Publish sends evt. Failures are logged; the change is already committed.
func (s *NATSSink) Publish(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal event")
		return
	}
	subject := s.Subject(evt.OrgID)
	if err := s.nc.Publish(subject, data); err != nil {
		s.log.Error().Err(err).Str("subject", subject).Msg("nats publish failed")
	}
}

// Close drains and closes the connection.
func (s *NATSSink) Close() error {
	return s.nc.Drain()
}
