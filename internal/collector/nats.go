package collector

import (
	"strconv"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/beaconkit/beacon"
	beaconnats "github.com/beaconkit/beacon/nats"
)

// ServeNATS answers requests on subject. Each reply is empty apart from the
// status header.
func (c *Collector) ServeNATS(conn *nats.Conn, subject string) (*nats.Subscription, error) {
	c.logger.Info("serving nats", zap.String("subject", subject))
	return conn.Subscribe(subject, func(msg *nats.Msg) {
		status, err := c.Accept(msg.Data, msg.Header.Get(beacon.EncodingHeader))
		if err != nil {
			c.logger.Debug("nats request rejected", zap.Int("status", status), zap.Error(err))
		}
		reply := nats.NewMsg(msg.Reply)
		reply.Header.Set(beaconnats.StatusHeader, strconv.Itoa(status))
		if err := msg.RespondMsg(reply); err != nil {
			c.logger.Warn("nats reply failed", zap.Error(err))
		}
	})
}
