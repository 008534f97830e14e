package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"railtrack/internal/schedule"
)

// FixSink receives decoded vehicle fixes.
type FixSink interface {
	Update(fixes ...schedule.VehicleFix) int
}

// FixMetrics counts incoming fix messages.
type FixMetrics interface {
	FixReceivedInc()
	FixDroppedInc()
}

// DecodeFixes accepts either a single fix object or an array of fixes.
func DecodeFixes(data []byte) ([]schedule.VehicleFix, error) {
	var batch []schedule.VehicleFix
	if err := json.Unmarshal(data, &batch); err == nil {
		return batch, nil
	}
	var one schedule.VehicleFix
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("decode fix: %w", err)
	}
	return []schedule.VehicleFix{one}, nil
}

func handleFixes(data []byte, sink FixSink, m FixMetrics, logger *slog.Logger) {
	fixes, err := DecodeFixes(data)
	if err != nil {
		if m != nil {
			m.FixDroppedInc()
		}
		logger.Warn("dropping vehicle fix", "error", err)
		return
	}
	sink.Update(fixes...)
	if m != nil {
		for range fixes {
			m.FixReceivedInc()
		}
	}
}

// SubscribeFixes feeds vehicle fixes published on subject into sink.
func SubscribeFixes(nc *nats.Conn, subject string, sink FixSink, m FixMetrics, logger *slog.Logger) (*nats.Subscription, error) {
	logger = logger.With("component", "fixes", "subject", subject)
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		handleFixes(msg.Data, sink, m, logger)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	logger.Info("subscribed to vehicle fixes")
	return sub, nil
}

// TimeControl is the part of the virtual clock driven by control messages.
type TimeControl interface {
	SetVirtualTime(s string) error
	Reset()
}

// ControlMessage sets the virtual time, or resets to real time when
// VirtualTime is null.
type ControlMessage struct {
	VirtualTime *string `json:"virtual_time"`
}

// ControlReply is sent back when the control message has a reply subject.
type ControlReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func applyControl(data []byte, c TimeControl) ControlReply {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ControlReply{Error: fmt.Sprintf("decode control: %v", err)}
	}
	if msg.VirtualTime == nil {
		c.Reset()
		return ControlReply{OK: true}
	}
	if err := c.SetVirtualTime(*msg.VirtualTime); err != nil {
		return ControlReply{Error: err.Error()}
	}
	return ControlReply{OK: true}
}

// SubscribeControl applies clock control messages published on subject.
func SubscribeControl(nc *nats.Conn, subject string, c TimeControl, logger *slog.Logger) (*nats.Subscription, error) {
	logger = logger.With("component", "control", "subject", subject)
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		reply := applyControl(msg.Data, c)
		if !reply.OK {
			logger.Warn("control message rejected", "error", reply.Error)
		}
		if msg.Reply == "" {
			return
		}
		b, _ := json.Marshal(reply)
		if err := msg.Respond(b); err != nil {
			logger.Warn("control reply failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	logger.Info("subscribed to clock control")
	return sub, nil
}
