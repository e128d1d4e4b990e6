package wire

import (
	"encoding/json"
	"fmt"
)

func init() {
	MustRegister(KindMetadata{
		Key:         KindData,
		Description: "carries an opaque text payload to its destination",
		Forwardable: true,
		Decode:      decodeData,
	})
	MustRegister(KindMetadata{
		Key:         KindUpdate,
		Description: "distance vector broadcast, consumed by the receiving neighbor",
		Forwardable: false,
		Decode:      decodeUpdate,
	})
	MustRegister(KindMetadata{
		Key:         KindTrace,
		Description: "path probe, each router appends itself to routers",
		Forwardable: true,
		Decode:      decodeTrace,
	})
	MustRegister(KindMetadata{
		Key:         KindControl,
		Description: "control notice such as unreachable, carries the original message",
		Forwardable: true,
		Decode:      decodeControl,
	})
}

func decodeData(raw []byte) (Message, error) {
	var msg Data
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode data message: %w", err)
	}
	return &msg, nil
}

func decodeUpdate(raw []byte) (Message, error) {
	var msg Update
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode update message: %w", err)
	}
	if msg.Distances == nil {
		return nil, fmt.Errorf("decode update message: distances is required")
	}
	for dst, cost := range msg.Distances {
		if cost < 0 {
			return nil, fmt.Errorf("decode update message: negative distance %d for %s", cost, dst)
		}
	}
	return &msg, nil
}

func decodeTrace(raw []byte) (Message, error) {
	var msg Trace
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode trace message: %w", err)
	}
	if len(msg.Routers) == 0 {
		return nil, fmt.Errorf("decode trace message: routers must not be empty")
	}
	return &msg, nil
}

func decodeControl(raw []byte) (Message, error) {
	var msg Control
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode control message: %w", err)
	}
	if msg.Reason == "" {
		return nil, fmt.Errorf("decode control message: reason is required")
	}
	return &msg, nil
}
