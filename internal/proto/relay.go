// Package proto describes the relay gRPC service. Messages are
// google.protobuf.Struct values shaped like the websocket envelope
// {"event": ..., "data": {...}}, so the service needs no generated code.
package proto

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/filerelay/internal/common"
	"github.com/dmitrijs2005/filerelay/internal/server/relay"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName   = "filerelay.relay.Relay"
	ConnectMethod = "/" + ServiceName + "/Connect"
)

// ConnectStreamDesc is the bidirectional Connect stream.
var ConnectStreamDesc = grpc.StreamDesc{
	StreamName:    "Connect",
	ServerStreams: true,
	ClientStreams: true,
}

// Encode converts ev into its Struct form.
func Encode(ev relay.Event) (*structpb.Struct, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Name, err)
	}
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Name, err)
	}
	return msg, nil
}

// Decode converts msg back into an event. A message without an event name
// is a validation error.
func Decode(msg *structpb.Struct) (relay.Event, error) {
	var ev relay.Event
	if msg == nil {
		return ev, fmt.Errorf("%w: empty message", common.ErrValidation)
	}
	raw, err := protojson.Marshal(msg)
	if err != nil {
		return ev, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Name == "" {
		return relay.Event{}, fmt.Errorf("%w: malformed event envelope", common.ErrValidation)
	}
	return ev, nil
}
