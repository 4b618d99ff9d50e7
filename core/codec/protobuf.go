package codec

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
)

// ProtobufCodec implements Protocol Buffers encoding/decoding
type ProtobufCodec struct{}

func (ProtobufCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, errors.Errorf("value must implement proto.Message interface, got %T", v)
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "protobuf encode")
	}
	return data, nil
}

func (ProtobufCodec) Decode(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return errors.Errorf("value must implement proto.Message interface, got %T", v)
	}
	if err := proto.Unmarshal(data, msg); err != nil {
		return errors.Wrap(err, "protobuf decode")
	}
	return nil
}

func (ProtobufCodec) Name() string {
	return "protobuf"
}

func (ProtobufCodec) ContentType() string {
	return "application/x-protobuf"
}
