// Package codec holds the body codecs that populate a request's parsed-body
// slot and encode response payloads.
package codec

import (
	"encoding/json"
	"mime"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrUnsupportedCodec = errors.New("unsupported codec")
)

// Codec encodes and decodes message bodies.
type Codec interface {
	// Encode encodes a value to bytes
	Encode(v any) ([]byte, error)

	// Decode decodes bytes to a value
	Decode(data []byte, v any) error

	// Name returns the codec name
	Name() string

	// ContentType is the media type written with encoded bodies
	ContentType() string
}

// Shared codec instances
var (
	JSON     Codec = JSONCodec{}
	Protobuf Codec = ProtobufCodec{}
)

// JSONCodec implements JSON encoding/decoding
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "json encode")
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, "json decode")
	}
	return nil
}

func (JSONCodec) Name() string {
	return "json"
}

func (JSONCodec) ContentType() string {
	return "application/json; charset=utf-8"
}

// ForContentType picks a codec from a Content-Type header value. An empty
// value selects JSON.
func ForContentType(contentType string) (Codec, error) {
	if strings.TrimSpace(contentType) == "" {
		return JSON, nil
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, errors.Wrapf(ErrUnsupportedCodec, "content type %q", contentType)
	}
	switch {
	case mediaType == "application/json", strings.HasSuffix(mediaType, "+json"):
		return JSON, nil
	case mediaType == "application/x-protobuf", mediaType == "application/protobuf":
		return Protobuf, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedCodec, "content type %q", contentType)
}
