package codec

import (
	"testing"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestJSONCodec(t *testing.T) {
	type payload struct {
		Name  string
		Value int
	}

	data, err := JSON.Encode(&payload{Name: "test", Value: 42})
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	var decoded payload
	if err := JSON.Decode(data, &decoded); err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if decoded.Name != "test" || decoded.Value != 42 {
		t.Errorf("Mismatch: got %+v", decoded)
	}
}

func TestJSONCodecInvalidInput(t *testing.T) {
	var v map[string]any
	if err := JSON.Decode([]byte("{not json"), &v); err == nil {
		t.Error("Expected error for malformed JSON")
	}
}

func TestProtobufCodec(t *testing.T) {
	data, err := Protobuf.Encode(wrapperspb.Int32(42))
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	decoded := &wrapperspb.Int32Value{}
	if err := Protobuf.Decode(data, decoded); err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if decoded.Value != 42 {
		t.Errorf("Mismatch: got %d, want 42", decoded.Value)
	}
}

func TestProtobufCodecInvalidType(t *testing.T) {
	if _, err := Protobuf.Encode("not a proto message"); err == nil {
		t.Error("Expected error for non-proto message")
	}
	var s string
	if err := Protobuf.Decode(nil, &s); err == nil {
		t.Error("Expected error for non-proto target")
	}
}

func TestForContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
		wantErr     bool
	}{
		{"", "json", false},
		{"application/json", "json", false},
		{"application/json; charset=utf-8", "json", false},
		{"application/vnd.api+json", "json", false},
		{"application/x-protobuf", "protobuf", false},
		{"application/protobuf", "protobuf", false},
		{"text/plain", "", true},
		{"%%%", "", true},
	}

	for _, tt := range tests {
		c, err := ForContentType(tt.contentType)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.contentType)
			} else if errors.Cause(err) != ErrUnsupportedCodec {
				t.Errorf("%q: expected ErrUnsupportedCodec, got %v", tt.contentType, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.contentType, err)
			continue
		}
		if c.Name() != tt.want {
			t.Errorf("%q: got codec %s, want %s", tt.contentType, c.Name(), tt.want)
		}
	}
}

func BenchmarkJSONEncode(b *testing.B) {
	data := map[string]any{
		"name":  "benchmark",
		"value": 123,
		"items": []int{1, 2, 3, 4, 5},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = JSON.Encode(data)
	}
}

func BenchmarkProtobufDecode(b *testing.B) {
	data, _ := proto.Marshal(wrapperspb.String("benchmark message"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		decoded := &wrapperspb.StringValue{}
		_ = Protobuf.Decode(data, decoded)
	}
}
