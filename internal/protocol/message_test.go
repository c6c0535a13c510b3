package protocol

import (
	"bytes"
	"encoding/json"
	"testing"
)

func Test_request_frame_round_trip(t *testing.T) {
	original := NewRequest("req-1", "POST", "/api/items?limit=5",
		map[string]string{"Content-Type": "application/json"},
		[]byte(`{"name":"x"}`))

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded.Type != TypeRequest {
		t.Errorf("type mismatch: got %q, want %q", decoded.Type, TypeRequest)
	}
	if decoded.RequestID != "req-1" {
		t.Errorf("request id mismatch: got %q", decoded.RequestID)
	}
	if decoded.Method != "POST" || decoded.Path != "/api/items?limit=5" {
		t.Errorf("method/path mismatch: got %q %q", decoded.Method, decoded.Path)
	}
	if decoded.Headers["Content-Type"] != "application/json" {
		t.Errorf("headers mismatch: got %v", decoded.Headers)
	}

	body, err := DecodeBody(decoded.Body)
	if err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	if !bytes.Equal(body, []byte(`{"name":"x"}`)) {
		t.Errorf("body mismatch: got %q", body)
	}
}

func Test_response_frame_round_trip(t *testing.T) {
	original := NewResponse("req-2", 201,
		map[string]string{"Location": "/items/9"}, []byte("created"))

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded.Type != TypeResponse || decoded.StatusCode != 201 {
		t.Errorf("got type %q status %d", decoded.Type, decoded.StatusCode)
	}
	if decoded.RequestID != "req-2" {
		t.Errorf("request id mismatch: got %q", decoded.RequestID)
	}
}

func Test_body_encode_decode_round_trip(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		[]byte("hi"),
		{0x00, 0xff, 0x10, 0x80},
		bytes.Repeat([]byte("abc"), 10000),
	}

	for _, body := range cases {
		decoded, err := DecodeBody(EncodeBody(body))
		if err != nil {
			t.Fatalf("decode failed for %d bytes: %v", len(body), err)
		}
		if !bytes.Equal(decoded, body) {
			t.Errorf("round trip mismatch for %d bytes", len(body))
		}
	}
}

func Test_empty_body_encodes_to_empty_string(t *testing.T) {
	if got := EncodeBody(nil); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
	if got := EncodeBody([]byte{}); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func Test_decode_body_rejects_invalid_base64(t *testing.T) {
	if _, err := DecodeBody("not base64!!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

func Test_ping_pong_frames_have_no_payload(t *testing.T) {
	for _, m := range []*Message{NewPing(), NewPong()} {
		data, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		want := `{"type":"` + m.Type + `"}`
		if string(data) != want {
			t.Errorf("got %s, want %s", data, want)
		}
	}
}

func Test_request_ids_are_unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewRequestID()
		if seen[id] {
			t.Fatalf("duplicate request id %q", id)
		}
		seen[id] = true
	}
}
