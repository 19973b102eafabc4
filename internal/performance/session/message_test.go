package session

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEncodeMessage(t *testing.T) {
	sentAt := time.UnixMilli(1700000000123)

	tests := []struct {
		name   string
		policy Policy
		wantID string
		want   map[string]any
	}{
		{
			name:   "single slot",
			policy: PolicySingleSlot,
			wantID: "vu7_ultra_3",
			want:   map[string]any{"id": "vu7_ultra_3", "t": float64(1700000000123), "v": float64(7), "c": float64(3)},
		},
		{
			name:   "fixed rate",
			policy: PolicyFixedRate,
			wantID: "vu7_msg3",
			want: map[string]any{
				"id": "vu7_msg3", "timestamp": float64(1700000000123), "vu": float64(7),
				"counter": float64(3), "data": "Test message 3",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, payload, err := EncodeMessage(tt.policy, 7, 3, sentAt)
			if err != nil {
				t.Fatalf("EncodeMessage() error = %v", err)
			}
			if id != tt.wantID {
				t.Errorf("id = %q, want %q", id, tt.wantID)
			}

			var got map[string]any
			if err := json.Unmarshal(payload, &got); err != nil {
				t.Fatalf("payload is not JSON: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Errorf("payload = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("payload[%q] = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestEncodeMessage_UnknownPolicy(t *testing.T) {
	if _, _, err := EncodeMessage(Policy("burst"), 1, 1, time.Now()); err == nil {
		t.Error("EncodeMessage() with unknown policy succeeded")
	}
}

func TestDecodeReply(t *testing.T) {
	frame := []byte(`{"message_id":12,"server_timestamp":1700000000200,` +
		`"client_message":"{\"id\":\"vu1_ultra_5\",\"t\":1700000000100,\"v\":1,\"c\":5}",` +
		`"connection_id":4}`)

	reply, id, err := DecodeReply(frame)
	if err != nil {
		t.Fatalf("DecodeReply() error = %v", err)
	}
	if id != "vu1_ultra_5" {
		t.Errorf("id = %q, want vu1_ultra_5", id)
	}
	if reply.MessageID != 12 || reply.ConnectionID != 4 || reply.ServerTimestamp != 1700000000200 {
		t.Errorf("reply = %+v", reply)
	}
}

func TestDecodeReply_Errors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		kind  DecodeErrorKind
	}{
		{"not json", `hello`, DecodeMalformed},
		{"array", `[1,2]`, DecodeMalformed},
		{"no client message", `{"message_id":1,"system":{"status":"ok"}}`, DecodeMissingPayload},
		{"client message not json", `{"client_message":"plain text"}`, DecodeMissingID},
		{"client message without id", `{"client_message":"{\"t\":1}"}`, DecodeMissingID},
		{"empty id", `{"client_message":"{\"id\":\"\"}"}`, DecodeMissingID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeReply([]byte(tt.frame))
			if err == nil {
				t.Fatal("DecodeReply() error = nil")
			}
			if !IsDecodeError(err, tt.kind) {
				t.Errorf("DecodeReply() error = %v, want kind %v", err, tt.kind)
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	tests := map[string]Policy{
		"":            PolicySingleSlot,
		"single-slot": PolicySingleSlot,
		"high-load":   PolicySingleSlot,
		"Fixed-Rate":  PolicyFixedRate,
		"steady":      PolicyFixedRate,
	}
	for in, want := range tests {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParsePolicy("burst"); err == nil {
		t.Error("ParsePolicy(\"burst\") succeeded")
	}
}
