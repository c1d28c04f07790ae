package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestIDUnmarshalNormalizes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want ID
	}{
		{"string", `"43"`, "43"},
		{"number", `43`, "43"},
		{"padded string", `" 43 "`, "43"},
		{"uuid", `"9b2f1c00-aaaa-bbbb-cccc-000000000001"`, "9b2f1c00-aaaa-bbbb-cccc-000000000001"},
		{"null", `null`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var id ID
			if err := json.Unmarshal([]byte(tc.raw), &id); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", tc.raw, err)
			}
			if id != tc.want {
				t.Fatalf("Unmarshal(%s) = %q, want %q", tc.raw, id, tc.want)
			}
		})
	}
}

func TestIDUnmarshalRejectsNonScalar(t *testing.T) {
	var id ID
	if err := json.Unmarshal([]byte(`{"x":1}`), &id); err == nil {
		t.Fatalf("Unmarshal(object) error = nil, want error")
	}
}

func TestParseJoinRoomNumericIDs(t *testing.T) {
	raw := []byte(`{"event":"email_tool_join_room","data":{"user_id":43,"session_id":"4"}}`)
	parsed, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	msg, ok := parsed.(JoinRoom)
	if !ok {
		t.Fatalf("parsed type = %T, want JoinRoom", parsed)
	}
	if msg.UserID != "43" || msg.SessionID != "4" {
		t.Fatalf("parsed ids = (%q, %q), want (43, 4)", msg.UserID, msg.SessionID)
	}
}

func TestParseJoinRoomEmailOnly(t *testing.T) {
	raw := []byte(`{"event":"email_tool_join_room","data":{"user_email":"a@b.com","session_id":7}}`)
	parsed, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	msg := parsed.(JoinRoom)
	if msg.UserEmail != "a@b.com" || msg.SessionID != "7" {
		t.Fatalf("parsed = %+v, want email a@b.com session 7", msg)
	}
}

func TestParseJoinRoomMissingSession(t *testing.T) {
	raw := []byte(`{"event":"email_tool_join_room","data":{"user_id":"43"}}`)
	if _, err := ParseClientMessage(raw); err == nil {
		t.Fatalf("ParseClientMessage() error = nil, want required-field error")
	}
}

func TestParseJoinRoomMissingIdentity(t *testing.T) {
	raw := []byte(`{"event":"email_tool_join_room","data":{"session_id":"4"}}`)
	if _, err := ParseClientMessage(raw); err == nil {
		t.Fatalf("ParseClientMessage() error = nil, want required-field error")
	}
}

func TestParseUserApproved(t *testing.T) {
	raw := []byte(`{"event":"email_tool_user_approved","data":{"user_id":"43","session_id":"4","approved":false}}`)
	parsed, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	msg, ok := parsed.(UserApproved)
	if !ok {
		t.Fatalf("parsed type = %T, want UserApproved", parsed)
	}
	if msg.Approved {
		t.Fatalf("Approved = true, want false")
	}
}

func TestParseAuthCompleted(t *testing.T) {
	raw := []byte(`{"event":"email_tool_auth_completed","data":{"user_id":1,"session_id":2,"success":true}}`)
	parsed, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	msg, ok := parsed.(AuthCompleted)
	if !ok {
		t.Fatalf("parsed type = %T, want AuthCompleted", parsed)
	}
	if !msg.Success {
		t.Fatalf("Success = false, want true")
	}
}

func TestParseUnsupportedEvent(t *testing.T) {
	raw := []byte(`{"event":"email_tool_selfdestruct","data":{}}`)
	if _, err := ParseClientMessage(raw); !errors.Is(err, ErrUnsupportedEvent) {
		t.Fatalf("ParseClientMessage() error = %v, want ErrUnsupportedEvent", err)
	}
}

func TestParseInvalidEnvelope(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`not json`)); err == nil {
		t.Fatalf("ParseClientMessage() error = nil, want envelope error")
	}
}

func TestParseMissingData(t *testing.T) {
	raw := []byte(`{"event":"email_tool_user_approved"}`)
	if _, err := ParseClientMessage(raw); err == nil {
		t.Fatalf("ParseClientMessage() error = nil, want missing data error")
	}
}
