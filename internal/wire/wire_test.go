package wire

import (
	"encoding/json"
	"testing"
)

func TestOK_OmitsEmptyFields(t *testing.T) {
	raw, err := OK(CmdNameChanged, nil)
	if err != nil {
		t.Fatalf("OK err: %v", err)
	}
	want := `{"status":"ok","command":"name_changed"}`
	if string(raw) != want {
		t.Fatalf("got %s, want %s", raw, want)
	}
}

func TestErr_Shape(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal(Err("table full"), &env); err != nil {
		t.Fatalf("unmarshal err: %v", err)
	}
	if env.Status != "error" || env.Error != "table full" || env.Command != "" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}
