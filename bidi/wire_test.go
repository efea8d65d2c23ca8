package bidi

import "testing"

func TestNewSuccessResult(t *testing.T) {
	res := NewSuccessResult(7, map[string]string{"k": "v"})
	if res.ID != 7 || res.Type != "success" {
		t.Errorf("unexpected envelope: %+v", res)
	}
}

func TestNewErrorResultFromBidiError(t *testing.T) {
	err := NewError(ErrorCodeNoSuchFrame, "no frame 123")
	res := NewErrorResult(5, err)
	if res.ID != 5 || res.Type != "error" {
		t.Errorf("unexpected envelope: %+v", res)
	}
	if res.Error != string(ErrorCodeNoSuchFrame) || res.Message != "no frame 123" {
		t.Errorf("unexpected error fields: %+v", res)
	}
}

func TestNewErrorResultFromGenericError(t *testing.T) {
	res := NewErrorResult(9, errPlain("boom"))
	if res.Error != string(ErrorCodeUnknownError) {
		t.Errorf("expected unknown error code, got %q", res.Error)
	}
	if res.Message != "boom" {
		t.Errorf("expected message to be preserved, got %q", res.Message)
	}
}

func TestNewEvent(t *testing.T) {
	ev := NewEvent("log.entryAdded", map[string]int{"a": 1})
	if ev.Type != "event" || ev.Method != "log.entryAdded" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
