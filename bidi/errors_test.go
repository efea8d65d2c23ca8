package bidi

import "testing"

func TestErrorMessage(t *testing.T) {
	err := NewError(ErrorCodeNoSuchScript, "missing")
	if err.Error() != "no such script: missing" {
		t.Errorf("unexpected Error() string: %q", err.Error())
	}
}
