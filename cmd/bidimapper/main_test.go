package main

import (
	"bufio"
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestWriteFrameWritesNewlineDelimitedJSON(t *testing.T) {
	var buf bytes.Buffer
	out := bufio.NewWriter(&buf)
	logger := log.New(&bytes.Buffer{}, "", 0)

	writeFrame(out, map[string]interface{}{"id": 1, "type": "success"}, logger)

	got := buf.String()
	if !strings.HasSuffix(got, "\n") {
		t.Fatalf("expected a trailing newline, got %q", got)
	}
	if !strings.Contains(got, `"type":"success"`) {
		t.Errorf("expected marshalled frame in output, got %q", got)
	}
}

func TestWriteFrameLogsMarshalErrorAndWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	out := bufio.NewWriter(&buf)
	var logBuf bytes.Buffer
	logger := log.New(&logBuf, "", 0)

	// Channels are not JSON-marshalable, so this exercises the error path.
	writeFrame(out, make(chan int), logger)

	out.Flush()
	if buf.Len() != 0 {
		t.Errorf("expected nothing written to stdout on marshal failure, got %q", buf.String())
	}
	if !strings.Contains(logBuf.String(), "marshal outbound frame") {
		t.Errorf("expected a marshal error logged, got %q", logBuf.String())
	}
}
