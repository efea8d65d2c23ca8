package mapper

import (
	"log"
	"os"
)

// Logger is the default package logger, grounded on chromedp's log.go.
var Logger = log.New(os.Stderr, "bidimapper ", log.LstdFlags)

// LogFunc is the namespaced logging hook shape, matching chromedp's
// WithLogf/WithDebugf/WithErrorf options.
type LogFunc func(string, ...interface{})

// LogNetwork and LogSession are process-wide debug namespaces (spec.md
// §9: "state that looks like global state... is process-wide and
// acceptable as module-level toggles; it never affects protocol
// semantics"). Nothing in the package reads them.
var (
	LogNetwork bool
	LogSession bool
)

func defaultLogf(s string, v ...interface{})   { Logger.Printf(s, v...) }
func defaultDebugf(s string, v ...interface{}) {}
func defaultErrorf(s string, v ...interface{}) { Logger.Printf(s, v...) }
