package session

import (
	"fmt"
	"path"
	"strings"
	"time"
)

const idExt = ".json"

// NewID returns the document id for a session started at t, formatted as
// PREFIX-YYYY-MM-DD-HH-MM-SS.json in t's location.
func NewID(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%s%s", prefix, t.Format("2006-01-02-15-04-05"), idExt)
}

// LettersID returns the id of the letters document that belongs to the
// session id: "<stem>-letters<ext>".
func LettersID(id string) string {
	ext := path.Ext(id)
	return strings.TrimSuffix(id, ext) + "-letters" + ext
}

// ReportName returns the attachment name of a session's text report.
func ReportName(id string) string {
	return strings.TrimSuffix(id, idExt) + ".txt"
}

func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && !strings.HasPrefix(id, ".")
}
