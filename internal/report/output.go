package report

import (
	"encoding/csv"
	"fmt"
	"io"
)

// Format selects the report encoding.
type Format string

const (
	FormatConsole Format = "console"
	FormatCSV     Format = "csv"
)

// CSVColumns is the header row of CSV reports.
var CSVColumns = []string{"App Name", "Type", "View Name", "Url", "Status", "Status description"}

// Write renders r in the given format.
func Write(w io.Writer, r *Report, format Format) error {
	switch format {
	case FormatConsole, "":
		return WriteConsole(w, r)
	case FormatCSV:
		return WriteCSV(w, r)
	default:
		return fmt.Errorf("unknown report format %q (use console or csv)", format)
	}
}

// WriteConsole writes a human-readable report grouped by application.
func WriteConsole(w io.Writer, r *Report) error {
	ew := &errWriter{w: w}
	ew.printf("Start checking views access.\nStart gathering information.\n")
	ew.printf("Guard middleware is active: %t.\n\n", r.MiddlewareActive)
	ew.printf("Finish gathering information.\n")

	for _, app := range r.Apps {
		ew.printf("\tAnalyzing: %s\n", app.Name)
		if app.Classification == "" {
			ew.printf("\t\t%s has no type.\n", app.Name)
		} else {
			ew.printf("\t\t%s is %s type.\n", app.Name, app.Classification)
		}
		if len(app.Views) == 0 {
			ew.printf("\t\t%s does not have configured views.\n", app.Name)
		}
		for _, v := range app.Views {
			ew.printf("\n\t\tAnalysis for view: %s\n", v.View)
			ew.printf("\t\tView url: %s\n", v.URL)
			ew.printf("\t\t%s\n", v.Description)
		}
		ew.printf("\tFinish analyzing %s.\n", app.Name)
	}
	ew.printf("End checking view access. %s.\n", r.Summary())
	return ew.err
}

// WriteCSV writes one row per view, or one row per app without views.
func WriteCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVColumns); err != nil {
		return err
	}
	for _, app := range r.Apps {
		appType := typeName(app.Classification)
		if len(app.Views) == 0 {
			if err := cw.Write([]string{app.Name, appType, "", "", "", ""}); err != nil {
				return err
			}
			continue
		}
		for _, v := range app.Views {
			row := []string{app.Name, appType, v.View, v.URL, string(v.Status), stripPrefix(v.Description)}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// errWriter remembers the first write error so callers check once.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
