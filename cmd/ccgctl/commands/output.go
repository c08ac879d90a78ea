package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"text/tabwriter"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	db         *gorm.DB
	logger     = zap.NewNop()
	outputJSON bool
	out        io.Writer = os.Stdout
)

// SetDB sets the database connection used by every command.
func SetDB(database *gorm.DB) {
	db = database
}

// SetLogger sets the logger handed to the stores.
func SetLogger(l *zap.Logger) {
	logger = l
}

func SetOutputJSON(json bool) {
	outputJSON = json
}

// SetOutput redirects command output, stdout by default.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	out = w
}

func requireDB() error {
	if db == nil {
		return fmt.Errorf("no database configured, pass --db-url or set DATABASE_URL")
	}
	return nil
}

// OutputTable outputs data in table format
func OutputTable(headers []string, rows [][]string) {
	if outputJSON {
		jsonRows := make([]map[string]string, 0, len(rows))
		for _, row := range rows {
			jsonRow := make(map[string]string)
			for i, cell := range row {
				if i < len(headers) {
					jsonRow[headers[i]] = cell
				}
			}
			jsonRows = append(jsonRows, jsonRow)
		}
		OutputJSON(jsonRows)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	writeRow(w, headers)
	sep := make([]string, len(headers))
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(w, sep)
	for _, row := range rows {
		writeRow(w, row)
	}
	_ = w.Flush()
}

func writeRow(w io.Writer, cells []string) {
	for i, cell := range cells {
		if i > 0 {
			_, _ = fmt.Fprint(w, "\t")
		}
		_, _ = fmt.Fprint(w, cell)
	}
	_, _ = fmt.Fprintln(w)
}

// OutputJSON outputs data in JSON format
func OutputJSON(data interface{}) {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
	}
}

func printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(out, format, args...)
}

// redactURL hides credentials embedded in a connection URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
