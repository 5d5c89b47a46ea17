package output

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func newTestPrinter(format Format) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return NewWithWriters(format, false, &out, &errOut), &out, &errOut
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"text", FormatText, false},
		{"table", FormatTable, false},
		{"", FormatText, false},
		{"yaml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrintJSON(t *testing.T) {
	p, out, _ := newTestPrinter(FormatJSON)
	require.NoError(t, p.Print(map[string]int{"unread": 2}, func(w io.Writer) {
		_, _ = io.WriteString(w, "ignored")
	}))
	assert.JSONEq(t, `{"unread": 2}`, out.String())

	p.Success("done")
	assert.NotContains(t, out.String(), "done", "status lines stay out of JSON output")
}

func TestPrintText(t *testing.T) {
	p, out, _ := newTestPrinter(FormatText)
	require.NoError(t, p.Print(nil, func(w io.Writer) {
		_, _ = io.WriteString(w, "2 unread\n")
	}))
	assert.Equal(t, "2 unread\n", out.String())
}

func TestTable(t *testing.T) {
	p, out, _ := newTestPrinter(FormatTable)
	require.NoError(t, p.Table(nil, []string{"ID", "USER"}, [][]string{{"p1", "alice"}, {"p22", "bob"}}))
	assert.Equal(t, "ID   USER\np1   alice\np22  bob\n", out.String())

	out.Reset()
	require.NoError(t, p.Table(nil, []string{"ID"}, nil))
	assert.Contains(t, out.String(), "Nothing to show")
}

func TestRecordAndWarnings(t *testing.T) {
	p, out, errOut := newTestPrinter(FormatText)
	require.NoError(t, p.Record(nil, []string{"Username", "Rating"}, []string{"alice", "7.5"}))
	assert.Equal(t, "Username: alice\nRating: 7.5\n", out.String())

	p.Warning("cache %s unavailable", "redis")
	p.Error("boom")
	assert.Equal(t, "Warning: cache redis unavailable\nError: boom\n", errOut.String())
}

func TestAgo(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "-", Ago(time.Time{}, now))
	assert.Equal(t, "just now", Ago(now.Add(-10*time.Second), now))
	assert.Equal(t, "5m ago", Ago(now.Add(-5*time.Minute), now))
	assert.Equal(t, "3h ago", Ago(now.Add(-3*time.Hour), now))
	assert.Equal(t, "2d ago", Ago(now.Add(-50*time.Hour), now))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "a b c", Truncate("a\n b   c", 10))
	assert.Equal(t, "abcdefg...", Truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
}

func TestRating(t *testing.T) {
	v := 7.26
	assert.Equal(t, "7.3", Rating(&v))
	assert.Equal(t, "-", Rating(nil))
	assert.Equal(t, "140.0", Score(140))
}
