package market

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrailingSegment(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{"date segment", "https://arquivos.b3.com.br/tickercsv/2024-05-01", "2024-05-01"},
		{"query ignored", "https://host/tickercsv/2024-05-01?x=1", "2024-05-01"},
		{"fragment ignored", "https://host/tickercsv/2024-05-01#top", "2024-05-01"},
		{"trailing slash", "https://host/tickercsv/", ""},
		{"relative path", "tickercsv/2024-05-02", "2024-05-02"},
		{"bare host", "https://host", ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, TrailingSegment(tc.input))
		})
	}
}

func TestNewLinkDerivesNames(t *testing.T) {
	t.Parallel()

	link := NewLink("https://host/tickercsv/2024-05-01")
	assert.Equal(t, "2024-05-01", link.ReferenceDate)
	assert.Equal(t, "2024-05-01.zip", link.FileName)
	assert.Equal(t, NewLink(link.Href), link, "derivation must be deterministic")
}

func TestReportTally(t *testing.T) {
	t.Parallel()

	r := Report{Outcomes: []Outcome{
		{Status: StatusDownloaded},
		{Status: StatusExtracted, Members: []Member{{Name: "a.txt"}, {Name: "b/c.txt"}}},
		{Status: StatusSkipped, StatusCode: 404},
		{Status: StatusFailed, Error: errors.New("boom").Error()},
		{Status: StatusFailed, Artifact: &Artifact{Path: "x.zip"}, Error: "bad zip"},
	}}
	r.Tally()

	assert.Equal(t, 5, r.Discovered)
	assert.Equal(t, 3, r.Downloaded)
	assert.Equal(t, 1, r.Skipped)
	assert.Equal(t, 2, r.Failed)
	assert.Equal(t, 2, r.Extracted)
}
