package hoard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		ascii    string
		utf8Form string
	}{
		{in: "", ascii: "data"},
		{in: "report.csv", ascii: "report.csv"},
		{in: ".xlsx", ascii: "data.xlsx"},
		{in: "file.*.tsv", ascii: "file.-.tsv"},
		{in: "a/b\\c.txt", ascii: "a-b-c.txt"},
		{in: "weird:name?.log", ascii: "weird-name-.log"},
		{in: "--dashed--", ascii: "dashed"},
		{in: "///", ascii: "data"},
		{in: "tab\there.txt", ascii: "tab-here.txt"},
		{in: "données.tsv", ascii: "data.tsv", utf8Form: "donn%c3%a9es.tsv"},
		{in: "résultats.gz", ascii: "data.csv.gz", utf8Form: "r%c3%a9sultats.gz"},
		{in: "отчёт.данные", ascii: "data", utf8Form: "%d0%be%d1%82%d1%87%d1%91%d1%82.%d0%b4%d0%b0%d0%bd%d0%bd%d1%8b%d0%b5"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			ascii, utf8Form := sanitizeFilename(tt.in)
			assert.Equal(t, tt.ascii, ascii)
			assert.Equal(t, tt.utf8Form, utf8Form)
		})
	}
}

func TestContentDisposition(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `attachment; filename="report.csv"`,
		contentDisposition("report.csv", ""))
	assert.Equal(t, `attachment; filename="data.tsv"; filename*=UTF-8''donn%c3%a9es.tsv`,
		contentDisposition("data.tsv", "donn%c3%a9es.tsv"))
}
