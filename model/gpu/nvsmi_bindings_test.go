package gpu

import (
	"testing"

	"gotest.tools/assert"
)

func TestParseCSV(t *testing.T) {
	out := "0, NVIDIA A100-SXM4-80GB, 35, 1024, 81920, 41, 62.10, 400.00\n\n1, NVIDIA A100-SXM4-80GB, [N/A], 0, 81920, 38, 55.00, 400.00\n"
	rows := ParseCSV(out)
	assert.Equal(t, len(rows), 2)
	assert.Equal(t, rows[0][1], "NVIDIA A100-SXM4-80GB")
	assert.Equal(t, rows[1][2], "[N/A]")
	assert.Equal(t, len(rows[1]), 8)
}

func TestParseCSVEmpty(t *testing.T) {
	assert.Equal(t, len(ParseCSV("\n")), 0)
}
