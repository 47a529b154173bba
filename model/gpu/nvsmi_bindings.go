package gpu

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

const (
	bin       = "nvidia-smi"
	queryArg  = "--query-gpu="
	formatArg = "--format=csv,noheader,nounits"
)

// NvsmiQueryAll runs the query against every GPU and returns one row of trimmed fields per GPU.
// Refer to https://nvidia.custhelp.com/app/answers/detail/a_id/3751/~/useful-nvidia-smi-queries
// for the available queries.
func NvsmiQueryAll(ctx context.Context, query string) ([][]string, error) {
	out, err := run(ctx, fmt.Sprintf("%s%s", queryArg, query), formatArg)
	if err != nil {
		return nil, err
	}
	return ParseCSV(out), nil
}

// ParseCSV splits nvidia-smi "csv,noheader,nounits" output, skipping blank lines.
func ParseCSV(out string) [][]string {
	rows := make([][]string, 0)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		rows = append(rows, parts)
	}
	return rows
}

func run(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &out

	err := cmd.Run()
	if err != nil {
		return "", err
	}
	return out.String(), nil
}
