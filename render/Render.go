package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shihaohou/vllm-model-manager/dashboard"
	"github.com/shihaohou/vllm-model-manager/logview"
	"github.com/shihaohou/vllm-model-manager/model"
	"github.com/shihaohou/vllm-model-manager/notify"
	"github.com/shihaohou/vllm-model-manager/requests"
)

const (
	TITLE      = "vLLM MODEL MANAGER"
	NO_GPU     = "no GPU info"
	NO_SERVICE = "no services"
	LOADING    = "loading..."
	BAR_WIDTH  = 10
)

var sparks = []rune("▁▂▃▄▅▆▇█")

// Sparkline draws utilization samples, oldest first, on a 0-100 scale.
func Sparkline(points []model.MetricPoint) string {
	var b strings.Builder
	for _, p := range points {
		v := p.Value
		if v < 0 {
			v = 0
		}
		if v > 100 {
			v = 100
		}
		b.WriteRune(sparks[int(v/100*float64(len(sparks)-1)+0.5)])
	}
	return b.String()
}

// Bar draws a percentage as a fixed width gauge.
func Bar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent/100*float64(width) + 0.5)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

// Dashboard writes the whole view. While the backend was never reached only the connectivity
// screen is shown.
func Dashboard(w io.Writer, view dashboard.View) {
	fmt.Fprintf(w, "%s\nauto refresh: %s\n\n", TITLE, formatInterval(view.RefreshInterval))
	if view.Connectivity != nil {
		Connectivity(w, view.BackendAddress, view.Connectivity)
		return
	}

	fmt.Fprintln(w, "SYSTEM")
	System(w, view.System)
	fmt.Fprintln(w, "\nGPU")
	GPUs(w, view.GPUs)
	fmt.Fprintln(w, "\nSERVICES")
	Services(w, view.Services)

	if view.Log.IsOpen() {
		fmt.Fprintln(w)
		LogSession(w, view.Log)
	}
	if len(view.Notifications) > 0 {
		fmt.Fprintln(w)
		Notifications(w, view.Notifications)
	}
}

func Connectivity(w io.Writer, address string, err error) {
	fmt.Fprintln(w, "CONNECTION FAILED")
	fmt.Fprintln(w, "Cannot reach the backend API server, check that it is running.")
	fmt.Fprintf(w, "backend address: %s\n", address)
	fmt.Fprintf(w, "%v\n", err)
}

func System(w io.Writer, section dashboard.SystemSection) {
	if section.State != dashboard.SECTION_READY {
		fmt.Fprintln(w, placeholder(section.State, ""))
		return
	}
	s := section.Snapshot
	table := newTable(w, []string{"Resource", "Usage", "Used", "Total"})
	table.Append([]string{"CPU", percent(s.CPUPercent) + " " + Bar(s.CPUPercent, BAR_WIDTH), "", ""})
	table.Append([]string{"Memory", percent(s.MemoryPercent) + " " + Bar(s.MemoryPercent, BAR_WIDTH), gb(s.MemoryUsedGB), gb(s.MemoryTotalGB)})
	table.Append([]string{"Disk", percent(s.DiskPercent) + " " + Bar(s.DiskPercent, BAR_WIDTH), gb(s.DiskUsedGB), gb(s.DiskTotalGB)})
	table.Render()
	staleNote(w, section.Err)
}

func GPUs(w io.Writer, section dashboard.GPUSection) {
	if section.State != dashboard.SECTION_READY {
		fmt.Fprintln(w, placeholder(section.State, NO_GPU))
		return
	}
	table := newTable(w, []string{"GPU", "Name", "Temp", "Util", "Memory", "Power", "Trend"})
	for _, card := range section.Cards {
		g := card.GPU
		table.Append([]string{
			strconv.Itoa(g.Index),
			card.DisplayName,
			fmt.Sprintf("%.0f°C %s", g.Temperature, card.TemperatureLevel),
			percent(g.Utilization),
			fmt.Sprintf("%.0f/%.0f MB %s", g.MemoryUsed, g.MemoryTotal, Bar(card.MemoryPercent, BAR_WIDTH)),
			fmt.Sprintf("%.0f/%.0f W", g.PowerDraw, g.PowerLimit),
			Sparkline(card.History),
		})
	}
	table.Render()
	staleNote(w, section.Err)
}

func Services(w io.Writer, section dashboard.ServiceSection) {
	if section.State != dashboard.SECTION_READY {
		fmt.Fprintln(w, placeholder(section.State, NO_SERVICE))
		return
	}
	table := newTable(w, []string{"Key", "Name", "Status", "Port", "GPUs", "PID", "CPU", "Memory", "GPU Memory", "Uptime"})
	for _, card := range section.Cards {
		s := card.Service
		status := string(s.Status)
		if card.Busy {
			status += " (busy)"
		}
		row := []string{string(card.Key), s.Name, status, strconv.Itoa(s.Port), gpuList(s.GPUs), "", "", "", "", ""}
		// process details only exist while running
		if card.Running {
			row[5] = intPtr(s.PID)
			row[6] = floatPtr(s.CPUPercent, "%.1f%%")
			row[7] = floatPtr(s.MemoryMB, "%.0fMB")
			row[8] = floatPtr(s.GPUMemoryMB, "%.0fMB")
			row[9] = stringPtr(s.Uptime)
		}
		table.Append(row)
	}
	table.Render()
	staleNote(w, section.Err)
}

func LogSession(w io.Writer, session logview.Session) {
	fmt.Fprintf(w, "LOGS %s (%s)\n", session.ServiceName, session.ServiceKey)
	switch session.Phase {
	case logview.PHASE_LOADING:
		fmt.Fprintln(w, LOADING)
	default:
		fmt.Fprintln(w, strings.TrimRight(session.Text, "\n"))
	}
}

func Notifications(w io.Writer, notifications []notify.Notification) {
	for _, n := range notifications {
		fmt.Fprintf(w, "%s [%s] %s\n", n.Time.Format("15:04:05"), n.Level, n.Message)
	}
}

func LaunchConfig(w io.Writer, config model.LaunchConfig) {
	table := newTable(w, []string{"Parameter", "Value"})
	table.Append([]string{"gpus", gpuList(config.GPUs)})
	table.Append([]string{"port", strconv.Itoa(config.Port)})
	table.Append([]string{"tensor parallel size", strconv.Itoa(config.TensorParallelSize)})
	table.Append([]string{"gpu memory utilization", strconv.FormatFloat(config.GPUMemoryUtilization, 'f', -1, 64)})
	table.Append([]string{"max model len", strconv.Itoa(config.MaxModelLen)})
	table.Append([]string{"dtype", string(config.Dtype)})
	table.Append([]string{"save as default", strconv.FormatBool(config.SaveAsDefault)})
	table.Render()
}

func ServiceConfig(w io.Writer, key model.ServiceKey, result requests.ServiceConfigResult) {
	fmt.Fprintf(w, "%s\n", key)
	table := newTable(w, []string{"Parameter", "Value"})
	table.Append([]string{"model path", result.ModelPath})
	table.Append([]string{"gpus", gpuList(result.Config.GPUs)})
	table.Append([]string{"port", strconv.Itoa(result.Config.Port)})
	table.Append([]string{"tensor parallel size", strconv.Itoa(result.Config.TensorParallelSize)})
	table.Append([]string{"gpu memory utilization", strconv.FormatFloat(result.Config.GPUMemoryUtilization, 'f', -1, 64)})
	table.Append([]string{"max model len", strconv.Itoa(result.Config.MaxModelLen)})
	table.Append([]string{"dtype", result.Config.Dtype})
	table.Append([]string{"extra args", result.ExtraArgs})
	table.Render()
}

func placeholder(state dashboard.SectionState, empty string) string {
	if state == dashboard.SECTION_LOADING {
		return LOADING
	}
	return empty
}

func staleNote(w io.Writer, err error) {
	if err != nil {
		fmt.Fprintf(w, "last refresh failed, showing previous data: %v\n", err)
	}
}

func formatInterval(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
	return d.String()
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

func gb(v float64) string {
	return fmt.Sprintf("%.1f GB", v)
}

func gpuList(gpus []int) string {
	parts := make([]string, 0, len(gpus))
	for _, g := range gpus {
		parts = append(parts, strconv.Itoa(g))
	}
	return strings.Join(parts, ", ")
}

func intPtr(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func floatPtr(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func stringPtr(v *string) string {
	if v == nil {
		return "-"
	}
	return *v
}
