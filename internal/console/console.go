// Package console implements the interactive operator console behind
// wardenctl. The prompt loop is a thin shell around Execute, which parses
// one command line and renders the result; tests drive Execute directly.
package console

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"

	"github.com/mkarling/warden/internal/engine"
	"github.com/mkarling/warden/internal/query"
	"github.com/mkarling/warden/internal/store"
)

// Backend is the slice of the engine the console needs.
type Backend interface {
	Overview(ctx context.Context) (query.Overview, error)
	RiskDistribution(ctx context.Context, startDate, endDate string) ([]store.RiskBucket, error)
	DeviceRanking(ctx context.Context, limit int) ([]store.DeviceRank, error)
	Records(ctx context.Context, f store.Filter, page, pageSize int) (*store.RecordPage, error)
	Stats() engine.Stats
}

// Console executes operator commands against a backend.
type Console struct {
	backend Backend
	out     io.Writer
	timeout time.Duration
}

// New creates a console writing results to out.
func New(backend Backend, out io.Writer) *Console {
	return &Console{
		backend: backend,
		out:     out,
		timeout: 30 * time.Second,
	}
}

var commands = []prompt.Suggest{
	{Text: "overview", Description: "Today's risk summary and top devices"},
	{Text: "dist", Description: "Risk distribution: dist [start] [end] (YYYY-MM-DD)"},
	{Text: "rank", Description: "Device ranking: rank [limit]"},
	{Text: "list", Description: "List records: list [device=X] [level=X] [engine=X] [start=X] [end=X] [page=N] [size=N]"},
	{Text: "stats", Description: "Engine statistics"},
	{Text: "help", Description: "Show available commands"},
	{Text: "exit", Description: "Leave the console"},
}

// Run starts the interactive prompt loop. Blocks until the operator exits.
func (c *Console) Run() {
	fmt.Fprintln(c.out, "warden console. Type 'help' for commands, 'exit' to leave.")
	p := prompt.New(
		func(in string) { c.Execute(in) },
		completer,
		prompt.OptionPrefix("warden> "),
		prompt.OptionTitle("wardenctl"),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			return breakline && strings.TrimSpace(in) == "exit"
		}),
	)
	p.Run()
}

func completer(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	return prompt.FilterHasPrefix(commands, d.GetWordBeforeCursor(), true)
}

// Execute runs one command line.
func (c *Console) Execute(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var err error
	switch fields[0] {
	case "overview":
		err = c.overview(ctx)
	case "dist":
		err = c.distribution(ctx, fields[1:])
	case "rank":
		err = c.ranking(ctx, fields[1:])
	case "list":
		err = c.list(ctx, fields[1:])
	case "stats":
		c.stats()
	case "help":
		c.help()
	case "exit":
		// Handled by the exit checker in Run; a no-op here.
	default:
		fmt.Fprintf(c.out, "unknown command %q, try 'help'\n", fields[0])
	}
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
}

func (c *Console) overview(ctx context.Context) error {
	ov, err := c.backend.Overview(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s  high=%d medium=%d low=%d total=%d\n",
		ov.Date, ov.High, ov.Medium, ov.Low, ov.Total)
	if len(ov.TopDevices) == 0 {
		fmt.Fprintln(c.out, "no offending devices")
		return nil
	}
	fmt.Fprintln(c.out, "top devices:")
	for i, d := range ov.TopDevices {
		fmt.Fprintf(c.out, "  %d. %-20s total=%-5d high=%-4d last=%s\n",
			i+1, d.DeviceID, d.Total, d.High, d.LastViolation)
	}
	return nil
}

func (c *Console) distribution(ctx context.Context, args []string) error {
	var start, end string
	if len(args) > 0 {
		start = args[0]
	}
	if len(args) > 1 {
		end = args[1]
	}
	buckets, err := c.backend.RiskDistribution(ctx, start, end)
	if err != nil {
		return err
	}
	if len(buckets) == 0 {
		fmt.Fprintln(c.out, "no records in window")
		return nil
	}
	fmt.Fprintf(c.out, "%-12s %6s %6s %6s %6s\n", "date", "high", "med", "low", "total")
	for _, b := range buckets {
		fmt.Fprintf(c.out, "%-12s %6d %6d %6d %6d\n", b.Date, b.High, b.Medium, b.Low, b.Total)
	}
	return nil
}

func (c *Console) ranking(ctx context.Context, args []string) error {
	limit := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("limit %q is not a number", args[0])
		}
		limit = n
	}
	ranks, err := c.backend.DeviceRanking(ctx, limit)
	if err != nil {
		return err
	}
	if len(ranks) == 0 {
		fmt.Fprintln(c.out, "no devices")
		return nil
	}
	fmt.Fprintf(c.out, "%-4s %-20s %6s %6s %6s %6s  %s\n",
		"#", "device", "total", "high", "med", "low", "last violation")
	for i, d := range ranks {
		fmt.Fprintf(c.out, "%-4d %-20s %6d %6d %6d %6d  %s\n",
			i+1, d.DeviceID, d.Total, d.High, d.Medium, d.Low, d.LastViolation)
	}
	return nil
}

func (c *Console) list(ctx context.Context, args []string) error {
	var f store.Filter
	page, size := 0, 0
	for _, arg := range args {
		key, val, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("argument %q is not key=value", arg)
		}
		switch key {
		case "device":
			f.DeviceID = val
		case "level":
			f.RiskLevel = val
		case "engine":
			f.EngineType = val
		case "start":
			f.StartDate = val
		case "end":
			f.EndDate = val
		case "page":
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("page %q is not a number", val)
			}
			page = n
		case "size":
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("size %q is not a number", val)
			}
			size = n
		default:
			return fmt.Errorf("unknown filter %q", key)
		}
	}

	result, err := c.backend.Records(ctx, f, page, size)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "page %d/%d (%d records)\n", result.Page, result.TotalPages, result.Total)
	for _, r := range result.Records {
		keywords := ""
		if len(r.HitKeywords) > 0 {
			keywords = " [" + strings.Join(r.HitKeywords, ",") + "]"
		}
		fmt.Fprintf(c.out, "  %s  %-20s %-7s %-10s%s %s\n",
			r.CreatedAt, r.DeviceID, r.RiskLevel, r.EngineType, keywords, r.RiskContent)
	}
	return nil
}

func (c *Console) stats() {
	st := c.backend.Stats()
	fmt.Fprintf(c.out, "running=%v backend=%s\n", st.Running, st.Backend)
	fmt.Fprintf(c.out, "buffer:  pending=%d appended=%d drained=%d requeued=%d\n",
		st.Buffer.Pending, st.Buffer.Appended, st.Buffer.Drained, st.Buffer.Requeued)
	fmt.Fprintf(c.out, "flush:   flushes=%d failures=%d flushed=%d requeued=%d lost=%d\n",
		st.Flush.Flushes, st.Flush.Failures, st.Flush.RecordsFlushed,
		st.Flush.RecordsRequeued, st.Flush.RecordsLost)
	fmt.Fprintf(c.out, "latency: p50=%.1fms p95=%.1fms p99=%.1fms\n",
		st.Flush.LatencyP50Ms, st.Flush.LatencyP95Ms, st.Flush.LatencyP99Ms)
	fmt.Fprintf(c.out, "intake:  submitted=%d rejected=%d batches=%d\n",
		st.Intake.Submitted, st.Intake.Rejected, st.Intake.Batches)
	if st.Archive != nil {
		fmt.Fprintf(c.out, "archive: files=%d rows=%d\n", st.Archive.Files, st.Archive.Rows)
	}
}

func (c *Console) help() {
	names := make([]string, 0, len(commands))
	width := 0
	for _, cmd := range commands {
		names = append(names, cmd.Text)
		if len(cmd.Text) > width {
			width = len(cmd.Text)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		for _, cmd := range commands {
			if cmd.Text == name {
				fmt.Fprintf(c.out, "  %-*s  %s\n", width, cmd.Text, cmd.Description)
			}
		}
	}
}
