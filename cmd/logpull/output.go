package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"logpull/internal/check"
	"logpull/internal/orchestrator"
)

// printer handles table or JSON output.
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(format string, w io.Writer) *printer {
	return &printer{format: format, w: w}
}

// json marshals v as indented JSON.
func (p *printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table writes rows using tabwriter. header is the first row.
func (p *printer) table(header []string, rows [][]string) {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

// kv prints a key-value detail view.
func (p *printer) kv(pairs [][2]string) {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	for _, pair := range pairs {
		_, _ = fmt.Fprintf(tw, "%s:\t%s\n", pair[0], pair[1])
	}
	_ = tw.Flush()
}

type documentView struct {
	DocID    string   `json:"docid,omitempty"`
	Artifact string   `json:"artifact"`
	State    string   `json:"state"`
	Lines    int      `json:"lines,omitempty"`
	Sources  []string `json:"sources,omitempty"`
	Error    string   `json:"error,omitempty"`
}

type failureView struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

type pullView struct {
	RunID      string         `json:"run_id"`
	Name       string         `json:"name"`
	DryRun     bool           `json:"dry_run"`
	Started    time.Time      `json:"started"`
	Finished   time.Time      `json:"finished"`
	Discovered int            `json:"discovered"`
	Delivered  int            `json:"delivered"`
	Deduped    int            `json:"deduped"`
	Empty      int            `json:"empty"`
	Superseded int            `json:"superseded"`
	Documents  []documentView `json:"documents"`
	Failures   []failureView  `json:"failures"`
}

func (p *printer) pullReport(r *orchestrator.Report) error {
	v := pullView{
		RunID:      r.RunID,
		Name:       r.Name,
		DryRun:     r.DryRun,
		Started:    r.Started,
		Finished:   r.Finished,
		Discovered: r.Discovered,
		Delivered:  r.Delivered,
		Deduped:    r.Deduped,
		Empty:      r.Empty,
		Superseded: r.Superseded,
		Documents:  make([]documentView, 0, len(r.Documents)),
		Failures:   make([]failureView, 0, len(r.Failures)),
	}
	for _, d := range r.Documents {
		v.Documents = append(v.Documents, documentView{
			DocID: d.DocID, Artifact: d.Artifact, State: string(d.State),
			Lines: d.Lines, Sources: d.Sources, Error: d.Err,
		})
	}
	for _, f := range r.Failures {
		v.Failures = append(v.Failures, failureView{Key: f.Key, Message: f.Message})
	}
	if p.format == "json" {
		return p.json(v)
	}

	p.kv([][2]string{
		{"Run", fmt.Sprintf("%s (%s)", v.RunID, v.Name)},
		{"Dry run", strconv.FormatBool(v.DryRun)},
		{"Duration", v.Finished.Sub(v.Started).Round(time.Millisecond).String()},
		{"Discovered", strconv.Itoa(v.Discovered)},
		{"Delivered", strconv.Itoa(v.Delivered)},
		{"Deduped", strconv.Itoa(v.Deduped)},
		{"Empty", strconv.Itoa(v.Empty)},
		{"Superseded", strconv.Itoa(v.Superseded)},
		{"Failed", strconv.Itoa(len(v.Failures))},
	})
	if len(v.Documents) > 0 {
		_, _ = fmt.Fprintln(p.w)
		rows := make([][]string, 0, len(v.Documents))
		for _, d := range v.Documents {
			rows = append(rows, []string{
				orDash(d.DocID), d.State, strconv.Itoa(d.Lines), orDash(strings.Join(d.Sources, ",")), orDash(d.Error),
			})
		}
		p.table([]string{"DOCID", "STATE", "LINES", "SOURCES", "ERROR"}, rows)
	}
	return nil
}

type checkResultView struct {
	Name  string `json:"name"`
	State string `json:"state"`
	Files int    `json:"files"`
	Read  int    `json:"read"`
	Lines int    `json:"lines"`
	Error string `json:"error,omitempty"`
}

type checkView struct {
	RunID    string            `json:"run_id"`
	Name     string            `json:"name"`
	DryRun   bool              `json:"dry_run"`
	Results  []checkResultView `json:"results"`
	Failures []failureView     `json:"failures"`
}

func (p *printer) checkReport(r *check.Report) error {
	v := checkView{
		RunID:    r.RunID,
		Name:     r.Name,
		DryRun:   r.DryRun,
		Results:  make([]checkResultView, 0, len(r.Results)),
		Failures: make([]failureView, 0, len(r.Failures)),
	}
	for _, res := range r.Results {
		v.Results = append(v.Results, checkResultView{
			Name: res.Name, State: string(res.State), Files: res.Files,
			Read: res.Read, Lines: res.Lines, Error: res.Err,
		})
	}
	for _, f := range r.Failures {
		v.Failures = append(v.Failures, failureView{Key: f.Key, Message: f.Message})
	}
	if p.format == "json" {
		return p.json(v)
	}

	rows := make([][]string, 0, len(v.Results))
	for _, res := range v.Results {
		rows = append(rows, []string{
			res.Name, res.State, strconv.Itoa(res.Files), strconv.Itoa(res.Read), strconv.Itoa(res.Lines), orDash(res.Error),
		})
	}
	p.table([]string{"CHECK", "STATE", "FILES", "READ", "MATCHED", "ERROR"}, rows)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
