package cmd

import (
	"fmt"
	"sort"

	"github.com/cloudfoundry/bytefmt"

	"github.com/deploymenttheory/go-qdl/pkg/app"
)

// statusResult reports the outcome of a command that changes the device.
type statusResult struct {
	Operation string `json:"operation" yaml:"operation"`
	Target    string `json:"target" yaml:"target"`
	OK        bool   `json:"ok" yaml:"ok"`
	Detail    string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

func (r statusResult) Table() app.Table {
	line := fmt.Sprintf("%s %s: ", r.Operation, r.Target)
	if r.OK {
		line += "done"
	} else {
		line += "nothing done"
	}
	if r.Detail != "" {
		line += " (" + r.Detail + ")"
	}
	return app.Table{Footer: []string{line}}
}

type partitionsResult struct {
	Count      int      `json:"count" yaml:"count"`
	Partitions []string `json:"partitions" yaml:"partitions"`
}

func (r partitionsResult) Table() app.Table {
	t := app.Table{Headers: []string{"PARTITION"}}
	for _, p := range r.Partitions {
		t.Rows = append(t.Rows, []string{p})
	}
	t.Footer = []string{"", fmt.Sprintf("%d partitions", r.Count)}
	return t
}

type slotResult struct {
	Slot string `json:"slot" yaml:"slot"`
}

func (r slotResult) Table() app.Table {
	return app.Table{Footer: []string{fmt.Sprintf("active slot: %s", r.Slot)}}
}

type storageResult map[string]any

func (r storageResult) Table() app.Table {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := app.Table{Headers: []string{"KEY", "VALUE"}}
	for _, k := range keys {
		v := fmt.Sprint(r[k])
		if f, ok := r[k].(float64); ok && f == float64(int64(f)) {
			v = fmt.Sprintf("%d", int64(f))
		}
		t.Rows = append(t.Rows, []string{k, v})
	}
	return t
}

func formatBytes(n uint64) string {
	if n == 0 {
		return "0"
	}
	return bytefmt.ByteSize(n)
}
