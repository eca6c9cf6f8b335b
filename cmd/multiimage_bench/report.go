// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/multiimage/pkg/data/multiimage"
)

// maxLabelsReported in the labels histogram.
const maxLabelsReported = 10

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == lgtable.HeaderRow {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				return s.Align(lipgloss.Right)
			}
			return s.Align(lipgloss.Left)
		})
}

// perSecond formats count/elapsed.
func perSecond(count float64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "-"
	}
	return humanize.CommafWithDigits(count/elapsed.Seconds(), 1)
}

func report(config multiimage.Config, stats *benchStats) {
	shape := stats.shape
	numImages := float64(stats.steps * shape[0] * config.GroupSize)
	bytesProduced := uint64(stats.values) * 4 // float32 values.

	fmt.Println(titleStyle.Render("Summary"))
	table := newTable(false)
	table.Row("manifest", config.Source)
	table.Row("# records", humanize.Comma(int64(stats.numRecords)))
	table.Row("batch shape", fmt.Sprintf("[%d, %d, %d, %d]", shape[0], shape[1], shape[2], shape[3]))
	table.Row("# batches", humanize.Comma(int64(stats.steps)))
	table.Row("first batch", stats.firstBatch.String())
	table.Row("elapsed", stats.elapsed.String())
	table.Row("batches/s", perSecond(float64(stats.steps), stats.elapsed))
	table.Row("images/s", perSecond(numImages, stats.elapsed))
	table.Row("data produced", humanize.Bytes(bytesProduced))
	table.Row("throughput", humanize.Bytes(uint64(float64(bytesProduced)/max(stats.elapsed.Seconds(), 1e-9)))+"/s")
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Labels"))
	labels := slices.SortedFunc(maps.Keys(stats.labels), func(a, b int32) int {
		if c := cmp.Compare(stats.labels[b], stats.labels[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	table = newTable(true)
	table.Headers("Label", "Count")
	for ii, label := range labels {
		if ii == maxLabelsReported {
			table.Row("...", fmt.Sprintf("%d more labels", len(labels)-maxLabelsReported))
			break
		}
		table.Row(fmt.Sprint(label), humanize.Comma(int64(stats.labels[label])))
	}
	fmt.Println(table.Render())
}
