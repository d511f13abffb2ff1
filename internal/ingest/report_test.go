package ingest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReportSummary(t *testing.T) {
	skip := []SkippedFile{{Path: "x.pdf", Reason: "unreadable"}}

	cases := []struct {
		name string
		rep  Report
		want string
	}{
		{"clean", Report{PagesTotal: 7, PagesDone: 7}, "all 7 pages rendered"},
		{"pages failed", Report{PagesTotal: 7, PagesDone: 5, PagesFailed: 2}, "2 of 7 pages failed"},
		{"files skipped", Report{PagesTotal: 4, PagesDone: 4, FilesSkipped: skip}, "4 pages rendered, 1 files skipped"},
		{"both", Report{PagesTotal: 6, PagesDone: 3, PagesFailed: 3, FilesSkipped: skip}, "3 of 6 pages failed, 1 files skipped"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.rep.Summary())
		})
	}
}

func TestReportClean(t *testing.T) {
	require.True(t, (&Report{PagesDone: 3}).Clean())
	require.False(t, (&Report{PagesFailed: 1}).Clean())
	require.False(t, (&Report{FilesSkipped: []SkippedFile{{}}}).Clean())
}
