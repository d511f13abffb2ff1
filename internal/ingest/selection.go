package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// SelectPages expands a selection string like "1,3-5,9" into ascending
// 1-based page numbers within a document of total pages. An empty selection
// means every page. Numbers beyond the document are dropped with a log line
// rather than failing the file; malformed syntax is an error.
func SelectPages(total int, sel string) ([]int, error) {
	if strings.TrimSpace(sel) == "" {
		all := make([]int, 0, total)
		for i := 1; i <= total; i++ {
			all = append(all, i)
		}
		return all, nil
	}

	picked := make(map[int]struct{})
	for _, part := range strings.Split(sel, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, err := parseRange(part)
		if err != nil {
			return nil, err
		}
		for n := lo; n <= hi; n++ {
			if n > total {
				log.Debug().Int("page", n).Int("total", total).Msg("selection page beyond document, dropped")
				continue
			}
			picked[n] = struct{}{}
		}
	}

	out := make([]int, 0, len(picked))
	for n := 1; n <= total; n++ {
		if _, ok := picked[n]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func parseRange(part string) (int, int, error) {
	if lo, hi, found := strings.Cut(part, "-"); found {
		a, err := parsePageNum(lo)
		if err != nil {
			return 0, 0, err
		}
		b, err := parsePageNum(hi)
		if err != nil {
			return 0, 0, err
		}
		if b < a {
			return 0, 0, fmt.Errorf("page range %q runs backwards", part)
		}
		return a, b, nil
	}
	n, err := parsePageNum(part)
	if err != nil {
		return 0, 0, err
	}
	return n, n, nil
}

func parsePageNum(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid page number %q", s)
	}
	if n < 1 {
		return 0, fmt.Errorf("page numbers start at 1, got %d", n)
	}
	return n, nil
}
