package ingest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectPages(t *testing.T) {
	t.Run("empty selects everything", func(t *testing.T) {
		got, err := SelectPages(4, "")
		require.NoError(t, err)
		require.Equal(t, []int{1, 2, 3, 4}, got)

		got, err = SelectPages(4, "   ")
		require.NoError(t, err)
		require.Equal(t, []int{1, 2, 3, 4}, got)
	})

	t.Run("singles and ranges", func(t *testing.T) {
		got, err := SelectPages(10, "1,3-5,9")
		require.NoError(t, err)
		require.Equal(t, []int{1, 3, 4, 5, 9}, got)
	})

	t.Run("overlaps deduplicate", func(t *testing.T) {
		got, err := SelectPages(5, "2,2,1-3")
		require.NoError(t, err)
		require.Equal(t, []int{1, 2, 3}, got)
	})

	t.Run("output is ascending regardless of input order", func(t *testing.T) {
		got, err := SelectPages(9, "7,1,4")
		require.NoError(t, err)
		require.Equal(t, []int{1, 4, 7}, got)
	})

	t.Run("beyond document dropped silently", func(t *testing.T) {
		got, err := SelectPages(3, "2,8")
		require.NoError(t, err)
		require.Equal(t, []int{2}, got)

		got, err = SelectPages(3, "2-100")
		require.NoError(t, err)
		require.Equal(t, []int{2, 3}, got)
	})

	t.Run("whitespace and empty parts tolerated", func(t *testing.T) {
		got, err := SelectPages(5, " 1 ,, 3 - 4 ")
		require.NoError(t, err)
		require.Equal(t, []int{1, 3, 4}, got)
	})

	t.Run("backwards range", func(t *testing.T) {
		_, err := SelectPages(10, "5-2")
		require.EqualError(t, err, `page range "5-2" runs backwards`)
	})

	t.Run("not a number", func(t *testing.T) {
		_, err := SelectPages(10, "abc")
		require.EqualError(t, err, `invalid page number "abc"`)

		_, err = SelectPages(10, "1-x")
		require.EqualError(t, err, `invalid page number "x"`)
	})

	t.Run("zero page", func(t *testing.T) {
		_, err := SelectPages(10, "0")
		require.EqualError(t, err, "page numbers start at 1, got 0")
	})
}
