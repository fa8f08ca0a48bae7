package board

import (
	"strconv"
	"strings"
)

// Page 是分页结果。越界页码得到空页而不是错误。
type Page[T any] struct {
	Items       []T   `json:"items"`
	Number      int   `json:"number"`
	Size        int   `json:"size"`
	Total       int64 `json:"total"`
	NumPages    int   `json:"num_pages"`
	HasNext     bool  `json:"has_next"`
	HasPrevious bool  `json:"has_previous"`
}

// ParsePage 解析查询参数中的页码，缺失或非法时回落到第 1 页。
func ParsePage(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func newPage[T any](items []T, number, size int, total int64) *Page[T] {
	numPages := 1
	if total > 0 {
		numPages = int((total + int64(size) - 1) / int64(size))
	}
	if items == nil {
		items = []T{}
	}
	return &Page[T]{
		Items:       items,
		Number:      number,
		Size:        size,
		Total:       total,
		NumPages:    numPages,
		HasNext:     number < numPages,
		HasPrevious: number > 1,
	}
}
