// Package paging maps an ordered, unbounded item list onto a two-level
// page/group addressing scheme. A page holds up to DefaultPageSize items and
// exposes at most MaxGroups addressable groups of DefaultGroupSize items.
package paging

const (
	DefaultPageSize  = 100
	DefaultGroupSize = 10
	MaxGroups        = 10
)

// Window is a clamped page of a collection.
type Window struct {
	Number      int
	TotalPages  int
	Offset      int
	ItemsInPage int
	TotalItems  int
}

// Page clamps the requested page into [1, TotalPages] and computes the
// offset and item count for it. Callers must render and link using
// Window.Number, never the requested value.
func Page(totalItems, page, pageSize int) Window {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if totalItems < 0 {
		totalItems = 0
	}

	totalPages := ceilDiv(totalItems, pageSize)
	if totalPages < 1 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	} else if page > totalPages {
		page = totalPages
	}

	offset := (page - 1) * pageSize
	items := totalItems - offset
	if items > pageSize {
		items = pageSize
	}
	if items < 0 {
		items = 0
	}

	return Window{
		Number:      page,
		TotalPages:  totalPages,
		Offset:      offset,
		ItemsInPage: items,
		TotalItems:  totalItems,
	}
}

// FirstIndex is the 1-based position of the first item on the page, or 0
// for an empty collection.
func (w Window) FirstIndex() int {
	if w.TotalItems == 0 {
		return 0
	}
	return w.Offset + 1
}

// LastIndex is the 1-based position of the last item on the page.
func (w Window) LastIndex() int {
	return w.Offset + w.ItemsInPage
}

// HasPrev reports whether a previous page exists.
func (w Window) HasPrev() bool { return w.Number > 1 }

// HasNext reports whether a following page exists.
func (w Window) HasNext() bool { return w.Number < w.TotalPages }

// GroupsInPage returns how many groups a page of itemsInPage items exposes,
// capped at MaxGroups.
func GroupsInPage(itemsInPage, groupSize int) int {
	if groupSize <= 0 {
		groupSize = DefaultGroupSize
	}
	if itemsInPage <= 0 {
		return 0
	}
	n := ceilDiv(itemsInPage, groupSize)
	if n > MaxGroups {
		n = MaxGroups
	}
	return n
}

// GroupRange returns the absolute [start, end) item offsets covered by the
// 1-based groupIndex on the given page. end may exceed the collection size;
// range queries simply return fewer items.
func GroupRange(page, groupIndex, pageSize, groupSize int) (start, end int) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if groupSize <= 0 {
		groupSize = DefaultGroupSize
	}
	if page < 1 {
		page = 1
	}
	if groupIndex < 1 {
		groupIndex = 1
	}
	start = (page-1)*pageSize + (groupIndex-1)*groupSize
	return start, start + groupSize
}

// GroupLabel is the number shown on a group's button.
func GroupLabel(page, groupIndex int) int {
	return (page-1)*MaxGroups + groupIndex
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
