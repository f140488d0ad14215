/*
Copyright 2018 Netflix, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package pagination merges the result sets of the two backend engines into a
// single totally ordered, cursor-paginated view. Both engines are queried for
// their full result sets; only with full knowledge of both can a stable
// cursor position be computed. The extra backend cost is an accepted tradeoff
// for the migration window, where result sets are bounded by fleet size.
package pagination

import (
	"sort"

	"github.com/fabiokung/titus-control-plane-1/pkg/gateway/api"
	errutil "github.com/fabiokung/titus-control-plane-1/pkg/gateway/util/error"
)

// KeyFunc extracts the total-order key of an item.
type KeyFunc[T any] func(T) Key

// SortMerge concatenates the two engine result sets and sorts them by the
// cursor total order. The result is independent of which engine contributed
// which slice.
func SortMerge[T any](legacy, current []T, key KeyFunc[T]) []T {
	merged := make([]T, 0, len(legacy)+len(current))
	merged = append(merged, legacy...)
	merged = append(merged, current...)
	sort.SliceStable(merged, func(i, j int) bool {
		return key(merged[i]).Compare(key(merged[j])) < 0
	})
	return merged
}

// PositionOf returns the index of the item a cursor points at within the
// sorted sequence, or the index of the last item ordered before the cursor
// key when the exact item is gone (e.g. it finished between two queries). The
// boolean reports an exact match. A cursor ordered before the whole sequence
// yields -1.
func PositionOf[T any](sorted []T, cursor Key, key KeyFunc[T]) (int, bool) {
	i := sort.Search(len(sorted), func(i int) bool {
		return key(sorted[i]).Compare(cursor) >= 0
	})
	if i < len(sorted) && key(sorted[i]).Compare(cursor) == 0 {
		return i, true
	}
	return i - 1, false
}

// CursorAt returns the cursor token for position i of the sorted sequence.
func CursorAt[T any](sorted []T, i int, key KeyFunc[T]) string {
	return EncodeCursor(key(sorted[i]))
}

// TakePage applies the requested page to the sorted merged sequence. The page
// must carry either a cursor or an offset+limit; a nil page or a page with
// neither fails with PageNotSpecified before anything else happens.
func TakePage[T any](page *api.Page, sorted []T, key KeyFunc[T]) ([]T, *api.Pagination, error) {
	if page == nil {
		return nil, nil, errutil.Error{Code: errutil.PageNotSpecified, Msg: "page not provided"}
	}

	total := len(sorted)
	if page.IsUnlimited() {
		pagination := &api.Pagination{TotalItems: total, ReturnedItems: total}
		if total > 0 {
			pagination.Cursor = CursorAt(sorted, total-1, key)
		}
		return sorted, pagination, nil
	}

	start := 0
	switch {
	case page.HasCursor():
		cursorKey, err := DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, err
		}
		pos, _ := PositionOf(sorted, cursorKey, key)
		start = pos + 1
	case page.Limit > 0:
		if page.Offset < 0 {
			return nil, nil, errutil.Error{Code: errutil.BadRequest, Msg: "page offset must not be negative"}
		}
		start = page.Offset
	default:
		return nil, nil, errutil.Error{Code: errutil.PageNotSpecified, Msg: "page carries neither a cursor nor a limit"}
	}

	if start > total {
		start = total
	}
	end := total
	if page.Limit > 0 && start+page.Limit < total {
		end = start + page.Limit
	}

	items := sorted[start:end]
	pagination := &api.Pagination{
		TotalItems:    total,
		ReturnedItems: len(items),
		HasMore:       end < total,
	}
	if len(items) > 0 {
		pagination.Cursor = CursorAt(sorted, end-1, key)
	}
	return items, pagination, nil
}
