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

package api

// Page is a page request for a criteria query. It carries either an opaque
// cursor plus limit, or an offset plus limit. A zero Limit with no cursor and
// a zero offset is the unlimited sentinel used for backend fan-out calls.
type Page struct {
	Offset int
	Limit  int
	Cursor string
}

// UnlimitedPage returns the sentinel page requesting the full result set.
func UnlimitedPage() *Page {
	return &Page{}
}

// IsUnlimited reports whether the page requests the full result set.
func (p *Page) IsUnlimited() bool {
	return p.Cursor == "" && p.Offset == 0 && p.Limit == 0
}

// HasCursor reports whether the page carries a cursor token.
func (p *Page) HasCursor() bool {
	return p.Cursor != ""
}

// Pagination describes the result envelope of a paginated query.
type Pagination struct {
	TotalItems    int
	ReturnedItems int
	// Cursor points at the last item of the returned page. Empty when the
	// page is empty.
	Cursor  string
	HasMore bool
}
