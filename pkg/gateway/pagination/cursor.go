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

package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	errutil "github.com/fabiokung/titus-control-plane-1/pkg/gateway/util/error"
)

// A cursor token encodes the identity and creation timestamp of a boundary
// item as base64("<id>@<unixMilli>"). Tokens are only meaningful against a
// merge using the identical comparator and identical inputs; they are
// re-derived on every query, never stored server side.

// Key is the portion of an item that participates in the merged total order
// and in cursor tokens.
type Key struct {
	ID        string
	CreatedAt time.Time
}

// Compare orders keys by creation timestamp, tie-broken by identity. This is
// the single total order every merged view and cursor in the gateway uses.
func (k Key) Compare(other Key) int {
	switch {
	case k.CreatedAt.Before(other.CreatedAt):
		return -1
	case k.CreatedAt.After(other.CreatedAt):
		return 1
	default:
		return strings.Compare(k.ID, other.ID)
	}
}

// EncodeCursor builds the cursor token pointing at the given key.
func EncodeCursor(key Key) string {
	raw := key.ID + "@" + strconv.FormatInt(key.CreatedAt.UnixMilli(), 10)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor token back into its key.
func DecodeCursor(cursor string) (Key, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return Key{}, errutil.Error{Code: errutil.BadRequest, Msg: fmt.Sprintf("malformed page cursor: %v", err)}
	}
	sep := strings.LastIndex(string(raw), "@")
	if sep < 0 {
		return Key{}, errutil.Error{Code: errutil.BadRequest, Msg: "malformed page cursor: missing timestamp"}
	}
	millis, err := strconv.ParseInt(string(raw[sep+1:]), 10, 64)
	if err != nil {
		return Key{}, errutil.Error{Code: errutil.BadRequest, Msg: fmt.Sprintf("malformed page cursor timestamp: %v", err)}
	}
	return Key{ID: string(raw[:sep]), CreatedAt: time.UnixMilli(millis)}, nil
}
