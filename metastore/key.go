//  Copyright (c) 2017-2018 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metastore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const keySeparator = "/"

// BuildKey builds the metadata storage key /module/key1/key2/startDt.
// Components must not contain the separator.
func BuildKey(module, key1, key2 string, startDt int64) string {
	return fmt.Sprintf("/%s/%s/%s/%d", module, key1, key2, startDt)
}

// ParseKey is the inverse of BuildKey.
func ParseKey(key string) (module, key1, key2 string, startDt int64, err error) {
	if !strings.HasPrefix(key, keySeparator) {
		err = errors.Wrapf(ErrInvalidKey, "key %q", key)
		return
	}
	parts := strings.Split(key[1:], keySeparator)
	if len(parts) != 4 {
		err = errors.Wrapf(ErrInvalidKey, "key %q has %d components", key, len(parts))
		return
	}
	startDt, err = strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		err = errors.Wrapf(ErrInvalidKey, "key %q start: %v", key, err)
		return
	}
	return parts[0], parts[1], parts[2], startDt, nil
}
