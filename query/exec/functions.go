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

package exec

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/streamql/streamql/index"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/query/expr"
)

// scalarFn computes a scalar function over evaluated arguments.
type scalarFn func(args []interface{}) (interface{}, error)

type function struct {
	minArgs, maxArgs int
	fn               scalarFn
}

func (c *compiler) call(e *expr.Call) (evalFn, error) {
	f, err := c.function(strings.ToLower(e.Name))
	if err != nil {
		return nil, err
	}
	if len(e.Args) < f.minArgs || (f.maxArgs >= 0 && len(e.Args) > f.maxArgs) {
		return nil, queryCom.ErrSQLNotValid("wrong number of arguments for %s", e.String())
	}
	args, err := c.compileAll(e.Args)
	if err != nil {
		return nil, err
	}
	return func(row Row) (interface{}, error) {
		values := make([]interface{}, len(args))
		for i, arg := range args {
			v, err := arg(row)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		return f.fn(values)
	}, nil
}

func (c *compiler) function(name string) (function, error) {
	switch name {
	case expr.DateBinCallName:
		return function{2, 3, dateBin}, nil
	case expr.StrMatchCallName, expr.MatchFieldCallName:
		return function{2, 2, strMatch(false)}, nil
	case expr.StrMatchIgnoreCaseCallName, expr.MatchFieldIgnoreCaseCallName:
		return function{2, 2, strMatch(true)}, nil
	case expr.FuzzyMatchCallName:
		return function{3, 3, fuzzyMatch}, nil
	case expr.EncryptCallName, expr.DecryptCallName, expr.EncryptPathCallName, expr.DecryptPathCallName:
		if c.keys == nil {
			return function{}, queryCom.ErrInternal("%s needs a key store", name)
		}
		return c.cipherFunction(name), nil
	case expr.LowerCallName:
		return function{1, 1, stringFn(strings.ToLower)}, nil
	case expr.UpperCallName:
		return function{1, 1, stringFn(strings.ToUpper)}, nil
	case expr.LengthCallName:
		return function{1, 1, length}, nil
	case expr.CoalesceCallName:
		return function{1, -1, coalesce}, nil
	case expr.AbsCallName:
		return function{1, 1, abs}, nil
	}
	return function{}, queryCom.ErrNotImplemented("function %s", name)
}

// dateBin aligns a timestamp down to its bucket: date_bin(width, ts[, origin]).
func dateBin(args []interface{}) (interface{}, error) {
	if args[0] == nil || args[1] == nil {
		return nil, nil
	}
	width, ok := toInt64(args[0])
	if !ok || width <= 0 {
		return nil, queryCom.ErrSQLNotValid("date_bin width must be a positive interval")
	}
	ts, ok := toInt64(args[1])
	if !ok {
		return nil, nil
	}
	var origin int64
	if len(args) > 2 && args[2] != nil {
		origin, _ = toInt64(args[2])
	}
	off := (ts - origin) % width
	if off < 0 {
		off += width
	}
	return ts - off, nil
}

// strMatch is a substring match, false for NULL fields as in the index.
func strMatch(ignoreCase bool) scalarFn {
	return func(args []interface{}) (interface{}, error) {
		if args[0] == nil || args[1] == nil {
			return false, nil
		}
		s, term := toString(args[0]), toString(args[1])
		if ignoreCase {
			s, term = strings.ToLower(s), strings.ToLower(term)
		}
		return strings.Contains(s, term), nil
	}
}

func fuzzyMatch(args []interface{}) (interface{}, error) {
	if args[0] == nil || args[1] == nil {
		return false, nil
	}
	d, ok := toInt64(args[2])
	if !ok || d < 0 || d > index.MaxEditDistance {
		return nil, queryCom.ErrSQLNotValid("fuzzy distance must be between 0 and %d", index.MaxEditDistance)
	}
	return index.FuzzyMatches(toString(args[0]), toString(args[1]), int(d)), nil
}

func (c *compiler) cipherFunction(name string) function {
	path := strings.HasSuffix(name, "_path")
	encrypt := strings.HasPrefix(name, expr.EncryptCallName)
	n := 2
	if path {
		n = 3
	}
	return function{n, n, func(args []interface{}) (interface{}, error) {
		if args[0] == nil || args[1] == nil {
			return nil, nil
		}
		value, key := toString(args[0]), toString(args[1])
		switch {
		case path && encrypt:
			return c.keys.EncryptPath(key, value, toString(args[2]))
		case path:
			return c.keys.DecryptPath(key, value, toString(args[2]))
		case encrypt:
			return c.keys.Encrypt(key, value)
		}
		return c.keys.Decrypt(key, value)
	}}
}

func stringFn(fn func(string) string) scalarFn {
	return func(args []interface{}) (interface{}, error) {
		if args[0] == nil {
			return nil, nil
		}
		return fn(toString(args[0])), nil
	}
}

func length(args []interface{}) (interface{}, error) {
	if args[0] == nil {
		return nil, nil
	}
	return int64(utf8.RuneCountInString(toString(args[0]))), nil
}

func coalesce(args []interface{}) (interface{}, error) {
	for _, a := range args {
		if a != nil {
			return a, nil
		}
	}
	return nil, nil
}

func abs(args []interface{}) (interface{}, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case int64:
		if v < 0 {
			return -v, nil
		}
		return v, nil
	}
	f, ok := toFloat64(args[0])
	if !ok {
		return nil, queryCom.ErrSQLNotValid("abs of non numeric value %v", args[0])
	}
	return math.Abs(f), nil
}
