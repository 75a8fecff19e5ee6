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

package cipher

import (
	"strings"

	"github.com/streamql/streamql/query/expr"
)

// Swap rewrites decrypt(col, key) = 'v' into col = encrypt('v', key), so the
// literal is encrypted once instead of decrypting every row. Only calls
// without an explicit path argument are swapped. It is an expr.RewriteFn.
func Swap(e expr.Expr) (expr.Expr, bool) {
	b, ok := e.(*expr.BinaryExpr)
	if !ok || (b.Op != expr.EQ && b.Op != expr.NEQ) {
		return e, false
	}
	call, lit := swappable(b.LHS, b.RHS)
	if call == nil {
		call, lit = swappable(b.RHS, b.LHS)
	}
	if call == nil {
		return e, false
	}
	return &expr.BinaryExpr{
		Op:  b.Op,
		LHS: call.Args[0],
		RHS: &expr.Call{Name: expr.EncryptCallName, Args: []expr.Expr{lit, call.Args[1]}},
	}, true
}

func swappable(side, other expr.Expr) (*expr.Call, *expr.StringLiteral) {
	call, ok := expr.IsCall(side, expr.DecryptCallName, expr.DecryptPathCallName)
	if !ok || len(call.Args) != 2 {
		return nil, nil
	}
	if _, ok := call.Args[1].(*expr.StringLiteral); !ok {
		return nil, nil
	}
	lit, ok := other.(*expr.StringLiteral)
	if !ok {
		return nil, nil
	}
	return call, lit
}

// Unswap is the inverse of Swap: col = encrypt('v', key) becomes
// decrypt(col, key) = 'v'.
func Unswap(e expr.Expr) (expr.Expr, bool) {
	b, ok := e.(*expr.BinaryExpr)
	if !ok || (b.Op != expr.EQ && b.Op != expr.NEQ) {
		return e, false
	}
	col, enc := b.LHS, b.RHS
	call, ok := expr.IsCall(enc, expr.EncryptCallName)
	if !ok {
		col, enc = b.RHS, b.LHS
		if call, ok = expr.IsCall(enc, expr.EncryptCallName); !ok {
			return e, false
		}
	}
	if len(call.Args) != 2 {
		return e, false
	}
	lit, ok := call.Args[0].(*expr.StringLiteral)
	if !ok {
		return e, false
	}
	return &expr.BinaryExpr{
		Op:  b.Op,
		LHS: &expr.Call{Name: expr.DecryptCallName, Args: []expr.Expr{col, call.Args[1]}},
		RHS: lit,
	}, true
}

// NamespaceKeys prefixes the literal key names of cipher calls with the
// organization and defaults the path argument of path functions to the root.
// Applying it twice is the same as applying it once.
func NamespaceKeys(org string) expr.RewriteFn {
	return func(e expr.Expr) (expr.Expr, bool) {
		call, ok := expr.IsCall(e, expr.EncryptCallName, expr.DecryptCallName,
			expr.EncryptPathCallName, expr.DecryptPathCallName)
		if !ok || len(call.Args) < 2 {
			return e, false
		}
		changed := false
		args := append([]expr.Expr{}, call.Args...)
		if key, ok := args[1].(*expr.StringLiteral); ok {
			if named := KeyName(org, key.Val); named != key.Val {
				args[1] = &expr.StringLiteral{Val: named}
				changed = true
			}
		}
		isPath := strings.HasSuffix(strings.ToLower(call.Name), "_path")
		if isPath && len(args) == 2 {
			args = append(args, &expr.StringLiteral{Val: RootPath})
			changed = true
		}
		if !changed {
			return e, false
		}
		return &expr.Call{Name: call.Name, Args: args, Distinct: call.Distinct}, true
	}
}
