// Modifications Copyright (c) 2017-2018 Uber Technologies, Inc.
// Copyright (c) 2013-2016 Errplane Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

package expr

import "github.com/pkg/errors"

// WireExpr is the serialized form of an expression. Kind selects the node,
// the other fields are set as the node needs them.
type WireExpr struct {
	Kind      string       `json:"kind"`
	Qualifier string       `json:"qualifier,omitempty"`
	Name      string       `json:"name,omitempty"`
	Text      string       `json:"text,omitempty"`
	Int       int64        `json:"int,omitempty"`
	Float     float64      `json:"float,omitempty"`
	IsInt     bool         `json:"is_int,omitempty"`
	Bool      bool         `json:"bool,omitempty"`
	Op        Token        `json:"op,omitempty"`
	Distinct  bool         `json:"distinct,omitempty"`
	Args      []*WireExpr  `json:"args,omitempty"`
	Order     []*WireOrder `json:"order,omitempty"`
	Else      *WireExpr    `json:"else,omitempty"`
}

// WireOrder is a serialized sort field or case branch.
type WireOrder struct {
	Expr *WireExpr `json:"expr"`
	Then *WireExpr `json:"then,omitempty"`
	Desc bool      `json:"desc,omitempty"`
}

// Encode converts an expression into its wire form, nil stays nil.
// Subqueries have no wire form.
func Encode(e Expr) (*WireExpr, error) {
	if e == nil {
		return nil, nil
	}
	switch e := e.(type) {
	case *VarRef:
		return &WireExpr{Kind: "ref", Qualifier: e.Qualifier, Name: e.Val}, nil
	case *NumberLiteral:
		return &WireExpr{Kind: "number", Int: e.Int, Float: e.Val, IsInt: e.IsInt, Text: e.Expr}, nil
	case *StringLiteral:
		return &WireExpr{Kind: "string", Text: e.Val}, nil
	case *BooleanLiteral:
		return &WireExpr{Kind: "bool", Bool: e.Val}, nil
	case *NullLiteral:
		return &WireExpr{Kind: "null"}, nil
	case *IntervalLiteral:
		return &WireExpr{Kind: "interval", Int: e.Micros, Text: e.Text}, nil
	case *Wildcard:
		return &WireExpr{Kind: "wildcard", Qualifier: e.Qualifier}, nil
	case *ParenExpr:
		return encodeNode("paren", e.Expr)
	case *UnaryExpr:
		w, err := encodeNode("unary", e.Expr)
		if w != nil {
			w.Op = e.Op
		}
		return w, err
	case *BinaryExpr:
		w, err := encodeNode("binary", e.LHS, e.RHS)
		if w != nil {
			w.Op = e.Op
		}
		return w, err
	case *InList:
		w, err := encodeNode("in", append([]Expr{e.Expr}, e.List...)...)
		if w != nil {
			w.Bool = e.Not
		}
		return w, err
	case *Call:
		w, err := encodeNode("call", e.Args...)
		if err != nil {
			return nil, err
		}
		w.Name, w.Distinct = e.Name, e.Distinct
		for _, s := range e.WithinGroup {
			o, err := Encode(s.Expr)
			if err != nil {
				return nil, err
			}
			w.Order = append(w.Order, &WireOrder{Expr: o, Desc: s.Desc})
		}
		return w, nil
	case *Case:
		w, err := encodeNode("case", e.Operand)
		if err != nil {
			return nil, err
		}
		for _, wt := range e.WhenThens {
			when, err := Encode(wt.When)
			if err != nil {
				return nil, err
			}
			then, err := Encode(wt.Then)
			if err != nil {
				return nil, err
			}
			w.Order = append(w.Order, &WireOrder{Expr: when, Then: then})
		}
		if w.Else, err = Encode(e.Else); err != nil {
			return nil, err
		}
		return w, nil
	}
	return nil, errors.Errorf("expression %s cannot be serialized", e)
}

func encodeNode(kind string, args ...Expr) (*WireExpr, error) {
	w := &WireExpr{Kind: kind}
	for _, a := range args {
		arg, err := Encode(a)
		if err != nil {
			return nil, err
		}
		w.Args = append(w.Args, arg)
	}
	return w, nil
}

// Decode converts a wire expression back, nil stays nil.
func Decode(w *WireExpr) (Expr, error) {
	if w == nil {
		return nil, nil
	}
	args := make([]Expr, len(w.Args))
	for i, a := range w.Args {
		e, err := Decode(a)
		if err != nil {
			return nil, err
		}
		args[i] = e
	}
	arity := func(n int) error {
		if len(args) != n {
			return errors.Errorf("%s expression expects %d arguments, got %d", w.Kind, n, len(args))
		}
		return nil
	}

	switch w.Kind {
	case "ref":
		return &VarRef{Qualifier: w.Qualifier, Val: w.Name}, nil
	case "number":
		return &NumberLiteral{Val: w.Float, Int: w.Int, IsInt: w.IsInt, Expr: w.Text}, nil
	case "string":
		return &StringLiteral{Val: w.Text}, nil
	case "bool":
		return &BooleanLiteral{Val: w.Bool}, nil
	case "null":
		return &NullLiteral{}, nil
	case "interval":
		return &IntervalLiteral{Micros: w.Int, Text: w.Text}, nil
	case "wildcard":
		return &Wildcard{Qualifier: w.Qualifier}, nil
	case "paren":
		if err := arity(1); err != nil {
			return nil, err
		}
		return &ParenExpr{Expr: args[0]}, nil
	case "unary":
		if err := arity(1); err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: w.Op, Expr: args[0]}, nil
	case "binary":
		if err := arity(2); err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: w.Op, LHS: args[0], RHS: args[1]}, nil
	case "in":
		if len(args) == 0 {
			return nil, errors.New("in expression without operand")
		}
		return &InList{Expr: args[0], List: args[1:], Not: w.Bool}, nil
	case "call":
		c := &Call{Name: w.Name, Args: args, Distinct: w.Distinct}
		for _, o := range w.Order {
			e, err := Decode(o.Expr)
			if err != nil {
				return nil, err
			}
			c.WithinGroup = append(c.WithinGroup, SortField{Expr: e, Desc: o.Desc})
		}
		return c, nil
	case "case":
		c := &Case{}
		if len(args) > 0 {
			c.Operand = args[0]
		}
		for _, o := range w.Order {
			when, err := Decode(o.Expr)
			if err != nil {
				return nil, err
			}
			then, err := Decode(o.Then)
			if err != nil {
				return nil, err
			}
			c.WhenThens = append(c.WhenThens, WhenThen{When: when, Then: then})
		}
		var err error
		if c.Else, err = Decode(w.Else); err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, errors.Errorf("unknown expression kind %q", w.Kind)
}
