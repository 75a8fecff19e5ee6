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

package query

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/streamql/streamql/common"
	"github.com/streamql/streamql/metastore"
	metaCom "github.com/streamql/streamql/metastore/common"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/query/indexopt"
	"github.com/streamql/streamql/query/sql"
	"github.com/streamql/streamql/utils"
)

// TotalHitsAlias names the count column of a total hits query.
const TotalHitsAlias = "zo_sql_num"

const defaultFuzzyDistance = 1

// Compile returns the compiled QueryContext of a search request. Caller should
// check for QueryContext.Error.
func Compile(ctx context.Context, req *queryCom.Request, schemas metastore.SchemaReader,
	cfg common.ServerConfig) *QueryContext {
	qc := &QueryContext{
		Request:        req,
		TraceID:        req.TraceID,
		OrgID:          req.OrgID,
		StreamType:     req.StreamType,
		StartTime:      req.Query.StartTime,
		EndTime:        req.Query.EndTime,
		TrackTotalHits: req.Query.TrackTotalHits,
		QuickMode:      req.Query.QuickMode || cfg.Query.QuickModeForce,
		config:         cfg,
	}
	if qc.StreamType == "" {
		qc.StreamType = metaCom.StreamTypeLogs
	}

	qc.parse()
	if qc.Error != nil {
		return qc
	}

	// Read schema for every stream used.
	qc.resolveStreams(ctx, schemas)
	if qc.Error != nil {
		return qc
	}

	qc.rewriteTotalHits()
	qc.rewritePlaceholders()

	qc.collectColumns()

	qc.expandMatchAll()
	if qc.Error != nil {
		return qc
	}

	qc.projectSchemas()
	qc.rewritePercentiles()
	qc.injectColumns()
	qc.extractIndexCondition()

	qc.resolveHistogramInterval()
	if qc.Error != nil {
		return qc
	}

	qc.resolveLimit()
	qc.classify()

	qc.SQL = qc.Statement.String()
	utils.GetQueryLogger().With(
		"traceID", qc.TraceID,
		"sql", qc.SQL,
		"indexCondition", qc.IndexConditionString(),
		"optimizeMode", qc.IndexOptimizeModeString(),
	).Debug("query compiled")
	return qc
}

func (qc *QueryContext) parse() {
	text := qc.Request.Query.SQL
	if strings.TrimSpace(text) == "" {
		qc.Error = queryCom.ErrSQLNotValid("sql is empty")
		return
	}
	if qc.EndTime > 0 && qc.StartTime > qc.EndTime {
		qc.Error = queryCom.ErrSQLNotValid("start time %d is after end time %d", qc.StartTime, qc.EndTime)
		return
	}
	stmt, err := sql.Parse(text)
	if err != nil {
		qc.Error = err
		return
	}
	qc.Statement = stmt
	switch s := stmt.(type) {
	case *sql.Select:
		qc.sqlLimit = s.Limit
	case *sql.SetOp:
		qc.sqlLimit = s.Limit
	}
}

func (qc *QueryContext) resolveStreams(ctx context.Context, schemas metastore.SchemaReader) {
	tables := sql.Tables(qc.Statement)
	if len(tables) == 0 {
		qc.Error = queryCom.ErrSQLNotValid("no stream in query")
		return
	}
	hasIndexStream := false
	for _, t := range tables {
		typ := qc.StreamType
		if t.Qualifier != "" {
			parsed, ok := metaCom.ParseStreamType(t.Qualifier)
			if !ok {
				qc.Error = queryCom.ErrSQLNotValid("unknown stream type %s", t.Qualifier)
				return
			}
			typ = parsed
		}
		if typ == metaCom.StreamTypeIndex {
			hasIndexStream = true
		}
		if qc.Stream(t) != nil {
			continue
		}
		ref := metaCom.StreamRef{Org: qc.OrgID, Type: typ, Name: t.Name}
		schema, err := schemas.GetSchema(ctx, ref)
		if err != nil {
			if errors.Cause(err) == metastore.ErrStreamDoesNotExist {
				qc.Error = queryCom.WrapError(queryCom.SQLNotValid, err, "stream %s not found", t.Name)
			} else {
				qc.Error = queryCom.WrapError(queryCom.Internal, err, "failed to read schema of %s", ref)
			}
			return
		}
		qc.Streams = append(qc.Streams, &StreamInfo{
			Ref:            ref,
			FullSchema:     schema,
			FullTextFields: schema.FullTextFields(qc.config.Query.DefaultFullTextKeys),
			columns:        map[string]bool{},
		})
	}
	if hasIndexStream && len(qc.Streams) > 1 {
		qc.Error = queryCom.ErrSQLNotValid("index stream can not be queried together with other streams")
	}
}

// rewriteTotalHits turns the query into one counting its rows.
func (qc *QueryContext) rewriteTotalHits() {
	if !qc.TrackTotalHits {
		return
	}
	count := &sql.Field{
		Expr:  &expr.Call{Name: expr.CountCallName, Args: []expr.Expr{&expr.Wildcard{}}},
		Alias: TotalHitsAlias,
	}
	switch s := qc.Statement.(type) {
	case *sql.Select:
		if !s.Distinct {
			s.Fields = []*sql.Field{count}
			s.GroupBy, s.Having, s.OrderBy, s.Limit = nil, nil, nil, nil
			return
		}
		s.OrderBy, s.Limit = nil, nil
	case *sql.SetOp:
		s.OrderBy, s.Limit = nil, nil
	}
	qc.Statement = &sql.Select{
		Fields: []*sql.Field{count},
		From:   &sql.SubqueryRelation{Stmt: qc.Statement, Alias: "_total"},
	}
}

// rewritePlaceholders short circuits predicates comparing against the
// dashboard placeholder.
func (qc *QueryContext) rewritePlaceholders() {
	if qc.config.Query.DashboardPlaceholder == "" {
		return
	}
	sql.WalkSelects(qc.Statement, func(s *sql.Select) {
		if s.RewriteExprs(qc.placeholderValue) {
			s.Where = simplifyFilter(s.Where)
			s.Having = simplifyFilter(s.Having)
		}
	})
}

func (qc *QueryContext) placeholderValue(e expr.Expr) (expr.Expr, bool) {
	placeholder := qc.config.Query.DashboardPlaceholder
	isPlaceholder := func(e expr.Expr) bool {
		l, ok := expr.StripParens(e).(*expr.StringLiteral)
		return ok && l.Val == placeholder
	}
	switch n := e.(type) {
	case *expr.BinaryExpr:
		if !isPlaceholder(n.LHS) && !isPlaceholder(n.RHS) {
			return e, false
		}
		switch n.Op {
		case expr.EQ, expr.GTE, expr.LTE, expr.GT, expr.LT, expr.LIKE, expr.ILIKE:
			return &expr.BooleanLiteral{Val: true}, true
		case expr.NEQ, expr.NOT_LIKE, expr.NOT_ILIKE:
			return &expr.BooleanLiteral{Val: false}, true
		}
	case *expr.InList:
		for _, item := range n.List {
			if isPlaceholder(item) {
				return &expr.BooleanLiteral{Val: !n.Not}, true
			}
		}
	case *expr.Call:
		if !expr.IsMatchCall(n) {
			return e, false
		}
		for _, arg := range n.Args {
			if isPlaceholder(arg) {
				return &expr.BooleanLiteral{Val: true}, true
			}
		}
	}
	return e, false
}

// simplifyFilter folds boolean literals, a filter that is always true is dropped.
func simplifyFilter(e expr.Expr) expr.Expr {
	if e == nil {
		return nil
	}
	e = expr.Simplify(e)
	if expr.IsTrue(e) {
		return nil
	}
	return e
}

// collectColumns extracts referenced columns, aliases, group by fields and
// the effective ordering.
func (qc *QueryContext) collectColumns() {
	qc.IsComplex = sql.IsComplex(qc.Statement)
	qc.Aliases = map[string]expr.Expr{}

	sql.WalkSelects(qc.Statement, func(s *sql.Select) {
		tables := sql.BlockTables(s)
		for _, f := range s.Fields {
			if f.Alias != "" {
				if _, ok := qc.Aliases[f.Alias]; !ok {
					qc.Aliases[f.Alias] = f.Expr
				}
			}
			if w, ok := f.Expr.(*expr.Wildcard); ok {
				for _, t := range tables {
					if st := qc.Stream(t); st != nil && (w.Qualifier == "" || matchesTable(w.Qualifier, t)) {
						st.Wildcard = true
					}
				}
			}
		}
		for _, e := range s.Exprs() {
			for _, ref := range expr.ColumnRefs(e) {
				qc.addColumn(tables, ref)
			}
		}
	})

	var orderBy []*sql.OrderItem
	switch s := qc.Statement.(type) {
	case *sql.Select:
		for _, g := range s.GroupBy {
			qc.GroupBy = append(qc.GroupBy, expr.Name(g))
		}
		orderBy = s.OrderBy
	case *sql.SetOp:
		orderBy = s.OrderBy
	}
	for _, o := range orderBy {
		qc.OrderBy = append(qc.OrderBy, OrderKey{Column: expr.Name(o.Expr), Desc: o.Desc})
	}
	if len(qc.OrderBy) == 0 && qc.orderableByTime() {
		qc.OrderBy = []OrderKey{{Column: metaCom.TimestampColumn, Desc: true}}
	}
	qc.SortedByTimeOnly = len(qc.OrderBy) == 1 &&
		qc.OrderBy[0].Column == metaCom.TimestampColumn && qc.OrderBy[0].Desc
}

// orderableByTime tells whether a query without ORDER BY returns the latest
// rows first: a plain scan of a single stream carrying the timestamp.
func (qc *QueryContext) orderableByTime() bool {
	s, ok := qc.Statement.(*sql.Select)
	if !ok || s.Distinct || len(s.GroupBy) > 0 || len(qc.Streams) != 1 {
		return false
	}
	if _, ok := s.From.(*sql.Table); !ok {
		return false
	}
	for _, f := range s.Fields {
		if expr.ContainsAggregate(f.Expr) {
			return false
		}
	}
	return qc.Streams[0].FullSchema.HasField(metaCom.TimestampColumn)
}

func matchesTable(qualifier string, t *sql.Table) bool {
	return qualifier == t.RefName() || qualifier == t.Name
}

// addColumn attributes a column reference to the streams of the query block
// declaring that column.
func (qc *QueryContext) addColumn(tables []*sql.Table, ref *expr.VarRef) {
	for _, t := range tables {
		if ref.Qualifier != "" && !matchesTable(ref.Qualifier, t) {
			continue
		}
		if st := qc.Stream(t); st != nil && st.FullSchema.HasField(ref.Val) {
			st.addColumn(ref.Val)
		}
	}
}

// expandMatchAll replaces match_all and fuzzy_match_all by a disjunction over
// the full text fields of the stream.
func (qc *QueryContext) expandMatchAll() {
	sql.WalkSelects(qc.Statement, func(s *sql.Select) {
		if qc.Error != nil {
			return
		}
		tables := sql.BlockTables(s)
		s.RewriteExprs(func(e expr.Expr) (expr.Expr, bool) {
			c, ok := expr.IsCall(e, expr.MatchAllCallName, expr.FuzzyMatchAllCallName)
			if !ok || qc.Error != nil {
				return e, false
			}
			out, err := qc.expandMatchCall(c, tables)
			if err != nil {
				qc.Error = err
				return e, false
			}
			return out, true
		})
	})
}

func (qc *QueryContext) expandMatchCall(c *expr.Call, tables []*sql.Table) (expr.Expr, error) {
	fuzzy := strings.EqualFold(c.Name, expr.FuzzyMatchAllCallName)
	if len(c.Args) == 0 || len(c.Args) > 2 || (!fuzzy && len(c.Args) > 1) {
		return nil, queryCom.ErrSQLNotValid("invalid arguments of %s", c.Name)
	}
	term, ok := c.Args[0].(*expr.StringLiteral)
	if !ok {
		return nil, queryCom.ErrSQLNotValid("%s expects a string literal", c.Name)
	}
	var distance expr.Expr = expr.NewInt(defaultFuzzyDistance)
	if len(c.Args) == 2 {
		if n, ok := c.Args[1].(*expr.NumberLiteral); ok && n.IsInt {
			distance = n
		} else {
			return nil, queryCom.ErrSQLNotValid("%s expects an integer distance", c.Name)
		}
	}
	if len(tables) != 1 || qc.Stream(tables[0]) == nil {
		return nil, queryCom.ErrSQLNotValid("%s requires a single stream", c.Name)
	}
	st := qc.Stream(tables[0])
	if len(st.FullTextFields) == 0 {
		return nil, queryCom.ErrSQLNotValid(
			"Using %s() function in a stream that don't have full text search field", c.Name)
	}

	parts := make([]expr.Expr, len(st.FullTextFields))
	for i, field := range st.FullTextFields {
		st.addColumn(field)
		ref := &expr.VarRef{Val: field}
		if fuzzy {
			parts[i] = &expr.Call{Name: expr.FuzzyMatchCallName, Args: []expr.Expr{ref, term, distance}}
		} else {
			parts[i] = &expr.Call{Name: expr.StrMatchIgnoreCaseCallName, Args: []expr.Expr{ref, term}}
		}
	}
	qc.MatchTerms = append(qc.MatchTerms, term.Val)
	return &expr.ParenExpr{Expr: expr.Disjoin(parts)}, nil
}

// projectSchemas computes the columns each stream scan has to read.
func (qc *QueryContext) projectSchemas() {
	for _, st := range qc.Streams {
		if st.Wildcard {
			st.Schema = st.FullSchema.Project(qc.wildcardColumns(st))
			continue
		}
		names := append([]string{metaCom.TimestampColumn}, st.Columns...)
		if qc.needsRowID(st) {
			names = append(names, metaCom.RowIDColumn)
		}
		st.Schema = st.FullSchema.Project(names)
	}
}

func (qc *QueryContext) wildcardColumns(st *StreamInfo) []string {
	var names []string
	for _, name := range st.FullSchema.FieldNames() {
		if name == metaCom.OriginalColumn && !st.FullSchema.Settings.StoreOriginalData {
			continue
		}
		names = append(names, name)
	}
	limit := qc.config.Query.QuickModeNumFields
	if !qc.QuickMode || limit <= 0 || len(names) <= limit {
		return names
	}
	keep := append([]string{metaCom.TimestampColumn}, st.Columns...)
	return append(keep, names[:limit]...)
}

// needsRowID tells whether plain scans of the stream carry the row id.
func (qc *QueryContext) needsRowID(st *StreamInfo) bool {
	settings := st.FullSchema.Settings
	return !qc.IsComplex && st.FullSchema.HasField(metaCom.RowIDColumn) &&
		(settings.StoreOriginalData || settings.IndexOriginalData)
}

func (qc *QueryContext) rewritePercentiles() {
	sql.WalkSelects(qc.Statement, func(s *sql.Select) {
		s.RewriteExprs(expr.CanonicalPercentile)
	})
}

// injectColumns adds the timestamp and row id to the projection of plain scans.
func (qc *QueryContext) injectColumns() {
	if qc.IsComplex {
		return
	}
	s, ok := qc.Statement.(*sql.Select)
	st := qc.SingleStream()
	if !ok || st == nil {
		return
	}
	inject := func(name string) {
		for _, f := range s.Fields {
			if f.Name() == name {
				return
			}
		}
		s.Fields = append(s.Fields, &sql.Field{Expr: &expr.VarRef{Val: name}})
	}
	if st.FullSchema.HasField(metaCom.TimestampColumn) {
		inject(metaCom.TimestampColumn)
	}
	if qc.needsRowID(st) {
		inject(metaCom.RowIDColumn)
	}
}

func (qc *QueryContext) extractIndexCondition() {
	s, _, indexed := qc.indexTarget()
	if s == nil || s.Where == nil {
		return
	}
	qc.IndexCondition, _ = indexopt.Extract(s.Where, indexed)
}

// indexTarget returns the query block answerable by the inverted index of its
// single stream.
func (qc *QueryContext) indexTarget() (*sql.Select, *StreamInfo, indexopt.FieldSet) {
	if !qc.config.Index.InvertedIndexEnabled {
		return nil, nil, nil
	}
	st := qc.SingleStream()
	s, ok := qc.Statement.(*sql.Select)
	if st == nil || !ok {
		return nil, nil, nil
	}
	if _, ok := s.From.(*sql.Table); !ok {
		return nil, nil, nil
	}
	indexed := st.IndexedFields()
	if len(indexed) == 0 {
		return nil, nil, nil
	}
	return s, st, indexed
}

// resolveHistogramInterval finds the bucket width of the histogram call.
func (qc *QueryContext) resolveHistogramInterval() {
	var call *expr.Call
	sql.WalkSelects(qc.Statement, func(s *sql.Select) {
		for _, e := range s.Exprs() {
			expr.WalkFunc(e, func(n expr.Expr) {
				if c, ok := expr.IsCall(n, expr.HistogramCallName); ok && call == nil {
					call = c
				}
			})
		}
	})
	if call == nil {
		return
	}
	if len(call.Args) == 0 || len(call.Args) > 2 {
		qc.Error = queryCom.ErrSQLNotValid("histogram expects a timestamp column and an optional interval")
		return
	}

	var text string
	var micros int64
	if len(call.Args) == 2 {
		switch a := call.Args[1].(type) {
		case *expr.StringLiteral:
			text = a.Val
		case *expr.IntervalLiteral:
			text, micros = a.Text, a.Micros
		default:
			qc.Error = queryCom.ErrSQLNotValid("histogram interval must be a literal, got %s", a)
			return
		}
	}
	if text == "" && micros == 0 {
		text = qc.Request.Query.HistogramInterval
	}
	if text == "" {
		text = queryCom.DefaultHistogramInterval(qc.StartTime, qc.EndTime)
	}
	if micros == 0 {
		var err error
		if micros, err = queryCom.ParseInterval(text); err != nil {
			qc.Error = queryCom.WrapError(queryCom.SQLNotValid, err, "invalid histogram interval")
			return
		}
	}
	qc.HistogramInterval = micros
	qc.HistogramIntervalText = text
}

// resolveLimit prefers the LIMIT of the statement over the request size.
func (qc *QueryContext) resolveLimit() {
	if qc.sqlLimit != nil {
		qc.Limit, qc.Offset = qc.sqlLimit.Count, qc.sqlLimit.Offset
	} else {
		qc.Limit, qc.Offset = qc.Request.Query.Size, qc.Request.Query.From
	}
	if qc.Limit <= 0 {
		qc.Limit = qc.config.Query.DefaultLimit
	}
	if qc.Offset < 0 {
		qc.Offset = 0
	}
}

// classify picks the index optimize mode of the query.
func (qc *QueryContext) classify() {
	if qc.TrackTotalHits {
		return
	}
	s, _, indexed := qc.indexTarget()
	if s == nil {
		return
	}
	mode := indexopt.Classify(indexopt.Query{
		Stmt:              s,
		Indexed:           indexed,
		StartTime:         qc.StartTime,
		EndTime:           qc.EndTime,
		HistogramInterval: qc.HistogramInterval,
		Limit:             qc.Limit,
		Offset:            qc.Offset,
		OrderBy:           qc.OrderItems(),
	})
	if indexopt.KindOf(mode) != indexopt.KindSimpleSelect && !qc.config.Index.CountOptimizeEnabled {
		mode = nil
	}
	qc.IndexOptimizeMode = mode
}
