// Package merge implements C6, the unified row merger: pure in-memory,
// additive, non-clobbering combination of partial PerpSamples emitted by
// many feeds into one row per (ts,symbol,exchange).
//
// Grounded on model.PerpSample/PerpSpec's field-accessor design
// (internal/ingest/model/model.go's Field method), which this package
// relies on to copy fields generically without per-metric switch
// statements.
package merge

import (
	"github.com/sawpanic/perpingest/internal/ingest/model"
)

// Merge groups partial samples by (ts,symbol,exchange) and folds each
// group into a single row: non-null incoming fields are copied (never
// overwriting a non-null with null — later writes for the same field
// still win, matching the storage layer's COALESCE(new,existing)
// semantics applied in-memory), and every source's perpspec tags are
// unioned into the merged row.
func Merge(partials []*model.PerpSample) []*model.PerpSample {
	order := make([]model.Key, 0)
	rows := make(map[model.Key]*model.PerpSample)

	for _, p := range partials {
		if p == nil {
			continue
		}
		k := p.Key()
		row, ok := rows[k]
		if !ok {
			row = &model.PerpSample{TS: p.TS, Symbol: p.Symbol, Exchange: p.Exchange, Spec: model.NewPerpSpec()}
			rows[k] = row
			order = append(order, k)
		}
		applyFields(row, p)
		row.Spec = row.Spec.Union(p.Spec)
	}

	out := make([]*model.PerpSample, 0, len(order))
	for _, k := range order {
		out = append(out, rows[k])
	}
	return out
}

// applyFields copies every non-null field of src into dst. Metrics tracked
// by model.Metric (c,v,oi,pfr,lsr,rsi1,rsi60,tbv,tsv,lql,lqs) go through
// PerpSample.Field for a uniform accessor; o/h/l and notes sit outside the
// derived-metric enum and are copied directly.
func applyFields(dst, src *model.PerpSample) {
	for _, m := range model.AllMetrics {
		srcField := src.Field(m)
		if *srcField == nil {
			continue
		}
		dstField := dst.Field(m)
		*dstField = *srcField
	}
	if src.O != nil {
		dst.O = src.O
	}
	if src.H != nil {
		dst.H = src.H
	}
	if src.L != nil {
		dst.L = src.L
	}
	if src.Notes != nil {
		dst.Notes = src.Notes
	}
}
