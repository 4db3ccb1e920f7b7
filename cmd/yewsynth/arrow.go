package main

import (
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// writeSiteLogLikelihoods streams the per-pattern log-likelihoods as a
// single Arrow IPC record batch: { pattern: int32, site_loglik: float64 }.
func writeSiteLogLikelihoods(w io.Writer, siteLogL []float64) error {
	pool := memory.NewGoAllocator()

	schema := arrow.NewSchema(
		[]arrow.Field{
			{Name: "pattern", Type: arrow.PrimitiveTypes.Int32},
			{Name: "site_loglik", Type: arrow.PrimitiveTypes.Float64},
		},
		nil,
	)

	patternBuilder := array.NewInt32Builder(pool)
	defer patternBuilder.Release()
	logLBuilder := array.NewFloat64Builder(pool)
	defer logLBuilder.Release()

	for k, v := range siteLogL {
		patternBuilder.Append(int32(k))
		logLBuilder.Append(v)
	}

	patternArr := patternBuilder.NewArray()
	defer patternArr.Release()
	logLArr := logLBuilder.NewArray()
	defer logLArr.Release()

	rec := array.NewRecordBatch(schema, []arrow.Array{patternArr, logLArr}, int64(len(siteLogL)))
	defer rec.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}
