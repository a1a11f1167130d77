package tool

import (
	"fmt"
	"io"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	arrowmem "github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/termwright/opsagent/internal/domain/orchestrator"
)

// seekableBuffer is an in-memory io.WriteSeeker, since ipc.NewFileWriter
// needs to seek back and patch the Arrow file footer after writing records.
type seekableBuffer struct {
	buf []byte
	pos int64
}

func (b *seekableBuffer) Write(p []byte) (int, error) {
	end := b.pos + int64(len(p))
	if end > int64(len(b.buf)) {
		b.buf = append(b.buf, make([]byte, end-int64(len(b.buf)))...)
	}
	n := copy(b.buf[b.pos:end], p)
	b.pos = end
	return n, nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = b.pos + offset
	case io.SeekEnd:
		newPos = int64(len(b.buf)) + offset
	default:
		return 0, fmt.Errorf("seekableBuffer: invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("seekableBuffer: negative position")
	}
	b.pos = newPos
	return newPos, nil
}

// findingsArrowSchema mirrors the column layout LanceDBVectorStore uses for
// its memory table (internal/infrastructure/vectorstore/lancedb_store.go):
// one Arrow field per logical column, all nullable strings except the ones
// that are always present.
var findingsArrowSchema = arrow.NewSchema([]arrow.Field{
	{Name: "host", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "message", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "severity", Type: arrow.BinaryTypes.String, Nullable: false},
}, nil)

// encodeFindingsArrow columnarizes a patrol report's findings into an Arrow
// IPC stream, alongside analyze_and_report's text synthesis. Multi-host
// patrol results are naturally tabular, so downstream consumers get a
// columnar encoding they can load without re-parsing the prose report.
func encodeFindingsArrow(severity orchestrator.Severity, findings []orchestrator.Finding) ([]byte, error) {
	pool := arrowmem.NewGoAllocator()

	hostB := array.NewStringBuilder(pool)
	defer hostB.Release()
	msgB := array.NewStringBuilder(pool)
	defer msgB.Release()
	sevB := array.NewStringBuilder(pool)
	defer sevB.Release()

	for _, f := range findings {
		hostB.Append(f.Host)
		msgB.Append(f.Message)
		sevB.Append(string(severity))
	}

	hostArr := hostB.NewArray()
	defer hostArr.Release()
	msgArr := msgB.NewArray()
	defer msgArr.Release()
	sevArr := sevB.NewArray()
	defer sevArr.Release()

	record := array.NewRecord(findingsArrowSchema, []arrow.Array{hostArr, msgArr, sevArr}, int64(len(findings)))
	defer record.Release()

	buf := &seekableBuffer{}
	writer, err := ipc.NewFileWriter(buf, ipc.WithSchema(findingsArrowSchema), ipc.WithAllocator(pool))
	if err != nil {
		return nil, fmt.Errorf("create arrow writer: %w", err)
	}
	if err := writer.Write(record); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("write arrow record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close arrow writer: %w", err)
	}
	return buf.buf, nil
}
