package db

import (
	"context"
	"sync"
)

// OpKind classifies one staged mutation in an operation log.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Op is one recorded mutation. For updates, OldValue/NewValue hold a
// printable snapshot of the changed field so a failed envelope can report
// exactly what was attempted and what was restored.
type Op struct {
	Kind     OpKind
	Table    string
	EntityID string
	Field    string
	OldValue string
	NewValue string
}

// OpLog accumulates the mutations staged inside one envelope. The SQLite
// transaction does the actual atomicity; the log exists so rollback
// reports can name every attempted update, and so every audit row written
// in the envelope shares a batch id.
type OpLog struct {
	mu      sync.Mutex
	BatchID string
	ops     []Op
}

func NewOpLog(batchID string) *OpLog {
	return &OpLog{BatchID: batchID}
}

// Record appends one staged mutation.
func (l *OpLog) Record(op Op) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

// Ops returns the staged mutations in application order.
func (l *OpLog) Ops() []Op {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Op, len(l.ops))
	copy(out, l.ops)
	return out
}

// Reversed returns the staged mutations in compensating order.
func (l *OpLog) Reversed() []Op {
	ops := l.Ops()
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
	return ops
}

func (l *OpLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops)
}

type opLogKey struct{}

// WithOpLog attaches an operation log to the context for the duration of
// an envelope.
func WithOpLog(ctx context.Context, log *OpLog) context.Context {
	return context.WithValue(ctx, opLogKey{}, log)
}

// OpLogFrom returns the operation log attached to the context, or nil.
func OpLogFrom(ctx context.Context) *OpLog {
	log, _ := ctx.Value(opLogKey{}).(*OpLog)
	return log
}

// BatchIDFrom returns the batch id of the active envelope, or "".
func BatchIDFrom(ctx context.Context) string {
	if log := OpLogFrom(ctx); log != nil {
		return log.BatchID
	}
	return ""
}
