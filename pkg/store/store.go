// Package store defines the transactional key-value contract the booking
// engine is built on. Implementations live in the memory, mongostore and
// pgstore subpackages.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("item not found")
	ErrDuplicateKey      = errors.New("transaction contains the same key more than once")
	ErrEmptyTransaction  = errors.New("transaction contains no operations")
	ErrInvalidCondition  = errors.New("condition is not supported for this operation")
	ErrTransactionTooBig = errors.New("transaction exceeds the maximum number of operations")
)

// MaxTransactionOps bounds the size of a single TransactWrite call.
const MaxTransactionOps = 2000

type Key struct {
	PK string `json:"pk"`
	SK string `json:"sk"`
}

func (k Key) String() string {
	return k.PK + "|" + k.SK
}

// Item is one stored record. Owner, Status, Version and Date are the
// attributes conditions and secondary lookups look at; everything else lives
// in Body. Version is maintained by the caller, the store only compares it.
type Item struct {
	Key
	Owner   string          `json:"owner,omitempty"`
	Status  string          `json:"status,omitempty"`
	Version int64           `json:"version,omitempty"`
	Date    string          `json:"date,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
}

type ConditionKind int

const (
	CondNone ConditionKind = iota
	CondAbsent
	CondAbsentOrOwnedBy
	CondOwnedBy
	CondStatusNot
	CondVersion
	CondStatusNotAtVersion
)

func (c ConditionKind) String() string {
	switch c {
	case CondNone:
		return "none"
	case CondAbsent:
		return "absent"
	case CondAbsentOrOwnedBy:
		return "absent_or_owned_by"
	case CondOwnedBy:
		return "owned_by"
	case CondStatusNot:
		return "status_not"
	case CondVersion:
		return "version"
	case CondStatusNotAtVersion:
		return "status_not_at_version"
	default:
		return fmt.Sprintf("condition(%d)", int(c))
	}
}

type Condition struct {
	Kind    ConditionKind
	Value   string
	Version int64
}

func NoCondition() Condition { return Condition{Kind: CondNone} }

func Absent() Condition { return Condition{Kind: CondAbsent} }

func AbsentOrOwnedBy(owner string) Condition {
	return Condition{Kind: CondAbsentOrOwnedBy, Value: owner}
}

func OwnedBy(owner string) Condition {
	return Condition{Kind: CondOwnedBy, Value: owner}
}

func StatusNot(status string) Condition {
	return Condition{Kind: CondStatusNot, Value: status}
}

// AtVersion holds when the key exists and its version is still version.
func AtVersion(version int64) Condition {
	return Condition{Kind: CondVersion, Version: version}
}

// StatusNotAtVersion combines StatusNot and AtVersion. It is the guard for
// rewriting a record that was read earlier.
func StatusNotAtVersion(status string, version int64) Condition {
	return Condition{Kind: CondStatusNotAtVersion, Value: status, Version: version}
}

// Holds reports whether the condition is satisfied given the current item
// stored under the key, nil meaning the key does not exist.
func (c Condition) Holds(current *Item) bool {
	switch c.Kind {
	case CondNone:
		return true
	case CondAbsent:
		return current == nil
	case CondAbsentOrOwnedBy:
		return current == nil || current.Owner == c.Value
	case CondOwnedBy:
		return current != nil && current.Owner == c.Value
	case CondStatusNot:
		return current != nil && current.Status != c.Value
	case CondVersion:
		return current != nil && current.Version == c.Version
	case CondStatusNotAtVersion:
		return current != nil && current.Status != c.Value && current.Version == c.Version
	default:
		return false
	}
}

type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
)

func (k OpKind) String() string {
	if k == OpDelete {
		return "delete"
	}
	return "put"
}

type Op struct {
	Kind OpKind
	Item Item
	Cond Condition
}

func Put(item Item, cond Condition) Op {
	return Op{Kind: OpPut, Item: item, Cond: cond}
}

func Delete(key Key, cond Condition) Op {
	return Op{Kind: OpDelete, Item: Item{Key: key}, Cond: cond}
}

type CancellationReason string

const (
	ReasonNone                   CancellationReason = "None"
	ReasonConditionalCheckFailed CancellationReason = "ConditionalCheckFailed"
)

// TransactionCanceledError is returned by TransactWrite when at least one
// condition failed. Reasons is index-aligned with the submitted ops. Nothing
// from the batch has been applied.
type TransactionCanceledError struct {
	Reasons []CancellationReason
}

func (e *TransactionCanceledError) Error() string {
	failed := make([]string, 0, len(e.Reasons))
	for i, r := range e.Reasons {
		if r != ReasonNone {
			failed = append(failed, fmt.Sprintf("%d:%s", i, r))
		}
	}
	return fmt.Sprintf("transaction cancelled: [%s]", strings.Join(failed, ", "))
}

// FailedIndexes lists the ops whose condition was not met.
func (e *TransactionCanceledError) FailedIndexes() []int {
	var out []int
	for i, r := range e.Reasons {
		if r != ReasonNone {
			out = append(out, i)
		}
	}
	return out
}

func IsTransactionCanceled(err error) bool {
	var tce *TransactionCanceledError
	return errors.As(err, &tce)
}

// Canceled builds a TransactionCanceledError of size n with index failed
// marked as the failing op.
func Canceled(n, failed int) *TransactionCanceledError {
	reasons := make([]CancellationReason, n)
	for i := range reasons {
		reasons[i] = ReasonNone
	}
	if failed >= 0 && failed < n {
		reasons[failed] = ReasonConditionalCheckFailed
	}
	return &TransactionCanceledError{Reasons: reasons}
}

type Store interface {
	// Get returns ErrNotFound when the key does not exist.
	Get(ctx context.Context, key Key) (*Item, error)
	// Query returns every item in the partition ordered by sort key.
	Query(ctx context.Context, pk string) ([]Item, error)
	// QueryRange returns items with fromSK <= SK <= toSK in sort key order.
	// A limit of zero means no limit.
	QueryRange(ctx context.Context, pk, fromSK, toSK string, limit int) ([]Item, error)
	// QueryDate returns items whose Date attribute equals date.
	QueryDate(ctx context.Context, date string) ([]Item, error)
	// QuerySortKey pages through items sharing a sort key across all
	// partitions, ordered by partition key, and returns the total count.
	QuerySortKey(ctx context.Context, sk string, limit int, offset int64) ([]Item, int64, error)
	// TransactWrite applies every op or none of them.
	TransactWrite(ctx context.Context, ops []Op) error
}

// ValidateOps performs the checks shared by every implementation before a
// batch is submitted.
func ValidateOps(ops []Op) error {
	if len(ops) == 0 {
		return ErrEmptyTransaction
	}
	if len(ops) > MaxTransactionOps {
		return fmt.Errorf("%w: %d", ErrTransactionTooBig, len(ops))
	}
	seen := make(map[Key]struct{}, len(ops))
	for _, op := range ops {
		if _, dup := seen[op.Item.Key]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, op.Item.Key)
		}
		seen[op.Item.Key] = struct{}{}
		if op.Kind == OpDelete && (op.Cond.Kind == CondAbsent || op.Cond.Kind == CondAbsentOrOwnedBy) {
			return fmt.Errorf("%w: %s on delete", ErrInvalidCondition, op.Cond.Kind)
		}
	}
	return nil
}
