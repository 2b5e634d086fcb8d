// Package item defines the records persisted by the batch processor: work
// items, batches of them, and the result summary of a finished run.
package item

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BranchIntl/couponqueue/errors"
)

const format = "json"

// WorkItem is an opaque instruction: which handler class to resolve, which
// of its methods to call, and the ordered arguments for the call.
type WorkItem struct {
	Class  string `json:"class"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// New builds a work item
func New(class, method string, args ...any) WorkItem {
	if args == nil {
		args = []any{}
	}
	return WorkItem{Class: class, Method: method, Args: args}
}

func (w WorkItem) String() string {
	return fmt.Sprintf("%s.%s", w.Class, w.Method)
}

// Batch is one persisted chunk of work items. Position in Items is the
// item index.
type Batch struct {
	Key   string
	Items []WorkItem
}

// Len returns the number of items left in the batch
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Items)
}

// EncodeItems serializes work items for storage
func EncodeItems(items []WorkItem) ([]byte, error) {
	data, err := json.Marshal(items)
	if err != nil {
		return nil, errors.NewSerializationError(format, err)
	}
	return data, nil
}

// DecodeItems deserializes stored work items. Numbers decode as
// json.Number so integer arguments keep their precision.
func DecodeItems(data []byte) ([]WorkItem, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var items []WorkItem
	if err := dec.Decode(&items); err != nil {
		return nil, errors.NewSerializationError(format, err)
	}
	for i := range items {
		if items[i].Args == nil {
			items[i].Args = []any{}
		}
	}
	return items, nil
}
