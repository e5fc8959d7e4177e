package persist

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.rowset.dev/core/model"
	"go.rowset.dev/core/source"
)

// StatementKind is the kind of a StatementBatch. Kinds are ordered on
// their execution order within a commit run.
type StatementKind int

const (
	Delete StatementKind = iota
	Insert
	Update
)

func (k StatementKind) String() string {
	switch k {
	case Delete:
		return "DELETE"
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	default:
		return fmt.Sprintf("StatementKind(%d)", int(k))
	}
}

// State of a Plan.
type State int

const (
	Planning State = iota
	Executing
	Committed
	PartiallyFailed
	Reflecting
	Done
)

func (s State) String() string {
	switch s {
	case Planning:
		return "PLANNING"
	case Executing:
		return "EXECUTING"
	case Committed:
		return "COMMITTED"
	case PartiallyFailed:
		return "PARTIALLY_FAILED"
	case Reflecting:
		return "REFLECTING"
	case Done:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StatementBatch is one planned write of a commit run.
type StatementBatch struct {
	Kind   StatementKind
	Entity *model.Entity
	// Row is the Model index of the originating row.
	Row int
	// Keys address the row as it's currently known to the server.
	// Empty for INSERT.
	Keys []source.AttributeValue
	// Values written by INSERT or UPDATE.
	Values []source.AttributeValue
	// Executed is true if the statement was applied.
	Executed bool
	// Returned are server-returned values of the row, keyed on attribute
	// position. Populated after execution.
	Returned map[int]interface{}
	// Err is the failure of the statement, if any.
	Err error
}

func (s *StatementBatch) String() string {
	var parts []string
	for _, v := range s.Values {
		parts = append(parts, v.String())
	}
	var keys []string
	for _, k := range s.Keys {
		keys = append(keys, k.String())
	}
	return fmt.Sprintf("%s %s row %d [%s] key [%s]", s.Kind, s.Entity, s.Row,
		strings.Join(parts, ", "), strings.Join(keys, ", "))
}

// positions returns attribute positions of the statement's Values.
func (s *StatementBatch) positions() []int {
	var out = make([]int, len(s.Values))
	for i, v := range s.Values {
		out[i] = v.Attribute.Position
	}
	return out
}

// Counters of successfully executed statements, by kind.
type Counters struct {
	Deleted  int
	Inserted int
	Updated  int
}

// Plan is the ordered set of StatementBatches of one commit run.
type Plan struct {
	// RunID uniquely identifies the commit run.
	RunID      uuid.UUID
	State      State
	Statements []*StatementBatch
	Counters   Counters
}

// Executed returns the StatementBatches which were executed.
func (p *Plan) Executed() []*StatementBatch {
	var out []*StatementBatch
	for _, s := range p.Statements {
		if s.Executed {
			out = append(out, s)
		}
	}
	return out
}

func (c *Counters) add(kind StatementKind) {
	switch kind {
	case Delete:
		c.Deleted++
	case Insert:
		c.Inserted++
	case Update:
		c.Updated++
	}
}
