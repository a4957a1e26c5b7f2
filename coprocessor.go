package tally

import (
	"errors"
	"fmt"

	"github.com/drpcorg/tally/expr"
	"github.com/drpcorg/tally/val"
	"github.com/prometheus/client_golang/prometheus"
)

// Coprocessor consumes the rows of one query for one table or alert.
// Receive never panics and never returns errors; failures go to the
// query's ErrorConsumer.
type Coprocessor interface {
	ID() int
	Receive(row []val.Val)
	CreatePayload() (*Payload, error)
	ApplyPayload(payload *Payload) error
	Err() error
	Destroy() error
}

var ErrNoEventRef = errors.New("row carries no stream and event id")

func recoverInto(errs *ErrorConsumer, id int) {
	if r := recover(); r != nil {
		if err, ok := r.(error); ok {
			errs.Add(errors.Join(fmt.Errorf("coprocessor %d", id), err))
		} else {
			errs.Add(fmt.Errorf("coprocessor %d: %v", id, r))
		}
	}
}

// TableCoprocessor groups rows into a DataStore. Group fields of depth d
// form the key part at depth d; a row without grouping, or any row when
// detail is requested, also becomes an ungrouped leaf.
type TableCoprocessor struct {
	id       int
	settings *TableSettings
	fields   []CompiledField
	groups   [][]int
	maxDepth int
	store    DataStore
	errs     *ErrorConsumer
	rows     prometheus.Counter

	storeRefs bool
	streamPos int
	eventPos  int
}

func NewTableCoprocessor(id int, settings *TableSettings, fields []CompiledField, store DataStore, fi *expr.FieldIndex, errs *ErrorConsumer) *TableCoprocessor {
	maxDepth := settings.MaxGroupDepth()
	groups := make([][]int, maxDepth+1)
	for i, f := range fields {
		if f.Group >= 0 {
			groups[f.Group] = append(groups[f.Group], i)
		}
	}
	tc := &TableCoprocessor{
		id:        id,
		settings:  settings,
		fields:    fields,
		groups:    groups,
		maxDepth:  maxDepth,
		store:     store,
		errs:      errs,
		rows:      RowsReceived.WithLabelValues("table"),
		storeRefs: store.Settings().StoreLatestEventReference,
		streamPos: -1,
		eventPos:  -1,
	}
	if tc.storeRefs {
		tc.streamPos = fi.StreamIDPos()
		tc.eventPos = fi.EventIDPos()
	}
	return tc
}

func (tc *TableCoprocessor) ID() int { return tc.id }

func (tc *TableCoprocessor) Store() DataStore { return tc.store }

func (tc *TableCoprocessor) Fields() []CompiledField { return tc.fields }

func (tc *TableCoprocessor) Settings() *TableSettings { return tc.settings }

func (tc *TableCoprocessor) groupPart(gens []expr.Generator, depth int) (GroupKeyPart, error) {
	values := make([]val.Val, len(tc.groups[depth]))
	for i, field := range tc.groups[depth] {
		v := gens[field].Eval()
		if e, ok := v.(val.Err); ok {
			return GroupKeyPart{}, fmt.Errorf("field %q: %s", tc.fields[field].Name, string(e))
		}
		values[i] = v
	}
	return NewGroupKeyPart(values...), nil
}

func (tc *TableCoprocessor) Receive(row []val.Val) {
	defer recoverInto(tc.errs, tc.id)
	tc.rows.Inc()
	ser := tc.store.Serialiser()
	var ref EventRef
	if tc.storeRefs {
		ref, _ = RefFromRow(row, tc.streamPos, tc.eventPos)
	}
	// stores take ownership of generators, each level gets its own set
	gens := ser.NewGenerators(row)
	parts := make([]KeyPart, 0, tc.maxDepth+2)
	for depth := 0; depth <= tc.maxDepth; depth++ {
		part, err := tc.groupPart(gens, depth)
		if err != nil {
			tc.errs.Add(err)
			return
		}
		parts = append(parts, part)
	}
	if tc.maxDepth == NotGrouped || tc.settings.ShowDetail {
		parts = append(parts, UngroupedKeyPart(tc.store.NextUniqueID()))
	}
	key := RootKey()
	for i, part := range parts {
		key = key.Resolve(part)
		if i > 0 {
			gens = ser.NewGenerators(row)
		}
		if !tc.store.ReceiveWithRef(key, gens, ref) {
			return
		}
	}
}

func (tc *TableCoprocessor) CreatePayload() (*Payload, error) {
	payload, err := tc.store.CreatePayload()
	if payload != nil {
		payload.CoprocessorID = tc.id
	}
	return payload, err
}

func (tc *TableCoprocessor) ApplyPayload(payload *Payload) error {
	return tc.store.ApplyPayload(payload)
}

func (tc *TableCoprocessor) Err() error { return tc.store.Err() }

func (tc *TableCoprocessor) Destroy() error { return tc.store.Destroy() }

type EventCoprocessorSettings struct {
	Limits    EventRefsLimits
	Condition expr.Condition
}

// EventCoprocessor remembers references to the rows matching a condition.
type EventCoprocessor struct {
	id        int
	cond      expr.Condition
	refs      *EventRefs
	payloads  bool
	streamPos int
	eventPos  int
	errs      *ErrorConsumer
	rows      prometheus.Counter
}

func NewEventCoprocessor(id int, settings *EventCoprocessorSettings, producePayloads bool, fi *expr.FieldIndex, errs *ErrorConsumer) *EventCoprocessor {
	return &EventCoprocessor{
		id:        id,
		cond:      settings.Condition,
		refs:      NewEventRefs(settings.Limits, producePayloads),
		payloads:  producePayloads,
		streamPos: fi.StreamIDPos(),
		eventPos:  fi.EventIDPos(),
		errs:      errs,
		rows:      RowsReceived.WithLabelValues("event"),
	}
}

func (ec *EventCoprocessor) ID() int { return ec.id }

func (ec *EventCoprocessor) Receive(row []val.Val) {
	defer recoverInto(ec.errs, ec.id)
	ec.rows.Inc()
	if ec.cond != nil && !ec.cond.Match(row) {
		return
	}
	ref, ok := RefFromRow(row, ec.streamPos, ec.eventPos)
	if !ok {
		ec.errs.Add(ErrNoEventRef)
		return
	}
	ec.refs.Add(ref)
}

func (ec *EventCoprocessor) Refs() *EventRefs { return ec.refs }

func (ec *EventCoprocessor) CreatePayload() (*Payload, error) {
	if !ec.payloads {
		return nil, ErrPayloadsDisabled
	}
	payload := &Payload{CoprocessorID: ec.id}
	for _, ref := range ec.refs.TakePending() {
		payload.appendRef(ref)
	}
	return payload, nil
}

func (ec *EventCoprocessor) ApplyPayload(payload *Payload) error {
	refs, err := payload.Refs()
	if err != nil {
		return err
	}
	for _, ref := range refs {
		ec.refs.Add(ref)
	}
	return nil
}

func (ec *EventCoprocessor) Err() error { return nil }

func (ec *EventCoprocessor) Destroy() error { return nil }
