package tally

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drpcorg/tally/utils"
	"github.com/drpcorg/tally/val"
)

type State int32

const (
	StateCreated State = iota
	StateRunning
	StateComplete
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateComplete:
		return "complete"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ResultStore runs one query: it takes rows while running and serves
// pages of the current results in any state but destroyed.
type ResultStore struct {
	cops *Coprocessors
	log  utils.Logger

	lock     sync.Mutex
	state    atomic.Int32
	complete chan struct{}

	relayCancel context.CancelFunc
	relayDone   chan error
}

func NewResultStore(cops *Coprocessors, log utils.Logger) *ResultStore {
	rs := &ResultStore{
		cops:     cops,
		log:      log,
		complete: make(chan struct{}),
	}
	QueryStates.WithLabelValues(StateCreated.String()).Inc()
	return rs
}

func (rs *ResultStore) State() State {
	return State(rs.state.Load())
}

func (rs *ResultStore) Coprocessors() *Coprocessors {
	return rs.cops
}

// under lock
func (rs *ResultStore) moveTo(to State) {
	from := rs.State()
	QueryStates.WithLabelValues(from.String()).Dec()
	QueryStates.WithLabelValues(to.String()).Inc()
	rs.state.Store(int32(to))
	rs.log.Debug("query state", "query", rs.cops.QueryKey(), "from", from.String(), "to", to.String())
}

func (rs *ResultStore) Start() error {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	if rs.State() != StateCreated {
		return errors.Join(ErrBadState, fmt.Errorf("start in state %s", rs.State()))
	}
	rs.moveTo(StateRunning)
	return nil
}

// AttachRelay starts shipping payloads until the query completes.
func (rs *ResultStore) AttachRelay(relay *PayloadRelay) error {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	if s := rs.State(); s > StateRunning || rs.relayCancel != nil {
		return errors.Join(ErrBadState, fmt.Errorf("relay attached in state %s", s))
	}
	ctx, cancel := context.WithCancel(context.Background())
	ctx = utils.WithDefaultArgs(ctx, "query", rs.cops.QueryKey())
	rs.relayCancel = cancel
	rs.relayDone = make(chan error, 1)
	go func() {
		rs.relayDone <- relay.Run(ctx)
	}()
	return nil
}

// Receive drops rows unless the query is running.
func (rs *ResultStore) Receive(row []val.Val) {
	if rs.State() != StateRunning {
		return
	}
	rs.cops.Receive(row)
}

func (rs *ResultStore) ReceiveExtracted(pipeline string, row []val.Val) {
	if rs.State() != StateRunning {
		return
	}
	rs.cops.ReceiveExtracted(pipeline, row)
}

// SignalComplete ends ingestion and waits for the final payload flush.
func (rs *ResultStore) SignalComplete() error {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	if rs.State() != StateRunning {
		return errors.Join(ErrBadState, fmt.Errorf("complete in state %s", rs.State()))
	}
	rs.moveTo(StateComplete)
	err := rs.stopRelay()
	close(rs.complete)
	return err
}

// under lock
func (rs *ResultStore) stopRelay() error {
	if rs.relayCancel == nil {
		return nil
	}
	rs.relayCancel()
	rs.relayCancel = nil
	return <-rs.relayDone
}

func (rs *ResultStore) IsComplete() bool {
	s := rs.State()
	return s == StateComplete || s == StateDestroyed
}

const failurePollInterval = 100 * time.Millisecond

// AwaitCompletion reports whether the query completed within the
// timeout. A store resource failure destroys the query and is returned.
func (rs *ResultStore) AwaitCompletion(ctx context.Context, timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	poll := time.NewTicker(failurePollInterval)
	defer poll.Stop()
	for {
		if err := rs.cops.Err(); err != nil {
			rs.log.ErrorCtx(ctx, "query failed", "query", rs.cops.QueryKey(), "err", err)
			_ = rs.Destroy()
			return false, err
		}
		select {
		case <-rs.complete:
			return true, nil
		case <-timer.C:
			return rs.IsComplete(), nil
		case <-ctx.Done():
			return false, ctx.Err()
		case <-poll.C:
		}
	}
}

// Data is the current content of the table serving a component.
func (rs *ResultStore) Data(componentID string) (*Data, error) {
	if rs.State() == StateDestroyed {
		return nil, ErrDestroyed
	}
	tc, err := rs.cops.TableFor(componentID)
	if err != nil {
		return nil, err
	}
	return &Data{fields: tc.Fields(), store: tc.Store()}, nil
}

// Alerts lists the events matched by the alert condition, if any.
func (rs *ResultStore) Alerts() []EventRef {
	var ret []EventRef
	for _, ec := range rs.cops.Events() {
		ret = append(ret, ec.Refs().List()...)
	}
	return ret
}

func (rs *ResultStore) Errors() []string {
	return rs.cops.Errors().Errors()
}

// Destroy releases the stores; it is allowed in any state and repeatable.
func (rs *ResultStore) Destroy() error {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	state := rs.State()
	if state == StateDestroyed {
		return nil
	}
	rs.moveTo(StateDestroyed)
	relayErr := rs.stopRelay()
	if state != StateComplete {
		close(rs.complete)
	}
	return errors.Join(relayErr, rs.cops.Destroy())
}

type Row struct {
	Key        Key
	Depth      int
	Values     []string
	ChildCount int
}

type Page struct {
	Rows   []Row
	Offset int
	// Total is the number of children the parent holds.
	Total int
}

type Data struct {
	fields []CompiledField
	store  DataStore
}

func (d *Data) Fields() []CompiledField { return d.fields }

func (d *Data) Size() int { return d.store.Size() }

func (d *Data) Items(parent Key, offset, length int) []Item {
	return d.store.Children(parent, offset, length)
}

func (d *Data) Page(parent Key, offset, length int) Page {
	items := d.store.Children(parent, offset, length)
	page := Page{
		Rows:   make([]Row, 0, len(items)),
		Offset: offset,
		Total:  d.store.ChildCount(parent),
	}
	for _, item := range items {
		values := make([]string, len(d.fields))
		for i := range d.fields {
			values[i] = item.Value(i).String()
		}
		row := Row{Key: item.Key, Depth: item.Key.Depth(), Values: values}
		if item.Key.Grouped() {
			row.ChildCount = d.store.ChildCount(item.Key)
		}
		page.Rows = append(page.Rows, row)
	}
	return page
}
