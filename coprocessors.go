package tally

import (
	"errors"
	"fmt"
	"slices"

	"github.com/drpcorg/tally/expr"
	"github.com/drpcorg/tally/utils"
	"github.com/drpcorg/tally/val"
	"github.com/google/uuid"
)

// ResultRequest is one UI component asking for a table.
type ResultRequest struct {
	ComponentID string
	Table       TableSettings
}

type SearchRequest struct {
	// QueryKey names the query, a fresh uuid when empty.
	QueryKey string
	// FieldIndex lays out the rows, a fresh one when nil. Alert conditions
	// must be built against it.
	FieldIndex *expr.FieldIndex
	Requests   []ResultRequest
	Alert      *EventCoprocessorSettings
	// StoreSettings override the configured store settings.
	StoreSettings *DataStoreSettings
}

// CoprocessorSettings is one deduplicated table configuration and the
// components sharing it.
type CoprocessorSettings struct {
	ID           int
	ComponentIDs []string
	Table        *TableSettings
	Event        *EventCoprocessorSettings
}

// CreateSettings merges requests with equal table settings. Ids follow
// the order the configurations were first seen; the alert comes last.
func CreateSettings(req SearchRequest) []CoprocessorSettings {
	var ret []CoprocessorSettings
	byPrint := make(map[uint64][]int)
	for _, r := range req.Requests {
		table := r.Table
		fp := table.Fingerprint()
		found := -1
		for _, i := range byPrint[fp] {
			if ret[i].Table.Equal(&table) {
				found = i
				break
			}
		}
		if found < 0 {
			found = len(ret)
			byPrint[fp] = append(byPrint[fp], found)
			ret = append(ret, CoprocessorSettings{ID: found, Table: &table})
		}
		if !slices.Contains(ret[found].ComponentIDs, r.ComponentID) {
			ret[found].ComponentIDs = append(ret[found].ComponentIDs, r.ComponentID)
		}
	}
	for i := range ret {
		slices.Sort(ret[i].ComponentIDs)
	}
	if req.Alert != nil {
		ret = append(ret, CoprocessorSettings{ID: len(ret), Event: req.Alert})
	}
	return ret
}

type CoprocessorsFactory struct {
	stores *DataStoreFactory
	log    utils.Logger
}

func NewCoprocessorsFactory(stores *DataStoreFactory, log utils.Logger) *CoprocessorsFactory {
	return &CoprocessorsFactory{stores: stores, log: log}
}

func (f *CoprocessorsFactory) Stores() *DataStoreFactory {
	return f.stores
}

// CreateFor builds the coprocessors of a search request.
func (f *CoprocessorsFactory) CreateFor(req SearchRequest) (*Coprocessors, error) {
	var storeSettings DataStoreSettings
	if req.StoreSettings != nil {
		storeSettings = *req.StoreSettings
	} else {
		cfg := f.stores.Config()
		var err error
		if storeSettings, err = cfg.StoreSettings(); err != nil {
			return nil, err
		}
	}
	return f.Create(req.QueryKey, req.FieldIndex, CreateSettings(req), storeSettings)
}

func (f *CoprocessorsFactory) Create(queryKey string, fi *expr.FieldIndex, settings []CoprocessorSettings, storeSettings DataStoreSettings) (_ *Coprocessors, err error) {
	if queryKey == "" {
		queryKey = uuid.NewString()
	}
	if fi == nil {
		fi = expr.NewFieldIndex()
	}
	cops := &Coprocessors{
		queryKey:    queryKey,
		fi:          fi,
		errs:        NewErrorConsumer(),
		byID:        make(map[int]Coprocessor),
		byComponent: make(map[string]Coprocessor),
		byPipeline:  make(map[string][]*TableCoprocessor),
		log:         f.log,
	}
	defer func() {
		if err != nil {
			_ = cops.Destroy()
		}
	}()
	for _, s := range settings {
		var cop Coprocessor
		switch {
		case s.Table != nil:
			tc, err := f.createTable(cops, s, storeSettings)
			if err != nil {
				return nil, errors.Join(fmt.Errorf("coprocessor %d", s.ID), err)
			}
			pipeline := s.Table.Pipeline()
			if _, ok := cops.byPipeline[pipeline]; !ok {
				cops.pipelines = append(cops.pipelines, pipeline)
			}
			cops.byPipeline[pipeline] = append(cops.byPipeline[pipeline], tc)
			cop = tc
		case s.Event != nil:
			ec := NewEventCoprocessor(s.ID, s.Event, storeSettings.ProducePayloads, cops.fi, cops.errs)
			cops.events = append(cops.events, ec)
			cop = ec
		default:
			return nil, fmt.Errorf("coprocessor %d has neither table nor event settings", s.ID)
		}
		cops.byID[s.ID] = cop
		cops.all = append(cops.all, cop)
		for _, component := range s.ComponentIDs {
			cops.byComponent[component] = cop
		}
	}
	f.log.Debug("coprocessors created", "query", queryKey,
		"coprocessors", len(cops.all), "components", len(cops.byComponent))
	return cops, nil
}

func (f *CoprocessorsFactory) createTable(cops *Coprocessors, s CoprocessorSettings, storeSettings DataStoreSettings) (*TableCoprocessor, error) {
	fields, err := CompileFields(s.Table.Fields, cops.fi)
	if err != nil {
		return nil, err
	}
	if len(s.Table.MaxResults) > 0 {
		requested, err := NewSizes(s.Table.MaxResults...)
		if err != nil {
			return nil, err
		}
		storeSettings.MaxResults = MinSizes(storeSettings.MaxResults, requested)
	}
	store, err := f.stores.Create(cops.queryKey, fmt.Sprintf("table-%d", s.ID), fields, storeSettings, cops.errs)
	if err != nil {
		return nil, err
	}
	return NewTableCoprocessor(s.ID, s.Table, fields, store, cops.fi, cops.errs), nil
}

// Coprocessors is everything one query feeds rows into. It owns the
// query's FieldIndex and ErrorConsumer.
type Coprocessors struct {
	queryKey    string
	fi          *expr.FieldIndex
	errs        *ErrorConsumer
	all         []Coprocessor
	byID        map[int]Coprocessor
	byComponent map[string]Coprocessor
	pipelines   []string
	byPipeline  map[string][]*TableCoprocessor
	events      []*EventCoprocessor
	log         utils.Logger
}

func (c *Coprocessors) QueryKey() string { return c.queryKey }

func (c *Coprocessors) FieldIndex() *expr.FieldIndex { return c.fi }

func (c *Coprocessors) Errors() *ErrorConsumer { return c.errs }

func (c *Coprocessors) All() []Coprocessor { return c.all }

func (c *Coprocessors) Get(id int) (Coprocessor, bool) {
	cop, ok := c.byID[id]
	return cop, ok
}

func (c *Coprocessors) ForComponent(componentID string) (Coprocessor, bool) {
	cop, ok := c.byComponent[componentID]
	return cop, ok
}

// TableFor is the table coprocessor serving a component.
func (c *Coprocessors) TableFor(componentID string) (*TableCoprocessor, error) {
	cop, ok := c.byComponent[componentID]
	if !ok {
		return nil, errors.Join(ErrUnknownComponent, fmt.Errorf("component %q", componentID))
	}
	tc, ok := cop.(*TableCoprocessor)
	if !ok {
		return nil, errors.Join(ErrUnknownComponent, fmt.Errorf("component %q has no table", componentID))
	}
	return tc, nil
}

// Pipelines lists the extraction pipelines in first-seen order, "" being
// the rows as they come.
func (c *Coprocessors) Pipelines() []string { return c.pipelines }

func (c *Coprocessors) ForPipeline(pipeline string) []*TableCoprocessor {
	return c.byPipeline[pipeline]
}

func (c *Coprocessors) Events() []*EventCoprocessor { return c.events }

// Receive feeds a raw row to the tables without extraction and to the
// event matchers.
func (c *Coprocessors) Receive(row []val.Val) {
	for _, tc := range c.byPipeline[""] {
		tc.Receive(row)
	}
	for _, ec := range c.events {
		ec.Receive(row)
	}
}

// ReceiveExtracted feeds a row that went through an extraction pipeline.
func (c *Coprocessors) ReceiveExtracted(pipeline string, row []val.Val) {
	for _, tc := range c.byPipeline[pipeline] {
		tc.Receive(row)
	}
}

// CreatePayloads collects the non-empty payloads of all coprocessors.
func (c *Coprocessors) CreatePayloads() ([]*Payload, error) {
	var ret []*Payload
	for _, cop := range c.all {
		payload, err := cop.CreatePayload()
		if err != nil {
			return ret, errors.Join(fmt.Errorf("coprocessor %d", cop.ID()), err)
		}
		if payload == nil || payload.Count == 0 {
			continue
		}
		payload.CoprocessorID = cop.ID()
		ret = append(ret, payload)
	}
	return ret, nil
}

// ApplyPayloads routes payloads made by an identically built query.
func (c *Coprocessors) ApplyPayloads(payloads []*Payload) error {
	for _, payload := range payloads {
		cop, ok := c.byID[payload.CoprocessorID]
		if !ok {
			return errors.Join(ErrBadPayload, fmt.Errorf("no coprocessor %d", payload.CoprocessorID))
		}
		if err := cop.ApplyPayload(payload); err != nil {
			return err
		}
	}
	return nil
}

// Err is the first resource failure of any store.
func (c *Coprocessors) Err() error {
	for _, cop := range c.all {
		if err := cop.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coprocessors) Destroy() error {
	var errs []error
	for _, cop := range c.all {
		errs = append(errs, cop.Destroy())
	}
	return errors.Join(errs...)
}
