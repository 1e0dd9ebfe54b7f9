package search

import (
	"github.com/grimoiredb/grimoire/core"
	"github.com/grimoiredb/grimoire/storage"
)

// QueryMonitor provides hooks to observe the query planner.
// Implement this interface to track intermediate steps and results during a query.
type QueryMonitor interface {
	Start(req Request)
	AfterTextSearch(hits []storage.TextHit)
	AfterVectorSearch(hits []storage.VectorHit)
	LegDegraded(leg string, err error)
	AfterRecordRetrieval(records []*core.ContentRecord)
	Finish(resp *Response)
}

// noopMonitor is a no-op implementation of QueryMonitor
type noopMonitor struct{}

var _ QueryMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ Request)                              {}
func (n *noopMonitor) AfterTextSearch(_ []storage.TextHit)          {}
func (n *noopMonitor) AfterVectorSearch(_ []storage.VectorHit)      {}
func (n *noopMonitor) LegDegraded(_ string, _ error)                {}
func (n *noopMonitor) AfterRecordRetrieval(_ []*core.ContentRecord) {}
func (n *noopMonitor) Finish(_ *Response)                           {}
