// Package activities implements the stage callables executed by sync
// workers, plus the Temporal workflow shims that wrap them.
package activities

import (
	"context"
	"fmt"
	"log"

	"github.com/datosgobar/catalog-sync/internal/database"
	"github.com/datosgobar/catalog-sync/internal/ingest"
	"github.com/datosgobar/catalog-sync/internal/pipeline"
)

// Callable references and task types form the closed set stages may be
// configured with. Stage rows name these; nothing else is dispatchable.
const (
	CallableRead  = "catalog.read"
	CallableClose = "catalog.close"

	TaskTypeRead = "catalog-read"
)

// NodeStore lists the source nodes a read run covers.
type NodeStore interface {
	GetNode(ctx context.Context, catalogID string) (*database.Node, error)
	ListIndexableNodes(ctx context.Context) ([]*database.Node, error)
}

// TaskStore gives callables access to the ledger entry they run under.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (*database.Task, error)
	FinishRunningTasks(ctx context.Context, taskType string) error
	AppendTaskLog(ctx context.Context, id, msg string) error
}

// Activities holds the stage callables and their dependencies.
type Activities struct {
	reader *ingest.Reader
	nodes  NodeStore
	tasks  TaskStore
}

// New wires the callables over a reader and the node and task stores.
func New(reader *ingest.Reader, nodes NodeStore, tasks TaskStore) *Activities {
	return &Activities{reader: reader, nodes: nodes, tasks: tasks}
}

// RegisterPipeline registers every callable and task type on the given
// registry. Both the server (for stage validation and dev-mode dispatch)
// and the worker register the same set.
func (a *Activities) RegisterPipeline(reg *pipeline.Registry) error {
	reg.RegisterTaskType(TaskTypeRead)
	if err := reg.Register(CallableRead, a.ReadCatalogs); err != nil {
		return err
	}
	return reg.Register(CallableClose, a.CloseReadTasks)
}

// ReadCatalogs runs one catalog read: every indexable node, or just the
// node named in the arguments. A failing node is logged against the run's
// ledger entry and skipped; other nodes still sync.
func (a *Activities) ReadCatalogs(ctx context.Context, args map[string]string) error {
	task, err := a.resolveTask(ctx, args)
	if err != nil {
		return err
	}

	nodes, err := a.resolveNodes(ctx, args)
	if err != nil {
		return err
	}

	for _, node := range nodes {
		if err := a.reader.ReadNode(ctx, node, task); err != nil {
			log.Printf("read failed for node %s: %v", node.CatalogID, err)
		}
	}
	return nil
}

// CloseReadTasks force-finishes every open read ledger entry. Configured as
// the terminal stage of a read chain.
func (a *Activities) CloseReadTasks(ctx context.Context, args map[string]string) error {
	return a.tasks.FinishRunningTasks(ctx, TaskTypeRead)
}

func (a *Activities) resolveTask(ctx context.Context, args map[string]string) (*database.Task, error) {
	taskID := args["task_id"]
	if taskID == "" {
		return nil, nil
	}
	task, err := a.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		// Ledger entry vanished; run without one rather than losing the sync.
		log.Printf("task %s not found, running without a ledger entry", taskID)
		return nil, nil
	}
	return task, nil
}

func (a *Activities) resolveNodes(ctx context.Context, args map[string]string) ([]*database.Node, error) {
	if target := args["node"]; target != "" {
		node, err := a.nodes.GetNode(ctx, target)
		if err != nil {
			return nil, err
		}
		if node == nil {
			return nil, fmt.Errorf("node %s not found", target)
		}
		return []*database.Node{node}, nil
	}
	return a.nodes.ListIndexableNodes(ctx)
}
