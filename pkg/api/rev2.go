package api

import (
	"context"
	"sync"

	"github.com/breeze-rmm/updatekit/internal/catalog"
	"github.com/breeze-rmm/updatekit/internal/engine"
	"github.com/breeze-rmm/updatekit/internal/progress"
	"github.com/breeze-rmm/updatekit/internal/workspace"
)

// Revision 2 of the boundary surface: entry points allocate a Result the
// caller must release with Free, and callbacks return a cancel flag (true
// stops the operation).

// Result is the outcome of a revision-2 operation. Callers own the Result
// and must release it with Free exactly once; this mirrors the ownership
// contract of hosts that embed the engine behind a foreign interface.
type Result struct {
	msg string
}

var results = struct {
	sync.Mutex
	live map[*Result]struct{}
}{live: map[*Result]struct{}{}}

func newResult(err error) *Result {
	r := &Result{msg: errMessage(err)}
	results.Lock()
	results.live[r] = struct{}{}
	results.Unlock()
	return r
}

// OK reports whether the operation succeeded.
func (r *Result) OK() bool { return r.msg == "" }

// Message returns the failure description, empty on success.
func (r *Result) Message() string { return r.msg }

// Free releases the result. Releasing twice is a no-op.
func (r *Result) Free() {
	results.Lock()
	delete(results.live, r)
	results.Unlock()
	r.msg = ""
}

// LiveResults reports how many results are allocated and not yet freed.
// Host integrations use it to detect leaks in their release discipline.
func LiveResults() int {
	results.Lock()
	defer results.Unlock()
	return len(results.live)
}

// CancelCallback receives each progression snapshot. Returning true
// cancels the operation.
type CancelCallback func(errMsg string, p GlobalProgression) (cancel bool)

// CopyCancelCallback is the clone counterpart of CancelCallback.
type CopyCancelCallback func(errMsg string, p CopyProgression) (cancel bool)

// UpdateWorkspace2 is the revision-2 update entry point. cb may be nil.
func UpdateWorkspace2(workspacePath, repositoryURL, username, password, goalVersion string, cb CancelCallback) *Result {
	var sink progress.Sink
	if cb != nil {
		sink = progress.SinkFunc(func(err error, p progress.GlobalProgression) bool {
			return !cb(errMessage(err), toGlobal(p))
		})
	}
	_, err := engine.Update(context.Background(), workspacePath, engine.Options{
		RepositoryURL: repositoryURL,
		Credentials:   catalog.Credentials{Username: username, Password: password},
		GoalVersion:   goalVersion,
		Sink:          sink,
	})
	return newResult(err)
}

// CopyWorkspace2 is the revision-2 clone entry point. cb may be nil.
func CopyWorkspace2(workspaceFrom, workspaceDest string, cb CopyCancelCallback) *Result {
	var sink progress.CopySink
	if cb != nil {
		sink = progress.CopySinkFunc(func(err error, p progress.CopyProgression) bool {
			return !cb(errMessage(err), toCopy(p))
		})
	}
	err := workspace.Open(workspaceFrom).Clone(context.Background(), workspaceDest, sink)
	return newResult(err)
}
