package api

import (
	"context"

	"github.com/breeze-rmm/updatekit/internal/catalog"
	"github.com/breeze-rmm/updatekit/internal/engine"
	"github.com/breeze-rmm/updatekit/internal/progress"
	"github.com/breeze-rmm/updatekit/internal/workspace"
)

// Revision 1 of the boundary surface: numeric statuses, callbacks return
// an abort flag (true stops the operation).

// ProgressCallback receives each progression snapshot together with an
// optional non-fatal error message. Returning true aborts the operation.
type ProgressCallback func(errMsg string, p GlobalProgression) (abort bool)

// CopyCallback is the clone counterpart of ProgressCallback.
type CopyCallback func(errMsg string, p CopyProgression) (abort bool)

// GetLocalState reads the workspace's recorded version and in-progress
// marker.
func GetLocalState(workspacePath string) (LocalState, Status) {
	st, err := workspace.Open(workspacePath).ReadState()
	if err != nil {
		return LocalState{}, statusOf(err)
	}
	return LocalState{Version: st.Version, UpdateInProgress: st.UpdateInProgress}, StatusOK
}

// GetVersionInfo resolves a version against the repository. An empty
// version resolves to the latest. Credentials are optional but must be
// supplied together.
func GetVersionInfo(repositoryURL, username, password, version string) (RemoteVersion, Status) {
	ctx := context.Background()
	repo, err := catalog.Open(ctx, repositoryURL, catalog.Credentials{Username: username, Password: password})
	if err != nil {
		return RemoteVersion{}, statusOf(err)
	}
	rv, err := catalog.ResolveVersion(ctx, repo, version)
	if err != nil {
		return RemoteVersion{}, statusOf(err)
	}
	return RemoteVersion{Version: rv.Version, Description: rv.Description}, StatusOK
}

// UpdateWorkspace brings the workspace to goalVersion, or to the latest
// version when goalVersion is empty. cb may be nil.
func UpdateWorkspace(workspacePath, repositoryURL, username, password, goalVersion string, cb ProgressCallback) Status {
	_, err := engine.Update(context.Background(), workspacePath, engine.Options{
		RepositoryURL: repositoryURL,
		Credentials:   catalog.Credentials{Username: username, Password: password},
		GoalVersion:   goalVersion,
		Sink:          abortSink(cb),
	})
	return statusOf(err)
}

// CopyWorkspace clones a workspace into a new directory. cb may be nil.
func CopyWorkspace(workspaceFrom, workspaceDest string, cb CopyCallback) Status {
	var sink progress.CopySink
	if cb != nil {
		sink = progress.CopySinkFunc(func(err error, p progress.CopyProgression) bool {
			return !cb(errMessage(err), toCopy(p))
		})
	}
	err := workspace.Open(workspaceFrom).Clone(context.Background(), workspaceDest, sink)
	return statusOf(err)
}

func abortSink(cb ProgressCallback) progress.Sink {
	if cb == nil {
		return nil
	}
	return progress.SinkFunc(func(err error, p progress.GlobalProgression) bool {
		return !cb(errMessage(err), toGlobal(p))
	})
}
