package worker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/outlayer-net/cluster/internal/chain"
	"github.com/outlayer-net/cluster/pkg/types"
	"github.com/outlayer-net/cluster/pkg/utils"
)

// ChainProjectResolver resolves a Project execution source's active (or
// pinned) version via the contract's project view method, caching results
// indefinitely in-process since a project's versions are append-only and
// only a delete_project invalidates the whole entry.
type ChainProjectResolver struct {
	Chain      *chain.Client
	ContractID string

	mu    sync.Mutex
	cache map[string]types.Project
}

type getProjectArgs struct {
	ProjectId string `json:"project_id"`
}

// ResolveProjectVersion returns the CodeSource for versionKey, or the
// project's active_version when versionKey is empty.
func (r *ChainProjectResolver) ResolveProjectVersion(ctx context.Context, projectId, versionKey string) (types.CodeSource, error) {
	project, err := r.project(ctx, projectId)
	if err != nil {
		return types.CodeSource{}, err
	}

	key := versionKey
	if key == "" {
		key = project.ActiveVersion
	}
	version, ok := project.Versions[key]
	if !ok {
		return types.CodeSource{}, errProjectVersionNotFound
	}
	return version.Source, nil
}

func (r *ChainProjectResolver) project(ctx context.Context, projectId string) (types.Project, error) {
	r.mu.Lock()
	if r.cache == nil {
		r.cache = make(map[string]types.Project)
	}
	if p, ok := r.cache[projectId]; ok {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	args, err := json.Marshal(getProjectArgs{ProjectId: projectId})
	if err != nil {
		return types.Project{}, utils.Wrap(err, "marshal get_project args")
	}
	raw, err := r.Chain.View(ctx, r.ContractID, "get_project", args, chain.BlockRef{Finality: chain.FinalityFinal})
	if err != nil {
		return types.Project{}, utils.Wrap(err, "view get_project")
	}
	var project types.Project
	if err := json.Unmarshal(raw, &project); err != nil {
		return types.Project{}, utils.Wrap(err, "decode get_project response")
	}

	r.mu.Lock()
	r.cache[projectId] = project
	r.mu.Unlock()
	return project, nil
}

// Invalidate drops a project's cached entry, called on delete_project.
func (r *ChainProjectResolver) Invalidate(projectId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, projectId)
}

var errProjectVersionNotFound = projectVersionNotFoundError{}

type projectVersionNotFoundError struct{}

func (projectVersionNotFoundError) Error() string {
	return "worker: requested project version not found"
}
