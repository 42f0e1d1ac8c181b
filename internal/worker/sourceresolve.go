package worker

import (
	"context"

	"github.com/outlayer-net/cluster/pkg/types"
	"github.com/outlayer-net/cluster/pkg/utils"
)

// resolveSource turns a task's as-submitted ExecutionSource into a concrete
// CodeSource, consulting the chain-recorded project version for the Project
// variant (spec §4.6 "resolve_source"). GitHub and WasmUrl sources are
// already concrete and pass through unchanged.
func (c *Controller) resolveSource(ctx context.Context, req types.Request) (types.CodeSource, error) {
	if req.ResolvedSource != nil {
		return *req.ResolvedSource, nil
	}
	switch req.Source.Kind {
	case types.ExecutionSourceGitHub:
		return types.CodeSource{Kind: types.CodeSourceGitHub, GitHub: req.Source.GitHub}, nil
	case types.ExecutionSourceWasmUrl:
		return types.CodeSource{Kind: types.CodeSourceWasmUrl, WasmUrl: req.Source.WasmUrl}, nil
	case types.ExecutionSourceProject:
		src, err := c.Projects.ResolveProjectVersion(ctx, req.Source.Project.ProjectId, req.Source.Project.VersionKey)
		if err != nil {
			return types.CodeSource{}, utils.Wrap(err, "resolve project version")
		}
		return src, nil
	default:
		return types.CodeSource{}, errUnknownSourceKind
	}
}

// obtainWasm fetches a directly-addressable module or produces one through
// the compile-then-cache path, returning a short human-readable note for
// CompilationNote.
func (c *Controller) obtainWasm(ctx context.Context, req types.Request, source types.CodeSource) ([]byte, string, *CompilationError) {
	switch source.Kind {
	case types.CodeSourceWasmUrl:
		wasm, err := fetchAndVerifyWasm(ctx, *source.WasmUrl)
		if err != nil {
			return nil, "", &CompilationError{UserMessage: err.Error()}
		}
		return wasm, "fetched from wasm_url", nil
	case types.CodeSourceGitHub:
		return c.obtainGitHubWasm(ctx, req, *source.GitHub)
	default:
		return nil, "", &CompilationError{UserMessage: "unknown code source kind"}
	}
}

func (c *Controller) obtainGitHubWasm(ctx context.Context, req types.Request, src types.GitHubSource) ([]byte, string, *CompilationError) {
	key := (types.CodeSource{Kind: types.CodeSourceGitHub, GitHub: &src}).VersionKey()

	if !req.ForceRebuild && c.Cache != nil {
		if wasm, ok, err := c.Cache.Get(ctx, key); err == nil && ok {
			return wasm, "compiled artifact cache hit", nil
		}
	}

	wasm, cerr, err := c.Compiler.Compile(ctx, src, req.Limits)
	if err != nil {
		return nil, "", &CompilationError{UserMessage: err.Error()}
	}
	if cerr != nil {
		return nil, "", cerr
	}

	if c.Cache != nil {
		_ = c.Cache.Put(ctx, key, wasm)
	}
	return wasm, "compiled from source", nil
}
