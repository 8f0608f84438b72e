package ops

import (
	"context"
	"time"

	"github.com/decibelsystems/decibel/internal/ctxutil"
	"github.com/decibelsystems/decibel/internal/facade"
	"github.com/decibelsystems/decibel/internal/kernel"
	"github.com/decibelsystems/decibel/internal/model"
)

// RegisterAll binds every default-table operation to a handler backed by
// the store. The version string feeds the health operation.
func RegisterAll(reg *kernel.Registry, store *Store, version string, started time.Time) error {
	appendOp := func(kind Kind) kernel.HandlerFunc {
		return func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return handleAppend(ctx, store, kind, args)
		}
	}

	handlers := map[string]kernel.HandlerFunc{
		facade.OpDecisionRecord: appendOp(KindDecision),
		facade.OpIssueLog:       appendOp(KindIssue),
		facade.OpWishAdd:        appendOp(KindWish),
		facade.OpFrictionLog:    appendOp(KindFriction),
		facade.OpCritLog:        appendOp(KindCrit),
		facade.OpLearningRecord: appendOp(KindLearning),

		facade.OpSearchQuery: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return handleSearch(store, args)
		},
		facade.OpSearchRecent: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return handleRecent(store, args)
		},
		facade.OpExperimentStart: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			exp, err := store.StartExperiment(stringArg(args, "title"), stringArg(args, "hypothesis"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"id": exp.ID, "experiment_status": string(exp.Status)}, nil
		},
		facade.OpExperimentCheck: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			exp, err := store.GetExperiment(stringArg(args, "id"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"experiment": exp}, nil
		},
		facade.OpExperimentFinish: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			exp, err := store.ConcludeExperiment(stringArg(args, "id"), stringArg(args, "result"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"id": exp.ID, "experiment_status": string(exp.Status)}, nil
		},
		facade.OpHealth: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{
				"healthy":        true,
				"version":        version,
				"uptime_seconds": int64(time.Since(started).Seconds()),
				"records_dir":    store.Dir(),
			}, nil
		},
	}

	for op, fn := range handlers {
		if err := reg.Register(op, fn); err != nil {
			return err
		}
	}
	return nil
}

func handleAppend(ctx context.Context, store *Store, kind Kind, args map[string]any) (map[string]any, error) {
	title := stringArg(args, "title")
	if title == "" {
		return nil, model.NewCodedError(model.ErrCodeExecutionError, "%s record requires a title", kind)
	}
	rec := Record{
		Title:   title,
		Body:    stringArg(args, "body"),
		Tags:    stringSliceArg(args, "tags"),
		AgentID: ctxutil.CallerFromContext(ctx).AgentID,
	}
	stored, err := store.Append(kind, rec)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": stored.ID, "kind": string(stored.Kind)}, nil
}

func handleSearch(store *Store, args map[string]any) (map[string]any, error) {
	q := stringArg(args, "q")
	if q == "" {
		q = stringArg(args, "query")
	}
	if q == "" {
		return nil, model.NewCodedError(model.ErrCodeExecutionError, "search requires a query")
	}
	hits, err := store.Search(q, intArg(args, "limit", 20))
	if err != nil {
		return nil, err
	}
	return map[string]any{"results": hits, "total": len(hits)}, nil
}

func handleRecent(store *Store, args map[string]any) (map[string]any, error) {
	recs, err := store.Recent(intArg(args, "limit", 20))
	if err != nil {
		return nil, err
	}
	return map[string]any{"results": recs, "total": len(recs)}, nil
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		// JSON numbers decode as float64.
		return int(v)
	}
	return def
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
