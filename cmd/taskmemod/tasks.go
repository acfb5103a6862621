package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"taskmemo.dev/taskmemo/pkg/cachecall"
	"taskmemo.dev/taskmemo/pkg/cachefn"
	"taskmemo.dev/taskmemo/pkg/codec"
	"taskmemo.dev/taskmemo/pkg/fingerprint"
	"taskmemo.dev/taskmemo/pkg/graph"
	"taskmemo.dev/taskmemo/pkg/taskdecorator"
)

// registerExampleTasks binds the handful of illustrative dispatchable
// tasks this deployment ships with. app.cfg.App.Autodiscover names the
// packages a Python worker would import to populate its task registry
// by side effect; this core has no runtime package-scanning analogue,
// so tasks are instead registered explicitly here, once, at startup —
// the Autodiscover list itself is parsed from config but nothing reads
// or walks it.
func registerExampleTasks(a *app) {
	deps := taskdecorator.Deps{Registry: a.registry, Mirror: a.mirror, Redis: a.redis, Log: a.log}

	echoOpt := taskdecorator.Option{FuncName: "taskmemo.example.echo", Debug: true, Localize: true, Expire: 30 * time.Second}
	echoBody := func(ctx context.Context, args []any, kwargs fingerprint.Kwargs) (any, error) {
		text, _ := kwargs.Get("text")
		p := filepath.Join(os.TempDir(), "taskmemo-echo-"+fingerprint.Digest(kwargs))
		if err := os.WriteFile(p, []byte(toString(text)), 0o600); err != nil {
			return nil, err
		}
		return p, nil
	}
	echoCacheDeps := cachefn.Deps{Registry: a.registry, Redis: a.redis, Log: a.log}
	echoCacheOpt := cachefn.Option{
		FuncName: "taskmemo.example.echo",
		Scheme:   a.cfg.RemoteStorage.Default,
		Tag:          codec.Raw,
		Expire:       30 * time.Second,
		RemoveReturn: true,
	}
	taskdecorator.RegisterCacheFn(deps, echoOpt, echoCacheDeps, echoCacheOpt, echoBody, a.tasks)

	pipelineOpt := taskdecorator.Option{FuncName: "taskmemo.example.chain", Debug: true, Expire: 30 * time.Second}
	pipelineBody := func(ctx context.Context, args []any, kwargs fingerprint.Kwargs) (any, error) {
		return graph.New(graph.Signature{TaskName: "taskmemo.example.echo", Kwargs: kwargsToMap(kwargs)}), nil
	}
	pipelineCacheDeps := cachecall.Deps{Registry: a.registry, Redis: a.redis, Log: a.log}
	pipelineCacheOpt := cachecall.Option{
		FuncName:       "taskmemo.example.chain",
		Scheme:         a.cfg.RemoteStorage.Default,
		CallSerialiser: codec.JSON,
		Expire:         30 * time.Second,
	}
	taskdecorator.RegisterCacheCall(deps, pipelineOpt, pipelineCacheDeps, pipelineCacheOpt, pipelineBody, a.tasks)
}

func toString(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

func kwargsToMap(kw fingerprint.Kwargs) map[string]any {
	out := make(map[string]any, len(kw))
	for _, e := range kw {
		out[e.Key] = e.Value
	}
	return out
}
