// Package dispatch implements the HTTP front-end that resolves a
// request's arguments, submits (or reuses) a queued job, and polls it
// to completion, grounded on celery_utils/webserver/server.py's
// dispatch/help routes and cu/webserver/utils.py's parse_args.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"taskmemo.dev/taskmemo/pkg/codec"
	"taskmemo.dev/taskmemo/pkg/config"
	"taskmemo.dev/taskmemo/pkg/distmap"
	"taskmemo.dev/taskmemo/pkg/errkind"
	"taskmemo.dev/taskmemo/pkg/funcsig"
	"taskmemo.dev/taskmemo/pkg/httputil"
	"taskmemo.dev/taskmemo/pkg/install"
	"taskmemo.dev/taskmemo/pkg/queue"
	"taskmemo.dev/taskmemo/pkg/remotepath"
	"taskmemo.dev/taskmemo/pkg/upload"
)

// MethodDef binds one dispatchable method name (a dotted identifier,
// e.g. "pkg.mod.g") to the task registered to run it and the keyword
// signature used to coerce its arguments and render its help text.
type MethodDef struct {
	Sig      funcsig.Sig
	TaskName string
}

// Deps are the collaborators the dispatch front-end needs.
type Deps struct {
	// Methods maps a dotted method name to its MethodDef. Only methods
	// present here, and also matched by App.Allowed, are dispatchable.
	Methods map[string]MethodDef
	App     config.AppConfig

	Queue      *queue.Queue
	QueueTrack *distmap.Map

	Registry *remotepath.Registry
	Mirror   remotepath.Mirror
	Upload   upload.Deps

	// PollTimeout bounds how long one HTTP request waits for a job to
	// reach a terminal state before returning an in-progress envelope.
	PollTimeout time.Duration
	// PollEvery is the interval between state polls; defaults to 50ms.
	PollEvery time.Duration

	Log zerolog.Logger
}

// NewRouter builds the two routes described by SPEC_FULL.md §4.11:
// GET|POST /api/help/<method-path> and GET|POST /api/<method-path>.
// Wildcard segments are used instead of a named {method} parameter
// because a dotted method name is expressed over one or more "/"
// separated path segments.
func NewRouter(deps Deps) chi.Router {
	r := chi.NewRouter()
	r.HandleFunc("/api/help/*", helpHandler(deps))
	r.HandleFunc("/api/*", dispatchHandler(deps))
	return r
}

func methodName(wildcard string) string {
	return strings.ReplaceAll(strings.Trim(wildcard, "/"), "/", ".")
}

func helpHandler(deps Deps) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		method := methodName(chi.URLParam(req, "*"))
		def, err := resolveMethod(deps, method)
		if err != nil {
			httputil.ServeJSONError(rw, err)
			return
		}
		httputil.ReturnJSON(rw, renderHelp(def.Sig))
	}
}

func renderHelp(sig funcsig.Sig) map[string]any {
	params := make([]map[string]any, 0, len(sig.Params))
	for _, p := range sig.Params {
		entry := map[string]any{"name": p.Name, "required": p.Required(), "doc": p.Doc}
		if !p.Required() {
			entry["default"] = p.Default
		}
		params = append(params, entry)
	}
	return map[string]any{"name": sig.Name, "doc": sig.Doc, "args": params}
}

func resolveMethod(deps Deps, method string) (MethodDef, error) {
	if !deps.App.Allowed(method) {
		return MethodDef{}, errkind.New(errkind.UnauthorizedMethod, method)
	}
	def, ok := deps.Methods[method]
	if !ok {
		return MethodDef{}, errkind.New(errkind.UnauthorizedMethod, method)
	}
	return def, nil
}

func dispatchHandler(deps Deps) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		method := methodName(chi.URLParam(req, "*"))
		def, err := resolveMethod(deps, method)
		if err != nil {
			httputil.ServeJSONError(rw, err)
			return
		}

		raw, serveType, err := resolveArgs(ctx, deps, req)
		if err != nil {
			httputil.ServeJSONError(rw, err)
			return
		}
		args, err := def.Sig.Coerce(raw)
		if err != nil {
			httputil.ServeJSONError(rw, errkind.Wrap(errkind.MalformedArgument, "dispatch: coercing arguments", err))
			return
		}

		key := dispatchKey(method, args)
		jobID, err := resolveJob(ctx, deps, key, def.TaskName, args)
		if err != nil {
			httputil.ServeJSONError(rw, err)
			return
		}

		res, terminal, err := pollJob(ctx, deps, jobID)
		if err != nil {
			httputil.ServeJSONError(rw, err)
			return
		}
		if terminal {
			deps.QueueTrack.Delete(ctx, key)
		}

		writeResult(ctx, rw, deps, res, serveType)
	}
}

// resolveArgs merges query-string, JSON-body, form, and uploaded-file
// arguments into one raw string map, matching §4.11 step 1. serve_type
// is pulled out separately: it controls how the dispatch front-end
// renders a successful result, not an argument of the dispatched method.
func resolveArgs(ctx context.Context, deps Deps, req *http.Request) (map[string]string, string, error) {
	raw := map[string]string{}
	for k, v := range req.URL.Query() {
		if len(v) > 0 {
			raw[k] = v[len(v)-1]
		}
	}

	ct := req.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "application/json"):
		var body map[string]any
		if err := json.NewDecoder(io.LimitReader(req.Body, 8<<20)).Decode(&body); err != nil && err != io.EOF {
			return nil, "", errkind.Wrap(errkind.MalformedArgument, "dispatch: decoding JSON body", err)
		}
		for k, v := range body {
			raw[k] = fmt.Sprint(v)
		}
	case strings.HasPrefix(ct, "multipart/form-data"):
		if err := req.ParseMultipartForm(32 << 20); err != nil {
			return nil, "", errkind.Wrap(errkind.MalformedArgument, "dispatch: parsing multipart form", err)
		}
		for k, v := range req.MultipartForm.Value {
			if len(v) > 0 {
				raw[k] = v[len(v)-1]
			}
		}
		for field, headers := range req.MultipartForm.File {
			if len(headers) == 0 {
				continue
			}
			remote, err := stageUploadedFile(ctx, deps, headers[0])
			if err != nil {
				return nil, "", err
			}
			raw[field] = remote
		}
	case strings.HasPrefix(ct, "application/x-www-form-urlencoded"):
		if err := req.ParseForm(); err != nil {
			return nil, "", errkind.Wrap(errkind.MalformedArgument, "dispatch: parsing form", err)
		}
		for k, v := range req.PostForm {
			if len(v) > 0 {
				raw[k] = v[len(v)-1]
			}
		}
	}

	serveType := raw["serve_type"]
	delete(raw, "serve_type")
	if serveType == "" {
		serveType = "value"
	}
	return raw, serveType, nil
}

func stageUploadedFile(ctx context.Context, deps Deps, header *multipart.FileHeader) (string, error) {
	f, err := header.Open()
	if err != nil {
		return "", errkind.Wrap(errkind.MalformedArgument, "dispatch: opening uploaded file", err)
	}
	defer f.Close()
	return upload.StageUpload(ctx, deps.Upload, f)
}

// dispatchKey mirrors the broker namespace convention named in
// SPEC_FULL.md §6 ("celery_utils_tasks_queue<hash>"): the key a request
// with identical method and (coerced) arguments reduces to, so a second
// caller observes the first's in-flight or completed job instead of
// submitting a duplicate.
func dispatchKey(method string, args map[string]any) []any {
	return []any{"celery_utils_tasks_queue", method, args}
}

// resolveJob looks up an in-flight or completed job for key, submitting
// a new one if none is tracked.
//
// This implementation does not reproduce §4.11 step 3's
// "generate_task_queue://<id>" indirection for cache-call methods: that
// prefix exists in the original system to distinguish a graph-builder
// job (which only constructs a pipeline) from the "real" job the graph
// later spawns. Here, pkg/taskdecorator's RegisterCacheCall (C10)
// already interprets the built pipeline synchronously inside the single
// queued job — there is no separate graph-builder stage whose id must
// later be swapped for a downstream job's id, so one submitted job's
// terminal state is always the dispatch's final answer.
func resolveJob(ctx context.Context, deps Deps, key []any, taskName string, args map[string]any) (string, error) {
	var jobID string
	err := deps.QueueTrack.Get(ctx, key, &jobID)
	if err == nil {
		return jobID, nil
	}
	if err != distmap.ErrNotFound {
		return "", err
	}

	id, err := deps.Queue.Submit(ctx, taskName, args)
	if err != nil {
		return "", err
	}
	if err := deps.QueueTrack.Set(ctx, key, id); err != nil {
		return "", err
	}
	return id, nil
}

// pollJob waits for id to reach a terminal state, up to deps.PollTimeout.
// It returns terminal=false (never an error) if the deadline passes
// while the job is still in-flight, matching §4.11 step 4's
// "PENDING|STARTED|RETRY" envelope rather than treating a timeout as a
// failure.
func pollJob(ctx context.Context, deps Deps, id string) (queue.Result, bool, error) {
	every := deps.PollEvery
	if every <= 0 {
		every = 50 * time.Millisecond
	}
	deadline := time.Now().Add(deps.PollTimeout)
	for {
		res, err := deps.Queue.State(ctx, id)
		if err != nil {
			return queue.Result{}, false, err
		}
		switch res.State {
		case queue.Success, queue.Failure, queue.Revoked:
			return res, true, nil
		}
		if time.Now().After(deadline) {
			return res, false, nil
		}
		select {
		case <-ctx.Done():
			return queue.Result{}, false, ctx.Err()
		case <-time.After(every):
		}
	}
}

func writeResult(ctx context.Context, rw http.ResponseWriter, deps Deps, res queue.Result, serveType string) {
	switch res.State {
	case queue.Success:
		writeSuccess(ctx, rw, deps, res.Value, serveType)
	case queue.Failure:
		httputil.ReturnJSONCode(rw, http.StatusInternalServerError, map[string]any{
			"results": map[string]any{"error": res.Error},
		})
	case queue.Revoked:
		httputil.ServeJSONError(rw, errkind.New(errkind.TaskRunning, "dispatch: job was revoked"))
	default:
		httputil.ReturnJSON(rw, map[string]any{"message": "task is running", "state": res.State})
	}
}

// writeSuccess renders a completed job's value per serve_type. A value
// that is not itself a "scheme://path" remote address (e.g. a plain
// number produced by a pipeline stage that never went through
// pkg/install) is returned as-is: there is no artifact to stream or
// decode.
func writeSuccess(ctx context.Context, rw http.ResponseWriter, deps Deps, value any, serveType string) {
	s, ok := value.(string)
	if !ok {
		httputil.ReturnJSON(rw, map[string]any{"results": value})
		return
	}
	p, err := remotepath.Parse(s)
	if err != nil {
		httputil.ReturnJSON(rw, map[string]any{"results": value})
		return
	}

	switch serveType {
	case "path":
		httputil.ReturnJSON(rw, map[string]any{"storage_fn": p.String()})
	case "raw":
		data, err := readArtifact(ctx, deps, p)
		if err != nil {
			httputil.ServeJSONError(rw, err)
			return
		}
		rw.Header().Set("Content-Type", "application/octet-stream")
		rw.Write(data)
	default:
		meta, err := install.ReadMeta(ctx, deps.Registry, p)
		if err != nil {
			httputil.ServeJSONError(rw, err)
			return
		}
		data, err := readArtifact(ctx, deps, p)
		if err != nil {
			httputil.ServeJSONError(rw, err)
			return
		}
		if meta.Tag == codec.Raw {
			rw.Header().Set("Content-Type", "application/octet-stream")
			rw.Write(data)
			return
		}
		var decoded any
		if err := codec.Decode(meta.Tag, data, &decoded); err != nil {
			httputil.ServeJSONError(rw, err)
			return
		}
		httputil.ReturnJSON(rw, map[string]any{"results": decoded})
	}
}

func readArtifact(ctx context.Context, deps Deps, p remotepath.Path) ([]byte, error) {
	local, err := remotepath.Download(ctx, deps.Registry, deps.Mirror, p)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(local)
}
