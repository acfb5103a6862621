/*
Copyright 2013 The Camlistore Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"taskmemo.dev/taskmemo/pkg/cachefn"
	"taskmemo.dev/taskmemo/pkg/dispatch"
	"taskmemo.dev/taskmemo/pkg/funcsig"
	"taskmemo.dev/taskmemo/pkg/upload"

	"taskmemo.dev/taskmemo/pkg/cmdmain"
)

type serveCmd struct {
	config string
}

func init() {
	cmdmain.RegisterCommand("serve", func(flags *flag.FlagSet) cmdmain.CommandRunner {
		cmd := new(serveCmd)
		flags.StringVar(&cmd.config, "config", "", "Path to the INI configuration file (built-in defaults if empty).")
		return cmd
	})
}

func (c *serveCmd) Describe() string {
	return "Run the dispatch front-end's HTTP server."
}

func (c *serveCmd) Usage() {
	fmt.Fprintf(os.Stderr, "Usage: taskmemod serve [-config=path]\n")
}

func (c *serveCmd) Examples() []string { return []string{"-config=/etc/taskmemo.ini"} }

func (c *serveCmd) RunCommand(args []string) error {
	a, err := newApp(c.config)
	if err != nil {
		return err
	}

	uploadsDir := a.cfg.Webserver.UploadsDir
	if uploadsDir == "" {
		uploadsDir = a.cfg.LocalCache.Path
	}

	deps := dispatch.Deps{
		Methods:     exampleMethods(),
		App:         a.cfg.App,
		Queue:       a.queue,
		QueueTrack:  a.tracking,
		Registry:    a.registry,
		Mirror:      a.mirror,
		Upload: upload.Deps{
			Cache:      cachefn.Deps{Registry: a.registry, Redis: a.redis, Log: a.log},
			UploadsDir: uploadsDir,
			Scheme:     a.cfg.RemoteStorage.Default,
		},
		PollTimeout: a.cfg.Webserver.Timeout,
		Log:         a.log,
	}

	addr := fmt.Sprintf("%s:%d", a.cfg.Webserver.Host, a.cfg.Webserver.Port)
	srv := &http.Server{Addr: addr, Handler: dispatch.NewRouter(deps)}

	a.log.Info().Str("addr", addr).Msg("taskmemod: serving")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// exampleMethods describes the dispatchable surface of the example
// tasks cmd/taskmemod registers, giving the dispatch front-end's
// help/coercion machinery something real to serve.
func exampleMethods() map[string]dispatch.MethodDef {
	return map[string]dispatch.MethodDef{
		"taskmemo.example.echo": {
			TaskName: "taskmemo.example.echo",
			Sig: funcsig.Sig{
				Name: "taskmemo.example.echo",
				Doc:  "Writes text back out through the cache, returning its canonical remote path.",
				Params: []funcsig.Param{
					{Name: "text", Doc: "Text to echo."},
				},
			},
		},
		"taskmemo.example.chain": {
			TaskName: "taskmemo.example.chain",
			Sig: funcsig.Sig{
				Name: "taskmemo.example.chain",
				Doc:  "Builds and runs a one-step pipeline delegating to taskmemo.example.echo.",
				Params: []funcsig.Param{
					{Name: "text", Doc: "Text to echo via the pipeline."},
				},
			},
		},
	}
}
