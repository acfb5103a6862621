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
	"os"
	"os/signal"

	"taskmemo.dev/taskmemo/pkg/cmdmain"
	"taskmemo.dev/taskmemo/pkg/queue"
)

type workerCmd struct {
	config  string
	workers int
}

func init() {
	cmdmain.RegisterCommand("worker", func(flags *flag.FlagSet) cmdmain.CommandRunner {
		cmd := new(workerCmd)
		flags.StringVar(&cmd.config, "config", "", "Path to the INI configuration file (built-in defaults if empty).")
		flags.IntVar(&cmd.workers, "workers", 0, "Override worker.workers from the config file (0 keeps the configured value).")
		return cmd
	})
}

func (c *workerCmd) Describe() string {
	return "Run the worker pool that pulls queued jobs and executes registered tasks."
}

func (c *workerCmd) Usage() {
	fmt.Fprintf(os.Stderr, "Usage: taskmemod worker [-config=path] [-workers=n]\n")
}

func (c *workerCmd) Examples() []string { return []string{"-config=/etc/taskmemo.ini -workers=8"} }

func (c *workerCmd) RunCommand(args []string) error {
	a, err := newApp(c.config)
	if err != nil {
		return err
	}

	n := a.cfg.Worker.Workers
	if c.workers > 0 {
		n = c.workers
	}

	pool := &queue.Pool{Queue: a.queue, Registry: a.tasks, Workers: n, Log: a.log}

	a.log.Info().Int("workers", n).Msg("taskmemod: worker pool starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	done := make(chan struct{})
	stopCh := make(chan struct{})
	go func() {
		pool.Run(context.Background(), stopCh)
		close(done)
	}()

	<-ctx.Done()
	close(stopCh)
	<-done
	return nil
}
