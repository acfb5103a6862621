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
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"taskmemo.dev/taskmemo/pkg/config"
	"taskmemo.dev/taskmemo/pkg/distmap"
	"taskmemo.dev/taskmemo/pkg/localcache"
	"taskmemo.dev/taskmemo/pkg/logging"
	"taskmemo.dev/taskmemo/pkg/queue"
	"taskmemo.dev/taskmemo/pkg/remotepath"
)

// app bundles every long-lived collaborator built from config, shared by
// the serve and worker subcommands so neither re-derives the wiring the
// other already did.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	redis    *redis.Client
	registry *remotepath.Registry
	mirror   *localcache.Cache
	queue    *queue.Queue
	tracking *distmap.Map
	tasks    *queue.Registry
}

// newApp loads configPath (if non-empty; otherwise the built-in
// defaults), then wires every collaborator a mode needs: the
// remote-path registry from the config's localmount_* sections, the
// bounded local mirror, a Redis client for the distributed map, lock,
// and queue, and the example task registrations.
func newApp(configPath string) (*app, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("taskmemod: loading config: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	log := logging.New(cfg.Logging)

	reg, err := remotepath.NewRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("taskmemod: building remote-path registry: %w", err)
	}

	mirror := localcache.New(cfg.LocalCache.Path, cfg.LocalCache.MaxBytes(), cfg.LocalCache.CheckEvery, log)

	client := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", cfg.Broker.URL, cfg.Broker.Port),
		DB:   cfg.Broker.DB,
	})

	q := queue.New(client, "taskmemo_queue", cfg.Broker.ResultExpires)
	tracking := distmap.New(client, "celery_utils_tasks_queue", cfg.Broker.ResultExpires)

	a := &app{
		cfg:      cfg,
		log:      log,
		redis:    client,
		registry: reg,
		mirror:   mirror,
		queue:    q,
		tracking: tracking,
		tasks:    queue.NewRegistry(),
	}
	registerExampleTasks(a)
	return a, nil
}
